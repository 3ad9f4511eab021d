package db

import (
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
)

type UserSearch struct {
	ID       *int64
	Username *string
	IDs      []int64
}

func (us *UserSearch) Apply(q *orm.Query) *orm.Query {
	if us == nil {
		return q
	}
	if us.ID != nil {
		us.where(q, Columns.User.ID, *us.ID)
	}
	if us.Username != nil {
		us.where(q, Columns.User.Username, *us.Username)
	}
	if len(us.IDs) > 0 {
		q.Where("?TableAlias.? in (?)", pg.Ident(Columns.User.ID), pg.In(us.IDs))
	}

	return q
}

func (us *UserSearch) where(q *orm.Query, column string, value interface{}) {
	q.Where("?TableAlias.? = ?", pg.Ident(column), value)
}

type BetRecordSearch struct {
	ID            *int
	BetID         *string
	UserID        *int64
	GameKey       *string
	BetType       *string
	Result        *string
	CreatedAtFrom *time.Time
}

func (bs *BetRecordSearch) Apply(q *orm.Query) *orm.Query {
	if bs == nil {
		return q
	}
	if bs.ID != nil {
		bs.where(q, Columns.BetRecord.ID, *bs.ID)
	}
	if bs.BetID != nil {
		bs.where(q, Columns.BetRecord.BetID, *bs.BetID)
	}
	if bs.UserID != nil {
		bs.where(q, Columns.BetRecord.UserID, *bs.UserID)
	}
	if bs.GameKey != nil {
		bs.where(q, Columns.BetRecord.GameKey, *bs.GameKey)
	}
	if bs.BetType != nil {
		bs.where(q, Columns.BetRecord.BetType, *bs.BetType)
	}
	if bs.Result != nil {
		bs.where(q, Columns.BetRecord.Result, *bs.Result)
	}
	if bs.CreatedAtFrom != nil {
		q.Where("?TableAlias.? >= ?", pg.Ident(Columns.BetRecord.CreatedAt), *bs.CreatedAtFrom)
	}

	return q
}

func (bs *BetRecordSearch) where(q *orm.Query, column string, value interface{}) {
	q.Where("?TableAlias.? = ?", pg.Ident(column), value)
}

type SettingSearch struct {
	Key  *string
	Keys []string
}

func (ss *SettingSearch) Apply(q *orm.Query) *orm.Query {
	if ss == nil {
		return q
	}
	if ss.Key != nil {
		q.Where("?TableAlias.? = ?", pg.Ident(Columns.Setting.Key), *ss.Key)
	}
	if len(ss.Keys) > 0 {
		q.Where("?TableAlias.? in (?)", pg.Ident(Columns.Setting.Key), pg.In(ss.Keys))
	}

	return q
}
