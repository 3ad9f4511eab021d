package db

import (
	"context"
	"errors"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
)

type CommonRepo struct {
	db      orm.DB
	filters map[string][]Filter
	sort    map[string][]SortField
}

// NewCommonRepo returns new repository
func NewCommonRepo(db orm.DB) CommonRepo {
	return CommonRepo{
		db:      db,
		filters: map[string][]Filter{},
		sort: map[string][]SortField{
			Tables.User.Name:      {{Column: Columns.User.CreatedAt, Direction: SortDesc}},
			Tables.BetRecord.Name: {{Column: Columns.BetRecord.CreatedAt, Direction: SortDesc}, {Column: Columns.BetRecord.ID, Direction: SortDesc}},
			Tables.Setting.Name:   {{Column: Columns.Setting.Key, Direction: SortAsc}},
		},
	}
}

// WithTransaction is a function that wraps CommonRepo with pg.Tx transaction.
func (cr CommonRepo) WithTransaction(tx *pg.Tx) CommonRepo {
	cr.db = tx
	return cr
}

/*** User ***/

// DefaultUserSort returns default sort.
func (cr CommonRepo) DefaultUserSort() OpFunc {
	return WithSort(cr.sort[Tables.User.Name]...)
}

// UserByID is a function that returns User by ID(s) or nil.
func (cr CommonRepo) UserByID(ctx context.Context, id int64, ops ...OpFunc) (*User, error) {
	return cr.OneUser(ctx, &UserSearch{ID: &id}, ops...)
}

// OneUser is a function that returns one User by filters. It could return pg.ErrMultiRows.
func (cr CommonRepo) OneUser(ctx context.Context, search *UserSearch, ops ...OpFunc) (*User, error) {
	obj := &User{}
	err := buildQuery(ctx, cr.db, obj, search, cr.filters[Tables.User.Name], PagerTwo, ops...).Select()

	if errors.Is(err, pg.ErrMultiRows) {
		return nil, err
	} else if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	}

	return obj, err
}

// UsersByFilters returns User list.
func (cr CommonRepo) UsersByFilters(ctx context.Context, search *UserSearch, pager Pager, ops ...OpFunc) (users []User, err error) {
	err = buildQuery(ctx, cr.db, &users, search, cr.filters[Tables.User.Name], pager, ops...).Select()
	return
}

// AddUser adds User to DB.
func (cr CommonRepo) AddUser(ctx context.Context, user *User, ops ...OpFunc) (*User, error) {
	q := cr.db.ModelContext(ctx, user)
	if len(ops) == 0 {
		q = q.ExcludeColumn(Columns.User.CreatedAt)
	}
	applyOps(q, ops...)
	_, err := q.Insert()

	return user, err
}

// UpdateUser updates User in DB.
func (cr CommonRepo) UpdateUser(ctx context.Context, user *User, ops ...OpFunc) (bool, error) {
	q := cr.db.ModelContext(ctx, user).WherePK()
	if len(ops) == 0 {
		q = q.ExcludeColumn(Columns.User.ID, Columns.User.CreatedAt)
	}
	applyOps(q, ops...)
	res, err := q.Update()
	if err != nil {
		return false, err
	}

	return res.RowsAffected() > 0, err
}

/*** BetRecord ***/

// DefaultBetRecordSort returns default sort.
func (cr CommonRepo) DefaultBetRecordSort() OpFunc {
	return WithSort(cr.sort[Tables.BetRecord.Name]...)
}

// OneBetRecord is a function that returns one BetRecord by filters. It could return pg.ErrMultiRows.
func (cr CommonRepo) OneBetRecord(ctx context.Context, search *BetRecordSearch, ops ...OpFunc) (*BetRecord, error) {
	obj := &BetRecord{}
	err := buildQuery(ctx, cr.db, obj, search, cr.filters[Tables.BetRecord.Name], PagerTwo, ops...).Select()

	if errors.Is(err, pg.ErrMultiRows) {
		return nil, err
	} else if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	}

	return obj, err
}

// BetRecordsByFilters returns BetRecord list.
func (cr CommonRepo) BetRecordsByFilters(ctx context.Context, search *BetRecordSearch, pager Pager, ops ...OpFunc) (records []BetRecord, err error) {
	err = buildQuery(ctx, cr.db, &records, search, cr.filters[Tables.BetRecord.Name], pager, ops...).Select()
	return
}

// CountBetRecords returns count
func (cr CommonRepo) CountBetRecords(ctx context.Context, search *BetRecordSearch, ops ...OpFunc) (int, error) {
	return buildQuery(ctx, cr.db, &BetRecord{}, search, cr.filters[Tables.BetRecord.Name], PagerNoLimit, ops...).Count()
}

// AddBetRecord inserts BetRecord unless a record with the same BetID exists.
// It returns false when nothing was inserted.
func (cr CommonRepo) AddBetRecord(ctx context.Context, record *BetRecord) (bool, error) {
	res, err := cr.db.ModelContext(ctx, record).
		ExcludeColumn(Columns.BetRecord.ID, Columns.BetRecord.CreatedAt).
		OnConflict(`("betId") DO NOTHING`).
		Returning("*").
		Insert()
	if err != nil {
		return false, err
	}

	return res.RowsAffected() > 0, nil
}

/*** Setting ***/

// SettingsByFilters returns Setting list.
func (cr CommonRepo) SettingsByFilters(ctx context.Context, search *SettingSearch, pager Pager, ops ...OpFunc) (settings []Setting, err error) {
	err = buildQuery(ctx, cr.db, &settings, search, cr.filters[Tables.Setting.Name], pager, ops...).Select()
	return
}

// SettingByKey returns Setting or nil.
func (cr CommonRepo) SettingByKey(ctx context.Context, key string) (*Setting, error) {
	obj := &Setting{}
	err := buildQuery(ctx, cr.db, obj, &SettingSearch{Key: &key}, cr.filters[Tables.Setting.Name], PagerOne).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	}

	return obj, err
}

// UpsertSetting creates or replaces Setting value.
func (cr CommonRepo) UpsertSetting(ctx context.Context, setting *Setting) (*Setting, error) {
	_, err := cr.db.ModelContext(ctx, setting).
		ExcludeColumn(Columns.Setting.UpdatedAt).
		OnConflict(`("key") DO UPDATE`).
		Set(`"value" = EXCLUDED."value", "updatedAt" = now()`).
		Insert()

	return setting, err
}

// DeleteSetting deletes Setting from DB.
func (cr CommonRepo) DeleteSetting(ctx context.Context, key string) (deleted bool, err error) {
	setting := &Setting{Key: key}

	res, err := cr.db.ModelContext(ctx, setting).WherePK().Delete()
	if err != nil {
		return false, err
	}

	return res.RowsAffected() > 0, err
}
