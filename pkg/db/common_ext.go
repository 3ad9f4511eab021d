package db

import (
	"context"
	"strconv"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/shopspring/decimal"
)

// DisplayName returns @username or the numeric id.
func (u User) DisplayName() string {
	if u.Username != nil && *u.Username != "" {
		return "@" + *u.Username
	}
	return "id" + strconv.FormatInt(u.ID, 10)
}

// BetStats is an aggregate over bet records of a period.
type BetStats struct {
	Bets    int             `pg:"bets"`
	Players int             `pg:"players"`
	Staked  decimal.Decimal `pg:"staked,type:numeric"`
	// Profit is the house profit, i.e. minus the sum of net payouts.
	Profit decimal.Decimal `pg:"profit,type:numeric"`
}

// BetStatsSince aggregates bet records created at or after since.
func (cr CommonRepo) BetStatsSince(ctx context.Context, since time.Time) (BetStats, error) {
	var stats BetStats
	_, err := cr.db.QueryOneContext(ctx, &stats, `
		select count(*) as bets,
			count(distinct ?) as players,
			coalesce(sum(?), 0) as staked,
			coalesce(-sum(?), 0) as profit
		from ? where ? >= ?`,
		pg.Ident(Columns.BetRecord.UserID), pg.Ident(Columns.BetRecord.Stake), pg.Ident(Columns.BetRecord.NetPayout),
		pg.Ident(Tables.BetRecord.Name), pg.Ident(Columns.BetRecord.CreatedAt), since)

	return stats, err
}
