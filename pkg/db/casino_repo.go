package db

import (
	"context"
	"time"

	"dicebot/pkg/casino"

	"github.com/go-pg/pg/v10"
	"github.com/shopspring/decimal"
)

// CasinoRepo is the postgres ledger of the casino engine.
type CasinoRepo struct {
	db DB
	cr CommonRepo
}

func NewCasinoRepo(dbo DB) *CasinoRepo {
	return &CasinoRepo{db: dbo, cr: NewCommonRepo(dbo)}
}

// Balance returns user balance or casino.ErrUnknownUser.
func (r *CasinoRepo) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	user, err := r.cr.UserByID(ctx, userID, WithColumns(Columns.User.ID, Columns.User.Balance))
	if err != nil {
		return decimal.Zero, err
	} else if user == nil {
		return decimal.Zero, casino.ErrUnknownUser
	}

	return user.Balance, nil
}

// Settle locks the user row, appends the bet record and applies the
// balance delta in one transaction.
func (r *CasinoRepo) Settle(ctx context.Context, s casino.Settlement) (*casino.BetRecord, error) {
	var rec *casino.BetRecord
	err := r.db.RunInTransaction(ctx, func(tx *pg.Tx) error {
		txRepo := r.cr.WithTransaction(tx)

		user, err := txRepo.UserByID(ctx, s.UserID, WithForUpdate())
		if err != nil {
			return err
		} else if user == nil {
			return casino.ErrUnknownUser
		}

		net := s.Net()
		row := &BetRecord{
			BetID:          s.BetID,
			UserID:         s.UserID,
			GameKey:        string(s.Game),
			BetType:        s.BetType,
			Target:         s.Target,
			Stake:          s.Stake,
			MultiplierUsed: s.Multiplier,
			ResultValue:    s.ResultValue,
			NetPayout:      net,
			Result:         string(s.Result()),
		}
		inserted, err := txRepo.AddBetRecord(ctx, row)
		if err != nil {
			return err
		} else if !inserted {
			return casino.ErrAlreadySettled
		}

		user.Balance = user.Balance.Add(net)
		if net.IsPositive() {
			user.TotalWon = user.TotalWon.Add(net)
		} else {
			user.TotalLost = user.TotalLost.Add(net.Neg())
		}
		user.BetsCount++
		if _, err = txRepo.UpdateUser(ctx, user, WithColumns(
			Columns.User.Balance, Columns.User.TotalWon, Columns.User.TotalLost, Columns.User.BetsCount,
		)); err != nil {
			return err
		}

		rec = newCasinoBetRecord(row)
		rec.Balance = user.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// HouseProfit is the sum of stakes minus payouts, i.e. minus the sum of net payouts.
func (r *CasinoRepo) HouseProfit(ctx context.Context) (decimal.Decimal, error) {
	var profit decimal.Decimal
	_, err := r.db.QueryOneContext(ctx, pg.Scan(&profit), `select coalesce(-sum("netPayout"), 0) from "betRecords"`)

	return profit, err
}

// Settings loads the whole settings table.
func (r *CasinoRepo) Settings(ctx context.Context) (casino.Settings, error) {
	list, err := r.cr.SettingsByFilters(ctx, nil, PagerNoLimit)
	if err != nil {
		return nil, err
	}

	res := make(casino.Settings, len(list))
	for _, s := range list {
		res[s.Key] = s.Value
	}
	return res, nil
}

// SetSetting creates or replaces a setting.
func (r *CasinoRepo) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.cr.UpsertSetting(ctx, &Setting{Key: key, Value: value})
	return err
}

// Setting returns a setting value, ok is false when it is not set.
func (r *CasinoRepo) Setting(ctx context.Context, key string) (value string, ok bool, err error) {
	s, err := r.cr.SettingByKey(ctx, key)
	if err != nil || s == nil {
		return "", false, err
	}
	return s.Value, true, nil
}

// DeleteSetting removes a setting.
func (r *CasinoRepo) DeleteSetting(ctx context.Context, key string) (bool, error) {
	return r.cr.DeleteSetting(ctx, key)
}

// EnsureUser registers the user with initial balance, existing users are returned as is.
func (r *CasinoRepo) EnsureUser(ctx context.Context, id int64, username string, initial decimal.Decimal) (*User, bool, error) {
	user, err := r.cr.UserByID(ctx, id)
	if err != nil {
		return nil, false, err
	} else if user != nil {
		if username != "" && (user.Username == nil || *user.Username != username) {
			user.Username = &username
			if _, err = r.cr.UpdateUser(ctx, user, WithColumns(Columns.User.Username)); err != nil {
				return nil, false, err
			}
		}
		return user, false, nil
	}

	user = &User{ID: id, Balance: initial, CreatedAt: time.Now()}
	if username != "" {
		user.Username = &username
	}
	user, err = r.cr.AddUser(ctx, user)
	return user, err == nil, err
}

// RecentBets returns last bets of a user, newest first.
func (r *CasinoRepo) RecentBets(ctx context.Context, userID int64, limit int) ([]casino.BetRecord, error) {
	return r.Bets(ctx, &BetRecordSearch{UserID: &userID}, Pager{PageSize: limit})
}

// Bets searches bet history, newest first.
func (r *CasinoRepo) Bets(ctx context.Context, search *BetRecordSearch, pager Pager) ([]casino.BetRecord, error) {
	list, err := r.cr.BetRecordsByFilters(ctx, search, pager, r.cr.DefaultBetRecordSort())
	if err != nil {
		return nil, err
	}

	res := make([]casino.BetRecord, 0, len(list))
	for i := range list {
		res = append(res, *newCasinoBetRecord(&list[i]))
	}
	return res, nil
}

func newCasinoBetRecord(in *BetRecord) *casino.BetRecord {
	return &casino.BetRecord{
		ID:             in.ID,
		BetID:          in.BetID,
		UserID:         in.UserID,
		Game:           casino.GameKey(in.GameKey),
		BetType:        in.BetType,
		Target:         in.Target,
		Stake:          in.Stake,
		MultiplierUsed: in.MultiplierUsed,
		ResultValue:    in.ResultValue,
		NetPayout:      in.NetPayout,
		Result:         casino.Result(in.Result),
		CreatedAt:      in.CreatedAt,
	}
}
