package casino

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type Result string

const (
	ResultWin  Result = "win"
	ResultLose Result = "lose"
)

// Settlement is one resolved bet ready to be applied to the ledger.
// BetID is unique per bet, a repeated BetID is never applied twice.
type Settlement struct {
	BetID       string
	UserID      int64
	Game        GameKey
	BetType     string
	Target      string
	Stake       decimal.Decimal
	Payout      decimal.Decimal
	Multiplier  decimal.Decimal
	ResultValue int
	Won         bool
}

// Net is payout minus stake.
func (s Settlement) Net() decimal.Decimal {
	return s.Payout.Sub(s.Stake)
}

func (s Settlement) Result() Result {
	if s.Won {
		return ResultWin
	}
	return ResultLose
}

// MinesSettlement builds the settlement of a finished mines session.
// ResultValue holds the number of safe cells opened.
func MinesSettlement(s *MinesSession) Settlement {
	payout := s.CurrentPayout
	if s.State != MinesWon {
		payout = decimal.Zero
	}
	return Settlement{
		BetID:       s.ID,
		UserID:      s.UserID,
		Game:        GameMines,
		BetType:     string(GameMines),
		Target:      strconv.Itoa(s.MineCount),
		Stake:       s.Stake,
		Payout:      payout,
		Multiplier:  s.CurrentMultiplier,
		ResultValue: s.SafeSteps,
		Won:         s.State == MinesWon,
	}
}

// BetRecord is the persisted audit row of a settlement.
type BetRecord struct {
	ID             int             `json:"id"`
	BetID          string          `json:"betId"`
	UserID         int64           `json:"userId"`
	Game           GameKey         `json:"gameKey"`
	BetType        string          `json:"betType"`
	Target         string          `json:"target"`
	Stake          decimal.Decimal `json:"stake"`
	MultiplierUsed decimal.Decimal `json:"multiplierUsed"`
	ResultValue    int             `json:"resultValue"`
	NetPayout      decimal.Decimal `json:"netPayout"`
	Result         Result          `json:"result"`
	// Balance is the user balance right after settlement, it is not stored.
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Settler applies a settlement atomically: balance += payout - stake,
// winnings and bet counter updated, one BetRecord appended. A repeated
// BetID returns ErrAlreadySettled and changes nothing.
type Settler interface {
	Settle(ctx context.Context, s Settlement) (*BetRecord, error)
}

// Ledger reads user balances.
type Ledger interface {
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
}

// ProfitSource reports house profit over all settled bets.
type ProfitSource interface {
	HouseProfit(ctx context.Context) (decimal.Decimal, error)
}

// Notifier delivers settled bets to the user. Errors are only logged.
type Notifier interface {
	Notify(ctx context.Context, rec *BetRecord) error
}
