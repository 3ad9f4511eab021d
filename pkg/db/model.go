package db

import (
	"time"

	"github.com/shopspring/decimal"
)

var Columns = struct {
	User struct {
		ID, Username, Balance, TotalWon, TotalLost, BetsCount, CreatedAt string
	}
	BetRecord struct {
		ID, BetID, UserID, GameKey, BetType, Target, Stake, MultiplierUsed, ResultValue, NetPayout, Result, CreatedAt string
	}
	Setting struct {
		Key, Value, UpdatedAt string
	}
}{
	User: struct {
		ID, Username, Balance, TotalWon, TotalLost, BetsCount, CreatedAt string
	}{
		ID:        "userId",
		Username:  "username",
		Balance:   "balance",
		TotalWon:  "totalWon",
		TotalLost: "totalLost",
		BetsCount: "betsCount",
		CreatedAt: "createdAt",
	},
	BetRecord: struct {
		ID, BetID, UserID, GameKey, BetType, Target, Stake, MultiplierUsed, ResultValue, NetPayout, Result, CreatedAt string
	}{
		ID:             "betRecordId",
		BetID:          "betId",
		UserID:         "userId",
		GameKey:        "gameKey",
		BetType:        "betType",
		Target:         "target",
		Stake:          "stake",
		MultiplierUsed: "multiplierUsed",
		ResultValue:    "resultValue",
		NetPayout:      "netPayout",
		Result:         "result",
		CreatedAt:      "createdAt",
	},
	Setting: struct {
		Key, Value, UpdatedAt string
	}{
		Key:       "key",
		Value:     "value",
		UpdatedAt: "updatedAt",
	},
}

var Tables = struct {
	User struct {
		Name, Alias string
	}
	BetRecord struct {
		Name, Alias string
	}
	Setting struct {
		Name, Alias string
	}
}{
	User: struct {
		Name, Alias string
	}{
		Name:  "users",
		Alias: "t",
	},
	BetRecord: struct {
		Name, Alias string
	}{
		Name:  "betRecords",
		Alias: "t",
	},
	Setting: struct {
		Name, Alias string
	}{
		Name:  "settings",
		Alias: "t",
	},
}

// User is a player ledger row. ID is the Telegram user id.
type User struct {
	tableName struct{} `pg:"users,alias:t,discard_unknown_columns"`

	ID        int64           `pg:"userId,pk"`
	Username  *string         `pg:"username"`
	Balance   decimal.Decimal `pg:"balance,type:numeric,use_zero"`
	TotalWon  decimal.Decimal `pg:"totalWon,type:numeric,use_zero"`
	TotalLost decimal.Decimal `pg:"totalLost,type:numeric,use_zero"`
	BetsCount int             `pg:"betsCount,use_zero"`
	CreatedAt time.Time       `pg:"createdAt,use_zero"`
}

// BetRecord is an immutable audit row written once per settled bet.
type BetRecord struct {
	tableName struct{} `pg:"betRecords,alias:t,discard_unknown_columns"`

	ID             int             `pg:"betRecordId,pk"`
	BetID          string          `pg:"betId,use_zero"`
	UserID         int64           `pg:"userId,use_zero"`
	GameKey        string          `pg:"gameKey,use_zero"`
	BetType        string          `pg:"betType,use_zero"`
	Target         string          `pg:"target,use_zero"`
	Stake          decimal.Decimal `pg:"stake,type:numeric,use_zero"`
	MultiplierUsed decimal.Decimal `pg:"multiplierUsed,type:numeric,use_zero"`
	ResultValue    int             `pg:"resultValue,use_zero"`
	NetPayout      decimal.Decimal `pg:"netPayout,type:numeric,use_zero"`
	Result         string          `pg:"result,use_zero"`
	CreatedAt      time.Time       `pg:"createdAt,use_zero"`
}

// Setting is a runtime key/value option edited by admins.
type Setting struct {
	tableName struct{} `pg:"settings,alias:t,discard_unknown_columns"`

	Key       string    `pg:"key,pk"`
	Value     string    `pg:"value,use_zero"`
	UpdatedAt time.Time `pg:"updatedAt,use_zero"`
}
