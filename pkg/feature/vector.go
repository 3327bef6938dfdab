package feature

import (
	"time"

	"github.com/mchmarny/walletscore/pkg/ingest"
)

// Names lists the model input columns, in Row order.
var Names = []string{
	"total_transactions",
	"deposit_count",
	"borrow_count",
	"repay_count",
	"redeem_count",
	"liquidation_count",
	"unique_assets",
	"unique_networks",
	"unique_protocols",
	"account_age_days",
	"recency_days",
	"repay_to_borrow",
	"borrow_to_deposit",
	"hft_count",
}

// ActionCounts is the per-wallet action table. Every known action is present,
// including those with no transactions.
type ActionCounts map[ingest.Action]int

func newActionCounts() ActionCounts {
	c := make(ActionCounts, len(ingest.Actions))
	for _, a := range ingest.Actions {
		c[a] = 0
	}
	return c
}

// Vector holds the aggregated behavior of a single wallet.
type Vector struct {
	Wallet            string       `json:"wallet" yaml:"wallet"`
	TotalTransactions int          `json:"total_transactions" yaml:"totalTransactions"`
	FirstTransaction  time.Time    `json:"first_transaction,omitzero" yaml:"firstTransaction,omitempty"`
	LastTransaction   time.Time    `json:"last_transaction,omitzero" yaml:"lastTransaction,omitempty"`
	TotalAmount       float64      `json:"total_amount" yaml:"totalAmount"`
	Actions           ActionCounts `json:"actions" yaml:"actions"`
	UniqueAssets      int          `json:"unique_assets" yaml:"uniqueAssets"`
	UniqueNetworks    int          `json:"unique_networks" yaml:"uniqueNetworks"`
	UniqueProtocols   int          `json:"unique_protocols" yaml:"uniqueProtocols"`
	AccountAgeDays    float64      `json:"account_age_days" yaml:"accountAgeDays"`
	RecencyDays       float64      `json:"recency_days" yaml:"recencyDays"`
	RepayToBorrow     float64      `json:"repay_to_borrow" yaml:"repayToBorrow"`
	BorrowToDeposit   float64      `json:"borrow_to_deposit" yaml:"borrowToDeposit"`
	HighFrequency     int          `json:"hft_count" yaml:"hftCount"`

	// OtherActions counts transactions whose action is outside the vocabulary.
	OtherActions int `json:"other_actions,omitempty" yaml:"otherActions,omitempty"`
	// InvalidTimestamps counts transactions whose timestamp could not be parsed.
	InvalidTimestamps int `json:"invalid_timestamps,omitempty" yaml:"invalidTimestamps,omitempty"`
}

// Count returns the number of transactions of action a.
func (v *Vector) Count(a ingest.Action) int {
	return v.Actions[a]
}

// HasTime reports whether at least one transaction had a valid timestamp.
func (v *Vector) HasTime() bool {
	return !v.LastTransaction.IsZero()
}

// Row returns the model input for the wallet, ordered as Names.
func (v *Vector) Row() []float64 {
	return []float64{
		float64(v.TotalTransactions),
		float64(v.Count(ingest.ActionDeposit)),
		float64(v.Count(ingest.ActionBorrow)),
		float64(v.Count(ingest.ActionRepay)),
		float64(v.Count(ingest.ActionRedeem)),
		float64(v.Count(ingest.ActionLiquidation)),
		float64(v.UniqueAssets),
		float64(v.UniqueNetworks),
		float64(v.UniqueProtocols),
		v.AccountAgeDays,
		v.RecencyDays,
		v.RepayToBorrow,
		v.BorrowToDeposit,
		float64(v.HighFrequency),
	}
}

// Matrix returns the model input rows for all vectors.
func Matrix(vs []*Vector) [][]float64 {
	x := make([][]float64, len(vs))
	for i, v := range vs {
		x[i] = v.Row()
	}
	return x
}
