package data

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

const (
	scoreColumns = `run_id, wallet, total_transactions, first_transaction, last_transaction,
			total_amount, deposit_count, borrow_count, repay_count, redeem_count,
			liquidation_count, unique_assets, unique_networks, unique_protocols,
			account_age_days, recency_days, repay_to_borrow, borrow_to_deposit,
			hft_count, initial_score, credit_score`

	selectScoresDescSQL = `SELECT ` + scoreColumns + `
		FROM wallet_score
		WHERE run_id = ?
		ORDER BY credit_score DESC, wallet
		LIMIT ?
	`

	selectScoresAscSQL = `SELECT ` + scoreColumns + `
		FROM wallet_score
		WHERE run_id = ?
		ORDER BY credit_score ASC, wallet
		LIMIT ?
	`

	selectWalletHistorySQL = `SELECT r.started_at,
			s.run_id, s.wallet, s.total_transactions, s.first_transaction, s.last_transaction,
			s.total_amount, s.deposit_count, s.borrow_count, s.repay_count, s.redeem_count,
			s.liquidation_count, s.unique_assets, s.unique_networks, s.unique_protocols,
			s.account_age_days, s.recency_days, s.repay_to_borrow, s.borrow_to_deposit,
			s.hft_count, s.initial_score, s.credit_score
		FROM wallet_score s
		JOIN run r ON s.run_id = r.id
		WHERE s.wallet = ?
		ORDER BY r.started_at DESC, r.id
		LIMIT ?
	`
)

// DefaultLimit caps list queries when no positive limit is given.
const DefaultLimit = 100

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

// WalletScore is the stored feature row and scores of one wallet in one run.
type WalletScore struct {
	RunID             string  `db:"run_id" json:"run_id" yaml:"runId"`
	Wallet            string  `db:"wallet" json:"wallet" yaml:"wallet"`
	TotalTransactions int     `db:"total_transactions" json:"total_transactions" yaml:"totalTransactions"`
	FirstTransaction  string  `db:"first_transaction" json:"first_transaction,omitempty" yaml:"firstTransaction,omitempty"`
	LastTransaction   string  `db:"last_transaction" json:"last_transaction,omitempty" yaml:"lastTransaction,omitempty"`
	TotalAmount       float64 `db:"total_amount" json:"total_amount" yaml:"totalAmount"`
	DepositCount      int     `db:"deposit_count" json:"deposit_count" yaml:"depositCount"`
	BorrowCount       int     `db:"borrow_count" json:"borrow_count" yaml:"borrowCount"`
	RepayCount        int     `db:"repay_count" json:"repay_count" yaml:"repayCount"`
	RedeemCount       int     `db:"redeem_count" json:"redeem_count" yaml:"redeemCount"`
	LiquidationCount  int     `db:"liquidation_count" json:"liquidation_count" yaml:"liquidationCount"`
	UniqueAssets      int     `db:"unique_assets" json:"unique_assets" yaml:"uniqueAssets"`
	UniqueNetworks    int     `db:"unique_networks" json:"unique_networks" yaml:"uniqueNetworks"`
	UniqueProtocols   int     `db:"unique_protocols" json:"unique_protocols" yaml:"uniqueProtocols"`
	AccountAgeDays    float64 `db:"account_age_days" json:"account_age_days" yaml:"accountAgeDays"`
	RecencyDays       float64 `db:"recency_days" json:"recency_days" yaml:"recencyDays"`
	RepayToBorrow     float64 `db:"repay_to_borrow" json:"repay_to_borrow" yaml:"repayToBorrow"`
	BorrowToDeposit   float64 `db:"borrow_to_deposit" json:"borrow_to_deposit" yaml:"borrowToDeposit"`
	HFTCount          int     `db:"hft_count" json:"hft_count" yaml:"hftCount"`
	InitialScore      float64 `db:"initial_score" json:"initial_score" yaml:"initialScore"`
	CreditScore       float64 `db:"credit_score" json:"credit_score" yaml:"creditScore"`
}

// WalletHistory is a wallet score with the time of its run.
type WalletHistory struct {
	StartedAt   string `db:"started_at" json:"started_at" yaml:"startedAt"`
	WalletScore `yaml:",inline"`
}

// ListScores returns up to limit scores of a run ordered by credit score,
// highest first unless asc is set.
func ListScores(db *sqlx.DB, runID string, limit int, asc bool) ([]*WalletScore, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	q := selectScoresDescSQL
	if asc {
		q = selectScoresAscSQL
	}

	list := make([]*WalletScore, 0)
	if err := db.Select(&list, db.Rebind(q), runID, limitOrDefault(limit)); err != nil {
		return nil, fmt.Errorf("error listing scores for run %s: %w", runID, err)
	}
	return list, nil
}

// GetWalletHistory returns the scores of a wallet across runs, newest first.
func GetWalletHistory(db *sqlx.DB, wallet string, limit int) ([]*WalletHistory, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	list := make([]*WalletHistory, 0)
	if err := db.Select(&list, db.Rebind(selectWalletHistorySQL), wallet, limitOrDefault(limit)); err != nil {
		return nil, fmt.Errorf("error getting history for wallet %s: %w", wallet, err)
	}
	return list, nil
}
