package data

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

const (
	insertRunSQL = `INSERT INTO run (
			id, started_at, input, output, transactions, dropped, wallets,
			trees, seed, raw_min, raw_max, duration_ms
		) VALUES (
			:id, :started_at, :input, :output, :transactions, :dropped, :wallets,
			:trees, :seed, :raw_min, :raw_max, :duration_ms
		)
	`

	insertScoreSQL = `INSERT INTO wallet_score (
			run_id, wallet, total_transactions, first_transaction, last_transaction,
			total_amount, deposit_count, borrow_count, repay_count, redeem_count,
			liquidation_count, unique_assets, unique_networks, unique_protocols,
			account_age_days, recency_days, repay_to_borrow, borrow_to_deposit,
			hft_count, initial_score, credit_score
		) VALUES (
			:run_id, :wallet, :total_transactions, :first_transaction, :last_transaction,
			:total_amount, :deposit_count, :borrow_count, :repay_count, :redeem_count,
			:liquidation_count, :unique_assets, :unique_networks, :unique_protocols,
			:account_age_days, :recency_days, :repay_to_borrow, :borrow_to_deposit,
			:hft_count, :initial_score, :credit_score
		)
	`

	selectRunsSQL = `SELECT id, started_at, input, output, transactions, dropped,
			wallets, trees, seed, raw_min, raw_max, duration_ms
		FROM run
		ORDER BY started_at DESC, id
		LIMIT ?
	`

	selectRunSQL = `SELECT id, started_at, input, output, transactions, dropped,
			wallets, trees, seed, raw_min, raw_max, duration_ms
		FROM run
		WHERE id = ?
	`

	selectLatestRunIDSQL = `SELECT id FROM run ORDER BY started_at DESC, id LIMIT 1`

	selectStaleRunIDsSQL = `SELECT id FROM run ORDER BY started_at DESC, id LIMIT -1 OFFSET ?`

	selectStaleRunIDsPostgresSQL = `SELECT id FROM run ORDER BY started_at DESC, id OFFSET ?`

	deleteRunScoresSQL = `DELETE FROM wallet_score WHERE run_id = ?`

	deleteRunSQL = `DELETE FROM run WHERE id = ?`
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Run is one stored pipeline execution.
type Run struct {
	ID           string  `db:"id" json:"id" yaml:"id"`
	StartedAt    string  `db:"started_at" json:"started_at" yaml:"startedAt"`
	Input        string  `db:"input" json:"input" yaml:"input"`
	Output       string  `db:"output" json:"output" yaml:"output"`
	Transactions int     `db:"transactions" json:"transactions" yaml:"transactions"`
	Dropped      int     `db:"dropped" json:"dropped" yaml:"dropped"`
	Wallets      int     `db:"wallets" json:"wallets" yaml:"wallets"`
	Trees        int     `db:"trees" json:"trees" yaml:"trees"`
	Seed         int64   `db:"seed" json:"seed" yaml:"seed"`
	RawMin       float64 `db:"raw_min" json:"raw_min" yaml:"rawMin"`
	RawMax       float64 `db:"raw_max" json:"raw_max" yaml:"rawMax"`
	DurationMS   int64   `db:"duration_ms" json:"duration_ms" yaml:"durationMs"`
}

// SaveRun stores a run and its wallet scores in one transaction.
func SaveRun(db *sqlx.DB, run *Run, scores []*WalletScore) error {
	if db == nil {
		return errDBNotInitialized
	}
	if run == nil || run.ID == "" {
		return errors.New("run id required")
	}

	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("error starting run tx: %w", err)
	}

	if _, err := tx.NamedExec(insertRunSQL, run); err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("error inserting run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareNamed(insertScoreSQL)
	if err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("error preparing score insert: %w", err)
	}
	defer stmt.Close()

	total := len(scores)
	logEvery := total / 10
	if logEvery < 1 {
		logEvery = 1
	}

	for i, s := range scores {
		s.RunID = run.ID
		if _, execErr := stmt.Exec(s); execErr != nil {
			rollbackTransaction(tx)
			return fmt.Errorf("error inserting score for %s: %w", s.Wallet, execErr)
		}

		if (i+1)%logEvery == 0 {
			slog.Debug("score save progress", "saved", i+1, "total", total)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing run tx: %w", err)
	}

	slog.Debug("run saved", "id", run.ID, "wallets", total)
	return nil
}

// ListRuns returns up to limit runs, newest first.
func ListRuns(db *sqlx.DB, limit int) ([]*Run, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	list := make([]*Run, 0)
	if err := db.Select(&list, db.Rebind(selectRunsSQL), limitOrDefault(limit)); err != nil {
		return nil, fmt.Errorf("error listing runs: %w", err)
	}
	return list, nil
}

// GetRun returns a single run.
func GetRun(db *sqlx.DB, id string) (*Run, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	r := &Run{}
	if err := db.Get(r, db.Rebind(selectRunSQL), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("error getting run %s: %w", id, err)
	}
	return r, nil
}

// LatestRunID returns the id of the most recent run.
func LatestRunID(db *sqlx.DB) (string, error) {
	if db == nil {
		return "", errDBNotInitialized
	}

	var id string
	if err := db.Get(&id, selectLatestRunIDSQL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("latest run: %w", ErrNotFound)
		}
		return "", fmt.Errorf("error getting latest run: %w", err)
	}
	return id, nil
}

// PruneRuns deletes all but the newest keep runs and returns the number
// deleted. A keep of 0 or less disables pruning.
func PruneRuns(db *sqlx.DB, keep int) (int, error) {
	if db == nil {
		return 0, errDBNotInitialized
	}
	if keep <= 0 {
		return 0, nil
	}

	q := selectStaleRunIDsSQL
	if db.DriverName() == driverPostgres {
		q = selectStaleRunIDsPostgresSQL
	}

	var ids []string
	if err := db.Select(&ids, db.Rebind(q), keep); err != nil {
		return 0, fmt.Errorf("error selecting stale runs: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("error starting prune tx: %w", err)
	}

	for _, id := range ids {
		if _, err := tx.Exec(tx.Rebind(deleteRunScoresSQL), id); err != nil {
			rollbackTransaction(tx)
			return 0, fmt.Errorf("error deleting scores for run %s: %w", id, err)
		}
		if _, err := tx.Exec(tx.Rebind(deleteRunSQL), id); err != nil {
			rollbackTransaction(tx)
			return 0, fmt.Errorf("error deleting run %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing prune tx: %w", err)
	}

	slog.Debug("runs pruned", "deleted", len(ids), "kept", keep)
	return len(ids), nil
}
