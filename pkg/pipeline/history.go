package pipeline

import (
	"time"

	"github.com/mchmarny/walletscore/pkg/data"
	"github.com/mchmarny/walletscore/pkg/ingest"
)

// History converts the result into its stored form.
func (r *Result) History() (*data.Run, []*data.WalletScore) {
	run := &data.Run{
		ID:           r.RunID,
		StartedAt:    r.StartedAt.UTC().Format(time.RFC3339),
		Input:        r.Input,
		Output:       r.Output,
		Transactions: r.Transactions,
		Dropped:      r.Dropped,
		Wallets:      r.Wallets,
		Trees:        r.Trees,
		Seed:         r.Seed,
		RawMin:       r.Bounds.Min,
		RawMax:       r.Bounds.Max,
		DurationMS:   r.Duration.Milliseconds(),
	}

	scores := make([]*data.WalletScore, len(r.Features))
	for i, v := range r.Features {
		s := &data.WalletScore{
			RunID:             r.RunID,
			Wallet:            v.Wallet,
			TotalTransactions: v.TotalTransactions,
			TotalAmount:       v.TotalAmount,
			DepositCount:      v.Count(ingest.ActionDeposit),
			BorrowCount:       v.Count(ingest.ActionBorrow),
			RepayCount:        v.Count(ingest.ActionRepay),
			RedeemCount:       v.Count(ingest.ActionRedeem),
			LiquidationCount:  v.Count(ingest.ActionLiquidation),
			UniqueAssets:      v.UniqueAssets,
			UniqueNetworks:    v.UniqueNetworks,
			UniqueProtocols:   v.UniqueProtocols,
			AccountAgeDays:    v.AccountAgeDays,
			RecencyDays:       v.RecencyDays,
			RepayToBorrow:     v.RepayToBorrow,
			BorrowToDeposit:   v.BorrowToDeposit,
			HFTCount:          v.HighFrequency,
		}
		if v.HasTime() {
			s.FirstTransaction = v.FirstTransaction.UTC().Format(time.RFC3339)
			s.LastTransaction = v.LastTransaction.UTC().Format(time.RFC3339)
		}
		if i < len(r.Initial) {
			s.InitialScore = r.Initial[i]
		}
		if i < len(r.Records) {
			s.CreditScore = r.Records[i].CreditScore
		}
		scores[i] = s
	}

	return run, scores
}
