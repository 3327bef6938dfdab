package feature

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/mchmarny/walletscore/pkg/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2021, 8, 1, 0, 0, 0, 0, time.UTC)

func tx(wallet string, action ingest.Action, at time.Time, amount string) ingest.Transaction {
	var ts json.RawMessage
	if !at.IsZero() {
		ts = json.RawMessage(fmt.Sprintf("%d", at.Unix()))
	}
	return ingest.Transaction{
		Wallet:    ingest.Field{Value: wallet, Valid: true},
		Timestamp: ts,
		Amount:    json.RawMessage(amount),
		Action:    action,
	}
}

func withAsset(t ingest.Transaction, asset string) ingest.Transaction {
	t.Asset = ingest.Field{Value: asset, Valid: true}
	return t
}

func TestEngineer_Scenario(t *testing.T) {
	txs := []ingest.Transaction{
		tx("0xabc", ingest.ActionDeposit, testStart, `10`),
		tx("0xabc", ingest.ActionDeposit, testStart.Add(2*time.Hour), `"10"`),
		tx("0xabc", ingest.ActionDeposit, testStart.Add(25*time.Hour), `10`),
		tx("0xabc", ingest.ActionRepay, testStart.Add(26*time.Hour), `10`),
	}

	now := testStart.Add(30 * 24 * time.Hour)
	vs := Engineer(txs, now)
	require.Len(t, vs, 1)
	v := vs[0]

	assert.Equal(t, "0xabc", v.Wallet)
	assert.Equal(t, 4, v.TotalTransactions)
	assert.Equal(t, 3, v.Count(ingest.ActionDeposit))
	assert.Equal(t, 1, v.Count(ingest.ActionRepay))
	assert.Equal(t, 0, v.Count(ingest.ActionBorrow))
	assert.InDelta(t, 40.0, v.TotalAmount, 1e-9)
	assert.InDelta(t, 26.0/24.0, v.AccountAgeDays, 1e-9)
	assert.InDelta(t, 30.0-26.0/24.0, v.RecencyDays, 1e-9)
	assert.Equal(t, 1.0, v.RepayToBorrow)
	assert.Equal(t, 0.0, v.BorrowToDeposit)

	// gaps are 2h, 23h and 1h; exactly one hour is not high-frequency
	assert.Equal(t, 0, v.HighFrequency)
	assert.True(t, testStart.Equal(v.FirstTransaction))
	assert.True(t, testStart.Add(26*time.Hour).Equal(v.LastTransaction))
}

func TestEngineer_HighFrequency(t *testing.T) {
	txs := []ingest.Transaction{
		tx("0xa", ingest.ActionDeposit, testStart.Add(3*time.Hour), `1`),
		tx("0xa", ingest.ActionDeposit, testStart, `1`),
		tx("0xa", ingest.ActionDeposit, testStart.Add(10*time.Minute), `1`),
		tx("0xa", ingest.ActionDeposit, testStart.Add(59*time.Minute), `1`),
		tx("0xa", ingest.ActionDeposit, testStart.Add(3*time.Hour+time.Second), `1`),
	}

	vs := Engineer(txs, testStart)
	require.Len(t, vs, 1)
	// 10m, 49m, 2h01m, 1s
	assert.Equal(t, 3, vs[0].HighFrequency)
}

func TestEngineer_RatioGuards(t *testing.T) {
	tests := []struct {
		name     string
		actions  []ingest.Action
		repay    float64
		borrowTo float64
	}{
		{"no borrow no repay", []ingest.Action{ingest.ActionDeposit}, 0, 0},
		{"repay without borrow", []ingest.Action{ingest.ActionRepay}, 1, 0},
		{"more repays than borrows", []ingest.Action{ingest.ActionBorrow, ingest.ActionRepay, ingest.ActionRepay}, 1, 1},
		{"partial repay", []ingest.Action{ingest.ActionBorrow, ingest.ActionBorrow, ingest.ActionRepay}, 0.5, 2},
		{"borrow over deposits", []ingest.Action{ingest.ActionDeposit, ingest.ActionBorrow, ingest.ActionBorrow, ingest.ActionBorrow}, 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var txs []ingest.Transaction
			for i, a := range tt.actions {
				txs = append(txs, tx("0xa", a, testStart.Add(time.Duration(i)*24*time.Hour), `1`))
			}
			vs := Engineer(txs, testStart)
			require.Len(t, vs, 1)
			assert.InDelta(t, tt.repay, vs[0].RepayToBorrow, 1e-9)
			assert.InDelta(t, tt.borrowTo, vs[0].BorrowToDeposit, 1e-9)
			assert.LessOrEqual(t, vs[0].RepayToBorrow, 1.0)
		})
	}
}

func TestEngineer_MalformedTimestamp(t *testing.T) {
	bad := tx("0xa", ingest.ActionBorrow, time.Time{}, `5`)
	bad.Timestamp = json.RawMessage(`"not-a-date"`)

	txs := []ingest.Transaction{
		tx("0xa", ingest.ActionDeposit, testStart, `1`),
		bad,
		tx("0xa", ingest.ActionDeposit, testStart.Add(48*time.Hour), `1`),
	}

	var vs []*Vector
	require.NotPanics(t, func() { vs = Engineer(txs, testStart.Add(72*time.Hour)) })
	require.Len(t, vs, 1)
	v := vs[0]

	assert.Equal(t, 3, v.TotalTransactions)
	assert.Equal(t, 1, v.InvalidTimestamps)
	assert.Equal(t, 1, v.Count(ingest.ActionBorrow))
	assert.InDelta(t, 2.0, v.AccountAgeDays, 1e-9)
	assert.InDelta(t, 1.0, v.RecencyDays, 1e-9)
	assert.InDelta(t, 7.0, v.TotalAmount, 1e-9)
}

func TestEngineer_NoValidTime(t *testing.T) {
	vs := Engineer([]ingest.Transaction{tx("0xa", ingest.ActionDeposit, time.Time{}, `1`)}, testStart)
	require.Len(t, vs, 1)
	assert.False(t, vs[0].HasTime())
	assert.Equal(t, 0.0, vs[0].AccountAgeDays)
	assert.Equal(t, 0.0, vs[0].RecencyDays)
	assert.Equal(t, 0, vs[0].HighFrequency)
}

func TestEngineer_SingleTransaction(t *testing.T) {
	vs := Engineer([]ingest.Transaction{tx("0xa", ingest.ActionDeposit, testStart, `1`)}, testStart)
	require.Len(t, vs, 1)
	assert.Equal(t, 0.0, vs[0].AccountAgeDays)
	assert.Equal(t, 0, vs[0].HighFrequency)
}

func TestEngineer_WalletOrderAndCounts(t *testing.T) {
	txs := []ingest.Transaction{
		withAsset(tx("0xc", ingest.ActionDeposit, testStart, `1`), "USDC"),
		withAsset(tx("0xa", ingest.ActionLiquidation, testStart, `1`), "WETH"),
		withAsset(tx("0xB", ingest.Action("Deposit"), testStart, `1`), "USDC"),
		withAsset(tx("0xa", ingest.ActionRedeem, testStart, `1`), "WETH"),
		withAsset(tx("0xa", ingest.ActionDeposit, testStart, `1`), "DAI"),
		tx("0xa", ingest.ActionDeposit, testStart, `1`),
	}

	vs := Engineer(txs, testStart)
	require.Len(t, vs, 3)
	assert.Equal(t, "0xB", vs[0].Wallet)
	assert.Equal(t, "0xa", vs[1].Wallet)
	assert.Equal(t, "0xc", vs[2].Wallet)

	// unknown actions count toward the total only
	b := vs[0]
	assert.Equal(t, 1, b.TotalTransactions)
	assert.Equal(t, 1, b.OtherActions)
	for _, a := range ingest.Actions {
		n, ok := b.Actions[a]
		assert.True(t, ok, string(a))
		assert.Equal(t, 0, n, string(a))
	}

	a := vs[1]
	assert.Equal(t, 4, a.TotalTransactions)
	assert.Equal(t, 2, a.UniqueAssets)
	assert.Equal(t, 0, a.UniqueNetworks)
	assert.Equal(t, 1, a.Count(ingest.ActionLiquidation))
	assert.Equal(t, 1, a.Count(ingest.ActionRedeem))
	assert.Equal(t, 2, a.Count(ingest.ActionDeposit))
	// four identical timestamps
	assert.Equal(t, 3, a.HighFrequency)
}

func TestEngineer_Deterministic(t *testing.T) {
	txs := []ingest.Transaction{
		tx("0xa", ingest.ActionDeposit, testStart, `1`),
		tx("0xb", ingest.ActionBorrow, testStart.Add(time.Hour), `2`),
		tx("0xa", ingest.ActionRepay, testStart.Add(5*time.Minute), `3`),
	}
	now := testStart.Add(24 * time.Hour)
	assert.Equal(t, Matrix(Engineer(txs, now)), Matrix(Engineer(txs, now)))
}

func TestEngineer_Empty(t *testing.T) {
	assert.Empty(t, Engineer(nil, testStart))
}

func TestRowMatchesNames(t *testing.T) {
	vs := Engineer([]ingest.Transaction{tx("0xa", ingest.ActionDeposit, testStart, `1`)}, testStart)
	require.Len(t, vs, 1)
	assert.Len(t, vs[0].Row(), len(Names))
}
