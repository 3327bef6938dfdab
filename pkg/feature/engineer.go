package feature

import (
	"log/slog"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/mchmarny/walletscore/pkg/ingest"
)

const (
	hoursPerDay = 24

	// HighFrequencyGap is the gap under which a transaction counts as high-frequency.
	HighFrequencyGap = time.Hour
)

type accumulator struct {
	vec       *Vector
	times     []time.Time
	assets    map[string]struct{}
	networks  map[string]struct{}
	protocols map[string]struct{}
}

func newAccumulator(wallet string) *accumulator {
	return &accumulator{
		vec: &Vector{
			Wallet:  wallet,
			Actions: newActionCounts(),
		},
		assets:    make(map[string]struct{}),
		networks:  make(map[string]struct{}),
		protocols: make(map[string]struct{}),
	}
}

func (a *accumulator) add(tx *ingest.Transaction) {
	a.vec.TotalTransactions++
	a.vec.TotalAmount += CoerceAmount(tx.Amount)

	if ts := ParseTimestamp(tx.Timestamp); !ts.IsZero() {
		a.times = append(a.times, ts)
	} else {
		a.vec.InvalidTimestamps++
	}

	if tx.Action.Known() {
		a.vec.Actions[tx.Action]++
	} else {
		a.vec.OtherActions++
	}

	addDistinct(a.assets, tx.Asset)
	addDistinct(a.networks, tx.Network)
	addDistinct(a.protocols, tx.Protocol)
}

func addDistinct(set map[string]struct{}, f ingest.Field) {
	if f.Valid {
		set[f.Value] = struct{}{}
	}
}

func (a *accumulator) finish(now time.Time) *Vector {
	v := a.vec
	v.UniqueAssets = len(a.assets)
	v.UniqueNetworks = len(a.networks)
	v.UniqueProtocols = len(a.protocols)

	if len(a.times) > 0 {
		slices.SortFunc(a.times, func(x, y time.Time) int { return x.Compare(y) })
		v.FirstTransaction = a.times[0]
		v.LastTransaction = a.times[len(a.times)-1]
		v.AccountAgeDays = days(v.LastTransaction.Sub(v.FirstTransaction))
		v.RecencyDays = days(now.Sub(v.LastTransaction))
		v.HighFrequency = countHighFrequency(a.times)
	}

	repays := v.Count(ingest.ActionRepay)
	borrows := v.Count(ingest.ActionBorrow)
	deposits := v.Count(ingest.ActionDeposit)

	v.RepayToBorrow = math.Min(guardedRatio(repays, borrows), 1)
	v.BorrowToDeposit = guardedRatio(borrows, deposits)

	return v
}

// Engineer aggregates transactions into one feature vector per wallet,
// ordered by wallet address. now is the evaluation time for recency.
func Engineer(txs []ingest.Transaction, now time.Time) []*Vector {
	byWallet := make(map[string]*accumulator)
	for i := range txs {
		tx := &txs[i]
		acc, ok := byWallet[tx.Wallet.Value]
		if !ok {
			acc = newAccumulator(tx.Wallet.Value)
			byWallet[tx.Wallet.Value] = acc
		}
		acc.add(tx)
	}

	wallets := make([]string, 0, len(byWallet))
	for w := range byWallet {
		wallets = append(wallets, w)
	}
	sort.Strings(wallets)

	vs := make([]*Vector, 0, len(wallets))
	invalid, other := 0, 0
	for _, w := range wallets {
		v := byWallet[w].finish(now)
		invalid += v.InvalidTimestamps
		other += v.OtherActions
		vs = append(vs, v)
	}

	if invalid > 0 {
		slog.Debug("transactions with unparseable timestamps", "count", invalid)
	}
	if other > 0 {
		slog.Warn("transactions with unrecognized action", "count", other)
	}

	slog.Debug("features engineered", "transactions", len(txs), "wallets", len(vs))
	return vs
}

// countHighFrequency counts consecutive gaps shorter than HighFrequencyGap.
// times must be sorted ascending.
func countHighFrequency(times []time.Time) int {
	n := 0
	for i := 1; i < len(times); i++ {
		if times[i].Sub(times[i-1]) < HighFrequencyGap {
			n++
		}
	}
	return n
}

// guardedRatio divides num by den, substituting 1 for a zero denominator.
func guardedRatio(num, den int) float64 {
	if den == 0 {
		den = 1
	}
	return float64(num) / float64(den)
}

func days(d time.Duration) float64 {
	return d.Hours() / hoursPerDay
}
