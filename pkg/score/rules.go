package score

import (
	"errors"
	"fmt"
	"math"

	"github.com/mchmarny/walletscore/pkg/feature"
	"github.com/mchmarny/walletscore/pkg/ingest"
)

const (
	RuleRepayRatio     = "repay_ratio"
	RuleAccountAge     = "account_age"
	RuleAssetDiversity = "asset_diversity"
	RuleLiquidation    = "liquidation"
	RuleBorrowRatio    = "borrow_ratio"
	RuleHighFrequency  = "high_frequency"
)

// Threshold is a rule that applies Effect when the feature exceeds Above.
type Threshold struct {
	Above  float64 `json:"above" yaml:"above"`
	Effect float64 `json:"effect" yaml:"effect"`
}

func (t Threshold) apply(v float64) float64 {
	if v > t.Above {
		return t.Effect
	}
	return 0
}

// Rules is the heuristic rule table.
type Rules struct {
	Base float64 `json:"base" yaml:"base"`
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`

	RepayRatio     Threshold `json:"repayRatio" yaml:"repayRatio"`
	AccountAge     Threshold `json:"accountAge" yaml:"accountAge"`
	AssetDiversity Threshold `json:"assetDiversity" yaml:"assetDiversity"`
	BorrowRatio    Threshold `json:"borrowRatio" yaml:"borrowRatio"`
	HighFrequency  Threshold `json:"highFrequency" yaml:"highFrequency"`

	// PerLiquidation is applied once for every liquidation.
	PerLiquidation float64 `json:"perLiquidation" yaml:"perLiquidation"`
}

// DefaultRules returns the standard rule table.
func DefaultRules() Rules {
	return Rules{
		Base:           500,
		Min:            0,
		Max:            1000,
		RepayRatio:     Threshold{Above: 0.9, Effect: 100},
		AccountAge:     Threshold{Above: 30, Effect: 50},
		AssetDiversity: Threshold{Above: 2, Effect: 50},
		BorrowRatio:    Threshold{Above: 1.5, Effect: -100},
		HighFrequency:  Threshold{Above: 10, Effect: -50},
		PerLiquidation: -200,
	}
}

// Validate checks the rule table bounds.
func (r Rules) Validate() error {
	if r.Min > r.Max {
		return fmt.Errorf("rules min (%v) greater than max (%v)", r.Min, r.Max)
	}
	values := []float64{r.Base, r.Min, r.Max, r.PerLiquidation}
	for _, th := range []Threshold{r.RepayRatio, r.AccountAge, r.AssetDiversity, r.BorrowRatio, r.HighFrequency} {
		values = append(values, th.Above, th.Effect)
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("rules contain non-finite value")
		}
	}
	return nil
}

// Adjustment is a single rule that fired for a wallet.
type Adjustment struct {
	Rule   string  `json:"rule" yaml:"rule"`
	Delta  float64 `json:"delta" yaml:"delta"`
	Detail string  `json:"detail" yaml:"detail"`
}

// Assessment is the heuristic breakdown for one wallet.
type Assessment struct {
	Wallet      string       `json:"wallet" yaml:"wallet"`
	Base        float64      `json:"base" yaml:"base"`
	Adjustments []Adjustment `json:"adjustments,omitempty" yaml:"adjustments,omitempty"`
	// Raw is the score before clipping.
	Raw   float64 `json:"raw" yaml:"raw"`
	Score float64 `json:"score" yaml:"score"`
}

// Evaluate applies every rule to v and returns the breakdown.
func (r Rules) Evaluate(v *feature.Vector) *Assessment {
	a := &Assessment{
		Wallet: v.Wallet,
		Base:   r.Base,
	}

	add := func(rule string, delta float64, format string, args ...any) {
		if delta == 0 {
			return
		}
		a.Adjustments = append(a.Adjustments, Adjustment{
			Rule:   rule,
			Delta:  delta,
			Detail: fmt.Sprintf(format, args...),
		})
	}

	add(RuleRepayRatio, r.RepayRatio.apply(v.RepayToBorrow), "repay/borrow %.2f", v.RepayToBorrow)
	add(RuleAccountAge, r.AccountAge.apply(v.AccountAgeDays), "age %.1f days", v.AccountAgeDays)
	add(RuleAssetDiversity, r.AssetDiversity.apply(float64(v.UniqueAssets)), "%d assets", v.UniqueAssets)

	liq := v.Count(ingest.ActionLiquidation)
	add(RuleLiquidation, r.PerLiquidation*float64(liq), "%d liquidations", liq)

	add(RuleBorrowRatio, r.BorrowRatio.apply(v.BorrowToDeposit), "borrow/deposit %.2f", v.BorrowToDeposit)
	add(RuleHighFrequency, r.HighFrequency.apply(float64(v.HighFrequency)), "%d sub-hour gaps", v.HighFrequency)

	a.Raw = a.Base
	for _, adj := range a.Adjustments {
		a.Raw += adj.Delta
	}
	a.Score = clip(a.Raw, r.Min, r.Max)

	return a
}

// Initial returns the clipped heuristic score for v.
func (r Rules) Initial(v *feature.Vector) float64 {
	return r.Evaluate(v).Score
}

// InitialAll scores every vector, preserving order.
func (r Rules) InitialAll(vs []*feature.Vector) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = r.Initial(v)
	}
	return out
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
