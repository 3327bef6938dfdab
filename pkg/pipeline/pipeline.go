package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mchmarny/walletscore/pkg/feature"
	"github.com/mchmarny/walletscore/pkg/ingest"
	"github.com/mchmarny/walletscore/pkg/metrics"
	"github.com/mchmarny/walletscore/pkg/model"
	"github.com/mchmarny/walletscore/pkg/score"
)

const (
	DefaultInput  = "wallet-transactions.json"
	DefaultOutput = "wallet-scores.json"

	scoreDecimals = 2
)

// ErrNoWallets is returned when the input holds no scorable wallet.
var ErrNoWallets = errors.New("no wallets to score")

// Options configures a pipeline run. Zero values take the defaults.
type Options struct {
	Input  string
	Output string
	// Now returns the evaluation time for recency, defaults to time.Now.
	Now   func() time.Time
	Rules score.Rules
	Model model.Params
	// Scale freezes the raw prediction bounds instead of using each run's
	// observed range.
	Scale   *model.Bounds
	Metrics *metrics.Recorder
	// Commit runs after scoring and before the output file is written. An
	// error aborts the run with nothing written.
	Commit func(*Result) error
}

func (o Options) withDefaults() Options {
	if o.Input == "" {
		o.Input = DefaultInput
	}
	if o.Output == "" {
		o.Output = DefaultOutput
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Rules == (score.Rules{}) {
		o.Rules = score.DefaultRules()
	}
	if o.Model == (model.Params{}) {
		o.Model = model.DefaultParams()
	}
	return o
}

// Record is one line of the output file.
type Record struct {
	Wallet      string  `json:"userWallet" yaml:"userWallet"`
	CreditScore float64 `json:"credit_score" yaml:"creditScore"`
}

// Result describes a completed run.
type Result struct {
	RunID             string        `json:"run_id" yaml:"runId"`
	StartedAt         time.Time     `json:"started_at" yaml:"startedAt"`
	EvaluatedAt       time.Time     `json:"evaluated_at" yaml:"evaluatedAt"`
	Input             string        `json:"input" yaml:"input"`
	Output            string        `json:"output" yaml:"output"`
	Pages             int           `json:"pages" yaml:"pages"`
	Transactions      int           `json:"transactions" yaml:"transactions"`
	Dropped           int           `json:"dropped" yaml:"dropped"`
	InvalidTimestamps int           `json:"invalid_timestamps" yaml:"invalidTimestamps"`
	Wallets           int           `json:"wallets" yaml:"wallets"`
	Trees             int           `json:"trees" yaml:"trees"`
	Seed              int64         `json:"seed" yaml:"seed"`
	Bounds            model.Bounds  `json:"bounds" yaml:"bounds"`
	FrozenBounds      bool          `json:"frozen_bounds" yaml:"frozenBounds"`
	Duration          time.Duration `json:"duration" yaml:"duration"`

	Features []*feature.Vector `json:"-" yaml:"-"`
	Initial  []float64         `json:"-" yaml:"-"`
	Raw      []float64         `json:"-" yaml:"-"`
	Records  []Record          `json:"-" yaml:"-"`
}

// Run loads the input, scores every wallet and writes the output file.
// Nothing is written when any stage fails.
func Run(ctx context.Context, opts Options) (res *Result, err error) {
	opts = opts.withDefaults()
	start := time.Now()
	defer func() { opts.Metrics.RunFinished(err) }()

	batch, err := ingest.Load(opts.Input)
	if err != nil {
		return nil, err
	}
	opts.Metrics.ObserveLoad(len(batch.Transactions), batch.Dropped)
	opts.Metrics.ObserveStage(metrics.StageLoad, start)

	res, err = Score(ctx, batch, opts)
	if err != nil {
		return nil, err
	}
	res.StartedAt = start.UTC()
	res.Duration = time.Since(start)

	if opts.Commit != nil {
		if err := opts.Commit(res); err != nil {
			return nil, err
		}
	}

	writeStart := time.Now()
	if err := WriteRecords(opts.Output, res.Records); err != nil {
		return nil, err
	}
	opts.Metrics.ObserveStage(metrics.StageWrite, writeStart)

	res.Duration = time.Since(start)
	slog.Info("scores written",
		"output", opts.Output,
		"wallets", res.Wallets,
		"run", res.RunID,
		"duration", res.Duration)

	return res, nil
}

// Score runs feature engineering, heuristic scoring and model smoothing over
// an already loaded batch.
func Score(ctx context.Context, batch *ingest.Batch, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if batch == nil {
		return nil, errors.New("batch required")
	}
	if err := opts.Rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}

	now := opts.Now().UTC()
	res := &Result{
		RunID:        uuid.NewString(),
		StartedAt:    time.Now().UTC(),
		EvaluatedAt:  now,
		Input:        opts.Input,
		Output:       opts.Output,
		Pages:        batch.Pages,
		Transactions: len(batch.Transactions),
		Dropped:      batch.Dropped,
		Trees:        opts.Model.Trees,
		Seed:         opts.Model.Seed,
	}

	stageStart := time.Now()
	res.Features = feature.Engineer(batch.Transactions, now)
	res.Wallets = len(res.Features)
	for _, v := range res.Features {
		res.InvalidTimestamps += v.InvalidTimestamps
	}
	opts.Metrics.ObserveFeatures(res.Wallets, res.InvalidTimestamps)
	opts.Metrics.ObserveStage(metrics.StageFeatures, stageStart)

	if res.Wallets == 0 {
		return nil, ErrNoWallets
	}
	if res.Wallets < 2 {
		slog.Warn("fewer than two wallets, scores are degenerate", "wallets", res.Wallets)
	}

	res.Initial = opts.Rules.InitialAll(res.Features)

	forest, err := model.NewForest(opts.Model)
	if err != nil {
		return nil, err
	}

	x := feature.Matrix(res.Features)

	stageStart = time.Now()
	if err := forest.Fit(ctx, x, res.Initial); err != nil {
		return nil, err
	}
	opts.Metrics.ObserveStage(metrics.StageFit, stageStart)

	stageStart = time.Now()
	res.Raw, err = forest.Predict(x)
	if err != nil {
		return nil, fmt.Errorf("error predicting scores: %w", err)
	}
	opts.Metrics.ObserveStage(metrics.StagePredict, stageStart)

	res.Bounds = model.Observed(res.Raw)
	if opts.Scale != nil {
		res.Bounds = *opts.Scale
		res.FrozenBounds = true
	}

	scaled := model.Scale(res.Raw, res.Bounds)
	res.Records = make([]Record, len(scaled))
	final := make([]float64, len(scaled))
	for i, s := range scaled {
		final[i] = model.Round(s, scoreDecimals)
		res.Records[i] = Record{Wallet: res.Features[i].Wallet, CreditScore: final[i]}
	}
	opts.Metrics.ObserveScores(final)

	slog.Debug("wallets scored",
		"wallets", res.Wallets,
		"raw_min", res.Bounds.Min,
		"raw_max", res.Bounds.Max,
		"frozen", res.FrozenBounds)

	return res, nil
}

// Explain returns the feature vectors and heuristic breakdown for a batch
// without fitting the model.
func Explain(batch *ingest.Batch, now time.Time, rules score.Rules) ([]*feature.Vector, []*score.Assessment) {
	if rules == (score.Rules{}) {
		rules = score.DefaultRules()
	}
	vs := feature.Engineer(batch.Transactions, now.UTC())
	as := make([]*score.Assessment, len(vs))
	for i, v := range vs {
		as[i] = rules.Evaluate(v)
	}
	return vs, as
}
