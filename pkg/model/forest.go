package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrEmptyDataset is returned when fitting on zero rows.
	ErrEmptyDataset = errors.New("dataset has no rows")

	// ErrNotFitted is returned when predicting before Fit.
	ErrNotFitted = errors.New("forest has not been fitted")
)

// Params configures the forest.
type Params struct {
	Trees           int   `json:"trees" yaml:"trees"`
	Seed            int64 `json:"seed" yaml:"seed"`
	MaxDepth        int   `json:"maxDepth" yaml:"maxDepth"`
	MinSamplesSplit int   `json:"minSamplesSplit" yaml:"minSamplesSplit"`
	MinSamplesLeaf  int   `json:"minSamplesLeaf" yaml:"minSamplesLeaf"`
	// Workers bounds concurrent tree fitting, 0 uses GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers"`
}

// DefaultParams returns 100 fully grown trees seeded with 42.
func DefaultParams() Params {
	return Params{
		Trees:           100,
		Seed:            42,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
	}
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.Trees < 1 {
		return fmt.Errorf("trees must be positive: %d", p.Trees)
	}
	if p.MaxDepth < 0 {
		return fmt.Errorf("max depth must not be negative: %d", p.MaxDepth)
	}
	if p.MinSamplesSplit < 2 {
		return fmt.Errorf("min samples split must be at least 2: %d", p.MinSamplesSplit)
	}
	if p.MinSamplesLeaf < 1 {
		return fmt.Errorf("min samples leaf must be at least 1: %d", p.MinSamplesLeaf)
	}
	if p.Workers < 0 {
		return fmt.Errorf("workers must not be negative: %d", p.Workers)
	}
	return nil
}

// Forest is a bagged ensemble of regression trees.
type Forest struct {
	params   Params
	features int
	trees    []*tree
}

// NewForest returns an unfitted forest.
func NewForest(p Params) (*Forest, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model params: %w", err)
	}
	return &Forest{params: p}, nil
}

// Fit trains every tree on a bootstrap sample of x. Each tree draws from its
// own generator seeded by the forest seed and its index, so the result does
// not depend on scheduling.
func (f *Forest) Fit(ctx context.Context, x [][]float64, y []float64) error {
	if len(x) == 0 {
		return ErrEmptyDataset
	}
	if len(x) != len(y) {
		return fmt.Errorf("row count %d does not match target count %d", len(x), len(y))
	}
	features := len(x[0])
	if features == 0 {
		return errors.New("rows have no features")
	}
	for i, row := range x {
		if len(row) != features {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(row), features)
		}
	}

	workers := f.params.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	start := time.Now()
	trees := make([]*tree, f.params.Trees)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range trees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(uint64(f.params.Seed), uint64(i)))
			trees[i] = buildTree(x, y, bootstrap(len(x), rng), f.params, rng)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("error fitting forest: %w", err)
	}

	f.features = features
	f.trees = trees

	slog.Debug("forest fitted",
		"trees", len(trees),
		"rows", len(x),
		"workers", workers,
		"max_depth", f.MaxDepth(),
		"duration", time.Since(start))

	return nil
}

// Predict returns the mean tree prediction for each row.
func (f *Forest) Predict(x [][]float64) ([]float64, error) {
	if len(f.trees) == 0 {
		return nil, ErrNotFitted
	}

	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != f.features {
			return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(row), f.features)
		}
		var sum float64
		for _, t := range f.trees {
			sum += t.predict(row)
		}
		out[i] = sum / float64(len(f.trees))
	}
	return out, nil
}

// MaxDepth returns the depth of the deepest fitted tree.
func (f *Forest) MaxDepth() int {
	d := 0
	for _, t := range f.trees {
		d = max(d, t.depth())
	}
	return d
}

// Size returns the number of fitted trees.
func (f *Forest) Size() int {
	return len(f.trees)
}

func bootstrap(n int, rng *rand.Rand) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = rng.IntN(n)
	}
	return s
}
