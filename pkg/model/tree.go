package model

import (
	"math"
	"math/rand/v2"
	"slices"
)

// leaf impurity at or below this is treated as pure
const impurityTolerance = 2.220446049250313e-16

type node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
	Leaf      bool
}

// tree is a CART regression tree stored as a flat node slice, root at 0.
type tree struct {
	nodes []node
}

type treeBuilder struct {
	x        [][]float64
	y        []float64
	params   Params
	features int
	rng      *rand.Rand
	nodes    []node
}

func buildTree(x [][]float64, y []float64, sample []int, p Params, rng *rand.Rand) *tree {
	b := &treeBuilder{
		x:        x,
		y:        y,
		params:   p,
		features: len(x[0]),
		rng:      rng,
	}
	b.grow(sample, 0)
	return &tree{nodes: b.nodes}
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, node{Leaf: true, Value: b.mean(idx)})

	if b.stop(idx, depth) {
		return id
	}

	f, threshold, ok := b.bestSplit(idx)
	if !ok {
		return id
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.x[i][f] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[id] = node{Feature: f, Threshold: threshold, Left: l, Right: r}
	return id
}

func (b *treeBuilder) stop(idx []int, depth int) bool {
	n := len(idx)
	if n < b.params.MinSamplesSplit || n < 2*b.params.MinSamplesLeaf {
		return true
	}
	if b.params.MaxDepth > 0 && depth >= b.params.MaxDepth {
		return true
	}
	return b.impurity(idx) <= impurityTolerance
}

func (b *treeBuilder) mean(idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idx {
		sum += b.y[i]
	}
	return sum / float64(len(idx))
}

func (b *treeBuilder) impurity(idx []int) float64 {
	m := b.mean(idx)
	var ss float64
	for _, i := range idx {
		d := b.y[i] - m
		ss += d * d
	}
	return ss / float64(len(idx))
}

// bestSplit finds the split maximizing the reduction in squared error.
// Features are visited in random order so ties resolve by the tree's seed.
func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	n := len(idx)
	minLeaf := b.params.MinSamplesLeaf

	var total float64
	for _, i := range idx {
		total += b.y[i]
	}

	bestFeature, bestThreshold := -1, 0.0
	bestProxy := math.Inf(-1)

	sorted := make([]int, n)
	for _, f := range b.rng.Perm(b.features) {
		copy(sorted, idx)
		slices.SortStableFunc(sorted, func(i, j int) int {
			switch {
			case b.x[i][f] < b.x[j][f]:
				return -1
			case b.x[i][f] > b.x[j][f]:
				return 1
			}
			return 0
		})

		if b.x[sorted[0]][f] == b.x[sorted[n-1]][f] {
			continue
		}

		var left float64
		for k := 1; k < n; k++ {
			left += b.y[sorted[k-1]]
			if k < minLeaf || n-k < minLeaf {
				continue
			}
			lo, hi := b.x[sorted[k-1]][f], b.x[sorted[k]][f]
			if lo == hi {
				continue
			}
			right := total - left
			proxy := left*left/float64(k) + right*right/float64(n-k)
			if proxy > bestProxy {
				bestProxy = proxy
				bestFeature = f
				bestThreshold = midpoint(lo, hi)
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

func midpoint(lo, hi float64) float64 {
	m := lo/2 + hi/2
	if m >= hi || math.IsInf(m, 0) {
		return lo
	}
	return m
}

func (t *tree) predict(row []float64) float64 {
	i := 0
	for {
		n := t.nodes[i]
		if n.Leaf {
			return n.Value
		}
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

func (t *tree) depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.nodes[i]
		if n.Leaf {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}
