package model

import (
	"errors"
	"math"
)

const (
	// ScaleMin is the lowest final score.
	ScaleMin = 0.0
	// ScaleMax is the highest final score.
	ScaleMax = 1000.0
)

// Bounds is the raw prediction range mapped onto [ScaleMin, ScaleMax].
type Bounds struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Validate checks that the bounds are finite and ordered.
func (b Bounds) Validate() error {
	if math.IsNaN(b.Min) || math.IsNaN(b.Max) || math.IsInf(b.Min, 0) || math.IsInf(b.Max, 0) {
		return errors.New("scale bounds must be finite")
	}
	if b.Min > b.Max {
		return errors.New("scale min greater than max")
	}
	return nil
}

// Observed returns the min and max of raw.
func Observed(raw []float64) Bounds {
	if len(raw) == 0 {
		return Bounds{}
	}
	b := Bounds{Min: raw[0], Max: raw[0]}
	for _, v := range raw[1:] {
		b.Min = math.Min(b.Min, v)
		b.Max = math.Max(b.Max, v)
	}
	return b
}

// Scale maps raw linearly so b.Min becomes ScaleMin and b.Max becomes
// ScaleMax. A zero-width range is treated as width 1, so every value equal
// to b.Min maps to ScaleMin. Results are clipped to the score range.
func Scale(raw []float64, b Bounds) []float64 {
	width := b.Max - b.Min
	if width == 0 {
		width = 1
	}

	out := make([]float64, len(raw))
	for i, v := range raw {
		s := ScaleMin + (v-b.Min)/width*(ScaleMax-ScaleMin)
		out[i] = math.Max(ScaleMin, math.Min(ScaleMax, s))
	}
	return out
}

// Round rounds v to the given decimal places, halves to even.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.RoundToEven(v*p) / p
}
