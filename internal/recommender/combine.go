package recommender

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// Combiner folds a candidate's positive and negative affinities into one ranking key.
// Implementations must be monotonic: non-decreasing in pos and non-increasing in neg.
type Combiner interface {
	Name() string
	Combine(pos, neg float64) float64
}

// RatioCombiner ranks by log(sigma(pos)/sigma(neg)), evaluated as softplus(-neg) - softplus(-pos).
// The key stays finite for finite inputs and is strictly increasing in pos, decreasing in neg.
type RatioCombiner struct{}

func (RatioCombiner) Name() string { return "ratio" }

func (RatioCombiner) Combine(pos, neg float64) float64 {
	return softplus(-neg) - softplus(-pos)
}

// softplus is log(1 + e^x) without overflow.
func softplus(x float64) float64 {
	if x > 0 {
		return x + math.Log1p(math.Exp(-x))
	}
	return math.Log1p(math.Exp(x))
}

// DifferenceCombiner ranks by pos - neg.
type DifferenceCombiner struct{}

func (DifferenceCombiner) Name() string { return "difference" }

func (DifferenceCombiner) Combine(pos, neg float64) float64 {
	return pos - neg
}

// ParseCombiner resolves a combiner by its configured name.
func ParseCombiner(name string) (Combiner, error) {
	switch name {
	case "", "ratio":
		return RatioCombiner{}, nil
	case "difference":
		return DifferenceCombiner{}, nil
	}
	return nil, fmt.Errorf("unsupported combiner %q", name)
}

type rankedPlace struct {
	id    int64
	score float64
}

// order sorts descending by score; ties and non-finite scores fall back to ascending id so
// the result is a total order.
func order(items []rankedPlace) {
	for i := range items {
		if math.IsNaN(items[i].score) {
			items[i].score = math.Inf(-1)
		}
	}
	slices.SortFunc(items, func(a, b rankedPlace) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
}
