// Package rank computes SBC rank statistics: for each quantity element, the
// count of posterior draws strictly less than the prior-drawn value. Under
// correct calibration the rank is discrete-uniform on {0,...,L}, and that
// exactness depends on the strict inequality: draws exactly equal to the
// prior value are never counted.
package rank

import (
	"fmt"

	"github.com/priorcheck/priorcheck/internal/sbc"
)

// Compute returns the element-wise rank of prior within draws. prior has one
// value per element; each entry of draws is one posterior draw of the same
// length. The result has one rank per element, each in [0, len(draws)].
func Compute(prior []float64, draws [][]float64) ([]int, error) {
	ranks := make([]int, len(prior))
	for d, draw := range draws {
		if len(draw) != len(prior) {
			return nil, fmt.Errorf("draw %d has %d elements, prior has %d", d, len(draw), len(prior))
		}
		for i, v := range draw {
			if v < prior[i] {
				ranks[i]++
			}
		}
	}
	return ranks, nil
}

// Trial computes ranks for every tracked quantity of one trial, comparing
// the prior draw against the posterior sample. Every quantity must be
// present in both with consistent element counts.
func Trial(draw *sbc.PriorDraw, post *sbc.PosteriorSample, quantities []sbc.Quantity) (map[string][]int, error) {
	ranks := make(map[string][]int, len(quantities))
	for _, q := range quantities {
		prior, ok := draw.Params[q.Name]
		if !ok {
			return nil, fmt.Errorf("quantity %q missing from prior draw", q.Name)
		}
		if len(prior) != q.Size {
			return nil, fmt.Errorf("quantity %q: prior has %d elements, want %d", q.Name, len(prior), q.Size)
		}
		posterior, ok := post.Draws[q.Name]
		if !ok {
			return nil, fmt.Errorf("quantity %q missing from posterior sample", q.Name)
		}
		r, err := Compute(prior, posterior)
		if err != nil {
			return nil, fmt.Errorf("quantity %q: %w", q.Name, err)
		}
		ranks[q.Name] = r
	}
	return ranks, nil
}
