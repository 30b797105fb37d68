// Package envelope computes the theoretical null for SBC rank statistics:
// the discrete-uniform PMF on {0,...,L}, binomial credible bands for rank
// histograms, and bands for ECDF-difference comparisons. It is computation
// only; rendering the results is an external concern.
package envelope

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// UniformPMF returns the expected probability mass over ranks {0,...,L}
// under correct calibration: 1/(L+1) everywhere.
func UniformPMF(L int) []float64 {
	pmf := make([]float64, L+1)
	mass := 1 / float64(L+1)
	for i := range pmf {
		pmf[i] = mass
	}
	return pmf
}

// Band is a credible band for one observed count or proportion under the
// uniform null.
type Band struct {
	Lower  float64 `json:"lower"`
	Median float64 `json:"median"`
	Upper  float64 `json:"upper"`
}

// binomialQuantile returns the smallest k with P(Bin(n,prob) <= k) >= p.
// distuv.Binomial exposes the CDF but not its inverse; a forward scan is
// exact and n is a trial count, so the scan is cheap.
func binomialQuantile(p float64, n int, prob float64) int {
	dist := distuv.Binomial{N: float64(n), P: prob}
	for k := 0; k < n; k++ {
		if dist.CDF(float64(k)) >= p {
			return k
		}
	}
	return n
}

// countBand returns the credible band for a bin count when numTrials ranks
// fall into a bin of null probability prob.
func countBand(numTrials int, prob, confidence float64) Band {
	alpha := 1 - confidence
	return Band{
		Lower:  float64(binomialQuantile(alpha/2, numTrials, prob)),
		Median: float64(binomialQuantile(0.5, numTrials, prob)),
		Upper:  float64(binomialQuantile(1-alpha/2, numTrials, prob)),
	}
}

// HistogramBin is one bin of a rank histogram: the inclusive rank interval
// [Lo, Hi], the observed count, and the count band under the uniform null.
type HistogramBin struct {
	Lo    int  `json:"lo"`
	Hi    int  `json:"hi"`
	Count int  `json:"count"`
	Band  Band `json:"band"`
}

// Histogram is the rank-histogram comparison representation.
type Histogram struct {
	NumTrials  int            `json:"num_trials"`
	NumDraws   int            `json:"num_draws"`
	Confidence float64        `json:"confidence"`
	Bins       []HistogramBin `json:"bins"`
}

// DefaultBins picks a bin count for ranks over {0,...,L}: one bin per rank
// when L is small, otherwise about 20 bins.
func DefaultBins(L int) int {
	if L+1 <= 20 {
		return L + 1
	}
	return 20
}

// RankHistogram bins the ranks of one quantity element over {0,...,L} and
// attaches a binomial credible band to each bin. Bins are contiguous rank
// intervals of near-equal width; each bin's null probability is its exact
// share of the L+1 rank values, so the band is exact rather than a
// continuous approximation. bins <= 0 selects DefaultBins(L).
func RankHistogram(ranks []int, L, bins int, confidence float64) (*Histogram, error) {
	if L < 1 {
		return nil, fmt.Errorf("num_draws must be positive, got %d", L)
	}
	if confidence <= 0 || confidence >= 1 {
		return nil, fmt.Errorf("confidence must be in (0,1), got %g", confidence)
	}
	if bins <= 0 {
		bins = DefaultBins(L)
	}
	if bins > L+1 {
		bins = L + 1
	}

	for _, r := range ranks {
		if r < 0 || r > L {
			return nil, fmt.Errorf("rank %d outside [0,%d]", r, L)
		}
	}

	// Distribute the L+1 rank values over the bins; leading bins absorb the
	// remainder so widths differ by at most one.
	base := (L + 1) / bins
	rem := (L + 1) % bins
	hist := &Histogram{
		NumTrials:  len(ranks),
		NumDraws:   L,
		Confidence: confidence,
		Bins:       make([]HistogramBin, bins),
	}
	lo := 0
	for i := range hist.Bins {
		width := base
		if i < rem {
			width++
		}
		hi := lo + width - 1
		prob := float64(width) / float64(L+1)
		hist.Bins[i] = HistogramBin{
			Lo:   lo,
			Hi:   hi,
			Band: countBand(len(ranks), prob, confidence),
		}
		lo = hi + 1
	}
	for _, r := range ranks {
		hist.Bins[binIndex(r, L, bins)].Count++
	}
	return hist, nil
}

func binIndex(r, L, bins int) int {
	base := (L + 1) / bins
	rem := (L + 1) % bins
	wide := rem * (base + 1)
	if r < wide {
		return r / (base + 1)
	}
	return rem + (r-wide)/base
}

// OutsideBand returns the indexes of bins whose observed count falls outside
// the credible band.
func (h *Histogram) OutsideBand() []int {
	var out []int
	for i, b := range h.Bins {
		if float64(b.Count) < b.Band.Lower || float64(b.Count) > b.Band.Upper {
			out = append(out, i)
		}
	}
	return out
}

// ECDF is the ECDF-difference comparison representation: at every rank value
// x in {0,...,L}, the empirical CDF of the observed ranks minus the uniform
// CDF, with a credible band around zero.
type ECDF struct {
	NumTrials    int       `json:"num_trials"`
	NumDraws     int       `json:"num_draws"`
	Confidence   float64   `json:"confidence"`
	Simultaneous bool      `json:"simultaneous"`
	Expected     []float64 `json:"expected"`
	Diff         []float64 `json:"diff"`
	Lower        []float64 `json:"lower"`
	Upper        []float64 `json:"upper"`
}

// ECDFDifference computes the ECDF-difference representation for the ranks
// of one quantity element. When simultaneous is true the per-point band is
// Šidák-adjusted so the whole curve stays inside it with the requested
// confidence under the uniform null; otherwise the band is pointwise.
//
// The numeric envelope underneath is the same binomial computation as the
// histogram band; only the aggregation differs.
func ECDFDifference(ranks []int, L int, confidence float64, simultaneous bool) (*ECDF, error) {
	if L < 1 {
		return nil, fmt.Errorf("num_draws must be positive, got %d", L)
	}
	if confidence <= 0 || confidence >= 1 {
		return nil, fmt.Errorf("confidence must be in (0,1), got %g", confidence)
	}
	if len(ranks) == 0 {
		return nil, fmt.Errorf("no ranks to compare")
	}

	counts := make([]int, L+1)
	for _, r := range ranks {
		if r < 0 || r > L {
			return nil, fmt.Errorf("rank %d outside [0,%d]", r, L)
		}
		counts[r]++
	}

	pointConfidence := confidence
	if simultaneous {
		pointConfidence = math.Pow(confidence, 1/float64(L+1))
	}

	n := len(ranks)
	e := &ECDF{
		NumTrials:    n,
		NumDraws:     L,
		Confidence:   confidence,
		Simultaneous: simultaneous,
		Expected:     make([]float64, L+1),
		Diff:         make([]float64, L+1),
		Lower:        make([]float64, L+1),
		Upper:        make([]float64, L+1),
	}
	cum := 0
	alpha := 1 - pointConfidence
	for x := 0; x <= L; x++ {
		cum += counts[x]
		expected := float64(x+1) / float64(L+1)
		empirical := float64(cum) / float64(n)
		e.Expected[x] = expected
		e.Diff[x] = empirical - expected
		e.Lower[x] = float64(binomialQuantile(alpha/2, n, expected))/float64(n) - expected
		e.Upper[x] = float64(binomialQuantile(1-alpha/2, n, expected))/float64(n) - expected
	}
	return e, nil
}

// OutsideBand returns the rank values at which the difference curve escapes
// the band.
func (e *ECDF) OutsideBand() []int {
	var out []int
	for x := range e.Diff {
		if e.Diff[x] < e.Lower[x] || e.Diff[x] > e.Upper[x] {
			out = append(out, x)
		}
	}
	return out
}
