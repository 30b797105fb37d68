package sbc

import "sort"

// WarningKind tags a class of inference diagnostic.
type WarningKind string

// Warning kinds emitted by typical gradient-based samplers. The set is open:
// backends may report kinds not listed here and they are tallied the same way.
const (
	WarningDivergences   WarningKind = "divergences"
	WarningLowESS        WarningKind = "low_ess"
	WarningMaxTreeDepth  WarningKind = "max_treedepth"
	WarningLowAcceptance WarningKind = "low_acceptance"
)

// Warning is a non-fatal diagnostic emitted by one inference run. Count is
// the magnitude (e.g. number of divergent transitions); informational
// warnings use Count 1.
type Warning struct {
	Kind  WarningKind `json:"kind"`
	Count int         `json:"count"`
}

// WarningTally accumulates warning counts by kind across trials. Merging is
// a plain order-independent sum, so tallies may be combined incrementally
// regardless of trial completion order.
type WarningTally map[WarningKind]int

// Add folds a trial's warnings into the tally.
func (t WarningTally) Add(warnings ...Warning) {
	for _, w := range warnings {
		t[w.Kind] += w.Count
	}
}

// Merge folds another tally into this one.
func (t WarningTally) Merge(other WarningTally) {
	for kind, count := range other {
		t[kind] += count
	}
}

// Clone returns an independent copy of the tally.
func (t WarningTally) Clone() WarningTally {
	out := make(WarningTally, len(t))
	for kind, count := range t {
		out[kind] = count
	}
	return out
}

// Total returns the sum over all kinds.
func (t WarningTally) Total() int {
	total := 0
	for _, count := range t {
		total += count
	}
	return total
}

// Kinds returns the tallied kinds in sorted order, for stable reporting.
func (t WarningTally) Kinds() []WarningKind {
	kinds := make([]WarningKind, 0, len(t))
	for kind := range t {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// TallyOf builds a tally from a single trial's warning list.
func TallyOf(warnings []Warning) WarningTally {
	t := make(WarningTally, len(warnings))
	t.Add(warnings...)
	return t
}
