package backend

import (
	"context"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/priorcheck/priorcheck/internal/sbc"
)

// Stream-separation constants for deriving independent PCG states from one
// seed. Arbitrary odd values; changing them changes every simulated run.
const (
	streamPrior     = 0x9e3779b97f4a7c15
	streamPosterior = 0xd1b54a32d192ed03
)

// QuantitySpec declares one tracked quantity of a built-in backend along
// with its normal prior.
type QuantitySpec struct {
	Name  string
	Size  int
	Mu    float64
	Sigma float64
}

// ObservedSpec declares one observed variable and its shape hint. SBC
// simulates data instead of observing it, so the shape cannot be inferred
// and must be declared.
type ObservedSpec struct {
	Name string
	Size int
}

// SelfCheck is the identity inference stub: SamplePosterior ignores the
// observed data and re-draws from the prior. With a correct rank computation
// this makes the rank distribution exactly discrete-uniform, which is what
// the engine's own calibration tests rely on.
type SelfCheck struct {
	specs    []QuantitySpec
	observed []ObservedSpec
}

// NewSelfCheck builds a self-check backend over the given quantities and
// observed variables. Every observed variable needs a positive shape hint;
// a missing hint is a model specification error.
func NewSelfCheck(quantities []QuantitySpec, observed []ObservedSpec) (*SelfCheck, error) {
	if err := validateSpecs(quantities, observed); err != nil {
		return nil, err
	}
	return &SelfCheck{specs: quantities, observed: observed}, nil
}

func validateSpecs(quantities []QuantitySpec, observed []ObservedSpec) error {
	if len(quantities) == 0 {
		return &sbc.ModelSpecificationError{Reason: "no tracked quantities declared"}
	}
	for _, q := range quantities {
		if q.Size < 1 {
			return &sbc.ModelSpecificationError{Variable: q.Name, Reason: "quantity size must be at least 1"}
		}
		if q.Sigma <= 0 {
			return &sbc.ModelSpecificationError{Variable: q.Name, Reason: "prior sigma must be positive"}
		}
	}
	for _, o := range observed {
		if o.Size < 1 {
			return &sbc.ModelSpecificationError{Variable: o.Name, Reason: "observed variable needs a positive shape hint to simulate data"}
		}
	}
	return nil
}

// Quantities implements InferenceBackend.
func (b *SelfCheck) Quantities() []sbc.Quantity {
	out := make([]sbc.Quantity, len(b.specs))
	for i, s := range b.specs {
		out[i] = sbc.Quantity{Name: s.Name, Size: s.Size}
	}
	return out
}

// SamplePrior implements InferenceBackend. The draw is fully determined by
// the seed.
func (b *SelfCheck) SamplePrior(ctx context.Context, seed uint64) (*sbc.PriorDraw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src := rand.NewPCG(seed, streamPrior)
	params := make(map[string][]float64, len(b.specs))
	for _, s := range b.specs {
		dist := distuv.Normal{Mu: s.Mu, Sigma: s.Sigma, Src: src}
		values := make([]float64, s.Size)
		for i := range values {
			values[i] = dist.Rand()
		}
		params[s.Name] = values
	}
	observed := make(map[string][]float64, len(b.observed))
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	for _, o := range b.observed {
		values := make([]float64, o.Size)
		for i := range values {
			values[i] = noise.Rand()
		}
		observed[o.Name] = values
	}
	return &sbc.PriorDraw{Seed: seed, Params: params, Observed: observed}, nil
}

// SamplePosterior implements InferenceBackend by drawing cfg.Draws fresh
// prior samples, ignoring the observed data entirely.
func (b *SelfCheck) SamplePosterior(ctx context.Context, observed map[string][]float64, cfg SamplerConfig) (*sbc.PosteriorSample, []sbc.Warning, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	src := rand.NewPCG(cfg.Seed, streamPosterior)
	draws := make(map[string][][]float64, len(b.specs))
	for _, s := range b.specs {
		dist := distuv.Normal{Mu: s.Mu, Sigma: s.Sigma, Src: src}
		qd := make([][]float64, cfg.Draws)
		for d := range qd {
			values := make([]float64, s.Size)
			for i := range values {
				values[i] = dist.Rand()
			}
			qd[d] = values
		}
		draws[s.Name] = qd
	}
	return &sbc.PosteriorSample{Draws: draws}, nil, nil
}
