package backend

import (
	"context"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/priorcheck/priorcheck/internal/sbc"
)

// ConjugateNormal is an exact normal-mean model with known observation
// noise: mu ~ Normal(PriorMu, PriorSigma), y_i ~ Normal(mu, NoiseSigma).
// Its posterior is available in closed form, so "inference" draws directly
// from the true posterior. A correct rank engine run against this backend
// must produce uniform ranks, which makes it the end-to-end fixture for the
// whole pipeline.
type ConjugateNormal struct {
	priorMu    float64
	priorSigma float64
	noiseSigma float64
	numObs     int
}

// ConjugateNormalSpec configures a ConjugateNormal backend.
type ConjugateNormalSpec struct {
	PriorMu    float64
	PriorSigma float64
	NoiseSigma float64
	// NumObs is the shape hint for the simulated observations.
	NumObs int
}

// QuantityName is the single tracked quantity of the conjugate model.
const QuantityName = "mu"

// ObservedName is the observed variable of the conjugate model.
const ObservedName = "y"

// NewConjugateNormal builds the backend, validating the model specification.
func NewConjugateNormal(spec ConjugateNormalSpec) (*ConjugateNormal, error) {
	if spec.PriorSigma <= 0 {
		return nil, &sbc.ModelSpecificationError{Variable: QuantityName, Reason: "prior sigma must be positive"}
	}
	if spec.NoiseSigma <= 0 {
		return nil, &sbc.ModelSpecificationError{Variable: ObservedName, Reason: "noise sigma must be positive"}
	}
	if spec.NumObs < 1 {
		return nil, &sbc.ModelSpecificationError{Variable: ObservedName, Reason: "observed variable needs a positive shape hint to simulate data"}
	}
	return &ConjugateNormal{
		priorMu:    spec.PriorMu,
		priorSigma: spec.PriorSigma,
		noiseSigma: spec.NoiseSigma,
		numObs:     spec.NumObs,
	}, nil
}

// Quantities implements InferenceBackend.
func (b *ConjugateNormal) Quantities() []sbc.Quantity {
	return []sbc.Quantity{{Name: QuantityName, Size: 1}}
}

// SamplePrior implements InferenceBackend: draws mu from its prior, then
// simulates NumObs observations around it.
func (b *ConjugateNormal) SamplePrior(ctx context.Context, seed uint64) (*sbc.PriorDraw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src := rand.NewPCG(seed, streamPrior)
	mu := distuv.Normal{Mu: b.priorMu, Sigma: b.priorSigma, Src: src}.Rand()
	obsDist := distuv.Normal{Mu: mu, Sigma: b.noiseSigma, Src: src}
	obs := make([]float64, b.numObs)
	for i := range obs {
		obs[i] = obsDist.Rand()
	}
	return &sbc.PriorDraw{
		Seed:     seed,
		Params:   map[string][]float64{QuantityName: {mu}},
		Observed: map[string][]float64{ObservedName: obs},
	}, nil
}

// SamplePosterior implements InferenceBackend by drawing from the exact
// conjugate posterior of mu given the observations.
func (b *ConjugateNormal) SamplePosterior(ctx context.Context, observed map[string][]float64, cfg SamplerConfig) (*sbc.PosteriorSample, []sbc.Warning, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	obs, ok := observed[ObservedName]
	if !ok || len(obs) == 0 {
		return nil, nil, &sbc.InferenceFailure{Reason: "no observations supplied"}
	}

	priorPrec := 1 / (b.priorSigma * b.priorSigma)
	noisePrec := 1 / (b.noiseSigma * b.noiseSigma)
	sum := 0.0
	for _, y := range obs {
		sum += y
	}
	postPrec := priorPrec + float64(len(obs))*noisePrec
	postMu := (b.priorMu*priorPrec + sum*noisePrec) / postPrec
	postSigma := math.Sqrt(1 / postPrec)

	dist := distuv.Normal{
		Mu:    postMu,
		Sigma: postSigma,
		Src:   rand.NewPCG(cfg.Seed, streamPosterior),
	}
	draws := make([][]float64, cfg.Draws)
	for i := range draws {
		draws[i] = []float64{dist.Rand()}
	}
	return &sbc.PosteriorSample{Draws: map[string][][]float64{QuantityName: draws}}, nil, nil
}
