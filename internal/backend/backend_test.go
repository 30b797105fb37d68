package backend

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/priorcheck/priorcheck/internal/sbc"
)

func TestNewSelfCheck_ShapeHintRequired(t *testing.T) {
	quantities := []QuantitySpec{{Name: "mu", Size: 1, Sigma: 1}}
	_, err := NewSelfCheck(quantities, []ObservedSpec{{Name: "y", Size: 0}})
	var specErr *sbc.ModelSpecificationError
	if !errors.As(err, &specErr) {
		t.Fatalf("NewSelfCheck() error = %v, want ModelSpecificationError", err)
	}
	if specErr.Variable != "y" {
		t.Errorf("error variable = %q, want %q", specErr.Variable, "y")
	}
}

func TestNewSelfCheck_NoQuantities(t *testing.T) {
	_, err := NewSelfCheck(nil, nil)
	var specErr *sbc.ModelSpecificationError
	if !errors.As(err, &specErr) {
		t.Fatalf("NewSelfCheck() error = %v, want ModelSpecificationError", err)
	}
}

func TestSelfCheck_SamplePriorDeterministic(t *testing.T) {
	b, err := NewSelfCheck(
		[]QuantitySpec{{Name: "mu", Size: 1, Mu: 0, Sigma: 1}, {Name: "theta", Size: 3, Mu: 2, Sigma: 0.5}},
		[]ObservedSpec{{Name: "y", Size: 4}},
	)
	if err != nil {
		t.Fatalf("NewSelfCheck() error = %v", err)
	}
	ctx := context.Background()

	a, err := b.SamplePrior(ctx, 42)
	if err != nil {
		t.Fatalf("SamplePrior() error = %v", err)
	}
	c, err := b.SamplePrior(ctx, 42)
	if err != nil {
		t.Fatalf("SamplePrior() error = %v", err)
	}
	for name, va := range a.Params {
		vc := c.Params[name]
		for i := range va {
			if va[i] != vc[i] {
				t.Errorf("params %s[%d]: %g != %g for same seed", name, i, va[i], vc[i])
			}
		}
	}
	if len(a.Observed["y"]) != 4 {
		t.Errorf("observed y has %d elements, want 4", len(a.Observed["y"]))
	}

	d, err := b.SamplePrior(ctx, 43)
	if err != nil {
		t.Fatalf("SamplePrior() error = %v", err)
	}
	if d.Params["mu"][0] == a.Params["mu"][0] {
		t.Error("different seeds produced identical mu draw")
	}
}

func TestSelfCheck_SamplePosteriorShape(t *testing.T) {
	b, err := NewSelfCheck(
		[]QuantitySpec{{Name: "theta", Size: 2, Mu: 0, Sigma: 1}},
		[]ObservedSpec{{Name: "y", Size: 1}},
	)
	if err != nil {
		t.Fatalf("NewSelfCheck() error = %v", err)
	}
	post, warns, err := b.SamplePosterior(context.Background(), nil, SamplerConfig{Draws: 25, Seed: 7})
	if err != nil {
		t.Fatalf("SamplePosterior() error = %v", err)
	}
	if len(warns) != 0 {
		t.Errorf("got %d warnings, want 0", len(warns))
	}
	if got := len(post.Draws["theta"]); got != 25 {
		t.Fatalf("got %d draws, want 25", got)
	}
	for i, d := range post.Draws["theta"] {
		if len(d) != 2 {
			t.Fatalf("draw %d has %d elements, want 2", i, len(d))
		}
	}
}

func TestNewConjugateNormal_Validation(t *testing.T) {
	tests := []struct {
		name string
		spec ConjugateNormalSpec
	}{
		{"missing shape hint", ConjugateNormalSpec{PriorSigma: 1, NoiseSigma: 1, NumObs: 0}},
		{"bad prior sigma", ConjugateNormalSpec{PriorSigma: 0, NoiseSigma: 1, NumObs: 5}},
		{"bad noise sigma", ConjugateNormalSpec{PriorSigma: 1, NoiseSigma: -1, NumObs: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConjugateNormal(tt.spec)
			var specErr *sbc.ModelSpecificationError
			if !errors.As(err, &specErr) {
				t.Fatalf("NewConjugateNormal() error = %v, want ModelSpecificationError", err)
			}
		})
	}
}

func TestConjugateNormal_PosteriorMoments(t *testing.T) {
	b, err := NewConjugateNormal(ConjugateNormalSpec{PriorMu: 0, PriorSigma: 10, NoiseSigma: 1, NumObs: 50})
	if err != nil {
		t.Fatalf("NewConjugateNormal() error = %v", err)
	}
	ctx := context.Background()

	draw, err := b.SamplePrior(ctx, 99)
	if err != nil {
		t.Fatalf("SamplePrior() error = %v", err)
	}
	post, _, err := b.SamplePosterior(ctx, draw.Observed, SamplerConfig{Draws: 4000, Seed: 100})
	if err != nil {
		t.Fatalf("SamplePosterior() error = %v", err)
	}

	// With 50 observations at noise sigma 1 and a wide prior, the posterior
	// mean should sit close to the sample mean of the observations.
	sum := 0.0
	for _, y := range draw.Observed[ObservedName] {
		sum += y
	}
	obsMean := sum / float64(len(draw.Observed[ObservedName]))

	var postMean float64
	for _, d := range post.Draws[QuantityName] {
		postMean += d[0]
	}
	postMean /= float64(len(post.Draws[QuantityName]))

	if math.Abs(postMean-obsMean) > 0.1 {
		t.Errorf("posterior mean %g too far from observation mean %g", postMean, obsMean)
	}
}

func TestConjugateNormal_NoObservations(t *testing.T) {
	b, err := NewConjugateNormal(ConjugateNormalSpec{PriorSigma: 1, NoiseSigma: 1, NumObs: 5})
	if err != nil {
		t.Fatalf("NewConjugateNormal() error = %v", err)
	}
	_, _, err = b.SamplePosterior(context.Background(), map[string][]float64{}, SamplerConfig{Draws: 10})
	var inf *sbc.InferenceFailure
	if !errors.As(err, &inf) {
		t.Fatalf("SamplePosterior() error = %v, want InferenceFailure", err)
	}
}
