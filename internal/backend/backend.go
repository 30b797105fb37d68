// Package backend defines the inference-backend capability interface the
// calibration engine depends on, and provides two built-in backends: an
// identity self-check backend (posterior draws are fresh prior draws) and
// an exact conjugate normal-mean model.
//
// The engine treats the backend as an opaque collaborator exposing exactly
// two operations: draw from the prior, and run inference given simulated
// data. Anything a real sampler does beyond that (adaptation, diagnostics,
// chains) stays behind this interface.
package backend

import (
	"context"

	"github.com/priorcheck/priorcheck/internal/sbc"
)

// SamplerConfig is the per-call sampling configuration passed to
// SamplePosterior: how many kept draws, how much warmup, and the seed the
// sampler must use so a trial is reproducible in isolation.
type SamplerConfig struct {
	Draws  int
	Warmup int
	Seed   uint64
}

// InferenceBackend is the external collaborator contract.
//
// SamplePrior draws one joint prior/prior-predictive sample: a value for
// every tracked quantity plus simulated data for every observed variable.
// It must be deterministic given seed and must never consult real data.
//
// SamplePosterior runs inference conditioned on simulated observed data and
// returns exactly cfg.Draws posterior draws per tracked quantity, plus any
// quality warnings. Recoverable sampling issues (divergences, low ESS) are
// reported as warnings, not errors; an *sbc.InferenceFailure is returned
// only when the run produced no usable draws.
type InferenceBackend interface {
	Quantities() []sbc.Quantity
	SamplePrior(ctx context.Context, seed uint64) (*sbc.PriorDraw, error)
	SamplePosterior(ctx context.Context, observed map[string][]float64, cfg SamplerConfig) (*sbc.PosteriorSample, []sbc.Warning, error)
}
