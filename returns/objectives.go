// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package returns

import (
	"math"

	"github.com/unixpickle/anydiff"

	"github.com/RPL-CS-UCL/sheeprl/dists"
)

// ActorInputs are the per-timestep ingredients of the actor loss.
// With horizon H, LambdaValues has H entries (t = 0..H-1); LogProbs
// and Entropies cover the H-1 imagined actions (t = 1..H-1);
// Baselines are the H-1 detached target-critic values at the states
// the actions were taken from (t = 0..H-2); Discounts are the
// detached cumulative weights for t = 0..H-2.  Entropies may be nil
// when the policy distribution has no closed-form entropy, in which
// case the bonus degrades to zero.
type ActorInputs struct {
	LogProbs     []anydiff.Res
	Entropies    []anydiff.Res
	LambdaValues []anydiff.Res
	Baselines    []anydiff.Res
	Discounts    []anydiff.Res
	Mix          float32
	EntropyCoef  float32
}

// ActorLoss combines the score-function estimator and the dynamics
// backpropagation estimator at the configured mix, adds the entropy
// bonus, weights by the cumulative discounts, and negates the mean so
// it can be minimized.
func ActorLoss(in ActorInputs) anydiff.Res {
	H := len(in.LambdaValues)
	if len(in.LogProbs) != H-1 || len(in.Baselines) != H-1 || len(in.Discounts) < H-1 {
		panic("returns: actor input lengths are inconsistent")
	}
	c := in.LambdaValues[0].Output().Creator()
	mix := c.MakeNumeric(float64(in.Mix))
	dynMix := c.MakeNumeric(float64(1 - in.Mix))

	var total anydiff.Res
	for t := 1; t < H; t++ {
		// Score-function term: log pi(a_t) weighted by the detached
		// advantage against the baseline at the originating state.
		advantage := dists.Detach(anydiff.Sub(in.LambdaValues[t], in.Baselines[t-1]))
		reinforce := anydiff.Mul(in.LogProbs[t-1], advantage)

		// Dynamics term: the lambda return itself, differentiated
		// through the imagined rollout.
		dynamics := in.LambdaValues[t]

		objective := anydiff.Add(
			anydiff.Scale(reinforce, mix),
			anydiff.Scale(dynamics, dynMix),
		)
		if in.Entropies != nil && in.EntropyCoef != 0 {
			objective = anydiff.Add(objective,
				anydiff.Scale(in.Entropies[t-1], c.MakeNumeric(float64(in.EntropyCoef))))
		}
		weighted := anydiff.Mul(in.Discounts[t-1], objective)
		if total == nil {
			total = weighted
		} else {
			total = anydiff.Add(total, weighted)
		}
	}
	batch := in.LambdaValues[0].Output().Len()
	scale := -1 / float64(batch*(H-1))
	return anydiff.Scale(anydiff.Sum(total), c.MakeNumeric(scale))
}

// CriticLoss regresses the critic's unit-variance Gaussian value
// prediction at each imagined state (the bootstrap state excluded)
// onto the detached lambda return, weighted by the cumulative
// discounts, as a negative mean log-likelihood.
func CriticLoss(predicted, targets, discounts []anydiff.Res) anydiff.Res {
	if len(predicted) != len(targets) || len(discounts) < len(predicted) {
		panic("returns: critic input lengths are inconsistent")
	}
	c := predicted[0].Output().Creator()
	const logSqrt2Pi = 0.9189385332046727

	var total anydiff.Res
	for t := range predicted {
		diff := anydiff.Sub(dists.Detach(targets[t]), predicted[t])
		logProb := anydiff.AddScalar(
			anydiff.Scale(anydiff.Mul(diff, diff), c.MakeNumeric(-0.5)),
			c.MakeNumeric(-logSqrt2Pi),
		)
		weighted := anydiff.Mul(discounts[t], logProb)
		if total == nil {
			total = weighted
		} else {
			total = anydiff.Add(total, weighted)
		}
	}
	batch := predicted[0].Output().Len()
	scale := -1 / float64(batch*len(predicted))
	return anydiff.Scale(anydiff.Sum(total), c.MakeNumeric(scale))
}

// FiniteScalar reports whether a single-component result holds a
// finite value, surfacing numerical degeneracy to the caller.
func FiniteScalar(r anydiff.Res) (float64, bool) {
	v := dists.VecVals(r.Output())[0]
	return v, !math.IsNaN(v) && !math.IsInf(v, 0)
}
