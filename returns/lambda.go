// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package returns estimates returns over imagined trajectories: the
backward-recursive lambda-return computation, the cumulative discount
weights that down-weight unlikely-to-continue timesteps, and the actor
and critic objectives assembled from them.
*/
package returns

import (
	"fmt"

	"github.com/unixpickle/anydiff"

	"github.com/RPL-CS-UCL/sheeprl/dists"
)

// Config holds the return-estimation hyperparameters.
type Config struct {
	Lambda      float32 `def:"0.95" desc:"lambda-return interpolation: 0 is one-step TD, 1 is Monte-Carlo within the horizon"`
	Gamma       float32 `def:"0.99" desc:"discount factor multiplied into the continuation probabilities"`
	Mix         float32 `def:"0" desc:"actor objective mix: weight of the reinforce term vs dynamics backpropagation"`
	EntropyCoef float32 `def:"1e-4" desc:"entropy bonus coefficient on the policy distribution"`
}

func (c *Config) Defaults() {
	c.Lambda = 0.95
	c.Gamma = 0.99
	c.Mix = 0
	c.EntropyCoef = 1e-4
}

func (c *Config) Validate() error {
	if c.Lambda < 0 || c.Lambda > 1 {
		return fmt.Errorf("returns: lambda must be in [0,1], got %g", c.Lambda)
	}
	if c.Gamma <= 0 || c.Gamma > 1 {
		return fmt.Errorf("returns: gamma must be in (0,1], got %g", c.Gamma)
	}
	if c.Mix < 0 || c.Mix > 1 {
		return fmt.Errorf("returns: objective mix must be in [0,1], got %g", c.Mix)
	}
	return nil
}

// LambdaValues runs the backward recursion
//
//	lv[H-1] = reward[H-1] + cont[H-1] * ((1-lambda)*bootstrap + lambda*bootstrap)
//	lv[t]   = reward[t]   + cont[t]   * ((1-lambda)*value[t+1] + lambda*lv[t+1])
//
// over pre-sized buffers (no recursion), where value[t+1] for the last
// step is the externally supplied bootstrap.  All slices have length
// H; each entry is a batched per-example result.
func LambdaValues(rewards, values, continues []anydiff.Res, bootstrap anydiff.Res, lambda float32) []anydiff.Res {
	H := len(rewards)
	if len(values) != H || len(continues) != H {
		panic("returns: reward/value/continuation lengths differ")
	}
	if H == 0 {
		return nil
	}
	c := bootstrap.Output().Creator()
	lam := c.MakeNumeric(float64(lambda))
	oneMinus := c.MakeNumeric(float64(1 - lambda))

	out := make([]anydiff.Res, H)
	last := bootstrap
	for t := H - 1; t >= 0; t-- {
		next := bootstrap
		if t+1 < H {
			next = values[t+1]
		}
		blended := anydiff.Add(
			anydiff.Scale(next, oneMinus),
			anydiff.Scale(last, lam),
		)
		out[t] = anydiff.Add(rewards[t], anydiff.Mul(continues[t], blended))
		last = out[t]
	}
	return out
}

// DiscountWeights computes the cumulative continuation products
//
//	w[0] = 1,  w[t] = w[t-1] * cont[t-1]
//
// as detached constants, one weight per continuation entry.  They
// scale the scalar objectives so that timesteps unlikely to be
// reached are down-weighted rather than excluded.
func DiscountWeights(continues []anydiff.Res) []anydiff.Res {
	if len(continues) == 0 {
		return nil
	}
	c := continues[0].Output().Creator()
	batch := continues[0].Output().Len()
	out := make([]anydiff.Res, len(continues))
	cur := make([]float64, batch)
	for i := range cur {
		cur[i] = 1
	}
	for t := range continues {
		out[t] = anydiff.NewConst(dists.MakeVec(c, append([]float64{}, cur...)))
		contVals := dists.VecVals(continues[t].Output())
		for i := range cur {
			cur[i] *= contVals[i]
		}
	}
	return out
}
