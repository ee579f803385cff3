// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dists

import (
	"fmt"

	"github.com/unixpickle/anydiff"
)

// KLConfig controls KL balancing and free-nats clipping.
type KLConfig struct {
	Alpha    float32 `def:"0.8" desc:"balancing weight on the prior-side term KL(sg(post)||prior) -- 1-Alpha goes to the posterior-side term"`
	FreeNats float32 `def:"1" desc:"minimum KL budget below which no penalty applies"`
	FreeAvg  bool    `desc:"apply the free-nats floor to the batch average instead of per example"`
}

func (c *KLConfig) Defaults() {
	c.Alpha = 0.8
	c.FreeNats = 1
}

func (c *KLConfig) Validate() error {
	if c.Alpha < 0 || c.Alpha > 1 {
		return fmt.Errorf("dists: kl balancing alpha must be in [0,1], got %g", c.Alpha)
	}
	if c.FreeNats < 0 {
		return fmt.Errorf("dists: free nats must be non-negative, got %g", c.FreeNats)
	}
	return nil
}

// BalancedKL computes the balanced, free-nats-clipped KL loss between
// a posterior and a prior:
//
//	Alpha * KL(sg(post) || prior) + (1-Alpha) * KL(post || sg(prior))
//
// Each term is floored at FreeNats, per example by default or on the
// batch average when FreeAvg is set.  The returned loss is a single
// component; the raw value is the unclipped batch-mean KL(post||prior)
// as a constant, for diagnostics.
func BalancedKL(post, prior Dist, cfg KLConfig) (loss, raw anydiff.Res) {
	if post.Batch() != prior.Batch() {
		panic("dists: posterior and prior batch sizes differ")
	}
	c := post.Params().Output().Creator()

	lhs := post.Detach().KL(prior) // drives the prior toward the posterior
	rhs := post.KL(prior.Detach()) // drives the posterior toward the prior
	raw = Detach(Mean(rhs))

	free := float64(cfg.FreeNats)
	clip := func(term anydiff.Res) anydiff.Res {
		if cfg.FreeAvg {
			return Floor(Mean(term), free)
		}
		return Mean(Floor(term, free))
	}
	loss = anydiff.Add(
		anydiff.Scale(clip(lhs), c.MakeNumeric(float64(cfg.Alpha))),
		anydiff.Scale(clip(rhs), c.MakeNumeric(float64(1-cfg.Alpha))),
	)
	return loss, raw
}
