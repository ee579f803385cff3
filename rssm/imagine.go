// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rssm

import (
	"fmt"
	"math/rand"

	"github.com/RPL-CS-UCL/sheeprl/dists"
	"github.com/unixpickle/anydiff"
)

// Policy samples a differentiable action for each latent-state row.
type Policy func(latent anydiff.Res, batch int) anydiff.Res

// Trajectory is a fixed-horizon imagined rollout.  Latents and
// Actions both have Horizon+1 entries; Actions[0] is a zero
// placeholder since it precedes the first imagined transition.
// Immutable once built.
type Trajectory struct {
	Latents []anydiff.Res
	Actions []anydiff.Res
	Horizon int
	Batch   int
}

// Imagine unrolls the model for a fixed horizon from a seed latent
// state, driven by the policy and using only the prior: no observation
// feedback exists inside the rollout.  The seed is detached, so the
// only gradient path out of the trajectory is the reparameterized
// sampling inside the rollout itself.  The roller never terminates
// early; continuation is handled downstream by the return estimator.
func (r *RSSM) Imagine(seedStoch, seedRecurrent anydiff.Res, horizon int, pol Policy, batch int, rng *rand.Rand) (*Trajectory, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("rssm: imagination horizon must be positive, got %d", horizon)
	}
	r.checkSize("seed stoch", seedStoch, batch, r.Cfg.State.StateSize())
	r.checkSize("seed recurrent", seedRecurrent, batch, r.Cfg.Recurrent)

	stoch := dists.Detach(seedStoch)
	rec := dists.Detach(seedRecurrent)

	tr := &Trajectory{
		Latents: make([]anydiff.Res, 0, horizon+1),
		Actions: make([]anydiff.Res, 0, horizon+1),
		Horizon: horizon,
		Batch:   batch,
	}
	tr.Latents = append(tr.Latents, r.Latent(stoch, rec, batch))
	tr.Actions = append(tr.Actions, anydiff.NewConst(r.creator.MakeVector(batch*r.Cfg.Action)))

	for i := 1; i <= horizon; i++ {
		// The policy sees a detached state: its gradient reaches the
		// rollout only through the actions it emits.
		action := pol(dists.Detach(tr.Latents[i-1]), batch)
		r.checkSize("policy action", action, batch, r.Cfg.Action)
		rec = r.Transition(stoch, action, rec, batch)
		prior := r.Prior(rec, batch)
		stoch = prior.Sample(rng)
		tr.Actions = append(tr.Actions, action)
		tr.Latents = append(tr.Latents, r.Latent(stoch, rec, batch))
	}
	return tr, nil
}
