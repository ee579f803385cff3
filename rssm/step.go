// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rssm

import (
	"math/rand"

	"github.com/RPL-CS-UCL/sheeprl/dists"
	"github.com/unixpickle/anydiff"
)

// StepIn is the input of one training timestep.  IsFirst marks, per
// batch example, the start of a sub-episode within the training
// window: those rows have their incoming state zeroed before the
// transition is applied.
type StepIn struct {
	PrevStoch     anydiff.Res
	PrevRecurrent anydiff.Res
	Action        anydiff.Res
	Embed         anydiff.Res
	IsFirst       []bool
}

// StepOut is the result of one training timestep.  The posterior
// sample continues the real-data rollout; the prior sample is kept
// only for the KL loss.
type StepOut struct {
	Recurrent   anydiff.Res
	Prior       dists.Dist
	Post        dists.Dist
	PriorSample anydiff.Res
	PostSample  anydiff.Res
}

// Step runs one environment timestep of dynamic learning:
// reset-on-first, transition, prior, posterior, sample.
func (r *RSSM) Step(in StepIn, batch int, rng *rand.Rand) *StepOut {
	if in.IsFirst != nil && len(in.IsFirst) != batch {
		panic("rssm: IsFirst length does not match batch")
	}
	prevStoch := maskFirst(in.PrevStoch, in.IsFirst, batch)
	prevRec := maskFirst(in.PrevRecurrent, in.IsFirst, batch)

	rec := r.Transition(prevStoch, in.Action, prevRec, batch)
	prior := r.Prior(rec, batch)
	post := r.Posterior(rec, in.Embed, batch)
	return &StepOut{
		Recurrent:   rec,
		Prior:       prior,
		Post:        post,
		PriorSample: prior.Sample(rng),
		PostSample:  post.Sample(rng),
	}
}

// maskFirst zeroes the rows of a batch-major state where first is
// set.  Rows where first is unset pass through untouched, so the
// reset has no effect at neighboring timesteps.
func maskFirst(state anydiff.Res, first []bool, batch int) anydiff.Res {
	any := false
	for _, f := range first {
		if f {
			any = true
			break
		}
	}
	if !any {
		return state
	}
	cols := state.Output().Len() / batch
	mask := make([]float64, batch*cols)
	for b := 0; b < batch; b++ {
		v := 1.0
		if first[b] {
			v = 0
		}
		for j := 0; j < cols; j++ {
			mask[b*cols+j] = v
		}
	}
	c := state.Output().Creator()
	return anydiff.Mul(state, anydiff.NewConst(dists.MakeVec(c, mask)))
}

// SequenceOut collects the per-timestep results of a full training
// window, in order.
type SequenceOut struct {
	Recurrents  []anydiff.Res
	Priors      []dists.Dist
	Posts       []dists.Dist
	PostSamples []anydiff.Res
	Latents     []anydiff.Res
}

// Observe runs the dynamics stepper over a whole training window of
// embedded observations and actions.  isFirst[t][b] flags episode
// boundaries per timestep and example; actions[t] is the action that
// led to embeds[t].
func (r *RSSM) Observe(embeds, actions []anydiff.Res, isFirst [][]bool, batch int, rng *rand.Rand) *SequenceOut {
	if len(actions) != len(embeds) || len(isFirst) != len(embeds) {
		panic("rssm: sequence lengths differ")
	}
	T := len(embeds)
	out := &SequenceOut{
		Recurrents:  make([]anydiff.Res, 0, T),
		Priors:      make([]dists.Dist, 0, T),
		Posts:       make([]dists.Dist, 0, T),
		PostSamples: make([]anydiff.Res, 0, T),
		Latents:     make([]anydiff.Res, 0, T),
	}
	stoch, rec := r.ZeroState(batch)
	for t := 0; t < T; t++ {
		st := r.Step(StepIn{
			PrevStoch:     stoch,
			PrevRecurrent: rec,
			Action:        actions[t],
			Embed:         embeds[t],
			IsFirst:       isFirst[t],
		}, batch, rng)
		stoch = st.PostSample
		rec = st.Recurrent
		out.Recurrents = append(out.Recurrents, st.Recurrent)
		out.Priors = append(out.Priors, st.Prior)
		out.Posts = append(out.Posts, st.Post)
		out.PostSamples = append(out.PostSamples, st.PostSample)
		out.Latents = append(out.Latents, r.Latent(st.PostSample, st.Recurrent, batch))
	}
	return out
}
