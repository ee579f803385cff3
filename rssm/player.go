// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rssm

import (
	"math/rand"

	"github.com/emer/emergent/erand"
	"github.com/goki/mat32"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"

	"github.com/RPL-CS-UCL/sheeprl/dists"
)

// State is the per-environment live-rollout state: the recurrent and
// stochastic state and the last action, one row per environment.  It
// is an explicit value passed into and returned from each step, so
// multiple vectorized environments never alias shared fields.
type State struct {
	Recurrent anyvec.Vector
	Stoch     anyvec.Vector
	Action    anyvec.Vector

	envs  int
	sizes [3]int
}

// InitState returns a fully reset state for n environments.
func (r *RSSM) InitState(n int) *State {
	return &State{
		Recurrent: r.creator.MakeVector(n * r.Cfg.Recurrent),
		Stoch:     r.creator.MakeVector(n * r.Cfg.State.StateSize()),
		Action:    r.creator.MakeVector(n * r.Cfg.Action),
		envs:      n,
		sizes:     [3]int{r.Cfg.Recurrent, r.Cfg.State.StateSize(), r.Cfg.Action},
	}
}

// Reset zeroes the rows for the given environments, or all of them
// when none are given.  Called when an environment episode ends.
func (s *State) Reset(envs ...int) {
	if len(envs) == 0 {
		envs = make([]int, s.envs)
		for i := range envs {
			envs[i] = i
		}
	}
	vecs := [3]anyvec.Vector{s.Recurrent, s.Stoch, s.Action}
	for _, e := range envs {
		for i, v := range vecs {
			n := s.sizes[i]
			v.Slice(e*n, (e+1)*n).Scale(v.Creator().MakeNumeric(0))
		}
	}
}

// clone copies the state so the input value stays untouched.
func (s *State) clone() *State {
	return &State{
		Recurrent: s.Recurrent.Copy(),
		Stoch:     s.Stoch.Copy(),
		Action:    s.Action.Copy(),
		envs:      s.envs,
		sizes:     s.sizes,
	}
}

// Player drives live environment rollouts with the posterior: one
// call per environment step, no gradients.
type Player struct {
	Model *RSSM

	// Actor samples a flat action row per environment from the fused
	// latent state.
	Actor func(latent anydiff.Res, batch int) anyvec.Vector

	// ExplAmount is the current exploration noise level.
	ExplAmount float32

	// Continuous selects Gaussian action noise; otherwise epsilon
	// resampling of one-hot actions is used.
	Continuous bool
}

// Step advances the live-rollout state by one environment timestep
// and returns the new state along with the actions to execute.
func (p *Player) Step(s *State, embed anyvec.Vector, rng *rand.Rand) (*State, anyvec.Vector) {
	m := p.Model
	n := s.envs
	next := s.clone()

	stoch := anydiff.NewConst(s.Stoch.Copy())
	action := anydiff.NewConst(s.Action.Copy())
	rec := anydiff.NewConst(s.Recurrent.Copy())

	newRec := m.Transition(stoch, action, rec, n)
	post := m.Posterior(newRec, anydiff.NewConst(embed.Copy()), n)
	sample := post.Sample(rng)

	latent := m.Latent(sample, newRec, n)
	act := p.Actor(latent, n).Copy()
	p.explore(act, n, rng)

	next.Recurrent = newRec.Output().Copy()
	next.Stoch = sample.Output().Copy()
	next.Action = act.Copy()
	return next, act
}

func (p *Player) explore(act anyvec.Vector, n int, rng *rand.Rand) {
	if p.ExplAmount <= 0 {
		return
	}
	dim := p.Model.Cfg.Action
	vals := dists.VecVals(act)
	if p.Continuous {
		for i := range vals {
			noise := rng.NormFloat64() * float64(p.ExplAmount)
			vals[i] = float64(mat32.Clamp(float32(vals[i]+noise), -1, 1))
		}
	} else {
		for e := 0; e < n; e++ {
			if !erand.BoolP(p.ExplAmount) {
				continue
			}
			row := vals[e*dim : (e+1)*dim]
			for i := range row {
				row[i] = 0
			}
			row[rng.Intn(dim)] = 1
		}
	}
	act.SetData(act.Creator().MakeNumericList(vals))
}

// PolynomialDecay anneals the exploration amount from initial to
// final over maxSteps, clamping at final afterwards.
func PolynomialDecay(step, maxSteps int, initial, final float32) float32 {
	if maxSteps <= 0 || step >= maxSteps {
		return final
	}
	frac := 1 - float32(step)/float32(maxSteps)
	return final + (initial-final)*mat32.Clamp(frac, 0, 1)
}
