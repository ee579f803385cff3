// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package rssm implements the recurrent state-space model at the heart of
the world-model agent: a gated recurrent transition unit, a prior
predictor that estimates the stochastic state from the recurrent state
alone, a posterior estimator that also sees the embedded observation,
the per-timestep dynamics stepper used during training on real data,
and the imagination roller that unrolls latent trajectories using only
the prior.
*/
package rssm

import (
	"fmt"

	"github.com/RPL-CS-UCL/sheeprl/dists"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// Config are the structural parameters of the state-space model.
// All sizes are construction-time contracts: mismatched runtime
// tensors are programming errors.
type Config struct {
	Action     int          `desc:"size of the (possibly one-hot) action vector"`
	Embed      int          `desc:"size of the embedded observation vector"`
	Recurrent  int          `def:"200" desc:"size of the deterministic recurrent state"`
	Hidden     int          `def:"200" desc:"hidden layer size of the prior and posterior estimators"`
	Activation string       `def:"Tanh" desc:"activation for the feed-forward layers: Tanh or ReLU"`
	State      dists.Config `desc:"stochastic state representation"`
}

func (c *Config) Defaults() {
	c.Recurrent = 200
	c.Hidden = 200
	c.Activation = "Tanh"
	c.State.Defaults()
}

func (c *Config) Validate() error {
	if c.Action <= 0 {
		return fmt.Errorf("rssm: action size must be positive, got %d", c.Action)
	}
	if c.Embed <= 0 {
		return fmt.Errorf("rssm: embed size must be positive, got %d", c.Embed)
	}
	if c.Recurrent <= 0 {
		return fmt.Errorf("rssm: recurrent size must be positive, got %d", c.Recurrent)
	}
	if c.Hidden <= 0 {
		return fmt.Errorf("rssm: hidden size must be positive, got %d", c.Hidden)
	}
	if _, err := activation(c.Activation); err != nil {
		return err
	}
	return c.State.Validate()
}

func activation(name string) (anynet.Layer, error) {
	switch name {
	case "Tanh":
		return anynet.Tanh, nil
	case "ReLU":
		return anynet.ReLU, nil
	}
	return nil, fmt.Errorf("rssm: unknown activation %q", name)
}

// RSSM is the recurrent state-space model.  Parameters are read-only
// during forward computation; only the optimizer mutates them.
type RSSM struct {
	Cfg Config

	creator anyvec.Creator
	maker   *dists.Maker

	// transition unit: input embedding plus a gated recurrent cell
	input anynet.Net
	gates *anynet.FC
	cand  *anynet.FC

	priorNet anynet.Net
	postNet  anynet.Net
}

// New builds the model, failing fast on invalid configuration.
func New(c anyvec.Creator, cfg Config) (*RSSM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, essentials.AddCtx("new rssm", err)
	}
	act, _ := activation(cfg.Activation)
	maker, err := dists.NewMaker(cfg.State)
	if err != nil {
		return nil, essentials.AddCtx("new rssm", err)
	}
	stoch := cfg.State.StateSize()
	params := cfg.State.ParamSize()
	return &RSSM{
		Cfg:     cfg,
		creator: c,
		maker:   maker,
		input: anynet.Net{
			anynet.NewFC(c, stoch+cfg.Action, cfg.Hidden),
			act,
		},
		gates: anynet.NewFC(c, cfg.Hidden+cfg.Recurrent, 2*cfg.Recurrent),
		cand:  anynet.NewFC(c, cfg.Hidden+cfg.Recurrent, cfg.Recurrent),
		priorNet: anynet.Net{
			anynet.NewFC(c, cfg.Recurrent, cfg.Hidden),
			act,
			anynet.NewFC(c, cfg.Hidden, params),
		},
		postNet: anynet.Net{
			anynet.NewFC(c, cfg.Recurrent+cfg.Embed, cfg.Hidden),
			act,
			anynet.NewFC(c, cfg.Hidden, params),
		},
	}, nil
}

// Creator returns the vector creator the model was built with.
func (r *RSSM) Creator() anyvec.Creator {
	return r.creator
}

// Parameters returns all trainable variables.
func (r *RSSM) Parameters() []*anydiff.Var {
	return anynet.AllParameters(r.input, r.gates, r.cand, r.priorNet, r.postNet)
}

// Transition applies the deterministic recurrent update: the previous
// stochastic state and the action feed an input embedding, which
// drives a gated update of the recurrent state.  Pure and fully
// differentiable.
func (r *RSSM) Transition(stoch, action, recurrent anydiff.Res, batch int) anydiff.Res {
	r.checkSize("stoch", stoch, batch, r.Cfg.State.StateSize())
	r.checkSize("action", action, batch, r.Cfg.Action)
	r.checkSize("recurrent", recurrent, batch, r.Cfg.Recurrent)
	n := r.Cfg.Recurrent
	x := r.input.Apply(dists.ConcatCols(batch, stoch, action), batch)
	return anydiff.Pool(x, func(x anydiff.Res) anydiff.Res {
		return anydiff.Pool(recurrent, func(h anydiff.Res) anydiff.Res {
			gr := r.gates.Apply(dists.ConcatCols(batch, x, h), batch)
			update := anydiff.Sigmoid(dists.SliceCols(gr, batch, 0, n))
			reset := anydiff.Sigmoid(dists.SliceCols(gr, batch, n, 2*n))
			cand := anydiff.Tanh(r.cand.Apply(
				dists.ConcatCols(batch, x, anydiff.Mul(reset, h)), batch))
			return anydiff.Pool(update, func(z anydiff.Res) anydiff.Res {
				return anydiff.Add(
					anydiff.Mul(anydiff.Complement(z), h),
					anydiff.Mul(z, cand),
				)
			})
		})
	})
}

// Prior predicts the stochastic-state distribution from the recurrent
// state alone.  Used for the KL target and for imagination.
func (r *RSSM) Prior(recurrent anydiff.Res, batch int) dists.Dist {
	r.checkSize("recurrent", recurrent, batch, r.Cfg.Recurrent)
	return r.maker.Make(r.priorNet.Apply(recurrent, batch), batch)
}

// Posterior estimates the stochastic-state distribution from the
// recurrent state and the current embedded observation.
func (r *RSSM) Posterior(recurrent, embed anydiff.Res, batch int) dists.Dist {
	r.checkSize("recurrent", recurrent, batch, r.Cfg.Recurrent)
	r.checkSize("embed", embed, batch, r.Cfg.Embed)
	params := r.postNet.Apply(dists.ConcatCols(batch, recurrent, embed), batch)
	return r.maker.Make(params, batch)
}

// Latent fuses a stochastic sample and a recurrent state into the flat
// latent-state vector consumed by the heads and the policy.
func (r *RSSM) Latent(stoch, recurrent anydiff.Res, batch int) anydiff.Res {
	return dists.ConcatCols(batch, stoch, recurrent)
}

// LatentSize is the size of a fused latent-state row.
func (r *RSSM) LatentSize() int {
	return r.Cfg.State.StateSize() + r.Cfg.Recurrent
}

// ZeroState returns fresh zeroed stochastic and recurrent states.
func (r *RSSM) ZeroState(batch int) (stoch, recurrent anydiff.Res) {
	stoch = anydiff.NewConst(r.creator.MakeVector(batch * r.Cfg.State.StateSize()))
	recurrent = anydiff.NewConst(r.creator.MakeVector(batch * r.Cfg.Recurrent))
	return stoch, recurrent
}

func (r *RSSM) checkSize(name string, res anydiff.Res, batch, size int) {
	if res.Output().Len() != batch*size {
		panic(fmt.Sprintf("rssm: %s has %d components, want %d (batch %d x %d)",
			name, res.Output().Len(), batch*size, batch, size))
	}
}
