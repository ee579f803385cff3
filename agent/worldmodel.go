// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package agent assembles the world model, actor and critic into a
trainable agent: dynamic learning reconstructs real sequences through
the latent state, and behaviour learning optimizes the policy and
value function entirely inside imagined rollouts.
*/
package agent

import (
	"fmt"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"

	"github.com/RPL-CS-UCL/sheeprl/dists"
	"github.com/RPL-CS-UCL/sheeprl/rssm"
)

// WMConfig sizes the world model around its state-space core.
type WMConfig struct {
	Obs        int            `desc:"size of a flat observation vector"`
	Hidden     int            `def:"200" desc:"hidden layer size of the observation heads"`
	Layers     int            `def:"2" desc:"hidden layer count of the observation heads"`
	Activation string         `def:"Tanh" desc:"head activation: Tanh or ReLU"`
	KLScale    float32        `def:"1" desc:"weight of the KL term in the model loss"`
	KL         dists.KLConfig `desc:"kl balancing and free-nats clipping"`
	RSSM       rssm.Config    `desc:"state-space model sizes"`
}

func (c *WMConfig) Defaults() {
	c.Hidden = 200
	c.Layers = 2
	c.Activation = "Tanh"
	c.KLScale = 1
	c.KL.Defaults()
	c.RSSM.Defaults()
}

func (c *WMConfig) Validate() error {
	if c.Obs <= 0 {
		return fmt.Errorf("agent: observation size must be positive, got %d", c.Obs)
	}
	if c.Hidden <= 0 {
		return fmt.Errorf("agent: hidden size must be positive, got %d", c.Hidden)
	}
	if c.Layers <= 0 {
		return fmt.Errorf("agent: layer count must be positive, got %d", c.Layers)
	}
	if _, err := activation(c.Activation); err != nil {
		return err
	}
	if err := c.KL.Validate(); err != nil {
		return err
	}
	return c.RSSM.Validate()
}

func activation(name string) (anynet.Layer, error) {
	switch name {
	case "Tanh":
		return anynet.Tanh, nil
	case "ReLU":
		return anynet.ReLU, nil
	}
	return nil, fmt.Errorf("agent: unknown activation %q", name)
}

func mlp(c anyvec.Creator, in, hidden, layers int, act anynet.Layer, out int) anynet.Net {
	net := anynet.Net{}
	cur := in
	for i := 0; i < layers; i++ {
		net = append(net, anynet.NewFC(c, cur, hidden), act)
		cur = hidden
	}
	return append(net, anynet.NewFC(c, cur, out))
}

// WorldModel is the learned environment simulator: an observation
// encoder feeding the state-space model, and decoder, reward and
// continuation heads reading the fused latent state back out.
type WorldModel struct {
	Cfg WMConfig

	RSSM     *rssm.RSSM
	Encoder  anynet.Net
	Decoder  anynet.Net
	Reward   anynet.Net
	Continue anynet.Net
}

// NewWorldModel builds the model, failing fast on invalid configuration.
func NewWorldModel(c anyvec.Creator, cfg WMConfig) (*WorldModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, essentials.AddCtx("new world model", err)
	}
	core, err := rssm.New(c, cfg.RSSM)
	if err != nil {
		return nil, essentials.AddCtx("new world model", err)
	}
	act, _ := activation(cfg.Activation)
	latent := core.LatentSize()
	return &WorldModel{
		Cfg:  cfg,
		RSSM: core,
		Encoder: append(
			mlp(c, cfg.Obs, cfg.Hidden, cfg.Layers-1, act, cfg.RSSM.Embed),
			act,
		),
		Decoder:  mlp(c, latent, cfg.Hidden, cfg.Layers, act, cfg.Obs),
		Reward:   mlp(c, latent, cfg.Hidden, cfg.Layers, act, 1),
		Continue: mlp(c, latent, cfg.Hidden, cfg.Layers, act, 1),
	}, nil
}

// Parameters returns all trainable variables of the model.
func (w *WorldModel) Parameters() []*anydiff.Var {
	return anynet.AllParameters(w.RSSM, w.Encoder, w.Decoder, w.Reward, w.Continue)
}

// Embed encodes a batch of flat observations.
func (w *WorldModel) Embed(obs anydiff.Res, batch int) anydiff.Res {
	return w.Encoder.Apply(obs, batch)
}

// RewardPred predicts the mean reward at each latent row.
func (w *WorldModel) RewardPred(latent anydiff.Res, batch int) anydiff.Res {
	return w.Reward.Apply(latent, batch)
}

// ContinuePred predicts continuation probabilities at each latent row.
func (w *WorldModel) ContinuePred(latent anydiff.Res, batch int) anydiff.Res {
	return anydiff.Sigmoid(w.Continue.Apply(latent, batch))
}

// Batch is one training window of real experience, laid out as
// per-timestep batch-major rows.  Actions[t] is the action that led to
// Obs[t]; Continues[t] is 1-done; IsFirst[t][b] flags sub-episode
// starts.
type Batch struct {
	Obs       []anydiff.Res
	Actions   []anydiff.Res
	Rewards   []anydiff.Res
	Continues []anydiff.Res
	IsFirst   [][]bool

	T, B int
}

// WMResult carries the model loss, the posterior rollout it was
// computed from, and detached diagnostics.
type WMResult struct {
	Loss anydiff.Res
	Seq  *rssm.SequenceOut

	Recon   float64
	RewardL float64
	ContL   float64
	KL      float64
}

// Loss runs dynamic learning over a training window: the stepper
// filters the sequence, the heads reconstruct observations, rewards
// and continuations from each fused latent, and the balanced KL ties
// the posterior to the prior.  All terms are per-example means,
// averaged over the window.
func (w *WorldModel) Loss(b *Batch, rng *rand.Rand) *WMResult {
	if len(b.Obs) != b.T || len(b.Actions) != b.T ||
		len(b.Rewards) != b.T || len(b.Continues) != b.T || len(b.IsFirst) != b.T {
		panic("agent: batch sequence lengths differ")
	}
	c := b.Obs[0].Output().Creator()

	embeds := make([]anydiff.Res, b.T)
	for t := range b.Obs {
		embeds[t] = w.Embed(b.Obs[t], b.B)
	}
	seq := w.RSSM.Observe(embeds, b.Actions, b.IsFirst, b.B, rng)

	var recon, reward, cont, kl anydiff.Res
	var rawKL float64
	for t := 0; t < b.T; t++ {
		latent := seq.Latents[t]

		r := gaussianNLL(w.Decoder.Apply(latent, b.B), b.Obs[t], b.B)
		rw := gaussianNLL(w.Reward.Apply(latent, b.B), b.Rewards[t], b.B)
		ct := bernoulliNLL(w.Continue.Apply(latent, b.B), b.Continues[t])
		klT, rawT := dists.BalancedKL(seq.Posts[t], seq.Priors[t], w.Cfg.KL)

		recon = accumulate(recon, dists.Mean(r))
		reward = accumulate(reward, dists.Mean(rw))
		cont = accumulate(cont, dists.Mean(ct))
		kl = accumulate(kl, klT)
		rawKL += dists.VecVals(rawT.Output())[0]
	}
	invT := c.MakeNumeric(1 / float64(b.T))
	recon = anydiff.Scale(recon, invT)
	reward = anydiff.Scale(reward, invT)
	cont = anydiff.Scale(cont, invT)
	kl = anydiff.Scale(kl, invT)

	loss := anydiff.Add(
		anydiff.Add(recon, reward),
		anydiff.Add(cont, anydiff.Scale(kl, c.MakeNumeric(float64(w.Cfg.KLScale)))),
	)
	return &WMResult{
		Loss:    loss,
		Seq:     seq,
		Recon:   dists.VecVals(recon.Output())[0],
		RewardL: dists.VecVals(reward.Output())[0],
		ContL:   dists.VecVals(cont.Output())[0],
		KL:      rawKL / float64(b.T),
	}
}

// gaussianNLL is the per-example negative log-likelihood of target
// under a unit-variance Gaussian centered at pred, summed over the
// row's components.
func gaussianNLL(pred anydiff.Res, target anydiff.Res, batch int) anydiff.Res {
	c := pred.Output().Creator()
	const logSqrt2Pi = 0.9189385332046727
	diff := anydiff.Sub(dists.Detach(target), pred)
	perDim := anydiff.AddScalar(
		anydiff.Scale(anydiff.Mul(diff, diff), c.MakeNumeric(0.5)),
		c.MakeNumeric(logSqrt2Pi),
	)
	return dists.RowSums(perDim, batch)
}

// bernoulliNLL is the per-example negative log-likelihood of a binary
// target under a Bernoulli with the given logits:
// softplus(logit) - target*logit.
func bernoulliNLL(logits anydiff.Res, target anydiff.Res) anydiff.Res {
	return anydiff.Sub(
		dists.Softplus(logits),
		anydiff.Mul(dists.Detach(target), logits),
	)
}

func accumulate(total, term anydiff.Res) anydiff.Res {
	if total == nil {
		return term
	}
	return anydiff.Add(total, term)
}
