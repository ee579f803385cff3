// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package policy

import (
	"fmt"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// Config sizes the actor and critic MLP heads.
type Config struct {
	Hidden     int    `def:"200" desc:"hidden layer size"`
	Layers     int    `def:"2" desc:"number of hidden layers"`
	Activation string `def:"Tanh" desc:"hidden activation: Tanh or ReLU"`
}

func (c *Config) Defaults() {
	c.Hidden = 200
	c.Layers = 2
	c.Activation = "Tanh"
}

func (c *Config) Validate() error {
	if c.Hidden <= 0 {
		return fmt.Errorf("policy: hidden size must be positive, got %d", c.Hidden)
	}
	if c.Layers <= 0 {
		return fmt.Errorf("policy: layer count must be positive, got %d", c.Layers)
	}
	if _, err := activation(c.Activation); err != nil {
		return err
	}
	return nil
}

func activation(name string) (anynet.Layer, error) {
	switch name {
	case "Tanh":
		return anynet.Tanh, nil
	case "ReLU":
		return anynet.ReLU, nil
	}
	return nil, fmt.Errorf("policy: unknown activation %q", name)
}

func mlp(c anyvec.Creator, in int, cfg Config, out int) anynet.Net {
	act, _ := activation(cfg.Activation)
	net := anynet.Net{}
	cur := in
	for i := 0; i < cfg.Layers; i++ {
		net = append(net, anynet.NewFC(c, cur, cfg.Hidden), act)
		cur = cfg.Hidden
	}
	return append(net, anynet.NewFC(c, cur, out))
}

// Actor maps fused latent states to action-distribution parameters.
type Actor struct {
	Net   anynet.Net
	Space ActionSpace
}

// NewActor builds the actor head for the given latent size and space.
func NewActor(c anyvec.Creator, latentSize int, cfg Config, space ActionSpace) (*Actor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, essentials.AddCtx("new actor", err)
	}
	if latentSize <= 0 {
		return nil, fmt.Errorf("new actor: latent size must be positive, got %d", latentSize)
	}
	return &Actor{
		Net:   mlp(c, latentSize, cfg, space.ParamSize()),
		Space: space,
	}, nil
}

// Params computes the action-distribution parameters for a batch of
// latent rows.
func (a *Actor) Params(latent anydiff.Res, batch int) anydiff.Res {
	return a.Net.Apply(latent, batch)
}

// Act draws a differentiable action sample for each latent row.
func (a *Actor) Act(latent anydiff.Res, batch int, rng *rand.Rand) anydiff.Res {
	return a.Space.SampleRes(a.Params(latent, batch), batch, rng)
}

// Parameters returns the trainable variables.
func (a *Actor) Parameters() []*anydiff.Var {
	return anynet.AllParameters(a.Net)
}

// Critic predicts the mean of a unit-variance Gaussian over returns
// for each latent row.
type Critic struct {
	Net anynet.Net

	latentSize int
	cfg        Config
}

// NewCritic builds a critic head.
func NewCritic(c anyvec.Creator, latentSize int, cfg Config) (*Critic, error) {
	if err := cfg.Validate(); err != nil {
		return nil, essentials.AddCtx("new critic", err)
	}
	if latentSize <= 0 {
		return nil, fmt.Errorf("new critic: latent size must be positive, got %d", latentSize)
	}
	return &Critic{
		Net:        mlp(c, latentSize, cfg, 1),
		latentSize: latentSize,
		cfg:        cfg,
	}, nil
}

// Value predicts one scalar per latent row.
func (cr *Critic) Value(latent anydiff.Res, batch int) anydiff.Res {
	return cr.Net.Apply(latent, batch)
}

// Parameters returns the trainable variables.
func (cr *Critic) Parameters() []*anydiff.Var {
	return anynet.AllParameters(cr.Net)
}

// Clone builds a critic with identical structure and copied weights,
// used as the frozen target network for return estimation.
func (cr *Critic) Clone(c anyvec.Creator) *Critic {
	out, err := NewCritic(c, cr.latentSize, cr.cfg)
	if err != nil {
		panic(err) // structure already validated
	}
	cr.SyncTo(out)
	return out
}

// SyncTo copies this critic's weights into the target.
func (cr *Critic) SyncTo(target *Critic) {
	src := cr.Parameters()
	dst := target.Parameters()
	if len(src) != len(dst) {
		panic("policy: critic structures differ")
	}
	for i, s := range src {
		dst[i].Vector.Set(s.Vector)
	}
}
