// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package dists builds the stochastic-state distributions of the latent
dynamics model: a diagonal Gaussian with a floored standard deviation
for the continuous variant, and a grid of independent categoricals with
straight-through sampling for the discrete variant.  Both variants
expose the same distribution-params / sample / kl capability set, and
the KL supports balancing and free-nats clipping.
*/
package dists

import (
	"fmt"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// StateKind selects the stochastic-state representation, fixed once
// per model configuration.
type StateKind int

const (
	// Continuous is a diagonal Gaussian stochastic state.
	Continuous StateKind = iota

	// Discrete is a groups x classes categorical grid with
	// straight-through sampling.
	Discrete
)

// Config specifies the stochastic-state representation.
type Config struct {
	Kind    StateKind `desc:"continuous gaussian or discrete categorical grid"`
	Size    int       `def:"30" desc:"size of the continuous state, or number of categorical groups"`
	Classes int       `def:"32" desc:"classes per group -- discrete only"`
	MinStd  float32   `def:"0.1" desc:"floor on the predicted standard deviation -- continuous only"`
}

func (c *Config) Defaults() {
	c.Size = 30
	c.Classes = 32
	c.MinStd = 0.1
}

func (c *Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("dists: state size must be positive, got %d", c.Size)
	}
	switch c.Kind {
	case Continuous:
		if c.MinStd <= 0 {
			return fmt.Errorf("dists: min std must be positive, got %g", c.MinStd)
		}
	case Discrete:
		if c.Classes <= 1 {
			return fmt.Errorf("dists: discrete state needs at least 2 classes, got %d", c.Classes)
		}
	default:
		return fmt.Errorf("dists: unknown state kind %d", c.Kind)
	}
	return nil
}

// StateSize is the per-example size of a sampled stochastic state.
func (c *Config) StateSize() int {
	if c.Kind == Discrete {
		return c.Size * c.Classes
	}
	return c.Size
}

// ParamSize is the per-example size of the raw parameter vector a
// predictor must produce for this representation.
func (c *Config) ParamSize() int {
	if c.Kind == Discrete {
		return c.Size * c.Classes
	}
	return 2 * c.Size
}

// Dist is a batched stochastic-state distribution.  All results are
// batch-major: one row per batch element.
type Dist interface {
	// Params is the raw parameter result the distribution was made from.
	Params() anydiff.Res

	// Batch is the number of rows.
	Batch() int

	// Sample draws a reparameterized (continuous) or straight-through
	// (discrete) sample, keeping the result differentiable.
	Sample(rng *rand.Rand) anydiff.Res

	// Mode is the distribution mode (the mean for the continuous case).
	Mode() anydiff.Res

	// KL computes the per-example KL divergence of this distribution
	// from other, KL(this || other).
	KL(other Dist) anydiff.Res

	// Entropy computes the per-example entropy.
	Entropy() anydiff.Res

	// Detach returns the same distribution with constant parameters.
	Detach() Dist
}

// Maker constructs distributions from raw predictor outputs.
type Maker struct {
	Cfg Config
}

// NewMaker validates the configuration and returns a maker.
func NewMaker(cfg Config) (*Maker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Maker{Cfg: cfg}, nil
}

// Make builds a distribution from a batch of raw parameter rows.
// The continuous variant floors the raw std at MinStd unconditionally.
func (m *Maker) Make(params anydiff.Res, batch int) Dist {
	if params.Output().Len() != batch*m.Cfg.ParamSize() {
		panic(fmt.Sprintf("dists: got %d param components, want %d",
			params.Output().Len(), batch*m.Cfg.ParamSize()))
	}
	if m.Cfg.Kind == Discrete {
		return newCategorical(params, batch, m.Cfg.Size, m.Cfg.Classes)
	}
	n := m.Cfg.Size
	mean := SliceCols(params, batch, 0, n)
	std := Floor(SliceCols(params, batch, n, 2*n), float64(m.Cfg.MinStd))
	return &Normal{Mean: mean, Std: std, NBat: batch, Parms: params}
}

// Normal is a batched diagonal Gaussian with floored std.
type Normal struct {
	Mean  anydiff.Res
	Std   anydiff.Res
	NBat  int
	Parms anydiff.Res
}

// NewNormal builds a Normal from mean and an already-floored std.
func NewNormal(mean, std anydiff.Res, batch int) *Normal {
	if mean.Output().Len() != std.Output().Len() {
		panic("dists: mean and std sizes differ")
	}
	return &Normal{Mean: mean, Std: std, NBat: batch}
}

func (n *Normal) Params() anydiff.Res {
	if n.Parms != nil {
		return n.Parms
	}
	return ConcatCols(n.NBat, n.Mean, n.Std)
}

func (n *Normal) Batch() int {
	return n.NBat
}

func (n *Normal) Sample(rng *rand.Rand) anydiff.Res {
	c := n.Mean.Output().Creator()
	noise := c.MakeVector(n.Mean.Output().Len())
	anyvec.Rand(noise, anyvec.Normal, rng)
	return anydiff.Add(n.Mean, anydiff.Mul(n.Std, anydiff.NewConst(noise)))
}

func (n *Normal) Mode() anydiff.Res {
	return n.Mean
}

// KL computes KL(n || other) per example, summed over dimensions.
func (n *Normal) KL(other Dist) anydiff.Res {
	o, ok := other.(*Normal)
	if !ok {
		panic("dists: KL between mismatched distribution kinds")
	}
	c := n.Mean.Output().Creator()
	// log(s2/s1) + (s1^2 + (m1-m2)^2) / (2 s2^2) - 1/2
	logRatio := anydiff.Sub(Log(o.Std), Log(n.Std))
	diff := anydiff.Sub(n.Mean, o.Mean)
	numer := anydiff.Add(anydiff.Mul(n.Std, n.Std), anydiff.Mul(diff, diff))
	denom := anydiff.Scale(anydiff.Mul(o.Std, o.Std), c.MakeNumeric(2))
	perDim := anydiff.AddScalar(
		anydiff.Add(logRatio, anydiff.Mul(numer, Reciprocal(denom))),
		c.MakeNumeric(-0.5),
	)
	return RowSums(perDim, n.NBat)
}

func (n *Normal) Entropy() anydiff.Res {
	c := n.Mean.Output().Creator()
	const halfLog2PiE = 0.5 * (1.0 + 1.8378770664093453) // 0.5*(1+log(2*pi))
	perDim := anydiff.AddScalar(Log(n.Std), c.MakeNumeric(halfLog2PiE))
	return RowSums(perDim, n.NBat)
}

func (n *Normal) Detach() Dist {
	return &Normal{Mean: Detach(n.Mean), Std: Detach(n.Std), NBat: n.NBat}
}

// Categorical is a batched grid of independent categoricals over
// Groups groups with Classes classes each.
type Categorical struct {
	Logits   anydiff.Res
	LogProbs anydiff.Res
	Probs    anydiff.Res
	Groups   int
	Classes  int
	NBat     int
}

func newCategorical(logits anydiff.Res, batch, groups, classes int) *Categorical {
	lp := anydiff.LogSoftmax(logits, classes)
	return &Categorical{
		Logits:   logits,
		LogProbs: lp,
		Probs:    anydiff.Exp(lp),
		Groups:   groups,
		Classes:  classes,
		NBat:     batch,
	}
}

// NewCategorical builds a categorical grid distribution from logits.
func NewCategorical(logits anydiff.Res, batch, groups, classes int) *Categorical {
	if logits.Output().Len() != batch*groups*classes {
		panic("dists: logits size does not match batch*groups*classes")
	}
	return newCategorical(logits, batch, groups, classes)
}

func (ct *Categorical) Params() anydiff.Res {
	return ct.Logits
}

func (ct *Categorical) Batch() int {
	return ct.NBat
}

// Sample draws one class per group and returns the one-hot grid with
// straight-through gradients into the soft probabilities.
func (ct *Categorical) Sample(rng *rand.Rand) anydiff.Res {
	probs := VecVals(ct.Probs.Output())
	out := make([]float64, len(probs))
	for g := 0; g < ct.NBat*ct.Groups; g++ {
		off := g * ct.Classes
		p := rng.Float64()
		idx := ct.Classes - 1
		acc := 0.0
		for k := 0; k < ct.Classes; k++ {
			acc += probs[off+k]
			if p < acc {
				idx = k
				break
			}
		}
		out[off+idx] = 1
	}
	c := ct.Probs.Output().Creator()
	return StraightThrough(ct.Probs, MakeVec(c, out))
}

// Mode returns the one-hot of the most likely class per group, with
// straight-through gradients.
func (ct *Categorical) Mode() anydiff.Res {
	probs := VecVals(ct.Probs.Output())
	out := make([]float64, len(probs))
	for g := 0; g < ct.NBat*ct.Groups; g++ {
		off := g * ct.Classes
		best := 0
		for k := 1; k < ct.Classes; k++ {
			if probs[off+k] > probs[off+best] {
				best = k
			}
		}
		out[off+best] = 1
	}
	c := ct.Probs.Output().Creator()
	return StraightThrough(ct.Probs, MakeVec(c, out))
}

// KL computes KL(ct || other) per example, summed over groups.
func (ct *Categorical) KL(other Dist) anydiff.Res {
	o, ok := other.(*Categorical)
	if !ok {
		panic("dists: KL between mismatched distribution kinds")
	}
	perClass := anydiff.Mul(ct.Probs, anydiff.Sub(ct.LogProbs, o.LogProbs))
	return RowSums(perClass, ct.NBat)
}

func (ct *Categorical) Entropy() anydiff.Res {
	c := ct.Probs.Output().Creator()
	perClass := anydiff.Scale(anydiff.Mul(ct.Probs, ct.LogProbs), c.MakeNumeric(-1))
	return RowSums(perClass, ct.NBat)
}

func (ct *Categorical) Detach() Dist {
	return newCategorical(Detach(ct.Logits), ct.NBat, ct.Groups, ct.Classes)
}

// LogProb computes the per-example log-probability of a one-hot
// sample grid, summed over groups.
func (ct *Categorical) LogProb(sample anyvec.Vector) anydiff.Res {
	if sample.Len() != ct.LogProbs.Output().Len() {
		panic("dists: sample size does not match distribution")
	}
	masked := anydiff.Mul(ct.LogProbs, anydiff.NewConst(sample.Copy()))
	return RowSums(masked, ct.NBat)
}
