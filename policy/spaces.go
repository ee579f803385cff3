// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package policy implements the actor and critic heads that operate on
fused latent states, together with the action-space machinery: a
straight-through one-hot categorical space for discrete control and a
tanh-squashed Gaussian space for continuous control.  The spaces
implement the anyrl sampling and log-probability interfaces; entropy
is optional and degrades to a zero bonus when a space has no
closed-form entropy.
*/
package policy

import (
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyrl"
	"github.com/unixpickle/anyvec"

	"github.com/RPL-CS-UCL/sheeprl/dists"
)

// ActionSpace is the capability set an actor head needs: sampling and
// log-probabilities per anyrl, plus a differentiable sampling path
// used inside imagination.  Spaces with closed-form entropy also
// implement anyrl.Entropyer.
type ActionSpace interface {
	anyrl.Sampler
	anyrl.LogProber

	// ParamSize is the per-example parameter count the actor head
	// must produce.
	ParamSize() int

	// ActionSize is the per-example size of a sampled action row.
	ActionSize() int

	// SampleRes draws a differentiable (reparameterized or
	// straight-through) sample.
	SampleRes(params anydiff.Res, batch int, rng *rand.Rand) anydiff.Res
}

// OneHot is a single categorical over Count classes, sampled
// straight-through as a one-hot row.
type OneHot struct {
	Count int
}

func (o OneHot) ParamSize() int  { return o.Count }
func (o OneHot) ActionSize() int { return o.Count }

// SampleRes draws a one-hot action whose gradient is the soft
// class-probability gradient.
func (o OneHot) SampleRes(params anydiff.Res, batch int, rng *rand.Rand) anydiff.Res {
	return dists.NewCategorical(params, batch, 1, o.Count).Sample(rng)
}

// Sample implements anyrl.Sampler using the global random source.
func (o OneHot) Sample(params anyvec.Vector, batch int) anyvec.Vector {
	return o.SampleRes(anydiff.NewConst(params), batch, globalRand).Output()
}

// LogProb implements anyrl.LogProber for one-hot samples.
func (o OneHot) LogProb(params anydiff.Res, output anyvec.Vector, batch int) anydiff.Res {
	return dists.NewCategorical(params, batch, 1, o.Count).LogProb(output)
}

// Entropy implements anyrl.Entropyer.
func (o OneHot) Entropy(params anydiff.Res, batch int) anydiff.Res {
	return dists.NewCategorical(params, batch, 1, o.Count).Entropy()
}

// TanhGaussian is a diagonal Gaussian squashed through tanh, the
// usual continuous-control distribution.  It has no closed-form
// entropy and deliberately does not implement anyrl.Entropyer.
type TanhGaussian struct {
	Size    int
	InitStd float32
	MinStd  float32
}

func (t TanhGaussian) ParamSize() int  { return 2 * t.Size }
func (t TanhGaussian) ActionSize() int { return t.Size }

// normal maps raw head outputs to the pre-squash Gaussian: the mean
// is softly bounded and the std offset so a zero head output yields
// InitStd, floored at MinStd.
func (t TanhGaussian) normal(params anydiff.Res, batch int) *dists.Normal {
	c := params.Output().Creator()
	rawMean := dists.SliceCols(params, batch, 0, t.Size)
	rawStd := dists.SliceCols(params, batch, t.Size, 2*t.Size)
	mean := anydiff.Scale(
		anydiff.Tanh(anydiff.Scale(rawMean, c.MakeNumeric(0.2))),
		c.MakeNumeric(5),
	)
	init := math.Log(math.Exp(float64(t.InitStd)) - 1)
	std := dists.Floor(
		dists.Softplus(anydiff.AddScalar(rawStd, c.MakeNumeric(init))),
		float64(t.MinStd),
	)
	return dists.NewNormal(mean, std, batch)
}

// SampleRes draws a reparameterized pre-squash sample and applies
// tanh, keeping the whole path differentiable.
func (t TanhGaussian) SampleRes(params anydiff.Res, batch int, rng *rand.Rand) anydiff.Res {
	return anydiff.Tanh(t.normal(params, batch).Sample(rng))
}

// Sample implements anyrl.Sampler using the global random source.
func (t TanhGaussian) Sample(params anyvec.Vector, batch int) anyvec.Vector {
	return t.SampleRes(anydiff.NewConst(params), batch, globalRand).Output()
}

// LogProb implements anyrl.LogProber: the Gaussian log-density of the
// un-squashed action plus the tanh change-of-variables correction.
func (t TanhGaussian) LogProb(params anydiff.Res, output anyvec.Vector, batch int) anydiff.Res {
	n := t.normal(params, batch)
	c := params.Output().Creator()

	acts := dists.VecVals(output)
	pre := make([]float64, len(acts))
	correction := make([]float64, batch)
	for i, a := range acts {
		a = clip(a, -1+1e-6, 1-1e-6)
		pre[i] = 0.5 * math.Log((1+a)/(1-a))
		correction[i/t.Size] += math.Log(1 - a*a + 1e-6)
	}
	u := anydiff.NewConst(dists.MakeVec(c, pre))

	const logSqrt2Pi = 0.9189385332046727
	z := anydiff.Mul(anydiff.Sub(u, n.Mean), dists.Reciprocal(n.Std))
	perDim := anydiff.AddScalar(
		anydiff.Sub(
			anydiff.Scale(anydiff.Mul(z, z), c.MakeNumeric(-0.5)),
			dists.Log(n.Std),
		),
		c.MakeNumeric(-logSqrt2Pi),
	)
	return anydiff.Sub(
		dists.RowSums(perDim, batch),
		anydiff.NewConst(dists.MakeVec(c, correction)),
	)
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var globalRand = rand.New(rand.NewSource(rand.Int63()))
