// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package returns

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec32"
	"gonum.org/v1/gonum/floats"

	"github.com/RPL-CS-UCL/sheeprl/dists"
)

func scalars(vals ...float64) []anydiff.Res {
	c := anyvec32.CurrentCreator()
	out := make([]anydiff.Res, len(vals))
	for i, v := range vals {
		out[i] = anydiff.NewConst(dists.MakeVec(c, []float64{v}))
	}
	return out
}

func firstVals(rs []anydiff.Res) []float64 {
	out := make([]float64, len(rs))
	for i, r := range rs {
		out[i] = dists.VecVals(r.Output())[0]
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := []Config{
		{Lambda: -0.1, Gamma: 0.99},
		{Lambda: 1.1, Gamma: 0.99},
		{Lambda: 0.9, Gamma: 0},
		{Lambda: 0.9, Gamma: 0.99, Mix: 2},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestLambdaValuesMonteCarlo(t *testing.T) {
	c := anyvec32.CurrentCreator()
	rewards := scalars(1, 1, 1)
	values := scalars(0, 0, 0)
	continues := scalars(1, 1, 1)
	bootstrap := anydiff.NewConst(dists.MakeVec(c, []float64{5}))

	lv := firstVals(LambdaValues(rewards, values, continues, bootstrap, 1))
	want := []float64{8, 7, 6}
	if !floats.EqualApprox(lv, want, 1e-5) {
		t.Fatalf("lambda=1 values = %v, want %v", lv, want)
	}
}

func TestLambdaValuesOneStepTD(t *testing.T) {
	c := anyvec32.CurrentCreator()
	rewards := scalars(1, 1, 1)
	values := scalars(0, 0, 0)
	continues := scalars(1, 1, 1)
	bootstrap := anydiff.NewConst(dists.MakeVec(c, []float64{5}))

	lv := firstVals(LambdaValues(rewards, values, continues, bootstrap, 0))
	want := []float64{1, 1, 6}
	if !floats.EqualApprox(lv, want, 1e-5) {
		t.Fatalf("lambda=0 values = %v, want %v", lv, want)
	}
}

func TestDiscountWeightsCumprod(t *testing.T) {
	continues := scalars(0.99, 0.99, 0.99, 0.99)
	w := firstVals(DiscountWeights(continues))
	want := []float64{1, 0.99, 0.9801, 0.970299}
	if !floats.EqualApprox(w, want, 1e-5) {
		t.Fatalf("discount weights = %v, want %v", w, want)
	}
}

func TestActorLossScoreFunction(t *testing.T) {
	loss := ActorLoss(ActorInputs{
		LogProbs:     scalars(-0.7),
		LambdaValues: scalars(0, 2),
		Baselines:    scalars(0.5),
		Discounts:    scalars(1),
		Mix:          1,
	})
	got := dists.VecVals(loss.Output())[0]
	// -(logprob * advantage) = -(-0.7 * 1.5)
	if math.Abs(got-1.05) > 1e-5 {
		t.Fatalf("actor loss = %v, want 1.05", got)
	}
}

func TestActorLossEntropyFallback(t *testing.T) {
	in := ActorInputs{
		LogProbs:     scalars(-0.7),
		LambdaValues: scalars(0, 2),
		Baselines:    scalars(0.5),
		Discounts:    scalars(1),
		Mix:          1,
		EntropyCoef:  0.01,
	}
	withNil := dists.VecVals(ActorLoss(in).Output())[0]
	in.Entropies = scalars(0)
	withZero := dists.VecVals(ActorLoss(in).Output())[0]
	if math.Abs(withNil-withZero) > 1e-6 {
		t.Fatalf("nil entropies (%v) should equal zero entropies (%v)", withNil, withZero)
	}
}

func TestActorLossDynamicsGradient(t *testing.T) {
	c := anyvec32.CurrentCreator()
	lv := anydiff.NewVar(dists.MakeVec(c, []float64{2}))
	loss := ActorLoss(ActorInputs{
		LogProbs:     scalars(-0.7),
		LambdaValues: []anydiff.Res{scalars(0)[0], lv},
		Baselines:    scalars(0.5),
		Discounts:    scalars(1),
		Mix:          0,
	})
	g := anydiff.NewGrad(lv)
	loss.Propagate(dists.MakeVec(c, []float64{1}), g)
	grad := dists.VecVals(g[lv])[0]
	// Pure dynamics term: d(-lv)/d(lv) = -1.
	if math.Abs(grad+1) > 1e-5 {
		t.Fatalf("dynamics gradient = %v, want -1", grad)
	}
}

func TestCriticLoss(t *testing.T) {
	loss := CriticLoss(scalars(0), scalars(1), scalars(1))
	got := dists.VecVals(loss.Output())[0]
	want := 0.5 + 0.9189385332046727
	if math.Abs(got-want) > 1e-5 {
		t.Fatalf("critic loss = %v, want %v", got, want)
	}
}

func TestCriticLossTargetDetached(t *testing.T) {
	c := anyvec32.CurrentCreator()
	target := anydiff.NewVar(dists.MakeVec(c, []float64{1}))
	loss := CriticLoss(scalars(0), []anydiff.Res{target}, scalars(1))
	g := anydiff.NewGrad(target)
	loss.Propagate(dists.MakeVec(c, []float64{1}), g)
	grad := dists.VecVals(g[target])[0]
	if grad != 0 {
		t.Fatalf("gradient leaked into the regression target: %v", grad)
	}
}
