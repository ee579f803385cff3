// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package policy

import (
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyrl"
	"github.com/unixpickle/anyvec/anyvec32"

	"github.com/RPL-CS-UCL/sheeprl/dists"
)

func TestOneHotSampleValid(t *testing.T) {
	c := anyvec32.CurrentCreator()
	rng := rand.New(rand.NewSource(3))
	space := OneHot{Count: 4}
	params := anydiff.NewConst(dists.MakeVec(c, []float64{
		0.1, 2, -1, 0.3,
		-2, 0, 0, 1,
	}))
	check := func(sample []float64) {
		for b := 0; b < 2; b++ {
			ones := 0
			for k := 0; k < 4; k++ {
				if sample[b*4+k] == 1 {
					ones++
				} else if sample[b*4+k] != 0 {
					t.Fatalf("non-indicator value %v", sample[b*4+k])
				}
			}
			if ones != 1 {
				t.Fatalf("row %d has %d ones, want 1", b, ones)
			}
		}
	}
	check(dists.VecVals(space.SampleRes(params, 2, rng).Output()))
	// The plain sampler takes the raw parameter vector.
	check(dists.VecVals(space.Sample(params.Output(), 2)))
}

func TestOneHotEntropyUniform(t *testing.T) {
	c := anyvec32.CurrentCreator()
	space := OneHot{Count: 4}
	params := anydiff.NewConst(dists.MakeVec(c, []float64{0, 0, 0, 0}))
	ent := dists.VecVals(space.Entropy(params, 1).Output())[0]
	if math.Abs(ent-math.Log(4)) > 1e-5 {
		t.Fatalf("uniform entropy = %v, want log(4)=%v", ent, math.Log(4))
	}
}

func TestOneHotLogProbMatchesSoftmax(t *testing.T) {
	c := anyvec32.CurrentCreator()
	space := OneHot{Count: 3}
	params := anydiff.NewConst(dists.MakeVec(c, []float64{1, 2, 3}))
	out := dists.MakeVec(c, []float64{0, 0, 1})
	lp := dists.VecVals(space.LogProb(params, out, 1).Output())[0]
	z := math.Exp(1) + math.Exp(2) + math.Exp(3)
	want := 3 - math.Log(z)
	if math.Abs(lp-want) > 1e-5 {
		t.Fatalf("log prob = %v, want %v", lp, want)
	}
}

func TestTanhGaussianNoEntropy(t *testing.T) {
	var space ActionSpace = TanhGaussian{Size: 2, InitStd: 5, MinStd: 0.1}
	if _, ok := space.(anyrl.Entropyer); ok {
		t.Fatal("tanh gaussian should not claim a closed-form entropy")
	}
	var discrete ActionSpace = OneHot{Count: 3}
	if _, ok := discrete.(anyrl.Entropyer); !ok {
		t.Fatal("one-hot space should expose entropy")
	}
}

func TestTanhGaussianSampleBounded(t *testing.T) {
	c := anyvec32.CurrentCreator()
	rng := rand.New(rand.NewSource(8))
	space := TanhGaussian{Size: 2, InitStd: 5, MinStd: 0.1}
	params := anydiff.NewConst(dists.MakeVec(c, []float64{3, -3, 0, 0}))
	for i := 0; i < 10; i++ {
		// float32 tanh saturates to exactly +/-1 for wide pre-squash
		// samples, so the bound is closed.
		sample := dists.VecVals(space.SampleRes(params, 1, rng).Output())
		for _, v := range sample {
			if v < -1 || v > 1 {
				t.Fatalf("squashed sample %v escaped [-1,1]", v)
			}
		}
	}
}

func TestTanhGaussianLogProbFinite(t *testing.T) {
	c := anyvec32.CurrentCreator()
	space := TanhGaussian{Size: 2, InitStd: 1, MinStd: 0.1}
	params := anydiff.NewConst(dists.MakeVec(c, []float64{0.5, -0.5, 0, 0}))
	// Include actions at the boundary, which must clip, not blow up.
	out := dists.MakeVec(c, []float64{0.3, -1})
	lp := dists.VecVals(space.LogProb(params, out, 1).Output())[0]
	if math.IsNaN(lp) || math.IsInf(lp, 0) {
		t.Fatalf("log prob not finite: %v", lp)
	}
}

func TestActorCriticConstruction(t *testing.T) {
	c := anyvec32.CurrentCreator()
	cfg := Config{Hidden: 16, Layers: 2, Activation: "Tanh"}
	if _, err := NewActor(c, 10, cfg, OneHot{Count: 4}); err != nil {
		t.Fatalf("new actor: %v", err)
	}
	bad := cfg
	bad.Activation = "GELU"
	if _, err := NewActor(c, 10, bad, OneHot{Count: 4}); err == nil {
		t.Fatal("expected activation error")
	}
	if _, err := NewCritic(c, 0, cfg); err == nil {
		t.Fatal("expected latent size error")
	}
}

func TestCriticTargetSync(t *testing.T) {
	c := anyvec32.CurrentCreator()
	cfg := Config{Hidden: 8, Layers: 1, Activation: "Tanh"}
	critic, err := NewCritic(c, 6, cfg)
	if err != nil {
		t.Fatalf("new critic: %v", err)
	}
	target := critic.Clone(c)

	latent := anydiff.NewConst(dists.MakeVec(c, []float64{0.1, -0.2, 0.3, 0, 0.5, -0.5}))
	a := dists.VecVals(critic.Value(latent, 1).Output())[0]
	b := dists.VecVals(target.Value(latent, 1).Output())[0]
	if math.Abs(a-b) > 1e-6 {
		t.Fatalf("cloned target disagrees: %v vs %v", a, b)
	}

	// Perturb the online critic; the target must hold until synced.
	p := critic.Parameters()[0]
	p.Vector.AddScalar(c.MakeNumeric(0.1))
	b2 := dists.VecVals(target.Value(latent, 1).Output())[0]
	if math.Abs(b-b2) > 1e-6 {
		t.Fatal("target critic moved without a sync")
	}
	critic.SyncTo(target)
	a3 := dists.VecVals(critic.Value(latent, 1).Output())[0]
	b3 := dists.VecVals(target.Value(latent, 1).Output())[0]
	if math.Abs(a3-b3) > 1e-6 {
		t.Fatalf("target disagrees after sync: %v vs %v", a3, b3)
	}
}
