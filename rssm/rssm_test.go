// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rssm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec32"

	"github.com/RPL-CS-UCL/sheeprl/dists"
)

func testConfig() Config {
	return Config{
		Action:     2,
		Embed:      3,
		Recurrent:  8,
		Hidden:     8,
		Activation: "Tanh",
		State:      dists.Config{Kind: dists.Continuous, Size: 4, MinStd: 0.1},
	}
}

func testModel(t *testing.T) *RSSM {
	t.Helper()
	m, err := New(anyvec32.CurrentCreator(), testConfig())
	if err != nil {
		t.Fatalf("new rssm: %v", err)
	}
	return m
}

func TestNewValidation(t *testing.T) {
	c := anyvec32.CurrentCreator()
	cases := []struct {
		name string
		edit func(*Config)
	}{
		{"zero action", func(c *Config) { c.Action = 0 }},
		{"zero embed", func(c *Config) { c.Embed = 0 }},
		{"negative recurrent", func(c *Config) { c.Recurrent = -1 }},
		{"zero hidden", func(c *Config) { c.Hidden = 0 }},
		{"bad activation", func(c *Config) { c.Activation = "Swish" }},
		{"bad state", func(c *Config) { c.State.Size = 0 }},
	}
	for _, cs := range cases {
		cfg := testConfig()
		cs.edit(&cfg)
		if _, err := New(c, cfg); err == nil {
			t.Errorf("%s: expected construction error", cs.name)
		}
	}
}

func TestStepIsFirstReset(t *testing.T) {
	c := anyvec32.CurrentCreator()
	m := testModel(t)
	rng := rand.New(rand.NewSource(11))

	// Batch of 2: row 0 flagged first, row 1 carried.  The recurrent
	// output of row 0 must exactly match a fresh zero-state step, and
	// row 1 must match a carried step, since rows are independent.
	prevStoch := anydiff.NewConst(dists.MakeVec(c, ramp(2*4, 0.3)))
	prevRec := anydiff.NewConst(dists.MakeVec(c, ramp(2*8, -0.2)))
	action := anydiff.NewConst(dists.MakeVec(c, ramp(2*2, 0.5)))
	embed := anydiff.NewConst(dists.MakeVec(c, ramp(2*3, 0.1)))

	out := m.Step(StepIn{
		PrevStoch:     prevStoch,
		PrevRecurrent: prevRec,
		Action:        action,
		Embed:         embed,
		IsFirst:       []bool{true, false},
	}, 2, rng)

	// Row 0 reference: zero incoming state, same action/embed row.
	zStoch, zRec := m.ZeroState(1)
	ref0 := m.Transition(zStoch,
		anydiff.NewConst(dists.MakeVec(c, ramp(2*2, 0.5)[:2])), zRec, 1)
	// Row 1 reference: carried state.
	ref1 := m.Transition(
		anydiff.NewConst(dists.MakeVec(c, ramp(2*4, 0.3)[4:])),
		anydiff.NewConst(dists.MakeVec(c, ramp(2*2, 0.5)[2:])),
		anydiff.NewConst(dists.MakeVec(c, ramp(2*8, -0.2)[8:])), 1)

	got := dists.VecVals(out.Recurrent.Output())
	want0 := dists.VecVals(ref0.Output())
	want1 := dists.VecVals(ref1.Output())
	for i := 0; i < 8; i++ {
		if math.Abs(got[i]-want0[i]) > 1e-5 {
			t.Fatalf("reset row diverges at %d: %v vs %v", i, got[i], want0[i])
		}
		if math.Abs(got[8+i]-want1[i]) > 1e-5 {
			t.Fatalf("carried row diverges at %d: %v vs %v", i, got[8+i], want1[i])
		}
	}
}

func TestStepNoFirstUntouched(t *testing.T) {
	c := anyvec32.CurrentCreator()
	m := testModel(t)

	prevStoch := anydiff.NewConst(dists.MakeVec(c, ramp(4, 0.3)))
	prevRec := anydiff.NewConst(dists.MakeVec(c, ramp(8, -0.2)))
	action := anydiff.NewConst(dists.MakeVec(c, ramp(2, 0.5)))
	embed := anydiff.NewConst(dists.MakeVec(c, ramp(3, 0.1)))

	a := m.Step(StepIn{prevStoch, prevRec, action, embed, []bool{false}}, 1, rand.New(rand.NewSource(5)))
	b := m.Step(StepIn{prevStoch, prevRec, action, embed, nil}, 1, rand.New(rand.NewSource(5)))
	av := dists.VecVals(a.PostSample.Output())
	bv := dists.VecVals(b.PostSample.Output())
	for i := range av {
		if av[i] != bv[i] {
			t.Fatalf("is_first=false altered the step at %d: %v vs %v", i, av[i], bv[i])
		}
	}
}

func TestPosteriorStdFloored(t *testing.T) {
	c := anyvec32.CurrentCreator()
	m := testModel(t)
	rng := rand.New(rand.NewSource(2))

	stoch, rec := m.ZeroState(3)
	out := m.Step(StepIn{
		PrevStoch:     stoch,
		PrevRecurrent: rec,
		Action:        anydiff.NewConst(dists.MakeVec(c, ramp(3*2, 1))),
		Embed:         anydiff.NewConst(dists.MakeVec(c, ramp(3*3, -1))),
	}, 3, rng)

	for _, d := range []dists.Dist{out.Prior, out.Post} {
		std := dists.VecVals(d.(*dists.Normal).Std.Output())
		for i, s := range std {
			if s < 0.1-1e-7 {
				t.Fatalf("std[%d] = %v below the configured floor", i, s)
			}
		}
	}
}

func TestImagineTrajectoryShape(t *testing.T) {
	c := anyvec32.CurrentCreator()
	m := testModel(t)
	rng := rand.New(rand.NewSource(9))

	pol := func(latent anydiff.Res, batch int) anydiff.Res {
		return anydiff.NewConst(dists.MakeVec(c, ramp(batch*2, 0.2)))
	}
	seedStoch := anydiff.NewConst(dists.MakeVec(c, ramp(2*4, 0.4)))
	seedRec := anydiff.NewConst(dists.MakeVec(c, ramp(2*8, 0.1)))

	tr, err := m.Imagine(seedStoch, seedRec, 3, pol, 2, rng)
	if err != nil {
		t.Fatalf("imagine: %v", err)
	}
	if len(tr.Latents) != 4 {
		t.Fatalf("got %d latent states, want 4 (seed + 3)", len(tr.Latents))
	}
	if len(tr.Actions) != 4 {
		t.Fatalf("got %d actions, want 4 (placeholder + 3)", len(tr.Actions))
	}
	for i, v := range dists.VecVals(tr.Actions[0].Output()) {
		if v != 0 {
			t.Fatalf("placeholder action[%d] = %v, want 0", i, v)
		}
	}

	if _, err := m.Imagine(seedStoch, seedRec, 0, pol, 2, rng); err == nil {
		t.Fatal("expected error for non-positive horizon")
	}
}

func TestImagineSeedDetached(t *testing.T) {
	c := anyvec32.CurrentCreator()
	m := testModel(t)
	rng := rand.New(rand.NewSource(4))

	seedVar := anydiff.NewVar(dists.MakeVec(c, ramp(4, 0.4)))
	seedRec := anydiff.NewConst(dists.MakeVec(c, ramp(8, 0.1)))
	pol := func(latent anydiff.Res, batch int) anydiff.Res {
		return anydiff.NewConst(dists.MakeVec(c, ramp(batch*2, 0.2)))
	}
	tr, err := m.Imagine(seedVar, seedRec, 2, pol, 1, rng)
	if err != nil {
		t.Fatalf("imagine: %v", err)
	}
	last := tr.Latents[len(tr.Latents)-1]
	if last.Vars().Has(seedVar) {
		t.Fatal("imagined trajectory still depends on the seed variable")
	}
}

func TestImaginePolicyInputDetached(t *testing.T) {
	c := anyvec32.CurrentCreator()
	m := testModel(t)
	rng := rand.New(rand.NewSource(6))

	// A policy that echoes part of its input exposes any gradient path
	// from the rollout state into the actions.
	pol := func(latent anydiff.Res, batch int) anydiff.Res {
		return dists.SliceCols(latent, batch, 0, 2)
	}
	seedStoch := anydiff.NewConst(dists.MakeVec(c, ramp(4, 0.4)))
	seedRec := anydiff.NewConst(dists.MakeVec(c, ramp(8, 0.1)))
	tr, err := m.Imagine(seedStoch, seedRec, 2, pol, 1, rng)
	if err != nil {
		t.Fatalf("imagine: %v", err)
	}
	// Actions[2] was sampled from Latents[1], which depends on model
	// parameters; the action itself must not.
	if len(tr.Actions[2].Vars()) != 0 {
		t.Fatal("imagined action carries gradient through its input state")
	}
}

// ramp builds a deterministic test pattern.
func ramp(n int, scale float64) []float64 {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = scale * float64(i%5-2) / 2
	}
	return vals
}
