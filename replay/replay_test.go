// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package replay

import (
	"math/rand"
	"testing"
)

func testConfig() Config {
	cfg := Config{}
	cfg.Defaults()
	cfg.Capacity = 8
	cfg.Envs = 2
	cfg.Obs = 3
	cfg.Action = 2
	return cfg
}

// fill adds n steps to one env whose observation encodes the global
// step index, so sampled windows can be checked for consecutiveness.
func fill(t *testing.T, b *Buffer, env, from, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		step := from + i
		obs := []float32{float32(step), float32(step), float32(step)}
		b.Add(env, obs, []float32{1, 0}, float32(step), false, step == 0)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	bad := []Config{
		{Capacity: 0, Envs: 1, Obs: 1, Action: 1},
		{Capacity: 8, Envs: 0, Obs: 1, Action: 1},
		{Capacity: 8, Envs: 1, Obs: 0, Action: 1},
		{Capacity: 8, Envs: 1, Obs: 1, Action: 0},
		{Capacity: 8, Envs: 1, Obs: 1, Action: 1, RewardClip: -1},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestAddAndLen(t *testing.T) {
	b, err := New(testConfig())
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	fill(t, b, 0, 0, 5)
	if b.Len(0) != 5 || b.Len(1) != 0 {
		t.Fatalf("lengths = %d, %d, want 5, 0", b.Len(0), b.Len(1))
	}
	if b.Steps() != 5 {
		t.Fatalf("total steps = %d, want 5", b.Steps())
	}
	// Overfill: ring holds at most Capacity.
	fill(t, b, 0, 5, 10)
	if b.Len(0) != 8 {
		t.Fatalf("len after overfill = %d, want capacity 8", b.Len(0))
	}
}

func TestSampleShapesAndForcedFirst(t *testing.T) {
	b, err := New(testConfig())
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	fill(t, b, 0, 0, 8)
	rng := rand.New(rand.NewSource(1))

	s, err := b.Sample(rng, 3, 4)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if s.T != 4 || s.B != 3 {
		t.Fatalf("window is %dx%d, want 4x3", s.T, s.B)
	}
	if got := s.Obs.Shapes(); got[0] != 4 || got[1] != 3 || got[2] != 3 {
		t.Fatalf("obs shape = %v", got)
	}
	for w := 0; w < s.B; w++ {
		if !s.IsFirst[0][w] {
			t.Fatalf("window %d does not start with a first flag", w)
		}
	}
}

func TestSampleWindowsConsecutive(t *testing.T) {
	cfg := testConfig()
	cfg.Envs = 1
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	// Wrap the ring so valid data straddles the boundary.
	fill(t, b, 0, 0, 13)
	rng := rand.New(rand.NewSource(2))

	for trial := 0; trial < 20; trial++ {
		s, err := b.Sample(rng, 2, 5)
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		for w := 0; w < s.B; w++ {
			prev := s.Obs.Value([]int{0, w, 0})
			if prev < 5 {
				t.Fatalf("sampled overwritten step %v", prev)
			}
			for tm := 1; tm < s.T; tm++ {
				cur := s.Obs.Value([]int{tm, w, 0})
				if cur != prev+1 {
					t.Fatalf("window %d not consecutive at t=%d: %v after %v",
						w, tm, cur, prev)
				}
				if s.Rewards.Value([]int{tm, w}) != cur {
					t.Fatalf("reward misaligned with step %v", cur)
				}
				prev = cur
			}
		}
	}
}

func TestSampleTooShort(t *testing.T) {
	b, err := New(testConfig())
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	fill(t, b, 0, 0, 3)
	rng := rand.New(rand.NewSource(3))
	if _, err := b.Sample(rng, 1, 4); err == nil {
		t.Fatal("expected error when no env holds a full window")
	}
}

func TestRewardClip(t *testing.T) {
	cfg := testConfig()
	cfg.RewardClip = 1
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	b.Add(0, []float32{0, 0, 0}, []float32{1, 0}, 5, false, true)
	b.Add(0, []float32{0, 0, 0}, []float32{1, 0}, -5, false, false)
	rng := rand.New(rand.NewSource(4))
	s, err := b.Sample(rng, 1, 2)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if s.Rewards.Value([]int{0, 0}) != 1 || s.Rewards.Value([]int{1, 0}) != -1 {
		t.Fatalf("rewards not clipped: %v, %v",
			s.Rewards.Value([]int{0, 0}), s.Rewards.Value([]int{1, 0}))
	}
}
