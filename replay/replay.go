// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package replay stores interaction experience as per-environment ring
buffers and samples the fixed-length, time-major sequence windows that
dynamic learning trains on.
*/
package replay

import (
	"fmt"
	"math/rand"

	"github.com/emer/etable/etensor"
	"github.com/goki/mat32"
)

// Config sizes the buffer.
type Config struct {
	Capacity   int     `def:"100000" desc:"per-environment step capacity; old steps are overwritten"`
	Envs       int     `def:"1" desc:"number of parallel environments"`
	Obs        int     `desc:"size of a flat observation vector"`
	Action     int     `desc:"size of a flat action vector"`
	RewardClip float32 `def:"0" desc:"symmetric reward clip magnitude, 0 disables"`
}

func (c *Config) Defaults() {
	c.Capacity = 100000
	c.Envs = 1
}

func (c *Config) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("replay: capacity must be positive, got %d", c.Capacity)
	}
	if c.Envs <= 0 {
		return fmt.Errorf("replay: env count must be positive, got %d", c.Envs)
	}
	if c.Obs <= 0 {
		return fmt.Errorf("replay: observation size must be positive, got %d", c.Obs)
	}
	if c.Action <= 0 {
		return fmt.Errorf("replay: action size must be positive, got %d", c.Action)
	}
	if c.RewardClip < 0 {
		return fmt.Errorf("replay: reward clip must be non-negative, got %g", c.RewardClip)
	}
	return nil
}

// Buffer is the experience store.  Each environment owns one ring of
// Capacity steps; a step holds the observation, the action that led to
// it, the reward, the continuation flag (1-done) and the episode-start
// flag.
type Buffer struct {
	Cfg Config

	obs       *etensor.Float32
	actions   *etensor.Float32
	rewards   *etensor.Float32
	continues *etensor.Float32
	firsts    *etensor.Float32

	pos   []int
	count []int
}

// New allocates the buffer.
func New(cfg Config) (*Buffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Buffer{
		Cfg: cfg,
		obs: etensor.NewFloat32([]int{cfg.Envs, cfg.Capacity, cfg.Obs}, nil,
			[]string{"Env", "Step", "Obs"}),
		actions: etensor.NewFloat32([]int{cfg.Envs, cfg.Capacity, cfg.Action}, nil,
			[]string{"Env", "Step", "Action"}),
		rewards: etensor.NewFloat32([]int{cfg.Envs, cfg.Capacity}, nil,
			[]string{"Env", "Step"}),
		continues: etensor.NewFloat32([]int{cfg.Envs, cfg.Capacity}, nil,
			[]string{"Env", "Step"}),
		firsts: etensor.NewFloat32([]int{cfg.Envs, cfg.Capacity}, nil,
			[]string{"Env", "Step"}),
		pos:   make([]int, cfg.Envs),
		count: make([]int, cfg.Envs),
	}, nil
}

// Add records one step for an environment, overwriting the oldest step
// once the ring is full.  Rewards are clipped when a clip is set.
func (b *Buffer) Add(env int, obs, action []float32, reward float32, done, first bool) {
	if env < 0 || env >= b.Cfg.Envs {
		panic(fmt.Sprintf("replay: env %d out of range", env))
	}
	if len(obs) != b.Cfg.Obs || len(action) != b.Cfg.Action {
		panic("replay: step row sizes do not match the buffer")
	}
	if b.Cfg.RewardClip > 0 {
		reward = mat32.Clamp(reward, -b.Cfg.RewardClip, b.Cfg.RewardClip)
	}
	p := b.pos[env]
	for i, v := range obs {
		b.obs.Set([]int{env, p, i}, v)
	}
	for i, v := range action {
		b.actions.Set([]int{env, p, i}, v)
	}
	b.rewards.Set([]int{env, p}, reward)
	cont := float32(1)
	if done {
		cont = 0
	}
	b.continues.Set([]int{env, p}, cont)
	fl := float32(0)
	if first {
		fl = 1
	}
	b.firsts.Set([]int{env, p}, fl)

	b.pos[env] = (p + 1) % b.Cfg.Capacity
	if b.count[env] < b.Cfg.Capacity {
		b.count[env]++
	}
}

// Len reports the stored step count for one environment.
func (b *Buffer) Len(env int) int {
	return b.count[env]
}

// Steps reports the total stored step count.
func (b *Buffer) Steps() int {
	total := 0
	for _, n := range b.count {
		total += n
	}
	return total
}

// Sequences is a sampled training window in time-major layout: index
// [t, b, ...] is timestep t of window b.  The first timestep of every
// window is flagged as an episode start so the stepper resets its
// incoming state there.
type Sequences struct {
	Obs       *etensor.Float32
	Actions   *etensor.Float32
	Rewards   *etensor.Float32
	Continues *etensor.Float32
	IsFirst   [][]bool

	T, B int
}

// Sample draws batch independent windows of seqLen consecutive steps,
// each from a uniformly chosen environment and start offset within
// that environment's valid region.
func (b *Buffer) Sample(rng *rand.Rand, batch, seqLen int) (*Sequences, error) {
	if batch <= 0 || seqLen <= 0 {
		return nil, fmt.Errorf("replay: batch and sequence length must be positive")
	}
	var eligible []int
	for env := 0; env < b.Cfg.Envs; env++ {
		if b.count[env] >= seqLen {
			eligible = append(eligible, env)
		}
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("replay: no environment holds %d steps yet", seqLen)
	}

	out := &Sequences{
		Obs: etensor.NewFloat32([]int{seqLen, batch, b.Cfg.Obs}, nil,
			[]string{"Time", "Batch", "Obs"}),
		Actions: etensor.NewFloat32([]int{seqLen, batch, b.Cfg.Action}, nil,
			[]string{"Time", "Batch", "Action"}),
		Rewards: etensor.NewFloat32([]int{seqLen, batch}, nil,
			[]string{"Time", "Batch"}),
		Continues: etensor.NewFloat32([]int{seqLen, batch}, nil,
			[]string{"Time", "Batch"}),
		IsFirst: make([][]bool, seqLen),
		T:       seqLen,
		B:       batch,
	}
	for t := range out.IsFirst {
		out.IsFirst[t] = make([]bool, batch)
	}

	for w := 0; w < batch; w++ {
		env := eligible[rng.Intn(len(eligible))]
		// Oldest valid step sits at pos-count in ring coordinates.
		base := b.pos[env] - b.count[env] + b.Cfg.Capacity
		start := rng.Intn(b.count[env] - seqLen + 1)
		for t := 0; t < seqLen; t++ {
			p := (base + start + t) % b.Cfg.Capacity
			for i := 0; i < b.Cfg.Obs; i++ {
				out.Obs.Set([]int{t, w, i}, b.obs.Value([]int{env, p, i}))
			}
			for i := 0; i < b.Cfg.Action; i++ {
				out.Actions.Set([]int{t, w, i}, b.actions.Value([]int{env, p, i}))
			}
			out.Rewards.Set([]int{t, w}, b.rewards.Value([]int{env, p}))
			out.Continues.Set([]int{t, w}, b.continues.Value([]int{env, p}))
			out.IsFirst[t][w] = t == 0 || b.firsts.Value([]int{env, p}) != 0
		}
	}
	return out, nil
}
