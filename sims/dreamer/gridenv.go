// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"math/rand"

	"github.com/emer/emergent/env"
	"github.com/emer/emergent/evec"
)

// GridActions are the discrete moves available to the agent.
type GridActions int

const (
	MoveUp GridActions = iota
	MoveDown
	MoveLeft
	MoveRight

	GridActionsN
)

// GridEnv is a bounded grid with a single goal cell.  The agent sees
// its own position as a one-hot map, earns 1 on reaching the goal and
// a small step cost otherwise, and episodes end on the goal or after
// MaxSteps.
type GridEnv struct {
	Nm       string     `desc:"name of this environment"`
	Size     evec.Vec2i `desc:"grid dimensions"`
	MaxSteps int        `desc:"step limit per episode"`
	StepCost float32    `desc:"reward subtracted every non-goal step"`

	Agent evec.Vec2i `inactive:"+" desc:"current agent cell"`
	Goal  evec.Vec2i `inactive:"+" desc:"goal cell"`
	Run   env.Ctr    `view:"inline" desc:"run counter"`
	Epoch env.Ctr    `view:"inline" desc:"episode counter"`
	Step  env.Ctr    `view:"inline" desc:"step counter within the episode"`
}

func (ev *GridEnv) Defaults() {
	ev.Nm = "GridEnv"
	ev.Size = evec.Vec2i{X: 8, Y: 8}
	ev.MaxSteps = 100
	ev.StepCost = 0.01
}

func (ev *GridEnv) Validate() error {
	if ev.Size.X < 2 || ev.Size.Y < 2 {
		return fmt.Errorf("gridenv: size must be at least 2x2, got %v", ev.Size)
	}
	if ev.MaxSteps <= 0 {
		return fmt.Errorf("gridenv: step limit must be positive, got %d", ev.MaxSteps)
	}
	return nil
}

// ObsSize is the size of the flat observation vector.
func (ev *GridEnv) ObsSize() int {
	return ev.Size.X * ev.Size.Y
}

func (ev *GridEnv) Init(run int) {
	ev.Run.Scale = env.Run
	ev.Epoch.Scale = env.Epoch
	ev.Step.Scale = env.Trial
	ev.Run.Init()
	ev.Epoch.Init()
	ev.Step.Init()
	ev.Run.Cur = run
}

// Reset starts a new episode: the agent in one corner, the goal in a
// random cell away from it.
func (ev *GridEnv) Reset(rng *rand.Rand) []float32 {
	ev.Agent = evec.Vec2i{}
	for {
		ev.Goal = evec.Vec2i{X: rng.Intn(ev.Size.X), Y: rng.Intn(ev.Size.Y)}
		if ev.Goal != ev.Agent {
			break
		}
	}
	ev.Step.Init()
	ev.Epoch.Incr()
	return ev.Obs()
}

// Obs returns the one-hot position map.
func (ev *GridEnv) Obs() []float32 {
	obs := make([]float32, ev.ObsSize())
	obs[ev.Agent.Y*ev.Size.X+ev.Agent.X] = 1
	return obs
}

// Act applies one move and returns the next observation, the reward
// and whether the episode ended.
func (ev *GridEnv) Act(act GridActions) (obs []float32, reward float32, done bool) {
	next := ev.Agent
	switch act {
	case MoveUp:
		next.Y--
	case MoveDown:
		next.Y++
	case MoveLeft:
		next.X--
	case MoveRight:
		next.X++
	}
	if next.X >= 0 && next.X < ev.Size.X && next.Y >= 0 && next.Y < ev.Size.Y {
		ev.Agent = next
	}
	ev.Step.Incr()

	if ev.Agent == ev.Goal {
		return ev.Obs(), 1, true
	}
	return ev.Obs(), -ev.StepCost, ev.Step.Cur >= ev.MaxSteps
}
