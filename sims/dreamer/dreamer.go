// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// dreamer trains a world-model agent on a grid navigation task: real
// experience fills the replay buffer, dynamic learning fits the latent
// dynamics to it, and behaviour learning improves the policy inside
// imagined rollouts.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"

	"github.com/emer/etable/agg"
	"github.com/emer/etable/etable"
	"github.com/emer/etable/etensor"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/essentials"

	"github.com/RPL-CS-UCL/sheeprl/agent"
	"github.com/RPL-CS-UCL/sheeprl/dists"
	"github.com/RPL-CS-UCL/sheeprl/policy"
	"github.com/RPL-CS-UCL/sheeprl/replay"
	"github.com/RPL-CS-UCL/sheeprl/rssm"
)

// LogPrec is precision for saved log files.
const LogPrec = 4

// Sim holds all the configuration and state for one training run.
type Sim struct {
	Env    GridEnv           `desc:"navigation environment"`
	WM     agent.WMConfig    `desc:"world-model sizes and loss weights"`
	Policy policy.Config     `desc:"actor and critic head sizes"`
	Train  agent.TrainConfig `desc:"optimization hyperparameters"`
	Replay replay.Config     `desc:"experience buffer sizes"`

	TotalSteps  int     `def:"50000" desc:"total environment steps"`
	WarmupSteps int     `def:"1000" desc:"random-action steps before the policy takes over"`
	TrainEvery  int     `def:"5" desc:"environment steps between gradient updates"`
	BatchSize   int     `def:"16" desc:"sequence windows per update"`
	SeqLen      int     `def:"16" desc:"timesteps per sequence window"`
	ExplSteps   int     `def:"20000" desc:"steps over which exploration decays"`
	ExplInitial float32 `def:"0.4" desc:"initial exploration amount"`
	ExplFinal   float32 `def:"0.05" desc:"final exploration amount"`
	RndSeed     int64   `desc:"random seed"`

	Trainer *agent.Trainer `view:"-" desc:"owns the optimized components"`
	Player  *rssm.Player   `view:"-" desc:"live-rollout stepper"`
	Buffer  *replay.Buffer `view:"-" desc:"experience store"`
	TrnLog  *etable.Table  `view:"no-inline" desc:"per-episode training log"`

	creator anyvec.Creator
	rng     *rand.Rand
}

func (ss *Sim) Defaults() {
	ss.Env.Defaults()
	ss.WM.Defaults()
	ss.Policy.Defaults()
	ss.Train.Defaults()
	ss.Replay.Defaults()

	ss.WM.Hidden = 64
	ss.WM.RSSM.Recurrent = 64
	ss.WM.RSSM.Hidden = 64
	ss.WM.RSSM.Embed = 32
	ss.WM.RSSM.State.Size = 16
	ss.Policy.Hidden = 64

	ss.TotalSteps = 50000
	ss.WarmupSteps = 1000
	ss.TrainEvery = 5
	ss.BatchSize = 16
	ss.SeqLen = 16
	ss.ExplSteps = 20000
	ss.ExplInitial = 0.4
	ss.ExplFinal = 0.05
	ss.RndSeed = 1
}

// Config builds everything from the current settings.
func (ss *Sim) Config() error {
	ss.creator = anyvec32.CurrentCreator()
	ss.rng = rand.New(rand.NewSource(ss.RndSeed))

	if err := ss.Env.Validate(); err != nil {
		return err
	}
	ss.Env.Init(0)

	ss.WM.Obs = ss.Env.ObsSize()
	ss.WM.RSSM.Action = int(GridActionsN)
	wm, err := agent.NewWorldModel(ss.creator, ss.WM)
	if err != nil {
		return essentials.AddCtx("config", err)
	}
	actor, err := policy.NewActor(ss.creator, wm.RSSM.LatentSize(), ss.Policy,
		policy.OneHot{Count: int(GridActionsN)})
	if err != nil {
		return essentials.AddCtx("config", err)
	}
	critic, err := policy.NewCritic(ss.creator, wm.RSSM.LatentSize(), ss.Policy)
	if err != nil {
		return essentials.AddCtx("config", err)
	}
	ss.Trainer, err = agent.NewTrainer(ss.creator, ss.Train, wm, actor, critic)
	if err != nil {
		return essentials.AddCtx("config", err)
	}

	ss.Replay.Obs = ss.Env.ObsSize()
	ss.Replay.Action = int(GridActionsN)
	ss.Buffer, err = replay.New(ss.Replay)
	if err != nil {
		return essentials.AddCtx("config", err)
	}

	ss.Player = &rssm.Player{
		Model: wm.RSSM,
		Actor: func(latent anydiff.Res, batch int) anyvec.Vector {
			return actor.Space.Sample(actor.Params(latent, batch).Output(), batch)
		},
	}

	ss.TrnLog = &etable.Table{}
	ss.ConfigTrnLog(ss.TrnLog)
	return nil
}

func (ss *Sim) ConfigTrnLog(dt *etable.Table) {
	dt.SetMetaData("name", "TrnLog")
	dt.SetMetaData("desc", "Record of performance per training episode")
	dt.SetMetaData("read-only", "true")
	dt.SetMetaData("precision", strconv.Itoa(LogPrec))
	sch := etable.Schema{
		{Name: "Episode", Type: etensor.INT64},
		{Name: "EnvSteps", Type: etensor.INT64},
		{Name: "Return", Type: etensor.FLOAT64},
		{Name: "Length", Type: etensor.FLOAT64},
		{Name: "Expl", Type: etensor.FLOAT64},
		{Name: "WMLoss", Type: etensor.FLOAT64},
		{Name: "KL", Type: etensor.FLOAT64},
		{Name: "ActorLoss", Type: etensor.FLOAT64},
		{Name: "CriticLoss", Type: etensor.FLOAT64},
	}
	dt.SetFromSchema(sch, 0)
}

func (ss *Sim) LogEpisode(episode, envSteps, length int, ret float64, m *agent.Metrics) {
	dt := ss.TrnLog
	row := dt.Rows
	dt.SetNumRows(row + 1)
	dt.SetCellFloat("Episode", row, float64(episode))
	dt.SetCellFloat("EnvSteps", row, float64(envSteps))
	dt.SetCellFloat("Return", row, ret)
	dt.SetCellFloat("Length", row, float64(length))
	dt.SetCellFloat("Expl", row, float64(ss.Player.ExplAmount))
	if m != nil {
		dt.SetCellFloat("WMLoss", row, m.WMLoss)
		dt.SetCellFloat("KL", row, m.KL)
		dt.SetCellFloat("ActorLoss", row, m.ActorLoss)
		dt.SetCellFloat("CriticLoss", row, m.CriticLoss)
	}
}

// embed encodes one observation for the live stepper.
func (ss *Sim) embed(obs []float32) anyvec.Vector {
	vals := make([]float64, len(obs))
	for i, v := range obs {
		vals[i] = float64(v)
	}
	in := anydiff.NewConst(dists.MakeVec(ss.creator, vals))
	return ss.Trainer.WM.Embed(in, 1).Output()
}

// randomAction draws a uniform one-hot action row.
func (ss *Sim) randomAction() []float32 {
	act := make([]float32, int(GridActionsN))
	act[ss.rng.Intn(len(act))] = 1
	return act
}

func argmax(vals []float32) int {
	best := 0
	for i, v := range vals {
		if v > vals[best] {
			best = i
		}
	}
	return best
}

// Run executes the full training loop.
func (ss *Sim) Run() error {
	zeroAct := make([]float32, int(GridActionsN))
	obs := ss.Env.Reset(ss.rng)
	ss.Buffer.Add(0, obs, zeroAct, 0, false, true)
	state := ss.Trainer.WM.RSSM.InitState(1)

	episode := 0
	epRet := 0.0
	epLen := 0
	var lastMetrics *agent.Metrics

	for step := 1; step <= ss.TotalSteps; step++ {
		var act []float32
		if step < ss.WarmupSteps {
			act = ss.randomAction()
		} else {
			ss.Player.ExplAmount = rssm.PolynomialDecay(
				step-ss.WarmupSteps, ss.ExplSteps, ss.ExplInitial, ss.ExplFinal)
			var av anyvec.Vector
			state, av = ss.Player.Step(state, ss.embed(obs), ss.rng)
			vals := dists.VecVals(av)
			act = make([]float32, len(vals))
			for i, v := range vals {
				act[i] = float32(v)
			}
		}

		nextObs, reward, done := ss.Env.Act(GridActions(argmax(act)))
		ss.Buffer.Add(0, nextObs, act, reward, done, false)
		obs = nextObs
		epRet += float64(reward)
		epLen++

		if done {
			episode++
			ss.LogEpisode(episode, step, epLen, epRet, lastMetrics)
			if episode%50 == 0 {
				recent := etable.NewIdxView(ss.TrnLog)
				fmt.Printf("episode %d  step %d  mean return %.3f\n",
					episode, step, agg.Mean(recent, "Return")[0])
			}
			obs = ss.Env.Reset(ss.rng)
			ss.Buffer.Add(0, obs, zeroAct, 0, false, true)
			state.Reset()
			epRet, epLen = 0, 0
		}

		if step >= ss.WarmupSteps && step%ss.TrainEvery == 0 &&
			ss.Buffer.Len(0) >= ss.SeqLen {
			seqs, err := ss.Buffer.Sample(ss.rng, ss.BatchSize, ss.SeqLen)
			if err != nil {
				return essentials.AddCtx("run", err)
			}
			m, err := ss.Trainer.TrainStep(agent.BatchFrom(ss.creator, seqs), ss.rng)
			if err != nil {
				return essentials.AddCtx("run", err)
			}
			if m.Skipped {
				log.Printf("step %d: skipped a non-finite gradient update", step)
			}
			lastMetrics = m
		}
	}
	return nil
}

// SaveLog writes the training log as tab-separated values.
func (ss *Sim) SaveLog(fnm string) error {
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	return ss.TrnLog.WriteCSV(f, etable.Tab, etable.Headers)
}

func main() {
	ss := &Sim{}
	ss.Defaults()

	var logFile string
	flag.IntVar(&ss.TotalSteps, "steps", ss.TotalSteps, "total environment steps")
	flag.IntVar(&ss.WarmupSteps, "warmup", ss.WarmupSteps, "random-action steps before training")
	flag.Int64Var(&ss.RndSeed, "seed", ss.RndSeed, "random seed")
	flag.IntVar(&ss.Env.Size.X, "width", ss.Env.Size.X, "grid width")
	flag.IntVar(&ss.Env.Size.Y, "height", ss.Env.Size.Y, "grid height")
	flag.StringVar(&logFile, "log", "dreamer_trn.tsv", "training log file, empty disables")
	flag.Parse()

	if err := ss.Config(); err != nil {
		log.Fatal(err)
	}
	if err := ss.Run(); err != nil {
		log.Fatal(err)
	}
	if logFile != "" {
		if err := ss.SaveLog(logFile); err != nil {
			log.Fatal(err)
		}
	}
}
