// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package agent

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyrl"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"

	"github.com/RPL-CS-UCL/sheeprl/dists"
	"github.com/RPL-CS-UCL/sheeprl/policy"
	"github.com/RPL-CS-UCL/sheeprl/returns"
)

// TrainConfig holds the optimization hyperparameters.
type TrainConfig struct {
	WMLr        float32 `def:"3e-4" desc:"world-model learning rate"`
	ActorLr     float32 `def:"8e-5" desc:"actor learning rate"`
	CriticLr    float32 `def:"8e-5" desc:"critic learning rate"`
	ClipNorm    float32 `def:"100" desc:"global gradient-norm clip, 0 disables"`
	Horizon     int     `def:"15" desc:"imagination horizon"`
	TargetEvery int     `def:"100" desc:"updates between target-critic syncs"`
	Returns     returns.Config
}

func (c *TrainConfig) Defaults() {
	c.WMLr = 3e-4
	c.ActorLr = 8e-5
	c.CriticLr = 8e-5
	c.ClipNorm = 100
	c.Horizon = 15
	c.TargetEvery = 100
	c.Returns.Defaults()
}

func (c *TrainConfig) Validate() error {
	if c.WMLr <= 0 || c.ActorLr <= 0 || c.CriticLr <= 0 {
		return fmt.Errorf("agent: learning rates must be positive")
	}
	if c.ClipNorm < 0 {
		return fmt.Errorf("agent: clip norm must be non-negative, got %g", c.ClipNorm)
	}
	if c.Horizon < 2 {
		return fmt.Errorf("agent: imagination horizon must be at least 2, got %d", c.Horizon)
	}
	if c.TargetEvery <= 0 {
		return fmt.Errorf("agent: target sync interval must be positive, got %d", c.TargetEvery)
	}
	return c.Returns.Validate()
}

// Trainer owns the three optimized components and their Adam state.
// The target critic is a frozen copy refreshed every TargetEvery
// updates.
type Trainer struct {
	Cfg TrainConfig

	WM     *WorldModel
	Actor  *policy.Actor
	Critic *policy.Critic
	Target *policy.Critic

	wmAdam     *anysgd.Adam
	actorAdam  *anysgd.Adam
	criticAdam *anysgd.Adam

	creator anyvec.Creator
	updates int
}

// NewTrainer wires the components together and clones the target
// critic from the online one.
func NewTrainer(c anyvec.Creator, cfg TrainConfig, wm *WorldModel, actor *policy.Actor, critic *policy.Critic) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, essentials.AddCtx("new trainer", err)
	}
	return &Trainer{
		Cfg:        cfg,
		WM:         wm,
		Actor:      actor,
		Critic:     critic,
		Target:     critic.Clone(c),
		wmAdam:     &anysgd.Adam{},
		actorAdam:  &anysgd.Adam{},
		criticAdam: &anysgd.Adam{},
		creator:    c,
	}, nil
}

// Metrics are the detached diagnostics of one training step.
type Metrics struct {
	WMLoss     float64
	Recon      float64
	RewardLoss float64
	ContLoss   float64
	KL         float64

	ActorLoss  float64
	CriticLoss float64

	WMGradNorm     float64
	ActorGradNorm  float64
	CriticGradNorm float64

	Skipped bool
}

// TrainStep runs one full update: dynamic learning on the real batch,
// then behaviour learning inside an imagined rollout seeded from every
// filtered posterior state.  A non-finite loss or gradient skips the
// offending update and reports it instead of poisoning the weights.
func (tr *Trainer) TrainStep(b *Batch, rng *rand.Rand) (*Metrics, error) {
	m := &Metrics{}

	// Dynamic learning.
	res := tr.WM.Loss(b, rng)
	m.Recon, m.RewardLoss, m.ContLoss, m.KL = res.Recon, res.RewardL, res.ContL, res.KL
	norm, ok := tr.applyUpdate(res.Loss, tr.WM.Parameters(), tr.wmAdam, tr.Cfg.WMLr)
	m.WMGradNorm = norm
	if v, fin := returns.FiniteScalar(res.Loss); !fin {
		return m, fmt.Errorf("train step: world-model loss is not finite (%g)", v)
	} else {
		m.WMLoss = v
	}
	m.Skipped = m.Skipped || !ok

	// Behaviour learning.  Every posterior state of the window seeds
	// one imagined trajectory; the seeds are plain constants so no
	// gradient leaks back into the model update above.
	imBatch := b.T * b.B
	seedStoch := flatten(tr.creator, res.Seq.PostSamples)
	seedRec := flatten(tr.creator, res.Seq.Recurrents)

	traj, err := tr.WM.RSSM.Imagine(seedStoch, seedRec, tr.Cfg.Horizon,
		func(latent anydiff.Res, batch int) anydiff.Res {
			return tr.Actor.Act(latent, batch, rng)
		}, imBatch, rng)
	if err != nil {
		return m, essentials.AddCtx("train step", err)
	}
	H := traj.Horizon

	gamma := tr.creator.MakeNumeric(float64(tr.Cfg.Returns.Gamma))
	rewards := make([]anydiff.Res, H)
	values := make([]anydiff.Res, H)
	continues := make([]anydiff.Res, H)
	for t := 0; t < H; t++ {
		rewards[t] = tr.WM.RewardPred(traj.Latents[t], imBatch)
		values[t] = tr.Target.Value(traj.Latents[t], imBatch)
		continues[t] = anydiff.Scale(tr.WM.ContinuePred(traj.Latents[t], imBatch), gamma)
	}
	bootstrap := tr.Target.Value(traj.Latents[H], imBatch)

	lambdaVals := returns.LambdaValues(rewards, values, continues, bootstrap, tr.Cfg.Returns.Lambda)
	discounts := returns.DiscountWeights(continues)

	// Actor update.
	logProbs := make([]anydiff.Res, H-1)
	var entropies []anydiff.Res
	entropyer, hasEntropy := tr.Actor.Space.(anyrl.Entropyer)
	if hasEntropy {
		entropies = make([]anydiff.Res, H-1)
	}
	for t := 1; t < H; t++ {
		params := tr.Actor.Params(dists.Detach(traj.Latents[t-1]), imBatch)
		logProbs[t-1] = tr.Actor.Space.LogProb(params, traj.Actions[t].Output(), imBatch)
		if hasEntropy {
			entropies[t-1] = entropyer.Entropy(params, imBatch)
		}
	}
	baselines := make([]anydiff.Res, H-1)
	for t := 0; t < H-1; t++ {
		baselines[t] = dists.Detach(values[t])
	}
	actorLoss := returns.ActorLoss(returns.ActorInputs{
		LogProbs:     logProbs,
		Entropies:    entropies,
		LambdaValues: lambdaVals,
		Baselines:    baselines,
		Discounts:    discounts,
		Mix:          tr.Cfg.Returns.Mix,
		EntropyCoef:  tr.Cfg.Returns.EntropyCoef,
	})
	norm, ok = tr.applyUpdate(actorLoss, tr.Actor.Parameters(), tr.actorAdam, tr.Cfg.ActorLr)
	m.ActorGradNorm = norm
	if v, fin := returns.FiniteScalar(actorLoss); !fin {
		return m, fmt.Errorf("train step: actor loss is not finite (%g)", v)
	} else {
		m.ActorLoss = v
	}
	m.Skipped = m.Skipped || !ok

	// Critic update on detached imagined states.
	predicted := make([]anydiff.Res, H)
	for t := 0; t < H; t++ {
		predicted[t] = tr.Critic.Value(dists.Detach(traj.Latents[t]), imBatch)
	}
	criticLoss := returns.CriticLoss(predicted, lambdaVals, discounts)
	norm, ok = tr.applyUpdate(criticLoss, tr.Critic.Parameters(), tr.criticAdam, tr.Cfg.CriticLr)
	m.CriticGradNorm = norm
	if v, fin := returns.FiniteScalar(criticLoss); !fin {
		return m, fmt.Errorf("train step: critic loss is not finite (%g)", v)
	} else {
		m.CriticLoss = v
	}
	m.Skipped = m.Skipped || !ok

	tr.updates++
	if tr.updates%tr.Cfg.TargetEvery == 0 {
		tr.Critic.SyncTo(tr.Target)
	}
	return m, nil
}

// applyUpdate backpropagates a scalar loss into the given parameters,
// clips the global gradient norm, and applies one Adam step.  A
// non-finite gradient skips the step and reports ok=false.
func (tr *Trainer) applyUpdate(loss anydiff.Res, params []*anydiff.Var, adam *anysgd.Adam, lr float32) (norm float64, ok bool) {
	c := tr.creator
	grad := anydiff.NewGrad(params...)
	loss.Propagate(dists.MakeVec(c, []float64{1}), grad)

	var sq float64
	for _, v := range grad {
		for _, x := range dists.VecVals(v) {
			sq += x * x
		}
	}
	norm = math.Sqrt(sq)
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		return norm, false
	}
	if tr.Cfg.ClipNorm > 0 && norm > float64(tr.Cfg.ClipNorm) {
		grad.Scale(c.MakeNumeric(float64(tr.Cfg.ClipNorm) / norm))
	}
	grad = adam.Transform(grad)
	grad.Scale(c.MakeNumeric(-float64(lr)))
	grad.AddToVars()
	return norm, true
}

// flatten stacks a sequence of batch-major rows into one large batch
// as a plain constant, cutting every gradient path to the inputs.
func flatten(c anyvec.Creator, parts []anydiff.Res) anydiff.Res {
	var all []float64
	for _, p := range parts {
		all = append(all, dists.VecVals(p.Output())...)
	}
	return anydiff.NewConst(dists.MakeVec(c, all))
}
