// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package agent

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"

	"github.com/RPL-CS-UCL/sheeprl/dists"
	"github.com/RPL-CS-UCL/sheeprl/replay"
)

// BatchFrom converts a sampled replay window into the constant
// per-timestep rows the world model trains on.
func BatchFrom(c anyvec.Creator, s *replay.Sequences) *Batch {
	rows := func(vals []float32, t, stride int) anydiff.Res {
		seg := vals[t*s.B*stride : (t+1)*s.B*stride]
		out := make([]float64, len(seg))
		for i, v := range seg {
			out[i] = float64(v)
		}
		return anydiff.NewConst(dists.MakeVec(c, out))
	}
	b := &Batch{T: s.T, B: s.B, IsFirst: s.IsFirst}
	obs := s.Obs.Dim(2)
	action := s.Actions.Dim(2)
	for t := 0; t < s.T; t++ {
		b.Obs = append(b.Obs, rows(s.Obs.Values, t, obs))
		b.Actions = append(b.Actions, rows(s.Actions.Values, t, action))
		b.Rewards = append(b.Rewards, rows(s.Rewards.Values, t, 1))
		b.Continues = append(b.Continues, rows(s.Continues.Values, t, 1))
	}
	return b
}
