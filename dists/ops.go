// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dists

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// VecVals extracts the contents of a vector as a float64 slice,
// regardless of the creator's numeric type.
func VecVals(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float64:
		return append([]float64{}, data...)
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	default:
		panic("dists: unsupported numeric type")
	}
}

// MakeVec builds a vector from float64 values using the given creator.
func MakeVec(c anyvec.Creator, vals []float64) anyvec.Vector {
	return c.MakeVectorData(c.MakeNumericList(vals))
}

// Detach returns a constant copy of r, cutting the gradient path.
func Detach(r anydiff.Res) anydiff.Res {
	return anydiff.NewConst(r.Output().Copy())
}

// Mean averages all components of r into a single-component result.
func Mean(r anydiff.Res) anydiff.Res {
	c := r.Output().Creator()
	n := r.Output().Len()
	return anydiff.Scale(anydiff.Sum(r), c.MakeNumeric(1/float64(n)))
}

// RowSums sums each row of a batch-major result, producing one
// component per batch element.
func RowSums(r anydiff.Res, batch int) anydiff.Res {
	if r.Output().Len()%batch != 0 {
		panic("dists: row size is not divisible by batch")
	}
	m := &anydiff.Matrix{Data: r, Rows: batch, Cols: r.Output().Len() / batch}
	return anydiff.SumCols(m)
}

// Softplus computes log(1+exp(r)) as -logsigmoid(-r).
func Softplus(r anydiff.Res) anydiff.Res {
	c := r.Output().Creator()
	neg := c.MakeNumeric(-1)
	return anydiff.Scale(anydiff.LogSigmoid(anydiff.Scale(r, neg)), neg)
}

// Reciprocal computes 1/r for strictly positive r.
func Reciprocal(r anydiff.Res) anydiff.Res {
	c := r.Output().Creator()
	return anydiff.Pow(r, c.MakeNumeric(-1))
}

// Floor clamps every component of r to be at least min.
// Gradients pass through unchanged where the input is above the
// floor, and are zeroed where the floor is active.
func Floor(r anydiff.Res, min float64) anydiff.Res {
	c := r.Output().Creator()
	floor := make([]float64, r.Output().Len())
	for i := range floor {
		floor[i] = min
	}
	return anydiff.ElemMax(r, anydiff.NewConst(MakeVec(c, floor)))
}

// Log computes the natural logarithm of each component of a strictly
// positive result.
func Log(r anydiff.Res) anydiff.Res {
	vals := VecVals(r.Output())
	out := make([]float64, len(vals))
	deriv := make([]float64, len(vals))
	for i, x := range vals {
		out[i] = math.Log(x)
		deriv[i] = 1 / x
	}
	c := r.Output().Creator()
	return &logRes{
		In:    r,
		Out:   MakeVec(c, out),
		Deriv: MakeVec(c, deriv),
	}
}

type logRes struct {
	In    anydiff.Res
	Out   anyvec.Vector
	Deriv anyvec.Vector
}

func (l *logRes) Output() anyvec.Vector {
	return l.Out
}

func (l *logRes) Vars() anydiff.VarSet {
	return l.In.Vars()
}

func (l *logRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	u.Mul(l.Deriv)
	l.In.Propagate(u, g)
}

// StraightThrough produces the hard sample as its output while
// routing gradients to the soft probabilities, so that sampling
// stays differentiable.
func StraightThrough(probs anydiff.Res, sample anyvec.Vector) anydiff.Res {
	if probs.Output().Len() != sample.Len() {
		panic("dists: sample size does not match probabilities")
	}
	return &straightThroughRes{Probs: probs, Out: sample}
}

type straightThroughRes struct {
	Probs anydiff.Res
	Out   anyvec.Vector
}

func (s *straightThroughRes) Output() anyvec.Vector {
	return s.Out
}

func (s *straightThroughRes) Vars() anydiff.VarSet {
	return s.Probs.Vars()
}

func (s *straightThroughRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	s.Probs.Propagate(u, g)
}

// ConcatCols joins batch-major results along the feature dimension,
// so that each row of the output is the concatenation of the
// corresponding rows of the inputs.
func ConcatCols(batch int, parts ...anydiff.Res) anydiff.Res {
	if len(parts) == 1 {
		return parts[0]
	}
	sizes := make([]int, len(parts))
	total := 0
	for i, p := range parts {
		if p.Output().Len()%batch != 0 {
			panic("dists: part size is not divisible by batch")
		}
		sizes[i] = p.Output().Len() / batch
		total += sizes[i]
	}
	c := parts[0].Output().Creator()
	out := make([]float64, batch*total)
	off := 0
	for i, p := range parts {
		vals := VecVals(p.Output())
		for b := 0; b < batch; b++ {
			copy(out[b*total+off:b*total+off+sizes[i]], vals[b*sizes[i]:(b+1)*sizes[i]])
		}
		off += sizes[i]
	}
	vars := anydiff.VarSet{}
	for _, p := range parts {
		vars = anydiff.MergeVarSets(vars, p.Vars())
	}
	return &concatColsRes{
		Parts: parts,
		Sizes: sizes,
		Batch: batch,
		Total: total,
		Out:   MakeVec(c, out),
		V:     vars,
	}
}

type concatColsRes struct {
	Parts []anydiff.Res
	Sizes []int
	Batch int
	Total int
	Out   anyvec.Vector
	V     anydiff.VarSet
}

func (r *concatColsRes) Output() anyvec.Vector {
	return r.Out
}

func (r *concatColsRes) Vars() anydiff.VarSet {
	return r.V
}

func (r *concatColsRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	uVals := VecVals(u)
	c := u.Creator()
	off := 0
	for i, p := range r.Parts {
		if g.Intersects(p.Vars()) {
			part := make([]float64, r.Batch*r.Sizes[i])
			for b := 0; b < r.Batch; b++ {
				copy(part[b*r.Sizes[i]:(b+1)*r.Sizes[i]], uVals[b*r.Total+off:b*r.Total+off+r.Sizes[i]])
			}
			p.Propagate(MakeVec(c, part), g)
		}
		off += r.Sizes[i]
	}
}

// SliceCols extracts columns [start:end) from every row of a
// batch-major result.
func SliceCols(r anydiff.Res, batch, start, end int) anydiff.Res {
	if r.Output().Len()%batch != 0 {
		panic("dists: size is not divisible by batch")
	}
	cols := r.Output().Len() / batch
	if start < 0 || end > cols || start >= end {
		panic("dists: column slice out of range")
	}
	vals := VecVals(r.Output())
	out := make([]float64, batch*(end-start))
	for b := 0; b < batch; b++ {
		copy(out[b*(end-start):(b+1)*(end-start)], vals[b*cols+start:b*cols+end])
	}
	c := r.Output().Creator()
	return &sliceColsRes{
		In:    r,
		Batch: batch,
		Cols:  cols,
		Start: start,
		End:   end,
		Out:   MakeVec(c, out),
	}
}

type sliceColsRes struct {
	In    anydiff.Res
	Batch int
	Cols  int
	Start int
	End   int
	Out   anyvec.Vector
}

func (r *sliceColsRes) Output() anyvec.Vector {
	return r.Out
}

func (r *sliceColsRes) Vars() anydiff.VarSet {
	return r.In.Vars()
}

func (r *sliceColsRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	uVals := VecVals(u)
	width := r.End - r.Start
	full := make([]float64, r.Batch*r.Cols)
	for b := 0; b < r.Batch; b++ {
		copy(full[b*r.Cols+r.Start:b*r.Cols+r.End], uVals[b*width:(b+1)*width])
	}
	r.In.Propagate(MakeVec(u.Creator(), full), g)
}
