// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ir

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/xyproto/env/v2"
)

// debugOut receives the trace enabled by DEBUG_UNROLL.
var debugOut io.Writer = os.Stderr

// debugPrint traces the unroll pass when DEBUG_UNROLL is set. The variable is
// looked up on each call so it can be toggled at run time.
func debugPrint(format string, args ...any) {
	if env.Bool("DEBUG_UNROLL") {
		fmt.Fprintf(debugOut, "[unroll] "+format+"\n", args...)
	}
}

// UnrollPass adds every bounds predicate a kernel needs and splits loops
// marked for unrolling, so it has to run even when nothing is unrolled.
//
// Given
//
//	for( i : I0o{ceilDiv(I0, 4)} )
//	  for( j : I1o{ceilDiv(I1, 128)} )
//	    for( k : I0i{4} )            // unrolled
//	      for( l : I1i{128} )
//	        T0[i*4+k][j*128+l] = ...
//
// it produces
//
//	for( i : I0o{ceilDiv(I0, 4)} )
//	  for( j : I1o{ceilDiv(I1, 128)} )
//	    if( i*4+3 < I0 && j*128+127 < I1 ) {
//	      for( k : I0i{4} )
//	        for( l : I1i{128} )
//	          T0[i*4+k][j*128+l] = ...
//	    } else {
//	      for( k : I0i{4} )
//	        for( l : I1i{128} )
//	          if( i*4+k < I0 && j*128+l < I1 )
//	            T0[i*4+k][j*128+l] = ...
//	    }
//
// The first copy runs whole tiles without per-element checks; the second
// covers the edges. Loops nested in a split loop are copied into both
// branches and never split again.
type UnrollPass struct {
	fusion       *Fusion
	axes         AxisOracle
	domains      DomainOracle
	synth        *Synthesizer
	replacements *ReplacementMap
	stats        PassStats
}

// PassStats summarizes what a pass run emitted.
type PassStats struct {
	// Loops is the number of loops visited outside fallback branches.
	Loops int

	// Guards is the number of single-branch guards emitted.
	Guards int

	// Splits is the number of unrolled loops split on a tile predicate.
	Splits int

	// OmittedElse is the number of splits emitted without a fallback.
	OmittedElse int

	// FastOnly is the number of unrolled loops needing no predicate.
	FastOnly int

	// FallbackOnly is the number of unrolled loops whose tile predicate is
	// always false, emitted as the fallback alone.
	FallbackOnly int
}

// PassOption configures an UnrollPass.
type PassOption func(*UnrollPass)

// WithAxisOracle replaces the default LaunchOracle.
func WithAxisOracle(o AxisOracle) PassOption {
	return func(p *UnrollPass) {
		p.axes = o
	}
}

// WithDomainOracle replaces the default TensorDomains oracle.
func WithDomainOracle(o DomainOracle) PassOption {
	return func(p *UnrollPass) {
		p.domains = o
	}
}

// NewUnrollPass creates an unroll pass over f.
func NewUnrollPass(f *Fusion, opts ...PassOption) *UnrollPass {
	p := &UnrollPass{
		fusion:       f,
		replacements: NewReplacementMap(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.domains == nil {
		p.domains = NewTensorDomains(f)
	}
	if p.axes == nil {
		p.axes = NewLaunchOracle(f, p.domains)
	}
	p.synth = NewSynthesizer(f, p.axes, p.domains)
	return p
}

// RunPass runs the unroll pass over exprs, the top-level statements of f,
// and returns the rewritten sequence. It may be called once per Fusion.
func RunPass(f *Fusion, exprs []StmtID, opts ...PassOption) ([]StmtID, error) {
	p := NewUnrollPass(f, opts...)
	if err := p.Run(exprs); err != nil {
		return nil, err
	}
	return p.Replacements().Apply(f, exprs)
}

// Run builds the replacement map for exprs.
func (p *UnrollPass) Run(exprs []StmtID) error {
	if p.fusion.lowered {
		return contractf(NoStmt, "", "unroll pass already ran on fusion %s", p.fusion.Name)
	}
	p.fusion.lowered = true

	if err := ValidateNest(p.fusion, exprs); err != nil {
		return fmt.Errorf("unroll %s: %w", p.fusion.Name, err)
	}
	ctx := loopNest{lookForUnroll: true}
	for _, id := range exprs {
		if _, err := p.handle(id, ctx); err != nil {
			return fmt.Errorf("unroll %s: %w", p.fusion.Name, err)
		}
	}
	debugPrint("%s: %d replacements, stats %+v", p.fusion.Name, p.replacements.Len(), p.stats)
	return nil
}

// Replacements returns the replacement map built by Run.
func (p *UnrollPass) Replacements() *ReplacementMap {
	return p.replacements
}

// Stats returns what Run emitted.
func (p *UnrollPass) Stats() PassStats {
	return p.stats
}

// loopNest is the traversal context handed down the recursion.
type loopNest struct {
	// forLoops are the enclosing loops, outermost first.
	forLoops []*Stmt

	// lookForUnroll is false inside an unrolled loop already handled.
	lookForUnroll bool

	// inline is set while building a fallback branch: bounds conditions
	// are collected in pending and applied around compute statements.
	inline  bool
	pending []Cond
}

func (n loopNest) enter(fl *Stmt) loopNest {
	n.forLoops = appendLoop(n.forLoops, fl)
	return n
}

// lowered is the result of handling one statement.
type lowered struct {
	id StmtID

	// nonTrivial records whether a non-trivial predicate was emitted
	// anywhere in the statement.
	nonTrivial bool
}

func (p *UnrollPass) handle(id StmtID, ctx loopNest) (lowered, error) {
	s := p.fusion.Stmt(id)
	switch s.Kind {
	case StmtKindFor:
		if s.Unrolled && ctx.lookForUnroll {
			return p.handleUnroll(s, ctx)
		}
		return p.handleLoop(s, ctx)
	case StmtKindIf:
		return p.handleIf(s, ctx)
	}
	// Predicates are attached at loop granularity; handleBody guards
	// compute statements of fallback branches.
	return lowered{id: id}, nil
}

// handleLoop lowers a loop that is not split: its body is guarded once by
// the loop's own predicate, or left bare when that predicate is trivial.
func (p *UnrollPass) handleLoop(fl *Stmt, ctx loopNest) (lowered, error) {
	if !ctx.inline {
		p.stats.Loops++
	}
	pred, err := p.synth.LoopPredicate(ctx.forLoops, fl)
	if err != nil {
		return lowered{}, err
	}

	inner := ctx.enter(fl)
	if ctx.inline {
		inner.pending = append(slices.Clone(ctx.pending), pred.Conds...)
	}
	body, changed, nonTrivial, err := p.handleBody(fl.Body, inner)
	if err != nil {
		return lowered{}, err
	}
	if !ctx.inline && !pred.IsTrivial() {
		body = []StmtID{p.fusion.NewIf(pred, body, nil)}
		changed, nonTrivial = true, true
		p.stats.Guards++
	}
	if !changed {
		return lowered{id: fl.ID, nonTrivial: nonTrivial}, nil
	}
	id := p.fusion.withChildren(fl.ID, [][]StmtID{body})
	if err := p.record(fl.ID, id, ctx); err != nil {
		return lowered{}, err
	}
	return lowered{id: id, nonTrivial: nonTrivial}, nil
}

// handleUnroll splits the outermost unrolled loop of a chain.
func (p *UnrollPass) handleUnroll(fl *Stmt, ctx loopNest) (lowered, error) {
	p.stats.Loops++
	tile, err := p.synth.TilePredicate(ctx.forLoops, fl)
	if err != nil {
		return lowered{}, err
	}
	if tile.IsTrivial() {
		// Every tile is full: the fast path alone is the whole loop.
		p.stats.FastOnly++
		debugPrint("stmt %d %s: trivial tile predicate, fast path only", fl.ID, fl.Axis)
		return lowered{id: fl.ID}, nil
	}

	fallbackCtx := loopNest{
		forLoops:      ctx.forLoops,
		lookForUnroll: false,
		inline:        true,
	}
	fallback, err := p.handleLoop(fl, fallbackCtx)
	if err != nil {
		return lowered{}, err
	}
	if !fallback.nonTrivial {
		p.stats.FastOnly++
		debugPrint("stmt %d %s: no per-iteration predicate, fast path only", fl.ID, fl.Axis)
		return lowered{id: fl.ID}, nil
	}
	if v, ok := tile.Expr().ConstValue(); ok && v == 0 {
		// No tile is ever full: the fast path would be dead code.
		p.stats.FallbackOnly++
		debugPrint("stmt %d %s: tile predicate always false, fallback only", fl.ID, fl.Axis)
		if err := p.record(fl.ID, fallback.id, ctx); err != nil {
			return lowered{}, err
		}
		return lowered{id: fallback.id, nonTrivial: true}, nil
	}

	fast := p.fusion.CloneNest(fl.ID)
	var els []StmtID
	if p.canOmitElseClause(fl, tile) {
		p.stats.OmittedElse++
	} else {
		els = []StmtID{fallback.id}
	}
	ite := p.fusion.NewIf(tile, []StmtID{fast}, els)
	p.stats.Splits++
	debugPrint("stmt %d %s: split on %s (else: %v)", fl.ID, fl.Axis, tile, len(els) > 0)

	if err := p.record(fl.ID, ite, ctx); err != nil {
		return lowered{}, err
	}
	return lowered{id: ite, nonTrivial: true}, nil
}

// canOmitElseClause reports whether the fallback branch of a split of fl
// would be dead code. That holds when the tile predicate is trivial (no
// partial tile exists) and when every loop of the nest has extent 1, is
// bound to a block or thread dimension, or is vectorized: the tile predicate
// is then exactly the per-iteration predicate.
func (p *UnrollPass) canOmitElseClause(fl *Stmt, tile *Predicate) bool {
	if tile.IsTrivial() {
		return true
	}
	exact := true
	p.fusion.Walk([]StmtID{fl.ID}, func(s *Stmt, _ []*Stmt) bool {
		if !exact || !s.IsLoop() {
			return exact
		}
		a := s.Axis
		if a.Parallel.IsThread() || a.Parallel == Vectorize {
			return true
		}
		if n, ok := a.Extent.ConstValue(); ok && n == 1 {
			return true
		}
		exact = false
		return false
	})
	return exact
}

func (p *UnrollPass) handleIf(s *Stmt, ctx loopNest) (lowered, error) {
	then, thenChanged, thenPred, err := p.handleBody(s.Then, ctx)
	if err != nil {
		return lowered{}, err
	}
	els, elseChanged, elsePred, err := p.handleBody(s.Else, ctx)
	if err != nil {
		return lowered{}, err
	}
	nonTrivial := thenPred || elsePred
	if !thenChanged && !elseChanged {
		return lowered{id: s.ID, nonTrivial: nonTrivial}, nil
	}
	id := p.fusion.withChildren(s.ID, [][]StmtID{then, els})
	if err := p.record(s.ID, id, ctx); err != nil {
		return lowered{}, err
	}
	return lowered{id: id, nonTrivial: nonTrivial}, nil
}

// handleBody lowers a statement list. In a fallback branch every run of
// consecutive compute statements is wrapped in one guard of the pending
// per-iteration predicate.
func (p *UnrollPass) handleBody(ids []StmtID, ctx loopNest) (out []StmtID, changed, nonTrivial bool, err error) {
	var guard *Predicate
	if ctx.inline {
		guard = NewPredicate(ctx.pending...)
	}
	var run []StmtID
	flush := func() {
		if len(run) == 0 {
			return
		}
		if guard.IsTrivial() {
			out = append(out, run...)
		} else {
			out = append(out, p.fusion.NewIf(guard, run, nil))
			changed, nonTrivial = true, true
			p.stats.Guards++
		}
		run = nil
	}

	for _, id := range ids {
		if p.fusion.Stmt(id).Kind == StmtKindCompute {
			run = append(run, id)
			continue
		}
		flush()
		r, err := p.handle(id, ctx)
		if err != nil {
			return nil, false, false, err
		}
		out = append(out, r.id)
		changed = changed || r.id != id
		nonTrivial = nonTrivial || r.nonTrivial
	}
	flush()
	if !changed {
		return ids, false, nonTrivial, nil
	}
	return out, true, nonTrivial, nil
}

// record notes a replacement. Fallback branches are built from fresh
// statements and never enter the map.
func (p *UnrollPass) record(old, repl StmtID, ctx loopNest) error {
	if ctx.inline {
		return nil
	}
	return p.replacements.Record(old, repl)
}
