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
	"maps"
	"slices"
	"strings"
)

// maxEvents bounds the size of a Trace.
const maxEvents = 1 << 22

// Event is one execution of a compute statement.
type Event struct {
	// Origin is the original statement the executed statement derives from.
	Origin StmtID

	// Index is the concrete output access, e.g. "T0[8][3]".
	Index string

	// InBounds is false if any access of the statement left its tensor.
	InBounds bool
}

// Trace is the ordered record of compute statements executed by Execute.
type Trace struct {
	Events []Event
}

// OutOfBounds returns the events that accessed a tensor out of bounds.
func (t *Trace) OutOfBounds() []Event {
	var out []Event
	for _, e := range t.Events {
		if !e.InBounds {
			out = append(out, e)
		}
	}
	return out
}

// InBounds returns the events that stayed within every tensor.
func (t *Trace) InBounds() []Event {
	var out []Event
	for _, e := range t.Events {
		if e.InBounds {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many times statements derived from origin executed.
func (t *Trace) Count(origin StmtID) int {
	n := 0
	for _, e := range t.Events {
		if e.Origin == origin {
			n++
		}
	}
	return n
}

// Execute interprets exprs with the symbolic extents bound by bindings and
// records every compute statement executed. Loops bound to block and thread
// dimensions form a launch grid, its largest extent per dimension; the grid
// is iterated outside the program and each such loop runs its body once, for
// the current grid index, when that index is below the loop's extent.
func Execute(f *Fusion, exprs []StmtID, bindings map[string]int64) (*Trace, error) {
	x := &executor{fusion: f, env: maps.Clone(bindings), trace: &Trace{}}
	if x.env == nil {
		x.env = make(map[string]int64)
	}
	grid, err := x.launchGrid(exprs)
	if err != nil {
		return nil, err
	}
	if err := x.runGrid(grid, exprs); err != nil {
		return nil, err
	}
	return x.trace, nil
}

type executor struct {
	fusion *Fusion
	env    map[string]int64
	trace  *Trace
}

// launchDim is one block or thread dimension of the launch grid.
type launchDim struct {
	extent int64
	vars   []string
}

// launchGrid collects the block and thread dimensions used by exprs,
// outermost (blockIdx.x) first.
func (x *executor) launchGrid(exprs []StmtID) ([]launchDim, error) {
	dims := make(map[ParallelType]*launchDim)
	var err error
	x.fusion.Walk(exprs, func(s *Stmt, _ []*Stmt) bool {
		if err != nil {
			return false
		}
		if !s.IsLoop() || !s.Axis.Parallel.IsThread() {
			return true
		}
		n, evalErr := s.Axis.Extent.Eval(x.env)
		if evalErr != nil {
			err = fmt.Errorf("stmt %d: launch extent of %s: %w", s.ID, s.Axis, evalErr)
			return false
		}
		d, ok := dims[s.Axis.Parallel]
		if !ok {
			d = &launchDim{}
			dims[s.Axis.Parallel] = d
		}
		d.extent = max(d.extent, n)
		if !slices.Contains(d.vars, s.Axis.Var) {
			d.vars = append(d.vars, s.Axis.Var)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	var grid []launchDim
	for p := BlockX; p <= ThreadZ; p++ {
		if d, ok := dims[p]; ok {
			grid = append(grid, *d)
		}
	}
	return grid, nil
}

func (x *executor) runGrid(grid []launchDim, exprs []StmtID) error {
	if len(grid) == 0 {
		return x.runList(exprs)
	}
	d := grid[0]
	for v := int64(0); v < d.extent; v++ {
		for _, name := range d.vars {
			x.env[name] = v
		}
		if err := x.runGrid(grid[1:], exprs); err != nil {
			return err
		}
	}
	return nil
}

func (x *executor) runList(ids []StmtID) error {
	for _, id := range ids {
		if err := x.run(x.fusion.Stmt(id)); err != nil {
			return err
		}
	}
	return nil
}

func (x *executor) run(s *Stmt) error {
	switch s.Kind {
	case StmtKindFor:
		n, err := s.Axis.Extent.Eval(x.env)
		if err != nil {
			return fmt.Errorf("stmt %d: extent of %s: %w", s.ID, s.Axis, err)
		}
		if s.Axis.Parallel.IsThread() {
			if x.env[s.Axis.Var] < n {
				return x.runList(s.Body)
			}
			return nil
		}
		for v := int64(0); v < n; v++ {
			x.env[s.Axis.Var] = v
			if err := x.runList(s.Body); err != nil {
				return err
			}
		}
		delete(x.env, s.Axis.Var)
		return nil
	case StmtKindIf:
		c, err := s.Pred.Expr().Eval(x.env)
		if err != nil {
			return fmt.Errorf("stmt %d: predicate %s: %w", s.ID, s.Pred, err)
		}
		if c != 0 {
			return x.runList(s.Then)
		}
		return x.runList(s.Else)
	case StmtKindCompute:
		return x.compute(s)
	}
	return fmt.Errorf("stmt %d: unknown kind %s", s.ID, s.Kind)
}

func (x *executor) compute(s *Stmt) error {
	if len(x.trace.Events) >= maxEvents {
		return fmt.Errorf("trace exceeds %d events", maxEvents)
	}
	ev := Event{Origin: s.Origin, InBounds: true}
	for i, a := range s.Accesses() {
		idx, ok, err := x.evalAccess(a)
		if err != nil {
			return fmt.Errorf("stmt %d: %w", s.ID, err)
		}
		if !ok {
			ev.InBounds = false
		}
		if i == 0 {
			ev.Index = idx
		}
	}
	x.trace.Events = append(x.trace.Events, ev)
	return nil
}

// evalAccess renders the concrete access and reports whether it is in bounds.
func (x *executor) evalAccess(a Access) (string, bool, error) {
	t := x.fusion.Tensor(a.Tensor)
	if t == nil {
		return "", false, fmt.Errorf("unknown tensor %s", a.Tensor)
	}
	if len(t.Dims) != len(a.Index) {
		return "", false, fmt.Errorf("tensor %s has %d dims, indexed with %d", t.Name, len(t.Dims), len(a.Index))
	}
	var sb strings.Builder
	sb.WriteString(a.Tensor)
	in := true
	for i, e := range a.Index {
		v, err := e.Eval(x.env)
		if err != nil {
			return "", false, fmt.Errorf("index %s of %s: %w", e, a.Tensor, err)
		}
		n, err := t.Dims[i].Extent.Eval(x.env)
		if err != nil {
			return "", false, fmt.Errorf("extent of %s dim %d: %w", a.Tensor, i, err)
		}
		if v < 0 || v >= n {
			in = false
		}
		fmt.Fprintf(&sb, "[%d]", v)
	}
	return sb.String(), in, nil
}

// VerifyLowering executes original and lowered under bindings and checks
// that lowered runs exactly the in-bounds compute events of original, in the
// same order, and nothing out of bounds.
func VerifyLowering(f *Fusion, original, lowered []StmtID, bindings map[string]int64) error {
	want, err := Execute(f, original, bindings)
	if err != nil {
		return fmt.Errorf("execute original: %w", err)
	}
	got, err := Execute(f, lowered, bindings)
	if err != nil {
		return fmt.Errorf("execute lowered: %w", err)
	}
	if oob := got.OutOfBounds(); len(oob) > 0 {
		return fmt.Errorf("lowered kernel executes stmt %d out of bounds at %s (%d events)",
			oob[0].Origin, oob[0].Index, len(oob))
	}
	wantEvents := want.InBounds()
	if len(wantEvents) != len(got.Events) {
		return fmt.Errorf("lowered kernel executes %d compute events, want %d", len(got.Events), len(wantEvents))
	}
	for i := range wantEvents {
		if wantEvents[i] != got.Events[i] {
			return fmt.Errorf("event %d: lowered executes stmt %d at %s, want stmt %d at %s",
				i, got.Events[i].Origin, got.Events[i].Index, wantEvents[i].Origin, wantEvents[i].Index)
		}
	}
	return nil
}
