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
	"strings"
)

// Fusion is a kernel being lowered. It owns every statement of the kernel
// in an arena indexed by StmtID; passes allocate their output statements in
// the same arena.
type Fusion struct {
	// Name is the kernel name.
	Name string

	// Tensors are the buffers the kernel indexes, in declaration order.
	Tensors []*Tensor

	// Exprs is the top-level statement sequence.
	Exprs []StmtID

	// multiples records symbolic extents known to be multiples of a value.
	multiples map[string]int64

	stmts   []*Stmt
	lowered bool
}

// NewFusion creates an empty Fusion.
func NewFusion(name string) *Fusion {
	return &Fusion{
		Name:      name,
		multiples: make(map[string]int64),
	}
}

// AddTensor declares a tensor and returns it.
func (f *Fusion) AddTensor(name, elemType string, dims ...Dim) *Tensor {
	t := &Tensor{Name: name, ElemType: elemType, Dims: dims}
	f.Tensors = append(f.Tensors, t)
	return t
}

// Tensor returns the tensor with the given name, or nil.
func (f *Fusion) Tensor(name string) *Tensor {
	for _, t := range f.Tensors {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// AssumeMultiple records that symbolic extent sym is a multiple of m.
func (f *Fusion) AssumeMultiple(sym string, m int64) {
	f.multiples[sym] = m
}

// Multiple returns the known multiple of sym, or 0 if none was recorded.
func (f *Fusion) Multiple(sym string) int64 {
	return f.multiples[sym]
}

// Symbols returns the symbolic extents referenced by tensor dimensions.
func (f *Fusion) Symbols() []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range f.Tensors {
		for _, d := range t.Dims {
			if d.Extent.IsSym() && !seen[d.Extent.Name] {
				seen[d.Extent.Name] = true
				out = append(out, d.Extent.Name)
			}
		}
	}
	return out
}

// Stmt returns the statement with the given ID, or nil if out of range.
func (f *Fusion) Stmt(id StmtID) *Stmt {
	if id < 0 || int(id) >= len(f.stmts) {
		return nil
	}
	return f.stmts[id]
}

// NumStmts returns the number of statements allocated in the arena.
func (f *Fusion) NumStmts() int {
	return len(f.stmts)
}

// Append adds statements to the top-level sequence.
func (f *Fusion) Append(ids ...StmtID) {
	f.Exprs = append(f.Exprs, ids...)
}

func (f *Fusion) alloc(s *Stmt) StmtID {
	s.ID = StmtID(len(f.stmts))
	if s.Origin == NoStmt {
		s.Origin = s.ID
	}
	f.stmts = append(f.stmts, s)
	return s.ID
}

// NewLoop allocates a ForLoop over axis.
func (f *Fusion) NewLoop(axis *Axis, body ...StmtID) StmtID {
	return f.alloc(&Stmt{Kind: StmtKindFor, Origin: NoStmt, Axis: axis, Body: body})
}

// NewUnrolledLoop allocates a ForLoop over axis marked for unrolling.
func (f *Fusion) NewUnrolledLoop(axis *Axis, body ...StmtID) StmtID {
	return f.alloc(&Stmt{Kind: StmtKindFor, Origin: NoStmt, Axis: axis, Unrolled: true, Body: body})
}

// NewIf allocates an IfThenElse. els may be empty.
func (f *Fusion) NewIf(pred *Predicate, then, els []StmtID) StmtID {
	return f.alloc(&Stmt{Kind: StmtKindIf, Origin: NoStmt, Pred: pred, Then: then, Else: els})
}

// NewCompute allocates a compute statement out = value.
func (f *Fusion) NewCompute(out Access, value *Expr) StmtID {
	return f.alloc(&Stmt{Kind: StmtKindCompute, Origin: NoStmt, Out: out, Value: value})
}

// derive allocates a shallow copy of the statement id with edit applied.
// The copy keeps the origin of id.
func (f *Fusion) derive(id StmtID, edit func(*Stmt)) StmtID {
	orig := f.Stmt(id)
	cp := *orig
	cp.Body = append([]StmtID(nil), orig.Body...)
	cp.Then = append([]StmtID(nil), orig.Then...)
	cp.Else = append([]StmtID(nil), orig.Else...)
	edit(&cp)
	return f.alloc(&cp)
}

// withChildren derives a copy of id with new child lists.
func (f *Fusion) withChildren(id StmtID, children [][]StmtID) StmtID {
	return f.derive(id, func(s *Stmt) {
		switch s.Kind {
		case StmtKindFor:
			s.Body = children[0]
		case StmtKindIf:
			s.Then, s.Else = children[0], children[1]
		}
	})
}

// CloneNest deep-copies the statement id and all of its descendants. The
// copies keep the origins of the statements they were cloned from.
func (f *Fusion) CloneNest(id StmtID) StmtID {
	s := f.Stmt(id)
	kids := s.Children()
	if kids == nil {
		return f.derive(id, func(*Stmt) {})
	}
	cloned := make([][]StmtID, len(kids))
	for i, list := range kids {
		cloned[i] = f.cloneList(list)
	}
	return f.withChildren(id, cloned)
}

func (f *Fusion) cloneList(ids []StmtID) []StmtID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]StmtID, len(ids))
	for i, id := range ids {
		out[i] = f.CloneNest(id)
	}
	return out
}

// Walk visits every statement reachable from ids in program order. visit
// receives the enclosing loops of each statement; returning false skips the
// statement's children.
func (f *Fusion) Walk(ids []StmtID, visit func(s *Stmt, loops []*Stmt) bool) {
	var walk func([]StmtID, []*Stmt)
	walk = func(list []StmtID, loops []*Stmt) {
		for _, id := range list {
			s := f.Stmt(id)
			if !visit(s, loops) {
				continue
			}
			inner := loops
			if s.IsLoop() {
				inner = append(loops[:len(loops):len(loops)], s)
			}
			for _, kids := range s.Children() {
				walk(kids, inner)
			}
		}
	}
	walk(ids, nil)
}

// Reachable returns the set of statement IDs reachable from ids.
func (f *Fusion) Reachable(ids []StmtID) map[StmtID]bool {
	seen := make(map[StmtID]bool)
	f.Walk(ids, func(s *Stmt, _ []*Stmt) bool {
		seen[s.ID] = true
		return true
	})
	return seen
}

// String returns a debug string representation of the Fusion.
func (f *Fusion) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Fusion{Name:%s Tensors:[", f.Name)
	for i, t := range f.Tensors {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(t.Name)
	}
	fmt.Fprintf(&sb, "] Exprs:%d Stmts:%d}", len(f.Exprs), len(f.stmts))
	return sb.String()
}
