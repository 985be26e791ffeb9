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

// Package ir provides the kernel intermediate representation for tensor
// loop nests and the lowering passes that run over it, most importantly the
// unroll pass that inserts bounds predicates and splits unrolled loops into
// a fast path and a predicated fallback.
package ir

import (
	"fmt"
	"strings"
)

// ParallelType says which hardware dimension, if any, a loop axis maps to.
type ParallelType int

const (
	// Serial axes are iterated by an ordinary loop.
	Serial ParallelType = iota

	// Vectorize axes are executed as one vector access.
	Vectorize

	BlockX
	BlockY
	BlockZ
	ThreadX
	ThreadY
	ThreadZ
)

// String returns the CUDA-style binding name for the ParallelType.
func (p ParallelType) String() string {
	switch p {
	case Serial:
		return "serial"
	case Vectorize:
		return "vectorize"
	case BlockX:
		return "blockIdx.x"
	case BlockY:
		return "blockIdx.y"
	case BlockZ:
		return "blockIdx.z"
	case ThreadX:
		return "threadIdx.x"
	case ThreadY:
		return "threadIdx.y"
	case ThreadZ:
		return "threadIdx.z"
	default:
		return fmt.Sprintf("ParallelType(%d)", p)
	}
}

// IsThread reports whether p is a block or thread dimension.
func (p ParallelType) IsThread() bool {
	return p >= BlockX && p <= ThreadZ
}

// ParseParallelType parses names produced by ParallelType.String.
func ParseParallelType(s string) (ParallelType, error) {
	for p := Serial; p <= ThreadZ; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return Serial, fmt.Errorf("unknown parallel type %q", s)
}

// Axis is one iteration dimension of a loop nest. A logical tensor domain
// (e.g. I0) is iterated by one or more axes whose index variables combine
// into the domain index as the sum of Var*Stride; a domain split by 4 has an
// outer axis with Stride 4 and extent ceilDiv(I0, 4) and an inner axis with
// Stride 1 and extent 4.
type Axis struct {
	// Name identifies the axis in diagnostics (e.g. "I0o").
	Name string

	// Var is the loop index variable.
	Var string

	// Domain is the logical tensor domain this axis iterates.
	Domain string

	// Stride is the coefficient of Var in the domain index.
	Stride int64

	// Extent is the loop trip count.
	Extent *Expr

	// Parallel is the hardware binding of the axis.
	Parallel ParallelType
}

// String returns a debug representation such as "I0o{ceilDiv(I0, 4)}".
func (a *Axis) String() string {
	s := fmt.Sprintf("%s{%s}", a.Name, a.Extent)
	if a.Parallel != Serial {
		s += "(" + a.Parallel.String() + ")"
	}
	return s
}

// WholeAxis returns an axis iterating all of domain with index variable v.
func WholeAxis(v, domain string, extent *Expr) *Axis {
	return &Axis{Name: domain, Var: v, Domain: domain, Stride: 1, Extent: extent}
}

// SplitAxis splits domain by factor into an outer axis (index outerVar,
// extent ceilDiv(extent, factor)) and an inner axis (index innerVar,
// extent factor).
func SplitAxis(outerVar, innerVar, domain string, extent *Expr, factor int64) (outer, inner *Axis) {
	outer = &Axis{
		Name:   domain + "o",
		Var:    outerVar,
		Domain: domain,
		Stride: factor,
		Extent: CeilDiv(extent, Const(factor)),
	}
	inner = &Axis{
		Name:   domain + "i",
		Var:    innerVar,
		Domain: domain,
		Stride: 1,
		Extent: Const(factor),
	}
	return outer, inner
}

// Dim is one dimension of a tensor: the logical domain it corresponds to
// and the extent this tensor declares for it.
type Dim struct {
	Domain string
	Extent *Expr
}

// Tensor is a named multi-dimensional buffer indexed by the kernel.
type Tensor struct {
	Name     string
	ElemType string
	Dims     []Dim
}

// Access is an indexed reference to a tensor.
type Access struct {
	Tensor string
	Index  []*Expr
}

// String renders the access as T[i][j].
func (a Access) String() string {
	return Load(a.Tensor, a.Index...).String()
}

// StmtID indexes a statement in its Fusion's arena.
type StmtID int

// NoStmt is the zero value for absent statements.
const NoStmt StmtID = -1

// StmtKind tags the variant held by a Stmt.
type StmtKind int

const (
	// StmtKindFor is a loop over Axis with Body.
	StmtKindFor StmtKind = iota

	// StmtKindIf guards Then (and optionally Else) with Pred.
	StmtKindIf

	// StmtKindCompute is any non-loop computation, e.g. Out = Value.
	StmtKindCompute
)

// String returns a human-readable name for the StmtKind.
func (k StmtKind) String() string {
	switch k {
	case StmtKindFor:
		return "For"
	case StmtKindIf:
		return "If"
	case StmtKindCompute:
		return "Compute"
	default:
		return fmt.Sprintf("StmtKind(%d)", k)
	}
}

// Stmt is a node of the kernel IR. Statements are owned by a Fusion and
// never modified after construction; passes build new statements instead.
type Stmt struct {
	// ID is the arena index of this statement.
	ID StmtID

	// Kind selects which of the fields below are meaningful.
	Kind StmtKind

	// Origin is the ID of the statement this one was derived from by a
	// pass. Original statements are their own origin.
	Origin StmtID

	// ---- StmtKindFor ----

	Axis     *Axis
	Unrolled bool
	Body     []StmtID

	// ---- StmtKindIf ----

	Pred *Predicate
	Then []StmtID
	Else []StmtID

	// ---- StmtKindCompute ----

	Out   Access
	Value *Expr
}

// IsLoop reports whether s is a ForLoop.
func (s *Stmt) IsLoop() bool {
	return s.Kind == StmtKindFor
}

// Children returns every child statement list of s.
func (s *Stmt) Children() [][]StmtID {
	switch s.Kind {
	case StmtKindFor:
		return [][]StmtID{s.Body}
	case StmtKindIf:
		return [][]StmtID{s.Then, s.Else}
	}
	return nil
}

// Accesses returns every tensor access in a compute statement, output first.
func (s *Stmt) Accesses() []Access {
	if s.Kind != StmtKindCompute {
		return nil
	}
	out := []Access{s.Out}
	var walk func(*Expr)
	walk = func(e *Expr) {
		if e == nil {
			return
		}
		if e.Kind == ExprLoad {
			out = append(out, Access{Tensor: e.Name, Index: e.Args})
		}
		for _, a := range e.Args {
			walk(a)
		}
	}
	walk(s.Value)
	return out
}

// String returns a debug representation of the statement header.
func (s *Stmt) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Stmt{ID:%d Kind:%s", s.ID, s.Kind)
	if s.Origin != s.ID {
		fmt.Fprintf(&sb, " Origin:%d", s.Origin)
	}
	switch s.Kind {
	case StmtKindFor:
		fmt.Fprintf(&sb, " Axis:%s", s.Axis)
		if s.Unrolled {
			sb.WriteString(" Unrolled")
		}
		fmt.Fprintf(&sb, " Body:%v", s.Body)
	case StmtKindIf:
		fmt.Fprintf(&sb, " Pred:%s Then:%v", s.Pred, s.Then)
		if len(s.Else) > 0 {
			fmt.Fprintf(&sb, " Else:%v", s.Else)
		}
	case StmtKindCompute:
		fmt.Fprintf(&sb, " %s = %s", s.Out, s.Value)
	}
	sb.WriteString("}")
	return sb.String()
}
