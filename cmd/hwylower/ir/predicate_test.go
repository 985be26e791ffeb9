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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPredicateCanonicalSet(t *testing.T) {
	i := Cond{Domain: "I0", Index: Var("i"), Extent: Sym("N")}
	j := Cond{Domain: "I1", Index: Var("j"), Extent: Const(8)}
	always := Cond{Domain: "I2", Index: Const(3), Extent: Const(8)}

	p := NewPredicate(i, j, i, always)
	if diff := cmp.Diff([]string{"i < N", "j < 8"}, p.Keys()); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}
	if !p.Equal(NewPredicate(j, i)) {
		t.Errorf("%s should equal its reordering", p)
	}
	if p.Equal(NewPredicate(i)) {
		t.Errorf("%s should differ from i < N", p)
	}
	if got, want := p.String(), "i < N && j < 8"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := p.Expr().String(), "i < N && j < 8"; got != want {
		t.Errorf("Expr() = %q, want %q", got, want)
	}

	if !NewPredicate(always).IsTrivial() {
		t.Error("a predicate of always-true conditions should be trivial")
	}
	var nilPred *Predicate
	if !nilPred.IsTrivial() || nilPred.String() != "true" {
		t.Error("nil predicate should be trivial")
	}
	if !nilPred.And(NewPredicate(i)).Equal(NewPredicate(i)) {
		t.Error("nil && p should equal p")
	}
}

// nest builds loops over the given axes, innermost around a compute
// statement indexing every domain, and returns the loops outermost first.
func nest(f *Fusion, unrolled map[string]bool, axes ...*Axis) []*Stmt {
	domains := make(map[string]*Expr)
	var order []string
	for _, a := range axes {
		term := Mul(Var(a.Var), Const(a.Stride))
		if prev, ok := domains[a.Domain]; ok {
			domains[a.Domain] = Add(prev, term)
		} else {
			domains[a.Domain] = term
			order = append(order, a.Domain)
		}
	}
	var idx []*Expr
	for _, d := range order {
		idx = append(idx, domains[d])
	}
	id := f.NewCompute(Access{Tensor: "T0", Index: idx}, Lit("0"))
	loops := make([]*Stmt, len(axes))
	for i := len(axes) - 1; i >= 0; i-- {
		if unrolled[axes[i].Name] {
			id = f.NewUnrolledLoop(axes[i], id)
		} else {
			id = f.NewLoop(axes[i], id)
		}
		loops[i] = f.Stmt(id)
	}
	f.Append(id)
	return loops
}

func TestSynthesizerTilePredicate(t *testing.T) {
	f := NewFusion("tile")
	f.AddTensor("T0", "float32", Dim{"I0", Sym("N")}, Dim{"I1", Const(100)})
	io, ii := SplitAxis("io", "ii", "I0", Sym("N"), 4)
	jo, ji := SplitAxis("jo", "ji", "I1", Const(100), 32)
	loops := nest(f, map[string]bool{"I0i": true}, io, jo, ii, ji)

	domains := NewTensorDomains(f)
	s := NewSynthesizer(f, NewLaunchOracle(f, domains), domains)

	tile, err := s.TilePredicate(loops[:2], loops[2])
	if err != nil {
		t.Fatalf("TilePredicate: %v", err)
	}
	want := []string{"io * 4 + 3 < N", "jo * 32 + 31 < 100"}
	if diff := cmp.Diff(want, tile.Keys()); diff != "" {
		t.Errorf("tile predicate mismatch (-want +got):\n%s", diff)
	}

	// Per-iteration predicates: I0 completes at ii, I1 at ji.
	tests := []struct {
		loop int
		want []string
	}{
		{0, nil},
		{1, nil},
		{2, []string{"io * 4 + ii < N"}},
		{3, []string{"jo * 32 + ji < 100"}},
	}
	for _, tt := range tests {
		p, err := s.LoopPredicate(loops[:tt.loop], loops[tt.loop])
		if err != nil {
			t.Fatalf("LoopPredicate(%s): %v", loops[tt.loop].Axis, err)
		}
		if diff := cmp.Diff(tt.want, p.Keys()); diff != "" {
			t.Errorf("LoopPredicate(%s) mismatch (-want +got):\n%s", loops[tt.loop].Axis, diff)
		}
	}
}

func TestLaunchOracleNeedsCheck(t *testing.T) {
	tests := []struct {
		name     string
		extent   *Expr
		multiple int64
		axes     func(extent *Expr) []*Axis
		want     bool
	}{
		{
			name:   "whole constant",
			extent: Const(10),
			axes:   func(e *Expr) []*Axis { return []*Axis{WholeAxis("i", "I0", e)} },
			want:   false,
		},
		{
			name:   "whole symbolic",
			extent: Sym("N"),
			axes:   func(e *Expr) []*Axis { return []*Axis{WholeAxis("i", "I0", e)} },
			want:   false,
		},
		{
			name:   "uneven constant split",
			extent: Const(10),
			axes:   splitAxes(4),
			want:   true,
		},
		{
			name:   "even constant split",
			extent: Const(12),
			axes:   splitAxes(4),
			want:   false,
		},
		{
			name:   "symbolic split",
			extent: Sym("N"),
			axes:   splitAxes(4),
			want:   true,
		},
		{
			name:     "symbolic split of a multiple",
			extent:   Sym("N"),
			multiple: 8,
			axes:     splitAxes(4),
			want:     false,
		},
		{
			name:     "symbolic split of a non-multiple",
			extent:   Sym("N"),
			multiple: 6,
			axes:     splitAxes(4),
			want:     true,
		},
		{
			name:   "oversized constant loop",
			extent: Const(10),
			axes:   func(*Expr) []*Axis { return []*Axis{WholeAxis("i", "I0", Const(16))} },
			want:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFusion("oracle")
			f.AddTensor("T0", "float32", Dim{"I0", tt.extent})
			if tt.multiple > 0 {
				f.AssumeMultiple("N", tt.multiple)
			}
			loops := nest(f, nil, tt.axes(tt.extent)...)
			inner := loops[len(loops)-1]
			o := NewLaunchOracle(f, NewTensorDomains(f))
			got, err := o.NeedsCheck(inner.Axis, loops)
			if err != nil {
				t.Fatalf("NeedsCheck: %v", err)
			}
			if got != tt.want {
				t.Errorf("NeedsCheck = %v, want %v", got, tt.want)
			}
		})
	}
}

func splitAxes(factor int64) func(*Expr) []*Axis {
	return func(extent *Expr) []*Axis {
		outer, inner := SplitAxis("io", "ii", "I0", extent, factor)
		return []*Axis{outer, inner}
	}
}

func TestTensorDomainsScope(t *testing.T) {
	f := NewFusion("domains")
	f.AddTensor("A", "float32", Dim{"I0", Sym("N")})
	f.AddTensor("B", "float32", Dim{"I0", Sym("N")})
	f.AddTensor("C", "float32", Dim{"I0", Sym("M")})
	a := f.NewLoop(WholeAxis("i", "I0", Sym("N")),
		f.NewCompute(Access{Tensor: "A", Index: []*Expr{Var("i")}}, Load("B", Var("i"))))
	c := f.NewLoop(WholeAxis("k", "I0", Sym("M")),
		f.NewCompute(Access{Tensor: "C", Index: []*Expr{Var("k")}}, Lit("0")))
	f.Append(a, c)

	d := NewTensorDomains(f)
	got, err := d.DomainExtent("I0", f.Stmt(a))
	if err != nil || !got.Equal(Sym("N")) {
		t.Errorf("DomainExtent(I0, a) = %v, %v; want N", got, err)
	}
	got, err = d.DomainExtent("I0", f.Stmt(c))
	if err != nil || !got.Equal(Sym("M")) {
		t.Errorf("DomainExtent(I0, c) = %v, %v; want M", got, err)
	}
	// Unscoped, the tensors disagree.
	if _, err := d.DomainExtent("I0", nil); err == nil {
		t.Error("DomainExtent(I0, nil) should report the N/M mismatch")
	}
}
