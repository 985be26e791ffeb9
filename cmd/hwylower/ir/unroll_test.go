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
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xyproto/env/v2"
)

// splitKernel builds
//
//	for io < ceilDiv(extent, factor)
//	  for ii < factor      // unrolled
//	    T0[io*factor+ii] = T1[io*factor+ii] * 2.0
func splitKernel(extent *Expr, factor int64) (*Fusion, StmtID) {
	f := NewFusion("scale")
	f.AddTensor("T0", "float32", Dim{Domain: "I0", Extent: extent})
	f.AddTensor("T1", "float32", Dim{Domain: "I0", Extent: extent})
	outer, inner := SplitAxis("io", "ii", "I0", extent, factor)
	idx := Add(Mul(Var("io"), Const(factor)), Var("ii"))
	c := f.NewCompute(Access{Tensor: "T0", Index: []*Expr{idx}}, Binary("*", Load("T1", idx), Lit("2.0")))
	f.Append(f.NewLoop(outer, f.NewUnrolledLoop(inner, c)))
	return f, c
}

// countKind counts the statements of kind reachable from ids.
func countKind(f *Fusion, ids []StmtID, kind StmtKind) int {
	n := 0
	f.Walk(ids, func(s *Stmt, _ []*Stmt) bool {
		if s.Kind == kind {
			n++
		}
		return true
	})
	return n
}

func TestUnrollSplitsPartialTile(t *testing.T) {
	f, c := splitKernel(Const(10), 4)
	p := NewUnrollPass(f)
	if err := p.Run(f.Exprs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out, err := p.Replacements().Apply(f, f.Exprs)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	want := `for (long io = 0; io < 3; io++) {
	if (io * 4 + 3 < 10) {
		#pragma unroll
		for (long ii = 0; ii < 4; ii++) {
			T0[io * 4 + ii] = T1[io * 4 + ii] * 2.0;
		}
	} else {
		#pragma unroll
		for (long ii = 0; ii < 4; ii++) {
			if (io * 4 + ii < 10) {
				T0[io * 4 + ii] = T1[io * 4 + ii] * 2.0;
			}
		}
	}
}
`
	if diff := cmp.Diff(want, NewEmitter(f).EmitStmts(out)); diff != "" {
		t.Errorf("lowered kernel mismatch (-want +got):\n%s", diff)
	}

	want2 := PassStats{Loops: 2, Guards: 1, Splits: 1}
	if diff := cmp.Diff(want2, p.Stats()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	trace, err := Execute(f, out, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := trace.Count(c); got != 10 {
		t.Errorf("compute ran %d times, want 10", got)
	}
	if oob := trace.OutOfBounds(); len(oob) != 0 {
		t.Errorf("out-of-bounds events: %v", oob)
	}
	if err := VerifyLowering(f, f.Exprs, out, nil); err != nil {
		t.Error(err)
	}
}

func TestUnrollOmitsFallbackForFullTiles(t *testing.T) {
	f, c := splitKernel(Const(8), 4)
	p := NewUnrollPass(f)
	if err := p.Run(f.Exprs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := p.Replacements().Len(); n != 0 {
		t.Errorf("replacements = %d, want 0", n)
	}
	out, err := p.Replacements().Apply(f, f.Exprs)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if diff := cmp.Diff(f.Exprs, out); diff != "" {
		t.Errorf("top-level sequence changed (-want +got):\n%s", diff)
	}
	if n := countKind(f, out, StmtKindIf); n != 0 {
		t.Errorf("found %d if statements, want 0", n)
	}
	if got := p.Stats().FastOnly; got != 1 {
		t.Errorf("FastOnly = %d, want 1", got)
	}
	trace, err := Execute(f, out, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := trace.Count(c); got != 8 {
		t.Errorf("compute ran %d times, want 8", got)
	}
}

func TestUnrollPreservesIterations(t *testing.T) {
	for _, factor := range []int64{1, 2, 3, 4, 8} {
		for n := int64(1); n <= 20; n++ {
			t.Run(fmt.Sprintf("const/%d/%d", factor, n), func(t *testing.T) {
				f, c := splitKernel(Const(n), factor)
				out, err := RunPass(f, f.Exprs)
				if err != nil {
					t.Fatalf("RunPass: %v", err)
				}
				checkLowering(t, f, c, out, nil, n)
				hasElse := false
				f.Walk(out, func(s *Stmt, _ []*Stmt) bool {
					hasElse = hasElse || len(s.Else) > 0
					return true
				})
				if divisible := n%factor == 0; hasElse == divisible {
					t.Errorf("extent %d factor %d: fallback present = %v", n, factor, hasElse)
				}
			})
		}
	}

	// A symbolic extent is lowered once and must hold for every binding.
	f, c := splitKernel(Sym("N"), 4)
	out, err := RunPass(f, f.Exprs)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if n := countKind(f, out, StmtKindIf); n != 2 {
		t.Errorf("symbolic extent: %d if statements, want 2", n)
	}
	for n := int64(0); n <= 20; n++ {
		checkLowering(t, f, c, out, map[string]int64{"N": n}, n)
	}
}

func checkLowering(t *testing.T, f *Fusion, c StmtID, out []StmtID, bindings map[string]int64, want int64) {
	t.Helper()
	if err := VerifyLowering(f, f.Exprs, out, bindings); err != nil {
		t.Errorf("bindings %v: %v", bindings, err)
		return
	}
	trace, err := Execute(f, out, bindings)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := trace.Count(c); int64(got) != want {
		t.Errorf("bindings %v: compute ran %d times, want %d", bindings, got, want)
	}
}

func TestUnrollTileNeverFull(t *testing.T) {
	// Unrolling the outer loop puts the partial tile in every unrolled
	// instance: 2*4+3 < 10 is false, so only the fallback is emitted.
	f := NewFusion("outer")
	f.AddTensor("T0", "float32", Dim{Domain: "I0", Extent: Const(10)})
	outer, inner := SplitAxis("io", "ii", "I0", Const(10), 4)
	idx := Add(Mul(Var("io"), Const(4)), Var("ii"))
	c := f.NewCompute(Access{Tensor: "T0", Index: []*Expr{idx}}, Lit("0"))
	f.Append(f.NewUnrolledLoop(outer, f.NewLoop(inner, c)))

	p := NewUnrollPass(f)
	if err := p.Run(f.Exprs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out, err := p.Replacements().Apply(f, f.Exprs)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got := NewEmitter(f).EmitStmts(out)
	if strings.Contains(got, "if (0)") {
		t.Errorf("constant false tile predicate emitted:\n%s", got)
	}
	if !strings.Contains(got, "if (io * 4 + ii < 10) {") {
		t.Errorf("fallback guard missing:\n%s", got)
	}
	if n := countKind(f, out, StmtKindFor); n != 2 {
		t.Errorf("%d loops emitted, want 2 (no fast path copy):\n%s", n, got)
	}
	if n := countKind(f, out, StmtKindIf); n != 1 {
		t.Errorf("%d checks emitted, want 1:\n%s", n, got)
	}
	if s := p.Stats(); s.Splits != 0 || s.FallbackOnly != 1 {
		t.Errorf("stats = %+v, want one fallback-only loop", s)
	}
	checkLowering(t, f, c, out, nil, 10)
}

func TestUnrollSymbolicMultiple(t *testing.T) {
	tests := []struct {
		multiple int64
		wantIfs  int
	}{
		{0, 2},
		{2, 2}, // 2 is not a multiple of the split factor
		{4, 0},
		{16, 0},
		{6, 2},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.multiple), func(t *testing.T) {
			f, c := splitKernel(Sym("N"), 4)
			if tt.multiple > 0 {
				f.AssumeMultiple("N", tt.multiple)
			}
			out, err := RunPass(f, f.Exprs)
			if err != nil {
				t.Fatalf("RunPass: %v", err)
			}
			if n := countKind(f, out, StmtKindIf); n != tt.wantIfs {
				t.Errorf("%d if statements, want %d", n, tt.wantIfs)
			}
			n := max(tt.multiple, 1) * 3
			checkLowering(t, f, c, out, map[string]int64{"N": n}, n)
		})
	}
}

func TestUnrollPassThrough(t *testing.T) {
	f := NewFusion("copy")
	f.AddTensor("T0", "float32", Dim{"I0", Const(16)}, Dim{"I1", Sym("M")})
	f.AddTensor("T1", "float32", Dim{"I0", Const(16)}, Dim{"I1", Sym("M")})
	idx := []*Expr{Var("i"), Var("j")}
	c := f.NewCompute(Access{Tensor: "T0", Index: idx}, Load("T1", idx...))
	inner := f.NewLoop(WholeAxis("j", "I1", Sym("M")), c)
	outer := f.NewLoop(WholeAxis("i", "I0", Const(16)), inner)
	f.Append(outer)
	before := f.NumStmts()

	p := NewUnrollPass(f)
	if err := p.Run(f.Exprs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := p.Replacements().Len(); n != 0 {
		t.Errorf("replacements = %d, want 0", n)
	}
	out, err := p.Replacements().Apply(f, f.Exprs)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if diff := cmp.Diff([]StmtID{outer}, out); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if f.NumStmts() != before {
		t.Errorf("pass allocated %d statements, want 0", f.NumStmts()-before)
	}
	if got := p.Stats(); got.Guards != 0 || got.Splits != 0 || got.Loops != 2 {
		t.Errorf("stats = %+v", got)
	}
}

func TestUnrollGuardsNonUnrolledLoop(t *testing.T) {
	f := NewFusion("guard")
	f.AddTensor("T0", "float32", Dim{"I0", Sym("N")})
	outer, inner := SplitAxis("io", "ii", "I0", Sym("N"), 4)
	idx := Add(Mul(Var("io"), Const(4)), Var("ii"))
	c := f.NewCompute(Access{Tensor: "T0", Index: []*Expr{idx}}, Lit("0"))
	f.Append(f.NewLoop(outer, f.NewLoop(inner, c)))

	p := NewUnrollPass(f)
	if err := p.Run(f.Exprs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out, err := p.Replacements().Apply(f, f.Exprs)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := `for (long io = 0; io < ceilDiv(N, 4); io++) {
	for (long ii = 0; ii < 4; ii++) {
		if (io * 4 + ii < N) {
			T0[io * 4 + ii] = 0;
		}
	}
}
`
	if diff := cmp.Diff(want, NewEmitter(f).EmitStmts(out)); diff != "" {
		t.Errorf("lowered kernel mismatch (-want +got):\n%s", diff)
	}
	if got := p.Stats(); got.Guards != 1 || got.Splits != 0 {
		t.Errorf("stats = %+v, want one guard and no split", got)
	}
	if n := p.Replacements().Len(); n != 2 {
		t.Errorf("replacements = %d, want 2", n)
	}
	for _, n := range []int64{0, 3, 4, 9} {
		checkLowering(t, f, c, out, map[string]int64{"N": n}, n)
	}
}

func TestUnrollNestedLoopsAreCopiedUnsplit(t *testing.T) {
	f := NewFusion("nested")
	f.AddTensor("T0", "float32", Dim{"I0", Const(10)}, Dim{"I1", Const(6)})
	outer, inner := SplitAxis("io", "ii", "I0", Const(10), 4)
	idx := []*Expr{Add(Mul(Var("io"), Const(4)), Var("ii")), Var("j")}
	c := f.NewCompute(Access{Tensor: "T0", Index: idx}, Lit("1.0"))
	// The j loop is marked unrolled too but sits inside the split loop.
	j := f.NewUnrolledLoop(WholeAxis("j", "I1", Const(6)), c)
	f.Append(f.NewLoop(outer, f.NewUnrolledLoop(inner, j)))

	p := NewUnrollPass(f)
	if err := p.Run(f.Exprs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out, err := p.Replacements().Apply(f, f.Exprs)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := p.Stats().Splits; got != 1 {
		t.Errorf("Splits = %d, want 1", got)
	}

	var split *Stmt
	f.Walk(out, func(s *Stmt, _ []*Stmt) bool {
		if s.Kind == StmtKindIf && len(s.Else) > 0 {
			if split != nil {
				t.Errorf("more than one split: %s and %s", split, s)
			}
			split = s
		}
		return true
	})
	if split == nil {
		t.Fatal("no if/else emitted")
	}
	for name, branch := range map[string][]StmtID{"fast": split.Then, "fallback": split.Else} {
		var jLoops []*Stmt
		f.Walk(branch, func(s *Stmt, _ []*Stmt) bool {
			if s.IsLoop() && s.Axis.Var == "j" {
				jLoops = append(jLoops, s)
			}
			return true
		})
		if len(jLoops) != 1 {
			t.Errorf("%s branch has %d copies of the j loop, want 1", name, len(jLoops))
			continue
		}
		if jl := jLoops[0]; jl.Origin != j || !jl.Unrolled {
			t.Errorf("%s branch j loop = %s, want an unrolled copy of stmt %d", name, jl, j)
		}
		for _, id := range jLoops[0].Body {
			if s := f.Stmt(id); s.Kind == StmtKindIf && len(s.Else) > 0 {
				t.Errorf("%s branch: j loop was split", name)
			}
		}
	}
	if n := countKind(f, split.Then, StmtKindIf); n != 0 {
		t.Errorf("fast branch has %d checks, want 0", n)
	}
	if n := countKind(f, split.Else, StmtKindIf); n != 1 {
		t.Errorf("fallback branch has %d checks, want 1", n)
	}
	checkLowering(t, f, c, out, nil, 60)
}

func TestUnrollThreadTileOmitsElse(t *testing.T) {
	newKernel := func() (*Fusion, StmtID) {
		f := NewFusion("grid")
		f.AddTensor("T0", "float32", Dim{"I0", Sym("N")})
		outer, inner := SplitAxis("bx", "tx", "I0", Sym("N"), 128)
		outer.Parallel, inner.Parallel = BlockX, ThreadX
		idx := Add(Mul(Var("bx"), Const(128)), Var("tx"))
		c := f.NewCompute(Access{Tensor: "T0", Index: []*Expr{idx}}, Lit("0"))
		f.Append(f.NewLoop(outer, f.NewUnrolledLoop(inner, c)))
		return f, c
	}

	f, c := newKernel()
	p := NewUnrollPass(f)
	if err := p.Run(f.Exprs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out, err := p.Replacements().Apply(f, f.Exprs)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got := NewEmitter(f).EmitStmts(out)
	if !strings.Contains(got, "if (bx * 128 + tx < N) {") {
		t.Errorf("tile predicate must keep thread indices symbolic:\n%s", got)
	}
	if strings.Contains(got, "else") {
		t.Errorf("fallback emitted for an exact tile:\n%s", got)
	}
	if s := p.Stats(); s.Splits != 1 || s.OmittedElse != 1 {
		t.Errorf("stats = %+v, want one split without else", s)
	}
	for _, n := range []int64{1, 127, 128, 300} {
		checkLowering(t, f, c, out, map[string]int64{"N": n}, n)
	}

	// With both grid dimensions guarded by the launch, nothing is checked.
	f, _ = newKernel()
	domains := NewTensorDomains(f)
	p = NewUnrollPass(f,
		WithDomainOracle(domains),
		WithAxisOracle(NewLaunchOracle(f, domains, WithLaunchPredicated(BlockX, ThreadX))))
	if err := p.Run(f.Exprs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.Replacements().Len() != 0 || p.Stats().FastOnly != 1 {
		t.Errorf("launch predicated: %d replacements, stats %+v", p.Replacements().Len(), p.Stats())
	}

	// Guarding threadIdx.x alone leaves bx in the index unchecked.
	f, c = newKernel()
	domains = NewTensorDomains(f)
	p = NewUnrollPass(f,
		WithDomainOracle(domains),
		WithAxisOracle(NewLaunchOracle(f, domains, WithLaunchPredicated(ThreadX))))
	if err := p.Run(f.Exprs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out, err = p.Replacements().Apply(f, f.Exprs)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := NewEmitter(f).EmitStmts(out); !strings.Contains(got, "if (bx * 128 + tx < N) {") {
		t.Errorf("thread-only launch predicate dropped the check:\n%s", got)
	}
	for _, n := range []int64{1, 127, 300} {
		checkLowering(t, f, c, out, map[string]int64{"N": n}, n)
	}
}

func TestLaunchOracleNeedsWholeDomainGuarded(t *testing.T) {
	f := NewFusion("serial_outer")
	f.AddTensor("T0", "float32", Dim{"I0", Sym("N")})
	outer, inner := SplitAxis("io", "tid", "I0", Sym("N"), 4)
	inner.Parallel = ThreadX
	tid := f.NewLoop(inner)
	io := f.NewLoop(outer, tid)
	f.Append(io)
	loops := []*Stmt{f.Stmt(io), f.Stmt(tid)}

	o := NewLaunchOracle(f, NewTensorDomains(f), WithLaunchPredicated(ThreadX))
	need, err := o.NeedsCheck(inner, loops)
	if err != nil {
		t.Fatalf("NeedsCheck: %v", err)
	}
	if !need {
		t.Errorf("serial io * 4 + tid must stay checked when only threadIdx.x is launch predicated")
	}

	outer.Parallel = BlockX
	o = NewLaunchOracle(f, NewTensorDomains(f), WithLaunchPredicated(BlockX, ThreadX))
	if need, err = o.NeedsCheck(inner, loops); err != nil || need {
		t.Errorf("fully launch predicated: NeedsCheck = %v, %v; want false", need, err)
	}
}

// fakeAxes is an AxisOracle answering from a fixed table of axis names.
type fakeAxes struct {
	checked map[string]bool
	asked   []string
}

func (o *fakeAxes) NeedsCheck(axis *Axis, loops []*Stmt) (bool, error) {
	o.asked = append(o.asked, axis.Name)
	return o.checked[axis.Name], nil
}

func (o *fakeAxes) BoundaryCondition(axis *Axis, loops []*Stmt) (Cond, error) {
	return Cond{Domain: axis.Domain, Index: domainIndex(axis.Domain, loops), Extent: Sym(axis.Domain)}, nil
}

// fakeDomains is a DomainOracle with fixed extents.
type fakeDomains map[string]*Expr

func (d fakeDomains) DomainExtent(domain string, _ *Stmt) (*Expr, error) {
	if e, ok := d[domain]; ok {
		return e, nil
	}
	return nil, contractf(NoStmt, domain, "unknown domain")
}

func TestUnrollWithFakeOracles(t *testing.T) {
	// Full tiles by shape, but the oracle insists on a check.
	f, _ := splitKernel(Const(8), 4)
	axes := &fakeAxes{checked: map[string]bool{"I0i": true}}
	p := NewUnrollPass(f, WithAxisOracle(axes), WithDomainOracle(fakeDomains{"I0": Sym("I0")}))
	if err := p.Run(f.Exprs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out, err := p.Replacements().Apply(f, f.Exprs)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got := NewEmitter(f).EmitStmts(out)
	for _, want := range []string{"if (io * 4 + 3 < I0) {", "} else {", "if (io * 4 + ii < I0) {"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
	if len(axes.asked) == 0 {
		t.Error("axis oracle was never consulted")
	}

	// The oracle declines every check: the pass leaves the kernel alone.
	f, _ = splitKernel(Const(10), 4)
	p = NewUnrollPass(f, WithAxisOracle(&fakeAxes{}), WithDomainOracle(fakeDomains{"I0": Const(10)}))
	if err := p.Run(f.Exprs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := p.Replacements().Len(); n != 0 {
		t.Errorf("replacements = %d, want 0", n)
	}
}

func TestUnrollContractViolations(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Fusion
	}{
		{
			name: "mismatched extents",
			build: func() *Fusion {
				f, _ := splitKernel(Const(10), 4)
				f.Tensor("T1").Dims[0].Extent = Const(12)
				return f
			},
		},
		{
			name: "shadowed index",
			build: func() *Fusion {
				f := NewFusion("shadow")
				f.AddTensor("T0", "float32", Dim{"I0", Const(4)})
				c := f.NewCompute(Access{Tensor: "T0", Index: []*Expr{Var("i")}}, Lit("0"))
				in := f.NewLoop(WholeAxis("i", "I0", Const(4)), c)
				f.Append(f.NewLoop(WholeAxis("i", "I0", Const(4)), in))
				return f
			},
		},
		{
			name: "non-positive stride",
			build: func() *Fusion {
				f := NewFusion("stride")
				f.AddTensor("T0", "float32", Dim{"I0", Const(4)})
				c := f.NewCompute(Access{Tensor: "T0", Index: []*Expr{Var("i")}}, Lit("0"))
				axis := WholeAxis("i", "I0", Const(4))
				axis.Stride = 0
				f.Append(f.NewLoop(axis, c))
				return f
			},
		},
		{
			name: "unknown domain",
			build: func() *Fusion {
				f := NewFusion("domain")
				f.AddTensor("T0", "float32", Dim{"I0", Const(4)})
				c := f.NewCompute(Access{Tensor: "T0", Index: []*Expr{Var("i")}}, Lit("0"))
				f.Append(f.NewLoop(WholeAxis("i", "I9", Const(4)), c))
				return f
			},
		},
		{
			name: "undeclared tensor",
			build: func() *Fusion {
				f := NewFusion("tensor")
				f.AddTensor("T0", "float32", Dim{"I0", Const(4)})
				c := f.NewCompute(Access{Tensor: "T7", Index: []*Expr{Var("i")}}, Lit("0"))
				f.Append(f.NewLoop(WholeAxis("i", "I0", Const(4)), c))
				return f
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.build()
			_, err := RunPass(f, f.Exprs)
			if err == nil {
				t.Fatal("RunPass succeeded, want contract violation")
			}
			if !errors.Is(err, ErrContract) {
				t.Errorf("error %v does not match ErrContract", err)
			}
			var ce *ContractError
			if !errors.As(err, &ce) {
				t.Errorf("error %v is not a *ContractError", err)
			}
		})
	}
}

func TestUnrollRunsOncePerFusion(t *testing.T) {
	f, _ := splitKernel(Const(10), 4)
	if _, err := RunPass(f, f.Exprs); err != nil {
		t.Fatalf("first RunPass: %v", err)
	}
	_, err := RunPass(f, f.Exprs)
	if !errors.Is(err, ErrContract) {
		t.Errorf("second RunPass: got %v, want contract violation", err)
	}
}

func TestUnrollDebugTrace(t *testing.T) {
	var buf bytes.Buffer
	saved := debugOut
	debugOut = &buf
	t.Cleanup(func() { debugOut = saved })
	// Runs after t.Setenv restores the variable.
	t.Cleanup(env.Load)

	run := func() {
		t.Helper()
		f, _ := splitKernel(Const(10), 4)
		if err := NewUnrollPass(f).Run(f.Exprs); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}

	t.Setenv("DEBUG_UNROLL", "1")
	env.Load()
	run()
	if got := buf.String(); !strings.Contains(got, "[unroll] ") || !strings.Contains(got, "split on") {
		t.Errorf("trace with DEBUG_UNROLL=1:\n%s", got)
	}

	buf.Reset()
	t.Setenv("DEBUG_UNROLL", "")
	env.Load()
	run()
	if buf.Len() != 0 {
		t.Errorf("trace written with DEBUG_UNROLL unset:\n%s", buf.String())
	}
}
