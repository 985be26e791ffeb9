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
	"slices"
	"strings"

	"github.com/samber/lo"
)

// Cond is one bounds condition: the index of Domain stays below Extent.
type Cond struct {
	Domain string
	Index  *Expr
	Extent *Expr
}

// Expr returns the condition as Index < Extent.
func (c Cond) Expr() *Expr {
	return Lt(c.Index, c.Extent)
}

// Key is the canonical form used to compare and deduplicate conditions.
func (c Cond) Key() string {
	return c.Expr().String()
}

// Predicate is a conjunction of bounds conditions. A Predicate with no
// conditions is trivially true and is never emitted. The nil *Predicate is
// trivial as well.
type Predicate struct {
	Conds []Cond
}

// NewPredicate builds the conjunction of conds, dropping duplicates and
// conditions that fold to true.
func NewPredicate(conds ...Cond) *Predicate {
	conds = lo.Filter(conds, func(c Cond, _ int) bool {
		v, ok := c.Expr().ConstValue()
		return !ok || v == 0
	})
	return &Predicate{Conds: lo.UniqBy(conds, Cond.Key)}
}

// IsTrivial reports whether p is always true.
func (p *Predicate) IsTrivial() bool {
	return p == nil || len(p.Conds) == 0
}

// And returns the conjunction of p and q.
func (p *Predicate) And(q *Predicate) *Predicate {
	var conds []Cond
	if p != nil {
		conds = append(conds, p.Conds...)
	}
	if q != nil {
		conds = append(conds, q.Conds...)
	}
	return NewPredicate(conds...)
}

// Expr returns the predicate as a boolean expression.
func (p *Predicate) Expr() *Expr {
	if p.IsTrivial() {
		return Const(1)
	}
	return And(lo.Map(p.Conds, func(c Cond, _ int) *Expr { return c.Expr() })...)
}

// Keys returns the sorted canonical condition set.
func (p *Predicate) Keys() []string {
	if p.IsTrivial() {
		return nil
	}
	keys := lo.Map(p.Conds, func(c Cond, _ int) string { return c.Key() })
	slices.Sort(keys)
	return keys
}

// Equal reports whether p and q have the same canonical condition set.
func (p *Predicate) Equal(q *Predicate) bool {
	return slices.Equal(p.Keys(), q.Keys())
}

// String renders the predicate in C syntax.
func (p *Predicate) String() string {
	if p.IsTrivial() {
		return "true"
	}
	return strings.Join(lo.Map(p.Conds, func(c Cond, _ int) string { return c.Key() }), " && ")
}

// Synthesizer combines per-axis bounds conditions over a loop nest into
// predicates. It is a pure function of the nest and the oracles' answers.
type Synthesizer struct {
	fusion  *Fusion
	axes    AxisOracle
	domains DomainOracle
}

// NewSynthesizer creates a Synthesizer consulting the given oracles.
func NewSynthesizer(f *Fusion, axes AxisOracle, domains DomainOracle) *Synthesizer {
	return &Synthesizer{fusion: f, axes: axes, domains: domains}
}

// LoopPredicate returns the predicate guarding each iteration of fl's body
// when fl runs inside loops. Only the domain completed at fl contributes;
// domains still iterated deeper are checked where they complete.
func (s *Synthesizer) LoopPredicate(loops []*Stmt, fl *Stmt) (*Predicate, error) {
	if !completesAt(s.fusion, fl) {
		return NewPredicate(), nil
	}
	conds, err := s.condition(fl, appendLoop(loops, fl))
	if err != nil {
		return nil, err
	}
	return NewPredicate(conds...), nil
}

// TilePredicate returns the single predicate covering a whole unrolled
// tile: every domain completed inside the nest rooted at fl, with the index
// of each serial or vectorized loop of the nest replaced by its last value.
// Block and thread indices stay symbolic since every thread checks its own.
func (s *Synthesizer) TilePredicate(loops []*Stmt, fl *Stmt) (*Predicate, error) {
	var conds []Cond
	add := func(l *Stmt, path []*Stmt) error {
		if !completesAt(s.fusion, l) {
			return nil
		}
		cs, err := s.condition(l, append(slices.Clone(loops), path...))
		if err != nil {
			return err
		}
		last := tileMaxima(path)
		for _, c := range cs {
			c.Index = c.Index.Substitute(last)
			conds = append(conds, c)
		}
		return nil
	}

	if err := add(fl, []*Stmt{fl}); err != nil {
		return nil, err
	}
	var err error
	s.fusion.Walk(fl.Body, func(st *Stmt, inner []*Stmt) bool {
		if err != nil {
			return false
		}
		if st.IsLoop() {
			path := append([]*Stmt{fl}, inner...)
			err = add(st, append(path, st))
		}
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return NewPredicate(conds...), nil
}

// condition consults the oracles for the axis of fl in context.
func (s *Synthesizer) condition(fl *Stmt, context []*Stmt) ([]Cond, error) {
	if _, err := s.domains.DomainExtent(fl.Axis.Domain, fl); err != nil {
		return nil, err
	}
	need, err := s.axes.NeedsCheck(fl.Axis, context)
	if err != nil || !need {
		return nil, err
	}
	c, err := s.axes.BoundaryCondition(fl.Axis, context)
	if err != nil {
		return nil, err
	}
	debugPrint("condition for %s at stmt %d: %s", fl.Axis, fl.ID, c.Key())
	return []Cond{c}, nil
}

// tileMaxima maps the index of every non-thread loop in path to its last
// value, extent-1.
func tileMaxima(path []*Stmt) map[string]*Expr {
	last := make(map[string]*Expr)
	for _, l := range path {
		if l.Axis.Parallel.IsThread() {
			continue
		}
		last[l.Axis.Var] = Sub(l.Axis.Extent, Const(1))
	}
	return last
}

func appendLoop(loops []*Stmt, fl *Stmt) []*Stmt {
	return append(loops[:len(loops):len(loops)], fl)
}
