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

// DomainOracle resolves, for a logical domain indexed inside a scope, the
// extent shared by every tensor that references the domain there. It must
// report a contract violation when those tensors disagree.
type DomainOracle interface {
	DomainExtent(domain string, scope *Stmt) (*Expr, error)
}

// TensorDomains is the DomainOracle backed by the tensor declarations of a
// Fusion: every tensor dimension names the domain it corresponds to.
type TensorDomains struct {
	fusion *Fusion
}

// NewTensorDomains creates a DomainOracle for f.
func NewTensorDomains(f *Fusion) *TensorDomains {
	return &TensorDomains{fusion: f}
}

// DomainExtent implements DomainOracle. Tensors accessed inside scope are
// consulted first; a domain not indexed there falls back to every tensor of
// the Fusion.
func (d *TensorDomains) DomainExtent(domain string, scope *Stmt) (*Expr, error) {
	var tensors []*Tensor
	seen := make(map[string]bool)
	var err error
	if scope != nil {
		d.fusion.Walk([]StmtID{scope.ID}, func(s *Stmt, _ []*Stmt) bool {
			if err != nil {
				return false
			}
			for _, a := range s.Accesses() {
				t := d.fusion.Tensor(a.Tensor)
				if t == nil {
					err = contractf(s.ID, "", "access to undeclared tensor %s", a.Tensor)
					return false
				}
				if len(a.Index) != len(t.Dims) {
					err = contractf(s.ID, "", "tensor %s has %d dims, indexed with %d", t.Name, len(t.Dims), len(a.Index))
					return false
				}
				if !seen[t.Name] {
					seen[t.Name] = true
					tensors = append(tensors, t)
				}
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	stmt := NoStmt
	if scope != nil {
		stmt = scope.ID
	}
	if extent, err := sharedExtent(domain, tensors, stmt); extent != nil || err != nil {
		return extent, err
	}
	if extent, err := sharedExtent(domain, d.fusion.Tensors, stmt); extent != nil || err != nil {
		return extent, err
	}
	return nil, contractf(stmt, domain, "no tensor is indexed by domain %s", domain)
}

// sharedExtent returns the extent every tensor in tensors declares for
// domain, or nil if none of them has the domain.
func sharedExtent(domain string, tensors []*Tensor, stmt StmtID) (*Expr, error) {
	var extent *Expr
	var owner string
	for _, t := range tensors {
		for _, dim := range t.Dims {
			if dim.Domain != domain {
				continue
			}
			if extent == nil {
				extent, owner = dim.Extent, t.Name
				continue
			}
			if !extent.Equal(dim.Extent) {
				return nil, contractf(stmt, domain, "tensor %s declares extent %s but tensor %s declares %s",
					owner, extent, t.Name, dim.Extent)
			}
		}
	}
	return extent, nil
}

// domainIndex returns the index of domain formed by loops: the sum of
// Var*Stride over every loop iterating the domain, outermost first.
func domainIndex(domain string, loops []*Stmt) *Expr {
	idx := Const(0)
	for _, l := range loops {
		if l.Axis.Domain == domain {
			idx = Add(idx, Mul(Var(l.Axis.Var), Const(l.Axis.Stride)))
		}
	}
	return idx
}

// domainAxes returns the axes of loops that iterate domain.
func domainAxes(domain string, loops []*Stmt) []*Axis {
	var out []*Axis
	for _, l := range loops {
		if l.Axis.Domain == domain {
			out = append(out, l.Axis)
		}
	}
	return out
}

// completesAt reports whether fl is the innermost loop of its domain, i.e.
// no loop nested anywhere below it iterates the same domain. That is where
// the whole domain index is bound and a bounds condition can be formed.
func completesAt(f *Fusion, fl *Stmt) bool {
	domain := fl.Axis.Domain
	complete := true
	for _, kids := range fl.Children() {
		f.Walk(kids, func(s *Stmt, _ []*Stmt) bool {
			if s.IsLoop() && s.Axis.Domain == domain {
				complete = false
			}
			return complete
		})
	}
	return complete
}

// ValidateNest checks the structural contracts the unroll pass relies on:
// every loop has an axis with a domain, an index variable not shadowing an
// enclosing one, a positive stride and an extent; every If has a predicate.
func ValidateNest(f *Fusion, ids []StmtID) error {
	var err error
	f.Walk(ids, func(s *Stmt, loops []*Stmt) bool {
		if err != nil {
			return false
		}
		switch s.Kind {
		case StmtKindFor:
			a := s.Axis
			switch {
			case a == nil:
				err = contractf(s.ID, "", "loop has no axis")
			case a.Domain == "":
				err = contractf(s.ID, a.Name, "axis has no domain")
			case a.Var == "":
				err = contractf(s.ID, a.Name, "axis has no index variable")
			case a.Stride <= 0:
				err = contractf(s.ID, a.Name, "non-positive stride %d", a.Stride)
			case a.Extent == nil:
				err = contractf(s.ID, a.Name, "axis has no extent")
			}
			if err != nil {
				return false
			}
			for _, l := range loops {
				if l.Axis.Var == a.Var {
					err = contractf(s.ID, a.Name, "index variable %s shadows loop %d", a.Var, l.ID)
					return false
				}
			}
		case StmtKindIf:
			if s.Pred == nil {
				err = contractf(s.ID, "", "if statement has no predicate")
			}
		}
		return err == nil
	})
	return err
}
