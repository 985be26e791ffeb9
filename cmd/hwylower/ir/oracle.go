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

import "github.com/samber/lo"

// AxisOracle decides, for a loop axis in the context of its enclosing loops,
// whether iterations can run past the logical bound of the axis's domain and,
// if so, which boundary condition guards them. loops always ends with the
// loop iterating axis. Implementations must be deterministic for a Fusion.
type AxisOracle interface {
	NeedsCheck(axis *Axis, loops []*Stmt) (bool, error)
	BoundaryCondition(axis *Axis, loops []*Stmt) (Cond, error)
}

// LaunchOracle is the default AxisOracle. A domain needs no check when the
// axes iterating it provably cover exactly its extent: an unsplit axis over
// the whole domain, constant extents whose last index stays in bounds, or a
// split whose factor divides a symbolic extent declared with
// Fusion.AssumeMultiple. Anything else is checked.
type LaunchOracle struct {
	fusion  *Fusion
	domains DomainOracle

	// launchPredicated lists parallel dimensions guarded outside this pass.
	launchPredicated map[ParallelType]bool
}

// OracleOption configures a LaunchOracle.
type OracleOption func(*LaunchOracle)

// WithLaunchPredicated declares that axes bound to the given parallel
// dimensions are already guarded by the launch configuration's thread
// predicate. A domain is left unchecked only when every loop over it is
// bound to one of these dimensions; a serial or unguarded loop in the
// domain index still needs a condition.
func WithLaunchPredicated(pts ...ParallelType) OracleOption {
	return func(o *LaunchOracle) {
		for _, pt := range pts {
			o.launchPredicated[pt] = true
		}
	}
}

// NewLaunchOracle creates the default AxisOracle for f.
func NewLaunchOracle(f *Fusion, domains DomainOracle, opts ...OracleOption) *LaunchOracle {
	o := &LaunchOracle{
		fusion:           f,
		domains:          domains,
		launchPredicated: make(map[ParallelType]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// launchGuarded reports whether the launch predicate covers the whole
// domain index of axis.
func (o *LaunchOracle) launchGuarded(axis *Axis, loops []*Stmt) bool {
	if !o.launchPredicated[axis.Parallel] {
		return false
	}
	return lo.EveryBy(domainAxes(axis.Domain, loops), func(a *Axis) bool {
		return o.launchPredicated[a.Parallel]
	})
}

// NeedsCheck implements AxisOracle.
func (o *LaunchOracle) NeedsCheck(axis *Axis, loops []*Stmt) (bool, error) {
	if o.launchGuarded(axis, loops) {
		return false, nil
	}
	extent, err := o.domainExtent(axis, loops)
	if err != nil {
		return false, err
	}
	return !o.provablyInBounds(extent, domainAxes(axis.Domain, loops)), nil
}

// BoundaryCondition implements AxisOracle.
func (o *LaunchOracle) BoundaryCondition(axis *Axis, loops []*Stmt) (Cond, error) {
	extent, err := o.domainExtent(axis, loops)
	if err != nil {
		return Cond{}, err
	}
	return Cond{
		Domain: axis.Domain,
		Index:  domainIndex(axis.Domain, loops),
		Extent: extent,
	}, nil
}

// domainExtent resolves the extent of axis's domain, scoped to the
// outermost loop of loops that iterates the domain.
func (o *LaunchOracle) domainExtent(axis *Axis, loops []*Stmt) (*Expr, error) {
	var scope *Stmt
	for _, l := range loops {
		if l.Axis.Domain == axis.Domain {
			scope = l
			break
		}
	}
	return o.domains.DomainExtent(axis.Domain, scope)
}

// provablyInBounds reports whether the largest domain index reachable by
// axes, sum(Stride*(Extent-1)), is statically below extent.
func (o *LaunchOracle) provablyInBounds(extent *Expr, axes []*Axis) bool {
	if len(axes) == 0 {
		return true
	}
	if e, ok := extent.ConstValue(); ok {
		var last int64
		for _, a := range axes {
			n, ok := a.Extent.ConstValue()
			if !ok {
				return false
			}
			if n > 0 {
				last += a.Stride * (n - 1)
			}
		}
		return last < e
	}

	// Symbolic extent: the only provable shapes are the whole domain and an
	// exact split of it.
	if len(axes) == 1 && axes[0].Stride == 1 && axes[0].Extent.Equal(extent) {
		return true
	}
	var factor int64
	var inner int64
	for _, a := range axes {
		if a.Extent.Kind == ExprCeilDiv && a.Extent.Args[0].Equal(extent) {
			f, ok := a.Extent.Args[1].ConstValue()
			if !ok || f != a.Stride || factor != 0 {
				return false
			}
			factor = f
			continue
		}
		n, ok := a.Extent.ConstValue()
		if !ok {
			return false
		}
		if n > 0 {
			inner += a.Stride * (n - 1)
		}
	}
	if factor == 0 || inner > factor-1 || !extent.IsSym() {
		return false
	}
	m := o.fusion.Multiple(extent.Name)
	return m > 0 && m%factor == 0
}
