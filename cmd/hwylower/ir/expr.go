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
	"strconv"
	"strings"
)

// ExprKind categorizes expression nodes.
type ExprKind int

const (
	// ExprConst is an integer constant (Value).
	ExprConst ExprKind = iota

	// ExprVar is a loop index variable (Name).
	ExprVar

	// ExprSym is a symbolic runtime extent (Name), bound at launch.
	ExprSym

	// ExprBinary applies Op ("+", "-", "*", "/", "<", "&&") to Args[0], Args[1].
	ExprBinary

	// ExprCeilDiv is ceil(Args[0] / Args[1]).
	ExprCeilDiv

	// ExprLit is an opaque literal (Name holds its text, e.g. "2.0").
	ExprLit

	// ExprCall is a call of a scalar function Name with Args.
	ExprCall

	// ExprLoad reads tensor Name at indices Args.
	ExprLoad
)

// String returns a human-readable name for the ExprKind.
func (k ExprKind) String() string {
	switch k {
	case ExprConst:
		return "Const"
	case ExprVar:
		return "Var"
	case ExprSym:
		return "Sym"
	case ExprBinary:
		return "Binary"
	case ExprCeilDiv:
		return "CeilDiv"
	case ExprLit:
		return "Lit"
	case ExprCall:
		return "Call"
	case ExprLoad:
		return "Load"
	default:
		return fmt.Sprintf("ExprKind(%d)", k)
	}
}

// Expr is an immutable expression tree. Index arithmetic, extents and
// predicates are all Exprs; constructors fold constants eagerly so that
// statically known extents stay ExprConst.
type Expr struct {
	Kind  ExprKind
	Op    string
	Name  string
	Value int64
	Args  []*Expr
}

// Const returns an integer constant.
func Const(v int64) *Expr {
	return &Expr{Kind: ExprConst, Value: v}
}

// Var returns a reference to loop index variable name.
func Var(name string) *Expr {
	return &Expr{Kind: ExprVar, Name: name}
}

// Sym returns a symbolic runtime extent.
func Sym(name string) *Expr {
	return &Expr{Kind: ExprSym, Name: name}
}

// Lit returns an opaque literal such as a floating-point constant.
func Lit(text string) *Expr {
	return &Expr{Kind: ExprLit, Name: text}
}

// Call returns a scalar function call.
func Call(name string, args ...*Expr) *Expr {
	return &Expr{Kind: ExprCall, Name: name, Args: args}
}

// Load returns a read of tensor at the given indices.
func Load(tensor string, index ...*Expr) *Expr {
	return &Expr{Kind: ExprLoad, Name: tensor, Args: index}
}

// Binary returns a op b without folding. Add, Sub, Mul, Lt and And fold.
func Binary(op string, a, b *Expr) *Expr {
	return &Expr{Kind: ExprBinary, Op: op, Args: []*Expr{a, b}}
}

// Add returns a + b.
func Add(a, b *Expr) *Expr {
	if x, ok := a.ConstValue(); ok {
		if y, ok := b.ConstValue(); ok {
			return Const(x + y)
		}
		if x == 0 {
			return b
		}
	}
	if y, ok := b.ConstValue(); ok && y == 0 {
		return a
	}
	return Binary("+", a, b)
}

// Sub returns a - b.
func Sub(a, b *Expr) *Expr {
	if y, ok := b.ConstValue(); ok {
		if x, ok := a.ConstValue(); ok {
			return Const(x - y)
		}
		if y == 0 {
			return a
		}
	}
	return Binary("-", a, b)
}

// Mul returns a * b.
func Mul(a, b *Expr) *Expr {
	x, xok := a.ConstValue()
	y, yok := b.ConstValue()
	switch {
	case xok && yok:
		return Const(x * y)
	case xok && x == 1:
		return b
	case yok && y == 1:
		return a
	case (xok && x == 0) || (yok && y == 0):
		return Const(0)
	}
	return Binary("*", a, b)
}

// CeilDiv returns ceil(a / b).
func CeilDiv(a, b *Expr) *Expr {
	if x, ok := a.ConstValue(); ok {
		if y, ok := b.ConstValue(); ok && y > 0 {
			return Const((x + y - 1) / y)
		}
	}
	if y, ok := b.ConstValue(); ok && y == 1 {
		return a
	}
	return &Expr{Kind: ExprCeilDiv, Args: []*Expr{a, b}}
}

// Lt returns a < b.
func Lt(a, b *Expr) *Expr {
	if x, ok := a.ConstValue(); ok {
		if y, ok := b.ConstValue(); ok {
			return boolConst(x < y)
		}
	}
	return Binary("<", a, b)
}

// And returns the conjunction of conds. An empty conjunction is true.
func And(conds ...*Expr) *Expr {
	var out *Expr
	for _, c := range conds {
		if v, ok := c.ConstValue(); ok {
			if v == 0 {
				return Const(0)
			}
			continue
		}
		if out == nil {
			out = c
		} else {
			out = Binary("&&", out, c)
		}
	}
	if out == nil {
		return Const(1)
	}
	return out
}

func boolConst(b bool) *Expr {
	if b {
		return Const(1)
	}
	return Const(0)
}

// ConstValue returns the value of an integer constant expression.
func (e *Expr) ConstValue() (int64, bool) {
	if e == nil || e.Kind != ExprConst {
		return 0, false
	}
	return e.Value, true
}

// IsSym reports whether e is a bare symbolic extent.
func (e *Expr) IsSym() bool {
	return e != nil && e.Kind == ExprSym
}

// Equal reports structural equality.
func (e *Expr) Equal(other *Expr) bool {
	if e == nil || other == nil {
		return e == other
	}
	if e.Kind != other.Kind || e.Op != other.Op || e.Name != other.Name ||
		e.Value != other.Value || len(e.Args) != len(other.Args) {
		return false
	}
	for i := range e.Args {
		if !e.Args[i].Equal(other.Args[i]) {
			return false
		}
	}
	return true
}

// Substitute returns e with every loop variable in repl replaced.
// Folding is reapplied on the rebuilt nodes.
func (e *Expr) Substitute(repl map[string]*Expr) *Expr {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case ExprVar:
		if r, ok := repl[e.Name]; ok {
			return r
		}
		return e
	case ExprConst, ExprSym, ExprLit:
		return e
	}
	args := make([]*Expr, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.Substitute(repl)
	}
	switch e.Kind {
	case ExprBinary:
		switch e.Op {
		case "+":
			return Add(args[0], args[1])
		case "-":
			return Sub(args[0], args[1])
		case "*":
			return Mul(args[0], args[1])
		case "<":
			return Lt(args[0], args[1])
		case "&&":
			return And(args[0], args[1])
		}
		return Binary(e.Op, args[0], args[1])
	case ExprCeilDiv:
		return CeilDiv(args[0], args[1])
	}
	return &Expr{Kind: e.Kind, Op: e.Op, Name: e.Name, Value: e.Value, Args: args}
}

// Vars returns the loop variables referenced by e, in first-use order.
func (e *Expr) Vars() []string {
	var out []string
	seen := make(map[string]bool)
	var walk func(*Expr)
	walk = func(x *Expr) {
		if x == nil {
			return
		}
		if x.Kind == ExprVar && !seen[x.Name] {
			seen[x.Name] = true
			out = append(out, x.Name)
		}
		for _, a := range x.Args {
			walk(a)
		}
	}
	walk(e)
	return out
}

// Eval evaluates an integer expression. Booleans evaluate to 0 or 1.
// Loads, calls and literals are not integer-valued and fail.
func (e *Expr) Eval(env map[string]int64) (int64, error) {
	switch e.Kind {
	case ExprConst:
		return e.Value, nil
	case ExprVar, ExprSym:
		v, ok := env[e.Name]
		if !ok {
			return 0, fmt.Errorf("unbound %s %q", strings.ToLower(e.Kind.String()), e.Name)
		}
		return v, nil
	case ExprCeilDiv:
		a, b, err := evalPair(e, env)
		if err != nil {
			return 0, err
		}
		if b <= 0 {
			return 0, fmt.Errorf("ceilDiv by non-positive %d", b)
		}
		return (a + b - 1) / b, nil
	case ExprBinary:
		a, b, err := evalPair(e, env)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case "+":
			return a + b, nil
		case "-":
			return a - b, nil
		case "*":
			return a * b, nil
		case "/":
			if b == 0 {
				return 0, fmt.Errorf("division by zero in %s", e)
			}
			return a / b, nil
		case "<":
			if a < b {
				return 1, nil
			}
			return 0, nil
		case "&&":
			if a != 0 && b != 0 {
				return 1, nil
			}
			return 0, nil
		}
		return 0, fmt.Errorf("unsupported operator %q", e.Op)
	}
	return 0, fmt.Errorf("cannot evaluate %s expression %s", e.Kind, e)
}

func evalPair(e *Expr, env map[string]int64) (int64, int64, error) {
	a, err := e.Args[0].Eval(env)
	if err != nil {
		return 0, 0, err
	}
	b, err := e.Args[1].Eval(env)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// precedence for C-style printing.
func (e *Expr) precedence() int {
	if e.Kind != ExprBinary {
		return 10
	}
	switch e.Op {
	case "*", "/":
		return 5
	case "+", "-":
		return 4
	case "<":
		return 3
	case "&&":
		return 2
	}
	return 1
}

// String renders e in C syntax.
func (e *Expr) String() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case ExprConst:
		return strconv.FormatInt(e.Value, 10)
	case ExprVar, ExprSym, ExprLit:
		return e.Name
	case ExprCeilDiv:
		return fmt.Sprintf("ceilDiv(%s, %s)", e.Args[0], e.Args[1])
	case ExprCall:
		return fmt.Sprintf("%s(%s)", e.Name, joinExprs(e.Args, ", "))
	case ExprLoad:
		var sb strings.Builder
		sb.WriteString(e.Name)
		for _, a := range e.Args {
			fmt.Fprintf(&sb, "[%s]", a)
		}
		return sb.String()
	case ExprBinary:
		p := e.precedence()
		lhs := e.Args[0].String()
		if e.Args[0].precedence() < p {
			lhs = "(" + lhs + ")"
		}
		rhs := e.Args[1].String()
		// Right operands of equal precedence need parens for - and /.
		if q := e.Args[1].precedence(); q < p || (q == p && (e.Op == "-" || e.Op == "/")) {
			rhs = "(" + rhs + ")"
		}
		return lhs + " " + e.Op + " " + rhs
	}
	return fmt.Sprintf("Expr(%d)", e.Kind)
}

func joinExprs(exprs []*Expr, sep string) string {
	parts := make([]string, len(exprs))
	for i, a := range exprs {
		parts[i] = a.String()
	}
	return strings.Join(parts, sep)
}
