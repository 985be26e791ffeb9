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
	"fmt"
	"strings"
)

// ceilDivHelper is emitted ahead of every kernel.
const ceilDivHelper = "#define ceilDiv(a, b) (((a) + (b) - 1) / (b))\n"

// Emitter renders kernel IR as C code. Tensors are passed as flat pointers
// and indexed row-major; symbolic extents are passed by value.
type Emitter struct {
	fusion   *Fusion
	funcName string
	buf      *bytes.Buffer
	indent   int
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithFunctionName overrides the emitted function name (default: the
// Fusion name).
func WithFunctionName(name string) EmitterOption {
	return func(e *Emitter) {
		e.funcName = name
	}
}

// NewEmitter creates a C emitter for f.
func NewEmitter(f *Fusion, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		fusion:   f,
		funcName: f.Name,
		buf:      &bytes.Buffer{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EmitKernel generates a complete C function whose body is stmts.
func (e *Emitter) EmitKernel(stmts []StmtID) string {
	e.buf.Reset()
	e.indent = 0

	e.writef("%s", ceilDivHelper)
	e.writef("\n")

	var params []string
	for _, t := range e.fusion.Tensors {
		params = append(params, goTypeToCType(t.ElemType)+" *"+t.Name)
	}
	for _, sym := range e.fusion.Symbols() {
		params = append(params, "long "+sym)
	}
	e.writef("void %s(%s) {\n", e.funcName, strings.Join(params, ", "))
	e.indent = 1
	e.emitLaunchBindings(stmts)
	e.emitList(stmts)
	e.indent = 0
	e.writef("}\n")
	return e.buf.String()
}

// EmitStmts renders stmts without a function wrapper.
func (e *Emitter) EmitStmts(stmts []StmtID) string {
	e.buf.Reset()
	e.indent = 0
	e.emitList(stmts)
	return e.buf.String()
}

func (e *Emitter) emitList(ids []StmtID) {
	for _, id := range ids {
		e.emitStmt(e.fusion.Stmt(id))
	}
}

func (e *Emitter) emitStmt(s *Stmt) {
	switch s.Kind {
	case StmtKindFor:
		e.emitLoop(s)
	case StmtKindIf:
		e.writef("if (%s) {\n", e.expr(s.Pred.Expr()))
		e.indent++
		e.emitList(s.Then)
		e.indent--
		if len(s.Else) > 0 {
			e.writef("} else {\n")
			e.indent++
			e.emitList(s.Else)
			e.indent--
		}
		e.writef("}\n")
	case StmtKindCompute:
		e.writef("%s = %s;\n", e.expr(Load(s.Out.Tensor, s.Out.Index...)), e.expr(s.Value))
	}
}

// emitLaunchBindings binds the index of every block and thread loop once
// at the top of the kernel, where predicates hoisted out of those loops can
// see it.
func (e *Emitter) emitLaunchBindings(stmts []StmtID) {
	seen := make(map[string]bool)
	e.fusion.Walk(stmts, func(s *Stmt, _ []*Stmt) bool {
		if s.IsLoop() && s.Axis.Parallel.IsThread() && !seen[s.Axis.Var] {
			seen[s.Axis.Var] = true
			e.writef("const long %s = %s;\n", s.Axis.Var, s.Axis.Parallel)
		}
		return true
	})
}

// emitLoop emits a for loop, or a launch-bound scope for loops mapped to
// block and thread dimensions.
func (e *Emitter) emitLoop(s *Stmt) {
	a := s.Axis
	if a.Parallel.IsThread() {
		e.writef("if (%s < %s) { // %s\n", a.Var, e.expr(a.Extent), a)
		e.indent++
	} else {
		switch {
		case s.Unrolled:
			e.writef("#pragma unroll\n")
		case a.Parallel == Vectorize:
			e.writef("#pragma omp simd\n")
		}
		e.writef("for (long %s = 0; %s < %s; %s++) {\n", a.Var, a.Var, e.expr(a.Extent), a.Var)
		e.indent++
	}
	e.emitList(s.Body)
	e.indent--
	e.writef("}\n")
}

// expr renders x with tensor loads flattened to row-major offsets.
func (e *Emitter) expr(x *Expr) string {
	return e.flatten(x).String()
}

func (e *Emitter) flatten(x *Expr) *Expr {
	if x == nil {
		return nil
	}
	if len(x.Args) == 0 {
		return x
	}
	args := make([]*Expr, len(x.Args))
	for i, a := range x.Args {
		args[i] = e.flatten(a)
	}
	if x.Kind == ExprLoad {
		if t := e.fusion.Tensor(x.Name); t != nil && len(t.Dims) == len(args) && len(args) > 1 {
			off := args[0]
			for i := 1; i < len(args); i++ {
				off = Add(Mul(off, t.Dims[i].Extent), args[i])
			}
			return Load(x.Name, off)
		}
	}
	return &Expr{Kind: x.Kind, Op: x.Op, Name: x.Name, Value: x.Value, Args: args}
}

// goTypeToCType converts a Go element type to its C type.
func goTypeToCType(goType string) string {
	switch goType {
	case "float32":
		return "float"
	case "float64":
		return "double"
	case "int", "int64":
		return "long"
	case "int32":
		return "int"
	case "uint64":
		return "unsigned long"
	case "uint32":
		return "unsigned int"
	case "uint8", "byte":
		return "unsigned char"
	default:
		return goType
	}
}

// writef writes a formatted line with indentation.
func (e *Emitter) writef(format string, args ...any) {
	for i := 0; i < e.indent; i++ {
		e.buf.WriteString("\t")
	}
	fmt.Fprintf(e.buf, format, args...)
}
