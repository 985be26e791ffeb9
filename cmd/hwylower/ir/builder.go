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
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"golang.org/x/tools/go/ast/inspector"
)

// directivePrefix marks kernel directives in comments.
const directivePrefix = "//hwy:"

// Builder walks the Go AST of kernel functions and produces Fusions.
//
// A kernel is a function whose doc comment carries //hwy:kernel. Its tensor
// parameters are arrays whose lengths name logical domains:
//
//	//hwy:kernel
//	//hwy:multiple I1 8
//	func Scale(T0, T1 [I0][I1]float32) {
//		for io := 0; io < ceilDiv(I0, 4); io++ {
//			//hwy:unroll
//			for ii := 0; ii < 4; ii++ {
//				for j := 0; j < I1; j++ {
//					T0[io*4+ii][j] = T1[io*4+ii][j] * 2
//				}
//			}
//		}
//	}
//
// Package-level integer constants give domains constant extents; any other
// domain is a symbolic runtime extent. The domain and stride of each loop
// are inferred from how its variable indexes tensors.
type Builder struct {
	// fusion is the kernel being built.
	fusion *Fusion

	fset *token.FileSet

	// consts maps package-level integer constants to their values.
	consts map[string]int64

	// syms are the symbolic extents visible in the kernel.
	syms map[string]bool

	// directives maps source lines to the directive comments on them.
	directives map[int][]string

	// loops are the loops being built, innermost last.
	loops []string

	// uses records the domain and stride inferred for each loop variable.
	uses map[string]varUse

	// lanes is the value of the `lanes` identifier, 0 when unset.
	lanes int64
}

// varUse is how a loop variable indexes tensors.
type varUse struct {
	domain string
	stride int64
	tensor string
}

// BuilderOption configures the Builder.
type BuilderOption func(*Builder)

// WithLanes sets the value substituted for the `lanes` identifier.
func WithLanes(n int) BuilderOption {
	return func(b *Builder) {
		b.lanes = int64(n)
	}
}

// NewBuilder creates a new kernel builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ParseKernels parses a Go source file (src as accepted by parser.ParseFile)
// and builds every kernel in it.
func ParseKernels(filename string, src any, opts ...BuilderOption) ([]*Fusion, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}
	return NewBuilder(opts...).BuildFile(fset, file)
}

// BuildFile builds one Fusion per kernel function in file, in source order.
func (b *Builder) BuildFile(fset *token.FileSet, file *ast.File) ([]*Fusion, error) {
	b.fset = fset
	b.consts = packageConsts(file)
	b.directives = make(map[int][]string)
	for _, cg := range file.Comments {
		for _, c := range cg.List {
			if strings.HasPrefix(c.Text, directivePrefix) {
				line := fset.Position(c.Slash).Line
				b.directives[line] = append(b.directives[line], strings.TrimPrefix(c.Text, directivePrefix))
			}
		}
	}

	var kernels []*ast.FuncDecl
	insp := inspector.New([]*ast.File{file})
	insp.Preorder([]ast.Node{(*ast.FuncDecl)(nil)}, func(n ast.Node) {
		fd := n.(*ast.FuncDecl)
		if len(docDirectives(fd.Doc, "kernel")) > 0 {
			kernels = append(kernels, fd)
		}
	})

	var out []*Fusion
	for _, fd := range kernels {
		f, err := b.Build(fd)
		if err != nil {
			return nil, fmt.Errorf("kernel %s: %w", fd.Name.Name, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// Build transforms one kernel function into a Fusion. BuildFile must have
// set up the file context.
func (b *Builder) Build(fd *ast.FuncDecl) (*Fusion, error) {
	b.fusion = NewFusion(fd.Name.Name)
	b.syms = make(map[string]bool)
	b.uses = make(map[string]varUse)
	b.loops = nil

	for _, field := range fd.Type.Params.List {
		if err := b.buildParam(field); err != nil {
			return nil, err
		}
	}
	for _, args := range docDirectives(fd.Doc, "multiple") {
		if len(args) != 2 {
			return nil, b.errorf(fd.Pos(), "//hwy:multiple wants <extent> <multiple>")
		}
		m, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || m <= 0 {
			return nil, b.errorf(fd.Pos(), "//hwy:multiple %s: bad multiple %q", args[0], args[1])
		}
		b.fusion.AssumeMultiple(args[0], m)
	}

	if fd.Body != nil {
		ids, err := b.buildBlock(fd.Body.List)
		if err != nil {
			return nil, err
		}
		b.fusion.Append(ids...)
	}
	return b.fusion, nil
}

// buildParam declares tensors for array parameters and symbolic extents for
// integer parameters.
func (b *Builder) buildParam(field *ast.Field) error {
	if ident, ok := field.Type.(*ast.Ident); ok {
		if ident.Name != "int" && ident.Name != "int64" {
			return b.errorf(field.Pos(), "unsupported scalar parameter type %s", ident.Name)
		}
		for _, name := range field.Names {
			b.syms[name.Name] = true
		}
		return nil
	}

	var dims []Dim
	typ := field.Type
	for {
		arr, ok := typ.(*ast.ArrayType)
		if !ok {
			break
		}
		if arr.Len == nil {
			return b.errorf(arr.Pos(), "tensor parameters must be arrays sized by domains, not slices")
		}
		domain, ok := ast.Unparen(arr.Len).(*ast.Ident)
		if !ok {
			return b.errorf(arr.Len.Pos(), "array length must name a domain")
		}
		extent := Sym(domain.Name)
		if v, ok := b.consts[domain.Name]; ok {
			extent = Const(v)
		} else {
			b.syms[domain.Name] = true
		}
		dims = append(dims, Dim{Domain: domain.Name, Extent: extent})
		typ = arr.Elt
	}
	elem, ok := typ.(*ast.Ident)
	if !ok || len(dims) == 0 {
		return b.errorf(field.Pos(), "unsupported parameter type")
	}
	for _, name := range field.Names {
		b.fusion.AddTensor(name.Name, elem.Name, dims...)
	}
	return nil
}

// buildBlock processes a list of statements.
func (b *Builder) buildBlock(list []ast.Stmt) ([]StmtID, error) {
	var ids []StmtID
	for _, stmt := range list {
		id, err := b.buildStmt(stmt)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// buildStmt dispatches on statement type.
func (b *Builder) buildStmt(stmt ast.Stmt) (StmtID, error) {
	switch s := stmt.(type) {
	case *ast.ForStmt:
		return b.buildFor(s)
	case *ast.AssignStmt:
		return b.buildAssign(s)
	default:
		return NoStmt, b.errorf(stmt.Pos(), "unsupported statement %T", stmt)
	}
}

// buildFor builds `for v := 0; v < extent; v++ { ... }`.
func (b *Builder) buildFor(stmt *ast.ForStmt) (StmtID, error) {
	init, ok := stmt.Init.(*ast.AssignStmt)
	if !ok || init.Tok != token.DEFINE || len(init.Lhs) != 1 || len(init.Rhs) != 1 {
		return NoStmt, b.errorf(stmt.Pos(), "loop must declare its index as v := 0")
	}
	v := b.exprToName(init.Lhs[0])
	if lit, ok := init.Rhs[0].(*ast.BasicLit); !ok || lit.Value != "0" {
		return NoStmt, b.errorf(init.Pos(), "loop %s must start at 0", v)
	}
	cond, ok := stmt.Cond.(*ast.BinaryExpr)
	if !ok || cond.Op != token.LSS || b.exprToName(cond.X) != v {
		return NoStmt, b.errorf(stmt.Pos(), "loop %s condition must be %s < extent", v, v)
	}
	if !isIncrement(stmt.Post, v) {
		return NoStmt, b.errorf(stmt.Pos(), "loop %s must step by 1", v)
	}
	for _, outer := range b.loops {
		if outer == v {
			return NoStmt, b.errorf(stmt.Pos(), "loop variable %s shadows an enclosing loop", v)
		}
	}
	extent, err := b.buildExtent(cond.Y)
	if err != nil {
		return NoStmt, err
	}

	b.loops = append(b.loops, v)
	body, err := b.buildBlock(stmt.Body.List)
	b.loops = b.loops[:len(b.loops)-1]
	if err != nil {
		return NoStmt, err
	}

	use, ok := b.uses[v]
	if !ok {
		return NoStmt, b.errorf(stmt.Pos(), "loop variable %s does not index any tensor", v)
	}
	axis := &Axis{
		Name:   b.axisName(use, extent),
		Var:    v,
		Domain: use.domain,
		Stride: use.stride,
		Extent: extent,
	}

	unrolled := false
	for _, d := range b.loopDirectives(stmt) {
		switch d[0] {
		case "unroll":
			unrolled = true
		case "vectorize":
			axis.Parallel = Vectorize
		case "parallel":
			if len(d) != 2 {
				return NoStmt, b.errorf(stmt.Pos(), "//hwy:parallel wants one dimension")
			}
			pt, err := ParseParallelType(d[1])
			if err != nil {
				return NoStmt, b.errorf(stmt.Pos(), "%v", err)
			}
			axis.Parallel = pt
		default:
			return NoStmt, b.errorf(stmt.Pos(), "unknown loop directive //hwy:%s", d[0])
		}
	}
	if unrolled {
		return b.fusion.NewUnrolledLoop(axis, body...), nil
	}
	return b.fusion.NewLoop(axis, body...), nil
}

// axisName names an axis after its domain: "o" for the outer part of a
// split, "i" for a constant-extent inner part.
func (b *Builder) axisName(use varUse, extent *Expr) string {
	if use.stride > 1 {
		return use.domain + "o"
	}
	t := b.fusion.Tensor(use.tensor)
	for _, d := range t.Dims {
		if d.Domain == use.domain && !d.Extent.Equal(extent) {
			return use.domain + "i"
		}
	}
	return use.domain
}

// buildAssign builds `T[...] = value` and `T[...] op= value`.
func (b *Builder) buildAssign(stmt *ast.AssignStmt) (StmtID, error) {
	if len(stmt.Lhs) != 1 || len(stmt.Rhs) != 1 {
		return NoStmt, b.errorf(stmt.Pos(), "multi-value assignment is not supported")
	}
	out, err := b.buildAccess(stmt.Lhs[0])
	if err != nil {
		return NoStmt, err
	}
	value, err := b.buildValue(stmt.Rhs[0])
	if err != nil {
		return NoStmt, err
	}
	switch stmt.Tok {
	case token.ASSIGN:
	case token.ADD_ASSIGN, token.SUB_ASSIGN, token.MUL_ASSIGN, token.QUO_ASSIGN:
		op := strings.TrimSuffix(stmt.Tok.String(), "=")
		value = Binary(op, Load(out.Tensor, out.Index...), value)
	default:
		return NoStmt, b.errorf(stmt.Pos(), "unsupported assignment %s", stmt.Tok)
	}
	return b.fusion.NewCompute(out, value), nil
}

// buildAccess builds T[i][j] and records how each loop variable indexes T.
func (b *Builder) buildAccess(expr ast.Expr) (Access, error) {
	var idx []ast.Expr
	x := ast.Unparen(expr)
	for {
		ie, ok := x.(*ast.IndexExpr)
		if !ok {
			break
		}
		idx = append([]ast.Expr{ie.Index}, idx...)
		x = ast.Unparen(ie.X)
	}
	name := b.exprToName(x)
	t := b.fusion.Tensor(name)
	if t == nil {
		return Access{}, b.errorf(expr.Pos(), "%s is not a tensor parameter", b.exprToString(x))
	}
	if len(idx) != len(t.Dims) {
		return Access{}, b.errorf(expr.Pos(), "tensor %s has %d dims, indexed with %d", name, len(t.Dims), len(idx))
	}

	acc := Access{Tensor: name}
	for i, ix := range idx {
		terms, err := b.linearTerms(ix)
		if err != nil {
			return Access{}, err
		}
		index := Const(0)
		for _, term := range terms {
			if err := b.recordUse(ix.Pos(), term.v, varUse{domain: t.Dims[i].Domain, stride: term.c, tensor: name}); err != nil {
				return Access{}, err
			}
			index = Add(index, Mul(Var(term.v), Const(term.c)))
		}
		acc.Index = append(acc.Index, index)
	}
	return acc, nil
}

func (b *Builder) recordUse(pos token.Pos, v string, use varUse) error {
	prev, ok := b.uses[v]
	if !ok {
		b.uses[v] = use
		return nil
	}
	if prev.domain != use.domain {
		return b.errorf(pos, "loop variable %s indexes domain %s of %s and domain %s of %s",
			v, prev.domain, prev.tensor, use.domain, use.tensor)
	}
	if prev.stride != use.stride {
		return b.errorf(pos, "loop variable %s indexes domain %s with stride %d and %d", v, use.domain, prev.stride, use.stride)
	}
	return nil
}

// term is coefficient c of loop variable v in an index.
type term struct {
	v string
	c int64
}

// linearTerms decomposes an index into a sum of loop variables times
// positive constants.
func (b *Builder) linearTerms(expr ast.Expr) ([]term, error) {
	switch e := ast.Unparen(expr).(type) {
	case *ast.Ident:
		if !b.isLoopVar(e.Name) {
			return nil, b.errorf(e.Pos(), "index %s is not an enclosing loop variable", e.Name)
		}
		return []term{{v: e.Name, c: 1}}, nil
	case *ast.BinaryExpr:
		switch e.Op {
		case token.ADD:
			lhs, err := b.linearTerms(e.X)
			if err != nil {
				return nil, err
			}
			rhs, err := b.linearTerms(e.Y)
			if err != nil {
				return nil, err
			}
			return append(lhs, rhs...), nil
		case token.MUL:
			v, c := e.X, e.Y
			if _, ok := ast.Unparen(v).(*ast.Ident); !ok || !b.isLoopVar(b.exprToName(v)) {
				v, c = c, v
			}
			name := b.exprToName(v)
			if !b.isLoopVar(name) {
				break
			}
			k, err := b.buildExtent(c)
			if err != nil {
				return nil, err
			}
			n, ok := k.ConstValue()
			if !ok || n <= 0 {
				return nil, b.errorf(c.Pos(), "stride of %s must be a positive constant", name)
			}
			return []term{{v: name, c: n}}, nil
		}
	}
	return nil, b.errorf(expr.Pos(), "index %s must be a sum of loop variables times constants", b.exprToString(expr))
}

// buildExtent builds a loop bound or stride: literals, constants, `lanes`,
// symbolic domains, ceilDiv and integer arithmetic.
func (b *Builder) buildExtent(expr ast.Expr) (*Expr, error) {
	switch e := ast.Unparen(expr).(type) {
	case *ast.BasicLit:
		if e.Kind != token.INT {
			return nil, b.errorf(e.Pos(), "extent %s is not an integer", e.Value)
		}
		v, err := strconv.ParseInt(e.Value, 0, 64)
		if err != nil {
			return nil, b.errorf(e.Pos(), "extent %s: %v", e.Value, err)
		}
		return Const(v), nil
	case *ast.Ident:
		if e.Name == "lanes" {
			if b.lanes <= 0 {
				return nil, b.errorf(e.Pos(), "lanes is used but no target lane count is set")
			}
			return Const(b.lanes), nil
		}
		if v, ok := b.consts[e.Name]; ok {
			return Const(v), nil
		}
		if b.syms[e.Name] {
			return Sym(e.Name), nil
		}
		return nil, b.errorf(e.Pos(), "unknown extent %s", e.Name)
	case *ast.CallExpr:
		if b.exprToName(e.Fun) == "ceilDiv" && len(e.Args) == 2 {
			x, err := b.buildExtent(e.Args[0])
			if err != nil {
				return nil, err
			}
			y, err := b.buildExtent(e.Args[1])
			if err != nil {
				return nil, err
			}
			return CeilDiv(x, y), nil
		}
	case *ast.BinaryExpr:
		x, err := b.buildExtent(e.X)
		if err != nil {
			return nil, err
		}
		y, err := b.buildExtent(e.Y)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case token.ADD:
			return Add(x, y), nil
		case token.SUB:
			return Sub(x, y), nil
		case token.MUL:
			return Mul(x, y), nil
		}
	}
	return nil, b.errorf(expr.Pos(), "unsupported extent %s", b.exprToString(expr))
}

// buildValue builds the right-hand side of a compute statement.
func (b *Builder) buildValue(expr ast.Expr) (*Expr, error) {
	switch e := ast.Unparen(expr).(type) {
	case *ast.BasicLit:
		if e.Kind == token.INT {
			return b.buildExtent(e)
		}
		return Lit(e.Value), nil
	case *ast.Ident:
		if b.isLoopVar(e.Name) {
			return Var(e.Name), nil
		}
		return b.buildExtent(e)
	case *ast.IndexExpr:
		acc, err := b.buildAccess(e)
		if err != nil {
			return nil, err
		}
		return Load(acc.Tensor, acc.Index...), nil
	case *ast.UnaryExpr:
		if e.Op != token.SUB {
			break
		}
		x, err := b.buildValue(e.X)
		if err != nil {
			return nil, err
		}
		return Call("-", x), nil
	case *ast.BinaryExpr:
		x, err := b.buildValue(e.X)
		if err != nil {
			return nil, err
		}
		y, err := b.buildValue(e.Y)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case token.ADD, token.SUB, token.MUL, token.QUO:
			return Binary(e.Op.String(), x, y), nil
		}
	case *ast.CallExpr:
		var args []*Expr
		for _, a := range e.Args {
			x, err := b.buildValue(a)
			if err != nil {
				return nil, err
			}
			args = append(args, x)
		}
		return Call(b.exprToString(e.Fun), args...), nil
	}
	return nil, b.errorf(expr.Pos(), "unsupported expression %s", b.exprToString(expr))
}

func (b *Builder) isLoopVar(name string) bool {
	for _, v := range b.loops {
		if v == name {
			return true
		}
	}
	return false
}

// loopDirectives returns the directives on the for line and on the
// comment lines directly above it.
func (b *Builder) loopDirectives(stmt *ast.ForStmt) [][]string {
	line := b.fset.Position(stmt.For).Line
	var out [][]string
	for _, text := range b.directives[line] {
		out = append(out, strings.Fields(text))
	}
	for l := line - 1; len(b.directives[l]) > 0; l-- {
		for _, text := range b.directives[l] {
			out = append(out, strings.Fields(text))
		}
	}
	return out
}

// exprToName returns the identifier name of expr, or "".
func (b *Builder) exprToName(expr ast.Expr) string {
	if ident, ok := ast.Unparen(expr).(*ast.Ident); ok {
		return ident.Name
	}
	return ""
}

// exprToString renders an expression for error messages.
func (b *Builder) exprToString(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.BasicLit:
		return e.Value
	case *ast.SelectorExpr:
		return b.exprToString(e.X) + "." + e.Sel.Name
	case *ast.BinaryExpr:
		return b.exprToString(e.X) + " " + e.Op.String() + " " + b.exprToString(e.Y)
	case *ast.ParenExpr:
		return "(" + b.exprToString(e.X) + ")"
	case *ast.IndexExpr:
		return b.exprToString(e.X) + "[" + b.exprToString(e.Index) + "]"
	case *ast.CallExpr:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = b.exprToString(a)
		}
		return b.exprToString(e.Fun) + "(" + strings.Join(args, ", ") + ")"
	case *ast.UnaryExpr:
		return e.Op.String() + b.exprToString(e.X)
	default:
		return fmt.Sprintf("%T", expr)
	}
}

func (b *Builder) errorf(pos token.Pos, format string, args ...any) error {
	return fmt.Errorf("%s: %s", b.fset.Position(pos), fmt.Sprintf(format, args...))
}

// isIncrement reports whether post is v++ or v += 1.
func isIncrement(post ast.Stmt, v string) bool {
	switch p := post.(type) {
	case *ast.IncDecStmt:
		ident, ok := p.X.(*ast.Ident)
		return ok && ident.Name == v && p.Tok == token.INC
	case *ast.AssignStmt:
		if p.Tok != token.ADD_ASSIGN || len(p.Lhs) != 1 || len(p.Rhs) != 1 {
			return false
		}
		ident, ok := p.Lhs[0].(*ast.Ident)
		lit, isLit := p.Rhs[0].(*ast.BasicLit)
		return ok && ident.Name == v && isLit && lit.Value == "1"
	}
	return false
}

// packageConsts collects package-level integer constants.
func packageConsts(file *ast.File) map[string]int64 {
	consts := make(map[string]int64)
	for _, decl := range file.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.CONST {
			continue
		}
		for _, spec := range gd.Specs {
			vs := spec.(*ast.ValueSpec)
			for i, name := range vs.Names {
				if i >= len(vs.Values) {
					continue
				}
				lit, ok := vs.Values[i].(*ast.BasicLit)
				if !ok || lit.Kind != token.INT {
					continue
				}
				if v, err := strconv.ParseInt(lit.Value, 0, 64); err == nil {
					consts[name.Name] = v
				}
			}
		}
	}
	return consts
}

// docDirectives returns the arguments of every //hwy:<name> directive in a
// doc comment.
func docDirectives(doc *ast.CommentGroup, name string) [][]string {
	if doc == nil {
		return nil
	}
	var out [][]string
	for _, c := range doc.List {
		if !strings.HasPrefix(c.Text, directivePrefix) {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(c.Text, directivePrefix))
		if len(fields) > 0 && fields[0] == name {
			out = append(out, fields[1:])
		}
	}
	return out
}
