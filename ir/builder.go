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
	"go/constant"
	"go/parser"
	"go/token"
	"strconv"
)

// Builder walks a Go function declaration and produces a Loop.
//
// The accepted kernel shape is a function whose parameters are slices and
// scalars of int16/int32/int64/float32/float64 (plus int for trip counts),
// optional scalar locals, exactly one counted for loop, and an optional
// trailing return of a scalar.
type Builder struct {
	fset *token.FileSet

	// unroll is copied into Loop.Unroll.
	unroll int

	// loop is the loop being built.
	loop *Loop

	// arrays and scalars map names to element/scalar types.
	arrays  map[string]Type
	scalars map[string]Type

	// boundParams are int parameters usable as loop bounds.
	boundParams map[string]bool

	// locals holds `t := expr` bindings inside the loop body; reads of t
	// are replaced by the bound expression.
	locals map[string]Expr

	// updated holds scalars assigned inside the loop body. Reads of them
	// become AccRef instead of Param.
	updated map[string]bool
}

// BuilderOption configures the Builder.
type BuilderOption func(*Builder)

// WithUnroll sets the unroll factor recorded on built loops.
func WithUnroll(n int) BuilderOption {
	return func(b *Builder) {
		b.unroll = n
	}
}

// WithFileSet sets the file set used to resolve positions.
func WithFileSet(fset *token.FileSet) BuilderOption {
	return func(b *Builder) {
		b.fset = fset
	}
}

// NewBuilder creates a new loop builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{fset: token.NewFileSet()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ParseFile parses Go source and builds one Loop per function declaration.
// src follows the conventions of go/parser.ParseFile.
func ParseFile(filename string, src any, opts ...BuilderOption) ([]*Loop, error) {
	b := NewBuilder(opts...)
	file, err := parser.ParseFile(b.fset, filename, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}
	var loops []*Loop
	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Body == nil {
			continue
		}
		loop, err := b.Build(fd)
		if err != nil {
			return nil, err
		}
		loops = append(loops, loop)
	}
	return loops, nil
}

// ParseFunc parses a Go source fragment and builds the named function. A
// missing package clause is added. An empty name selects the only function.
func ParseFunc(src, name string, opts ...BuilderOption) (*Loop, error) {
	if !hasPackageClause(src) {
		src = "package kernel\n\n" + src
	}
	loops, err := ParseFile("kernel.go", src, opts...)
	if err != nil {
		return nil, err
	}
	if name == "" {
		if len(loops) != 1 {
			return nil, fmt.Errorf("expected exactly one function, found %d", len(loops))
		}
		return loops[0], nil
	}
	for _, l := range loops {
		if l.Name == name {
			return l, nil
		}
	}
	return nil, fmt.Errorf("function %q not found", name)
}

func hasPackageClause(src string) bool {
	fset := token.NewFileSet()
	_, err := parser.ParseFile(fset, "", src, parser.PackageClauseOnly)
	return err == nil
}

func (b *Builder) errorf(n ast.Node, format string, args ...any) error {
	return fmt.Errorf("%s: %s", b.fset.Position(n.Pos()), fmt.Sprintf(format, args...))
}

// Build transforms a function declaration into a Loop.
func (b *Builder) Build(fd *ast.FuncDecl) (*Loop, error) {
	b.loop = &Loop{
		Name:   fd.Name.Name,
		Pos:    b.fset.Position(fd.Pos()),
		Stride: 1,
		Unroll: b.unroll,
	}
	b.arrays = make(map[string]Type)
	b.scalars = make(map[string]Type)
	b.boundParams = make(map[string]bool)
	b.locals = make(map[string]Expr)
	b.updated = make(map[string]bool)

	if fd.Type.TypeParams != nil && len(fd.Type.TypeParams.List) > 0 {
		return nil, b.errorf(fd, "generic kernels are not supported")
	}
	if err := b.buildParams(fd.Type.Params); err != nil {
		return nil, err
	}

	var loopStmt *ast.ForStmt
	for _, stmt := range fd.Body.List {
		switch s := stmt.(type) {
		case *ast.ForStmt:
			if loopStmt != nil {
				return nil, b.errorf(s, "only one loop per kernel is supported")
			}
			loopStmt = s
		case *ast.ReturnStmt:
			if err := b.buildReturn(s); err != nil {
				return nil, err
			}
		case *ast.AssignStmt, *ast.DeclStmt:
			if loopStmt != nil {
				return nil, b.errorf(s, "statements after the loop are not supported")
			}
			if err := b.buildLocal(s); err != nil {
				return nil, err
			}
		case *ast.RangeStmt:
			return nil, b.errorf(s, "range loops are not counted loops; use for i := 0; i < n; i++")
		default:
			return nil, b.errorf(s, "unsupported statement %T", s)
		}
	}
	if loopStmt == nil {
		return nil, b.errorf(fd, "kernel %s has no loop", fd.Name.Name)
	}
	if err := b.buildFor(loopStmt); err != nil {
		return nil, fmt.Errorf("build %s: %w", fd.Name.Name, err)
	}
	return b.loop, nil
}

func (b *Builder) buildParams(fields *ast.FieldList) error {
	for _, field := range fields.List {
		switch t := field.Type.(type) {
		case *ast.ArrayType:
			if t.Len != nil {
				return b.errorf(t, "fixed-size arrays are not supported, use slices")
			}
			elem, ok := b.typeOf(t.Elt)
			if !ok {
				return b.errorf(t, "unsupported element type %s", exprString(t.Elt))
			}
			for _, name := range field.Names {
				b.arrays[name.Name] = elem
				b.loop.Arrays = append(b.loop.Arrays, ArrayParam{Name: name.Name, Elem: elem})
			}
		case *ast.Ident:
			typ, ok := b.typeOf(t)
			if !ok {
				return b.errorf(t, "unsupported parameter type %s", t.Name)
			}
			for _, name := range field.Names {
				if t.Name == "int" {
					b.boundParams[name.Name] = true
				}
				b.scalars[name.Name] = typ
				b.loop.Scalars = append(b.loop.Scalars, ScalarParam{Name: name.Name, Type: typ})
			}
		default:
			return b.errorf(field.Type, "unsupported parameter type %s", exprString(field.Type))
		}
	}
	return nil
}

// typeOf maps a type expression to a Type. int is treated as int64.
func (b *Builder) typeOf(e ast.Expr) (Type, bool) {
	id, ok := e.(*ast.Ident)
	if !ok {
		return Invalid, false
	}
	if id.Name == "int" {
		return Int64, true
	}
	return ParseType(id.Name)
}

// buildLocal handles `name := T(lit)`, `var name T` and `var name T = lit`
// before the loop.
func (b *Builder) buildLocal(stmt ast.Stmt) error {
	switch s := stmt.(type) {
	case *ast.AssignStmt:
		if s.Tok != token.DEFINE || len(s.Lhs) != 1 || len(s.Rhs) != 1 {
			return b.errorf(s, "only `name := T(value)` is supported before the loop")
		}
		name, ok := s.Lhs[0].(*ast.Ident)
		if !ok {
			return b.errorf(s, "expected identifier")
		}
		call, ok := s.Rhs[0].(*ast.CallExpr)
		if !ok || len(call.Args) != 1 {
			return b.errorf(s, "local %s needs an explicit type, e.g. float32(0)", name.Name)
		}
		typ, ok := b.typeOf(call.Fun)
		if !ok {
			return b.errorf(call, "unsupported conversion %s", exprString(call.Fun))
		}
		init, err := b.constant(call.Args[0], typ)
		if err != nil {
			return err
		}
		b.addLocal(name.Name, typ, init)
		return nil
	case *ast.DeclStmt:
		gen, ok := s.Decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.VAR {
			return b.errorf(s, "only var declarations are supported")
		}
		for _, spec := range gen.Specs {
			vs := spec.(*ast.ValueSpec)
			typ, ok := b.typeOf(vs.Type)
			if !ok {
				return b.errorf(vs, "local needs an explicit scalar type")
			}
			for i, name := range vs.Names {
				var init Value
				if typ.IsFloat() {
					init = FloatValue(typ, 0)
				} else {
					init = IntValue(typ, 0)
				}
				if i < len(vs.Values) {
					v, err := b.constant(vs.Values[i], typ)
					if err != nil {
						return err
					}
					init = v
				}
				b.addLocal(name.Name, typ, init)
			}
		}
		return nil
	}
	return b.errorf(stmt, "unsupported statement %T", stmt)
}

func (b *Builder) addLocal(name string, typ Type, init Value) {
	b.scalars[name] = typ
	b.loop.Scalars = append(b.loop.Scalars, ScalarParam{Name: name, Type: typ, Local: true, Init: init})
}

func (b *Builder) buildReturn(s *ast.ReturnStmt) error {
	switch len(s.Results) {
	case 0:
		return nil
	case 1:
		id, ok := s.Results[0].(*ast.Ident)
		if !ok {
			return b.errorf(s, "kernels may only return a scalar variable")
		}
		if _, ok := b.scalars[id.Name]; !ok {
			return b.errorf(id, "undefined scalar %s", id.Name)
		}
		b.loop.Result = id.Name
		return nil
	}
	return b.errorf(s, "kernels return at most one value")
}

// buildFor processes `for i := start; i < end; i++ { ... }`.
func (b *Builder) buildFor(fs *ast.ForStmt) error {
	init, ok := fs.Init.(*ast.AssignStmt)
	if !ok || init.Tok != token.DEFINE || len(init.Lhs) != 1 {
		return b.errorf(fs, "loop must start with `i := start`")
	}
	iv, ok := init.Lhs[0].(*ast.Ident)
	if !ok {
		return b.errorf(init, "expected induction variable")
	}
	b.loop.Var = iv.Name
	start, err := b.bound(init.Rhs[0])
	if err != nil {
		return err
	}
	b.loop.Start = start

	cond, ok := fs.Cond.(*ast.BinaryExpr)
	if !ok || cond.Op != token.LSS || !isIdent(cond.X, iv.Name) {
		return b.errorf(fs, "loop condition must be `%s < end`: not a counted loop", iv.Name)
	}
	end, err := b.bound(cond.Y)
	if err != nil {
		return err
	}
	b.loop.End = end

	switch post := fs.Post.(type) {
	case *ast.IncDecStmt:
		if post.Tok != token.INC || !isIdent(post.X, iv.Name) {
			return b.errorf(post, "loop must increment %s", iv.Name)
		}
		b.loop.Stride = 1
	case *ast.AssignStmt:
		if post.Tok != token.ADD_ASSIGN || !isIdent(post.Lhs[0], iv.Name) {
			return b.errorf(post, "loop must increment %s", iv.Name)
		}
		step, err := b.intLiteral(post.Rhs[0])
		if err != nil {
			return err
		}
		if step <= 0 {
			return b.errorf(post, "loop stride must be positive")
		}
		b.loop.Stride = step
	default:
		return b.errorf(fs, "loop must increment %s", iv.Name)
	}

	collectUpdated(fs.Body.List, b.updated)
	body, err := b.buildStmts(fs.Body.List)
	if err != nil {
		return err
	}
	b.loop.Body = body
	return nil
}

// collectUpdated records scalar identifiers assigned anywhere in stmts.
func collectUpdated(stmts []ast.Stmt, out map[string]bool) {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *ast.AssignStmt:
			if s.Tok == token.DEFINE {
				continue
			}
			for _, lhs := range s.Lhs {
				if id, ok := lhs.(*ast.Ident); ok {
					out[id.Name] = true
				}
			}
		case *ast.IncDecStmt:
			if id, ok := s.X.(*ast.Ident); ok {
				out[id.Name] = true
			}
		case *ast.IfStmt:
			collectUpdated(s.Body.List, out)
			if blk, ok := s.Else.(*ast.BlockStmt); ok {
				collectUpdated(blk.List, out)
			}
		}
	}
}

// bound parses a loop bound: literal, int parameter, len(x), optionally / k.
func (b *Builder) bound(e ast.Expr) (Bound, error) {
	switch x := e.(type) {
	case *ast.ParenExpr:
		return b.bound(x.X)
	case *ast.BasicLit:
		n, err := b.intLiteral(x)
		return Bound{Const: n}, err
	case *ast.Ident:
		if !b.boundParams[x.Name] {
			return Bound{}, b.errorf(x, "loop bound %s must be an int parameter", x.Name)
		}
		return Bound{Param: x.Name}, nil
	case *ast.CallExpr:
		if isIdent(x.Fun, "len") && len(x.Args) == 1 {
			if id, ok := x.Args[0].(*ast.Ident); ok {
				if _, ok := b.arrays[id.Name]; ok {
					return Bound{LenOf: id.Name}, nil
				}
			}
		}
	case *ast.BinaryExpr:
		if x.Op == token.QUO {
			inner, err := b.bound(x.X)
			if err != nil {
				return Bound{}, err
			}
			div, err := b.intLiteral(x.Y)
			if err != nil {
				return Bound{}, err
			}
			if div <= 0 || inner.Div > 1 {
				return Bound{}, b.errorf(x, "unsupported loop bound %s", exprString(x))
			}
			if inner.IsConst() {
				return Bound{Const: inner.Const / div}, nil
			}
			inner.Div = div
			return inner, nil
		}
	}
	return Bound{}, b.errorf(e, "unsupported loop bound %s", exprString(e))
}

func (b *Builder) intLiteral(e ast.Expr) (int, error) {
	lit, ok := e.(*ast.BasicLit)
	if !ok || lit.Kind != token.INT {
		return 0, b.errorf(e, "expected integer literal, found %s", exprString(e))
	}
	n, err := strconv.ParseInt(lit.Value, 0, 64)
	if err != nil {
		return 0, b.errorf(e, "bad integer literal: %v", err)
	}
	return int(n), nil
}

func (b *Builder) buildStmts(list []ast.Stmt) ([]Stmt, error) {
	var out []Stmt
	for _, stmt := range list {
		s, err := b.buildStmt(stmt)
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

// buildStmt builds one loop-body statement. Local definitions return nil.
func (b *Builder) buildStmt(stmt ast.Stmt) (Stmt, error) {
	switch s := stmt.(type) {
	case *ast.AssignStmt:
		return b.buildAssign(s)
	case *ast.IncDecStmt:
		id, ok := s.X.(*ast.Ident)
		if !ok {
			return nil, b.errorf(s, "unsupported increment")
		}
		typ, ok := b.scalars[id.Name]
		if !ok {
			return nil, b.errorf(id, "undefined scalar %s", id.Name)
		}
		op := OpAdd
		if s.Tok == token.DEC {
			op = OpSub
		}
		one := oneOf(typ)
		return &Assign{
			Var:   id.Name,
			T:     typ,
			Value: &Binary{Op: op, X: &AccRef{Name: id.Name, T: typ}, Y: &Const{Value: one}, T: typ},
			P:     s.Pos(),
		}, nil
	case *ast.IfStmt:
		return b.buildIf(s)
	case *ast.BlockStmt:
		return nil, b.errorf(s, "nested blocks are not supported")
	case *ast.BranchStmt, *ast.ReturnStmt:
		return nil, b.errorf(s, "early exits are not supported: not a counted loop")
	case *ast.ForStmt, *ast.RangeStmt:
		return nil, b.errorf(s, "nested loops are not supported")
	}
	return nil, b.errorf(stmt, "unsupported statement %T", stmt)
}

func oneOf(t Type) Value {
	if t.IsFloat() {
		return FloatValue(t, 1)
	}
	return IntValue(t, 1)
}

func (b *Builder) buildIf(s *ast.IfStmt) (Stmt, error) {
	if s.Init != nil {
		return nil, b.errorf(s, "if with init statement is not supported")
	}
	cond, err := b.expr(s.Cond, Invalid)
	if err != nil {
		return nil, err
	}
	then, err := b.buildStmts(s.Body.List)
	if err != nil {
		return nil, err
	}
	br := &Branch{Cond: cond, Then: then, P: s.Pos()}
	switch e := s.Else.(type) {
	case nil:
	case *ast.BlockStmt:
		br.Else, err = b.buildStmts(e.List)
		if err != nil {
			return nil, err
		}
	case *ast.IfStmt:
		inner, err := b.buildIf(e)
		if err != nil {
			return nil, err
		}
		br.Else = []Stmt{inner}
	}
	return br, nil
}

var assignOps = map[token.Token]Op{
	token.ADD_ASSIGN: OpAdd,
	token.SUB_ASSIGN: OpSub,
	token.MUL_ASSIGN: OpMul,
	token.QUO_ASSIGN: OpDiv,
	token.AND_ASSIGN: OpAnd,
	token.OR_ASSIGN:  OpOr,
	token.XOR_ASSIGN: OpXor,
}

func (b *Builder) buildAssign(s *ast.AssignStmt) (Stmt, error) {
	if len(s.Lhs) != 1 || len(s.Rhs) != 1 {
		return nil, b.errorf(s, "multiple assignment is not supported")
	}
	if s.Tok == token.DEFINE {
		id, ok := s.Lhs[0].(*ast.Ident)
		if !ok {
			return nil, b.errorf(s, "expected identifier")
		}
		v, err := b.expr(s.Rhs[0], Invalid)
		if err != nil {
			return nil, err
		}
		b.locals[id.Name] = v
		return nil, nil
	}

	switch lhs := s.Lhs[0].(type) {
	case *ast.IndexExpr:
		load, err := b.load(lhs)
		if err != nil {
			return nil, err
		}
		value, err := b.expr(s.Rhs[0], load.Elem)
		if err != nil {
			return nil, err
		}
		if s.Tok != token.ASSIGN {
			op, ok := assignOps[s.Tok]
			if !ok {
				return nil, b.errorf(s, "unsupported assignment %s", s.Tok)
			}
			value, err = b.binary(s, op, load, value)
			if err != nil {
				return nil, err
			}
		}
		if value.Type() != load.Elem {
			return nil, b.errorf(s, "cannot store %s into %s element", value.Type(), load.Elem)
		}
		return &Store{Array: load.Array, Index: load.Index, Elem: load.Elem, Value: value, P: s.Pos()}, nil

	case *ast.Ident:
		typ, ok := b.scalars[lhs.Name]
		if !ok {
			if lhs.Name == b.loop.Var {
				return nil, b.errorf(lhs, "assigning the induction variable is not supported")
			}
			return nil, b.errorf(lhs, "undefined scalar %s", lhs.Name)
		}
		value, err := b.expr(s.Rhs[0], typ)
		if err != nil {
			return nil, err
		}
		if s.Tok != token.ASSIGN {
			op, ok := assignOps[s.Tok]
			if !ok {
				return nil, b.errorf(s, "unsupported assignment %s", s.Tok)
			}
			value, err = b.binary(s, op, &AccRef{Name: lhs.Name, T: typ}, value)
			if err != nil {
				return nil, err
			}
		}
		if value.Type() != typ {
			return nil, b.errorf(s, "cannot assign %s to %s %s", value.Type(), typ, lhs.Name)
		}
		return &Assign{Var: lhs.Name, T: typ, Value: value, P: s.Pos()}, nil
	}
	return nil, b.errorf(s, "unsupported assignment target %s", exprString(s.Lhs[0]))
}

func (b *Builder) load(ix *ast.IndexExpr) (*Load, error) {
	id, ok := ix.X.(*ast.Ident)
	if !ok {
		return nil, b.errorf(ix, "unsupported indexed expression %s", exprString(ix.X))
	}
	elem, ok := b.arrays[id.Name]
	if !ok {
		return nil, b.errorf(id, "%s is not a slice parameter", id.Name)
	}
	index, err := b.index(ix.Index)
	if err != nil {
		return nil, err
	}
	return &Load{Array: id.Name, Index: index, Elem: elem}, nil
}

// index parses a subscript. Affine subscripts in the induction variable are
// decoded; anything else is kept as an opaque integer expression.
func (b *Builder) index(e ast.Expr) (Index, error) {
	if scale, offset, ok := b.affine(e); ok {
		return AffineIndex(scale, offset), nil
	}
	x, err := b.expr(e, Invalid)
	if err != nil {
		return Index{}, err
	}
	if !x.Type().IsInt() {
		return Index{}, b.errorf(e, "index must be an integer, found %s", x.Type())
	}
	return Index{Expr: x}, nil
}

func (b *Builder) affine(e ast.Expr) (scale, offset int, ok bool) {
	switch x := e.(type) {
	case *ast.ParenExpr:
		return b.affine(x.X)
	case *ast.Ident:
		if x.Name == b.loop.Var {
			return 1, 0, true
		}
	case *ast.BasicLit:
		if x.Kind == token.INT {
			n, err := strconv.ParseInt(x.Value, 0, 64)
			if err == nil {
				return 0, int(n), true
			}
		}
	case *ast.UnaryExpr:
		if x.Op == token.SUB {
			s, o, ok := b.affine(x.X)
			return -s, -o, ok
		}
	case *ast.BinaryExpr:
		s1, o1, ok1 := b.affine(x.X)
		s2, o2, ok2 := b.affine(x.Y)
		if !ok1 || !ok2 {
			return 0, 0, false
		}
		switch x.Op {
		case token.ADD:
			return s1 + s2, o1 + o2, true
		case token.SUB:
			return s1 - s2, o1 - o2, true
		case token.MUL:
			if s1 == 0 {
				return o1 * s2, o1 * o2, true
			}
			if s2 == 0 {
				return s1 * o2, o1 * o2, true
			}
		}
	}
	return 0, 0, false
}

var binaryOps = map[token.Token]Op{
	token.ADD: OpAdd,
	token.SUB: OpSub,
	token.MUL: OpMul,
	token.QUO: OpDiv,
	token.AND: OpAnd,
	token.OR:  OpOr,
	token.XOR: OpXor,
}

// expr builds an expression. want is the type expected by the context and
// types untyped literals; Invalid means "infer from the operands".
func (b *Builder) expr(e ast.Expr, want Type) (Expr, error) {
	switch x := e.(type) {
	case *ast.ParenExpr:
		return b.expr(x.X, want)

	case *ast.BasicLit:
		if want == Invalid {
			return nil, b.errorf(x, "cannot infer the type of constant %s", x.Value)
		}
		v, err := b.constant(x, want)
		if err != nil {
			return nil, err
		}
		return &Const{Value: v}, nil

	case *ast.Ident:
		return b.ident(x)

	case *ast.IndexExpr:
		return b.load(x)

	case *ast.UnaryExpr:
		switch x.Op {
		case token.ADD:
			return b.expr(x.X, want)
		case token.SUB:
			if isUntypedConst(x.X) {
				if want == Invalid {
					return nil, b.errorf(x, "cannot infer the type of constant %s", exprString(x))
				}
				v, err := b.constant(x, want)
				if err != nil {
					return nil, err
				}
				return &Const{Value: v}, nil
			}
			inner, err := b.expr(x.X, want)
			if err != nil {
				return nil, err
			}
			return &Unary{Op: OpNeg, X: inner, T: inner.Type()}, nil
		}
		return nil, b.errorf(x, "unsupported unary operator %s", x.Op)

	case *ast.BinaryExpr:
		switch x.Op {
		case token.LSS, token.LEQ, token.GTR, token.GEQ, token.EQL, token.NEQ:
			l, r, err := b.operands(x.X, x.Y, Invalid)
			if err != nil {
				return nil, err
			}
			return &Compare{Tok: x.Op, X: l, Y: r}, nil
		}
		op, ok := binaryOps[x.Op]
		if !ok {
			return nil, b.errorf(x, "unsupported operator %s", x.Op)
		}
		l, r, err := b.operands(x.X, x.Y, want)
		if err != nil {
			return nil, err
		}
		return b.binary(x, op, l, r)

	case *ast.CallExpr:
		return b.call(x, want)
	}
	return nil, b.errorf(e, "unsupported expression %s", exprString(e))
}

// operands builds the two sides of a binary expression, typing an untyped
// literal side from the other side.
func (b *Builder) operands(xe, ye ast.Expr, want Type) (Expr, Expr, error) {
	if want == Invalid {
		switch {
		case !isUntypedConst(xe):
			l, err := b.expr(xe, Invalid)
			if err != nil {
				return nil, nil, err
			}
			r, err := b.expr(ye, l.Type())
			return l, r, err
		case !isUntypedConst(ye):
			r, err := b.expr(ye, Invalid)
			if err != nil {
				return nil, nil, err
			}
			l, err := b.expr(xe, r.Type())
			return l, r, err
		}
		return nil, nil, b.errorf(xe, "cannot infer the type of constant expression")
	}
	l, err := b.expr(xe, want)
	if err != nil {
		return nil, nil, err
	}
	r, err := b.expr(ye, want)
	return l, r, err
}

func (b *Builder) binary(n ast.Node, op Op, l, r Expr) (Expr, error) {
	if l.Type() != r.Type() {
		return nil, b.errorf(n, "mismatched types %s and %s", l.Type(), r.Type())
	}
	if op.IsBitwise() && l.Type().IsFloat() {
		return nil, b.errorf(n, "operator %s not defined on %s", op, l.Type())
	}
	return &Binary{Op: op, X: l, Y: r, T: l.Type()}, nil
}

func (b *Builder) ident(x *ast.Ident) (Expr, error) {
	if x.Name == b.loop.Var {
		return &IndVar{Name: x.Name, T: Int64}, nil
	}
	if v, ok := b.locals[x.Name]; ok {
		return v, nil
	}
	if typ, ok := b.scalars[x.Name]; ok {
		if b.updated[x.Name] {
			return &AccRef{Name: x.Name, T: typ}, nil
		}
		return &Param{Name: x.Name, T: typ}, nil
	}
	if _, ok := b.arrays[x.Name]; ok {
		return nil, b.errorf(x, "slice %s used as a value", x.Name)
	}
	return nil, b.errorf(x, "undefined: %s", x.Name)
}

func (b *Builder) call(x *ast.CallExpr, want Type) (Expr, error) {
	switch fn := x.Fun.(type) {
	case *ast.Ident:
		if typ, ok := b.typeOf(fn); ok && fn.Name != "int" {
			if len(x.Args) != 1 {
				return nil, b.errorf(x, "conversion takes one argument")
			}
			if isUntypedConst(x.Args[0]) {
				v, err := b.constant(x.Args[0], typ)
				if err != nil {
					return nil, err
				}
				return &Const{Value: v}, nil
			}
			inner, err := b.expr(x.Args[0], Invalid)
			if err != nil {
				return nil, err
			}
			if inner.Type() == typ {
				return inner, nil
			}
			return &Convert{X: inner, T: typ}, nil
		}
		switch fn.Name {
		case "min", "max":
			op := OpMin
			if fn.Name == "max" {
				op = OpMax
			}
			return b.minMax(x, op, want)
		}
	case *ast.SelectorExpr:
		if isIdent(fn.X, "math") {
			switch fn.Sel.Name {
			case "Abs", "Sqrt":
				if len(x.Args) != 1 {
					return nil, b.errorf(x, "math.%s takes one argument", fn.Sel.Name)
				}
				inner, err := b.expr(x.Args[0], want)
				if err != nil {
					return nil, err
				}
				if !inner.Type().IsFloat() {
					return nil, b.errorf(x, "math.%s needs a floating-point operand", fn.Sel.Name)
				}
				op := OpAbs
				if fn.Sel.Name == "Sqrt" {
					op = OpSqrt
				}
				return &Unary{Op: op, X: inner, T: inner.Type()}, nil
			case "Min":
				return b.minMax(x, OpMin, want)
			case "Max":
				return b.minMax(x, OpMax, want)
			}
		}
	}
	return nil, b.errorf(x, "unsupported call %s", exprString(x.Fun))
}

func (b *Builder) minMax(x *ast.CallExpr, op Op, want Type) (Expr, error) {
	if len(x.Args) < 2 {
		return nil, b.errorf(x, "%s needs at least two arguments", op)
	}
	acc, next, err := b.operands(x.Args[0], x.Args[1], want)
	if err != nil {
		return nil, err
	}
	res, err := b.binary(x, op, acc, next)
	if err != nil {
		return nil, err
	}
	for _, arg := range x.Args[2:] {
		v, err := b.expr(arg, res.Type())
		if err != nil {
			return nil, err
		}
		if res, err = b.binary(x, op, res, v); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// constant evaluates an untyped literal (optionally negated) as type t.
func (b *Builder) constant(e ast.Expr, t Type) (Value, error) {
	var neg bool
	if u, ok := e.(*ast.UnaryExpr); ok && u.Op == token.SUB {
		neg = true
		e = u.X
	}
	lit, ok := e.(*ast.BasicLit)
	if !ok || (lit.Kind != token.INT && lit.Kind != token.FLOAT) {
		return Value{}, b.errorf(e, "expected numeric literal, found %s", exprString(e))
	}
	c := constant.MakeFromLiteral(lit.Value, lit.Kind, 0)
	if neg {
		c = constant.UnaryOp(token.SUB, c, 0)
	}
	if t.IsFloat() {
		f, _ := constant.Float64Val(constant.ToFloat(c))
		return FloatValue(t, f), nil
	}
	ic := constant.ToInt(c)
	if ic.Kind() != constant.Int {
		return Value{}, b.errorf(e, "constant %s truncated to %s", lit.Value, t)
	}
	n, exact := constant.Int64Val(ic)
	if !exact || IntValue(t, n).Int() != n {
		return Value{}, b.errorf(e, "constant %s overflows %s", lit.Value, t)
	}
	return IntValue(t, n), nil
}

func isUntypedConst(e ast.Expr) bool {
	switch x := e.(type) {
	case *ast.BasicLit:
		return x.Kind == token.INT || x.Kind == token.FLOAT
	case *ast.ParenExpr:
		return isUntypedConst(x.X)
	case *ast.UnaryExpr:
		return x.Op == token.SUB && isUntypedConst(x.X)
	}
	return false
}

func isIdent(e ast.Expr, name string) bool {
	id, ok := e.(*ast.Ident)
	return ok && id.Name == name
}

func exprString(e ast.Expr) string {
	switch x := e.(type) {
	case *ast.Ident:
		return x.Name
	case *ast.BasicLit:
		return x.Value
	case *ast.SelectorExpr:
		return exprString(x.X) + "." + x.Sel.Name
	case *ast.ArrayType:
		return "[]" + exprString(x.Elt)
	case *ast.CallExpr:
		return exprString(x.Fun) + "(...)"
	case *ast.BinaryExpr:
		return exprString(x.X) + " " + x.Op.String() + " " + exprString(x.Y)
	case *ast.UnaryExpr:
		return x.Op.String() + exprString(x.X)
	case *ast.ParenExpr:
		return "(" + exprString(x.X) + ")"
	case *ast.IndexExpr:
		return exprString(x.X) + "[" + exprString(x.Index) + "]"
	}
	return fmt.Sprintf("%T", e)
}
