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
	"go/token"
	"strings"
)

// Expr is a node of a per-iteration expression tree.
type Expr interface {
	// Type is the result type of the expression.
	Type() Type
	String() string
	exprNode()
}

// Load reads Array[Index].
type Load struct {
	Array string
	Index Index
	Elem  Type
}

// Const is a typed literal.
type Const struct {
	Value Value
}

// Param reads a loop-invariant scalar parameter.
type Param struct {
	Name string
	T    Type
}

// IndVar reads the induction variable as a value.
type IndVar struct {
	Name string
	T    Type
}

// AccRef reads the current value of a scalar variable updated in the loop.
type AccRef struct {
	Name string
	T    Type
}

// Binary applies a two-operand operator.
type Binary struct {
	Op   Op
	X, Y Expr
	T    Type
}

// Unary applies neg, abs or sqrt.
type Unary struct {
	Op Op
	X  Expr
	T  Type
}

// Convert changes the type of X to T.
type Convert struct {
	X Expr
	T Type
}

// MulAddS2I is int32(X0)*int32(Y0) + int32(X1)*int32(Y1) over int16
// loads whose subscripts are adjacent (X1 reads the element after X0).
type MulAddS2I struct {
	X0, Y0, X1, Y1 *Load
}

// Compare is a relational test. It only appears in Branch conditions.
type Compare struct {
	Tok  token.Token
	X, Y Expr
}

func (e *Load) Type() Type      { return e.Elem }
func (e *Const) Type() Type     { return e.Value.T }
func (e *Param) Type() Type     { return e.T }
func (e *IndVar) Type() Type    { return e.T }
func (e *AccRef) Type() Type    { return e.T }
func (e *Binary) Type() Type    { return e.T }
func (e *Unary) Type() Type     { return e.T }
func (e *Convert) Type() Type   { return e.T }
func (e *MulAddS2I) Type() Type { return Int32 }
func (e *Compare) Type() Type   { return Int32 }

func (*Load) exprNode()      {}
func (*Const) exprNode()     {}
func (*Param) exprNode()     {}
func (*IndVar) exprNode()    {}
func (*AccRef) exprNode()    {}
func (*Binary) exprNode()    {}
func (*Unary) exprNode()     {}
func (*Convert) exprNode()   {}
func (*MulAddS2I) exprNode() {}
func (*Compare) exprNode()   {}

func (e *Load) String() string   { return fmt.Sprintf("%s[%s]", e.Array, e.Index) }
func (e *Const) String() string  { return e.Value.String() }
func (e *Param) String() string  { return e.Name }
func (e *IndVar) String() string { return e.Name }
func (e *AccRef) String() string { return e.Name }

func (e *Binary) String() string {
	switch e.Op {
	case OpMin, OpMax:
		return fmt.Sprintf("%s(%s, %s)", e.Op, e.X, e.Y)
	}
	return fmt.Sprintf("(%s %s %s)", e.X, binarySymbol[e.Op], e.Y)
}

func (e *Unary) String() string {
	if e.Op == OpNeg {
		return "-" + e.X.String()
	}
	return fmt.Sprintf("%s(%s)", e.Op, e.X)
}

func (e *Convert) String() string { return fmt.Sprintf("%s(%s)", e.T, e.X) }

func (e *Compare) String() string { return fmt.Sprintf("(%s %s %s)", e.X, e.Tok, e.Y) }

func (e *MulAddS2I) String() string {
	return fmt.Sprintf("muladds2i(%s*%s + %s*%s)", e.X0, e.Y0, e.X1, e.Y1)
}

var binarySymbol = map[Op]string{
	OpAdd: "+",
	OpSub: "-",
	OpMul: "*",
	OpDiv: "/",
	OpAnd: "&",
	OpOr:  "|",
	OpXor: "^",
}

// Operands returns the direct sub-expressions of e.
func Operands(e Expr) []Expr {
	switch e := e.(type) {
	case *Binary:
		return []Expr{e.X, e.Y}
	case *Unary:
		return []Expr{e.X}
	case *Convert:
		return []Expr{e.X}
	case *MulAddS2I:
		return []Expr{e.X0, e.Y0, e.X1, e.Y1}
	case *Compare:
		return []Expr{e.X, e.Y}
	case *Load:
		if !e.Index.Affine && e.Index.Expr != nil {
			return []Expr{e.Index.Expr}
		}
	}
	return nil
}

// Walk visits e and its sub-expressions in post-order (operands first).
// Shared sub-trees are visited once per occurrence.
func Walk(e Expr, visit func(Expr)) {
	for _, op := range Operands(e) {
		Walk(op, visit)
	}
	visit(e)
}

// Stmt is a statement of the loop body.
type Stmt interface {
	Pos() token.Pos
	String() string
	stmtNode()
}

// Store writes Value to Array[Index].
type Store struct {
	Array string
	Index Index
	Elem  Type
	Value Expr
	P     token.Pos
}

// Assign updates the scalar Var with Value. Value may read Var through an
// AccRef; that is how accumulator updates are represented.
type Assign struct {
	Var   string
	T     Type
	Value Expr
	P     token.Pos
}

// Branch is a conditional inside the loop body. The vectorizer never packs
// across a branch; it is kept so analysis can report why.
type Branch struct {
	Cond Expr
	Then []Stmt
	Else []Stmt
	P    token.Pos
}

func (s *Store) Pos() token.Pos  { return s.P }
func (s *Assign) Pos() token.Pos { return s.P }
func (s *Branch) Pos() token.Pos { return s.P }

func (*Store) stmtNode()  {}
func (*Assign) stmtNode() {}
func (*Branch) stmtNode() {}

func (s *Store) String() string  { return fmt.Sprintf("%s[%s] = %s", s.Array, s.Index, s.Value) }
func (s *Assign) String() string { return fmt.Sprintf("%s = %s", s.Var, s.Value) }

func (s *Branch) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "if %s { %d stmts }", s.Cond, len(s.Then))
	if len(s.Else) > 0 {
		fmt.Fprintf(&sb, " else { %d stmts }", len(s.Else))
	}
	return sb.String()
}

// StmtExprs returns the expression roots of a statement.
func StmtExprs(s Stmt) []Expr {
	switch s := s.(type) {
	case *Store:
		if !s.Index.Affine && s.Index.Expr != nil {
			return []Expr{s.Value, s.Index.Expr}
		}
		return []Expr{s.Value}
	case *Assign:
		return []Expr{s.Value}
	case *Branch:
		exprs := []Expr{s.Cond}
		for _, t := range s.Then {
			exprs = append(exprs, StmtExprs(t)...)
		}
		for _, t := range s.Else {
			exprs = append(exprs, StmtExprs(t)...)
		}
		return exprs
	}
	return nil
}

// Reads reports whether e reads the scalar variable name through an AccRef.
func Reads(e Expr, name string) bool {
	found := false
	Walk(e, func(n Expr) {
		if r, ok := n.(*AccRef); ok && r.Name == name {
			found = true
		}
	})
	return found
}

// CountOps returns the number of arithmetic nodes in e. Loads, constants
// and variable reads are free.
func CountOps(e Expr) int {
	n := 0
	Walk(e, func(x Expr) {
		switch x.(type) {
		case *Binary, *Unary, *Convert, *MulAddS2I:
			n++
		}
	})
	return n
}
