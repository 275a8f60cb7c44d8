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

// Package ir provides the intermediate representation for counted loops
// consumed by the superword vectorizer: element types, operators, expression
// trees, body statements and the loop descriptor itself.
package ir

import (
	"fmt"
	"go/token"
	"strings"
)

// Type describes a scalar element type by width, signedness and
// floating-ness. All integer types are signed.
type Type uint8

const (
	Invalid Type = iota
	Int16
	Int32
	Int64
	Float32
	Float64
)

// Bits returns the width of the type in bits.
func (t Type) Bits() int {
	switch t {
	case Int16:
		return 16
	case Int32, Float32:
		return 32
	case Int64, Float64:
		return 64
	default:
		return 0
	}
}

// Bytes returns the width of the type in bytes.
func (t Type) Bytes() int { return t.Bits() / 8 }

// IsFloat reports whether t is a floating-point type.
func (t Type) IsFloat() bool { return t == Float32 || t == Float64 }

// IsInt reports whether t is an integer type.
func (t Type) IsInt() bool { return t == Int16 || t == Int32 || t == Int64 }

// Suffix returns the one-letter type suffix used in instruction names
// (S, I, L, F, D).
func (t Type) Suffix() string {
	switch t {
	case Int16:
		return "S"
	case Int32:
		return "I"
	case Int64:
		return "L"
	case Float32:
		return "F"
	case Float64:
		return "D"
	default:
		return "?"
	}
}

func (t Type) String() string {
	switch t {
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "invalid"
	}
}

// ParseType maps a Go type name to a Type.
func ParseType(name string) (Type, bool) {
	switch name {
	case "int16":
		return Int16, true
	case "int32":
		return Int32, true
	case "int64":
		return Int64, true
	case "float32":
		return Float32, true
	case "float64":
		return Float64, true
	}
	return Invalid, false
}

// Op is an arithmetic, bitwise or conversion operator.
type Op uint8

const (
	OpInvalid Op = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpAnd
	OpOr
	OpXor
	OpMin
	OpMax
	OpNeg
	OpAbs
	OpSqrt
	OpConv
	// OpMulAddS2I is the fused x0*y0 + x1*y1 over widened int16 inputs.
	OpMulAddS2I
)

var opNames = [...]string{
	OpInvalid:   "invalid",
	OpAdd:       "add",
	OpSub:       "sub",
	OpMul:       "mul",
	OpDiv:       "div",
	OpAnd:       "and",
	OpOr:        "or",
	OpXor:       "xor",
	OpMin:       "min",
	OpMax:       "max",
	OpNeg:       "neg",
	OpAbs:       "abs",
	OpSqrt:      "sqrt",
	OpConv:      "conv",
	OpMulAddS2I: "muladds2i",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", o)
}

// IsUnary reports whether o takes a single operand.
func (o Op) IsUnary() bool {
	return o == OpNeg || o == OpAbs || o == OpSqrt || o == OpConv
}

// IsBitwise reports whether o is one of and/or/xor.
func (o Op) IsBitwise() bool {
	return o == OpAnd || o == OpOr || o == OpXor
}

// IsCommutative reports whether x o y == y o x for every type o applies to.
func (o Op) IsCommutative() bool {
	switch o {
	case OpAdd, OpMul, OpAnd, OpOr, OpXor, OpMin, OpMax:
		return true
	}
	return false
}

// IsReduction reports whether o may be used to fold an accumulator.
func (o Op) IsReduction() bool {
	switch o {
	case OpAdd, OpMul, OpAnd, OpOr, OpXor, OpMin, OpMax:
		return true
	}
	return false
}

// Reassociates reports whether changing the grouping of o over t leaves the
// result bit-identical. Integer wraparound arithmetic, bitwise operators and
// min/max all qualify; floating-point add and mul do not.
func (o Op) Reassociates(t Type) bool {
	if !o.IsReduction() {
		return false
	}
	if t.IsFloat() {
		return o == OpMin || o == OpMax
	}
	return true
}

// Index is the affine array subscript Scale*i + Offset, where i is the
// induction variable. A non-affine subscript keeps its expression in Expr
// and can never be packed.
type Index struct {
	Scale  int
	Offset int
	Affine bool
	Expr   Expr
}

// AffineIndex returns the subscript scale*i + offset.
func AffineIndex(scale, offset int) Index {
	return Index{Scale: scale, Offset: offset, Affine: true}
}

// At returns the element index for iteration i.
func (x Index) At(i int) int { return x.Scale*i + x.Offset }

func (x Index) String() string {
	if !x.Affine {
		return "?"
	}
	var sb strings.Builder
	switch x.Scale {
	case 0:
		return fmt.Sprint(x.Offset)
	case 1:
		sb.WriteString("i")
	default:
		fmt.Fprintf(&sb, "%d*i", x.Scale)
	}
	if x.Offset > 0 {
		fmt.Fprintf(&sb, "+%d", x.Offset)
	} else if x.Offset < 0 {
		fmt.Fprintf(&sb, "%d", x.Offset)
	}
	return sb.String()
}

// Bound is a loop bound: a constant, a scalar parameter, or len(array),
// optionally divided by a constant.
type Bound struct {
	Const int
	Param string
	LenOf string
	Div   int
}

// ConstBound returns a constant bound.
func ConstBound(n int) Bound { return Bound{Const: n} }

// IsConst reports whether the bound is known at compile time.
func (b Bound) IsConst() bool { return b.Param == "" && b.LenOf == "" }

func (b Bound) String() string {
	var s string
	switch {
	case b.Param != "":
		s = b.Param
	case b.LenOf != "":
		s = "len(" + b.LenOf + ")"
	default:
		s = fmt.Sprint(b.Const)
	}
	if b.Div > 1 {
		s += fmt.Sprintf("/%d", b.Div)
	}
	return s
}

// ArrayParam is a slice parameter of the kernel.
type ArrayParam struct {
	Name string
	Elem Type
}

// ScalarParam is a scalar parameter or a local scalar declared before the
// loop. Locals carry their initial value in Init.
type ScalarParam struct {
	Name  string
	Type  Type
	Local bool
	Init  Value
}

// Loop is the loop descriptor: one counted loop with its kernel signature.
// The vectorizer never mutates a Loop once analysis starts.
type Loop struct {
	Name string
	Pos  token.Position

	// Var is the induction variable name.
	Var    string
	Start  Bound
	End    Bound
	Stride int

	// Unroll is the caller-supplied unroll factor; 0 asks the vectorizer
	// to choose one.
	Unroll int

	Arrays  []ArrayParam
	Scalars []ScalarParam
	Body    []Stmt

	// Result names the scalar returned by the kernel, if any.
	Result string
}

// Array returns the array parameter with the given name.
func (l *Loop) Array(name string) (ArrayParam, bool) {
	for _, a := range l.Arrays {
		if a.Name == name {
			return a, true
		}
	}
	return ArrayParam{}, false
}

// Scalar returns the scalar parameter or local with the given name.
func (l *Loop) Scalar(name string) (ScalarParam, bool) {
	for _, s := range l.Scalars {
		if s.Name == name {
			return s, true
		}
	}
	return ScalarParam{}, false
}

// WithBody returns a shallow copy of l with its body replaced.
func (l *Loop) WithBody(body []Stmt) *Loop {
	c := *l
	c.Body = body
	return &c
}

func (l *Loop) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "loop %s: for %s := %s; %s < %s; %s += %d {\n",
		l.Name, l.Var, l.Start, l.Var, l.End, l.Var, l.Stride)
	for _, s := range l.Body {
		fmt.Fprintf(&sb, "\t%s\n", s)
	}
	sb.WriteString("}")
	return sb.String()
}
