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
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrDivideByZero is returned (as a panic value) by Apply for integer
// division by zero.
var ErrDivideByZero = errors.New("integer divide by zero")

// Value is a typed scalar. Integers are stored sign-extended to 64 bits;
// float32 values hold their IEEE bits in the low word.
type Value struct {
	T    Type
	Bits uint64
}

// IntValue returns v truncated to the integer type t.
func IntValue(t Type, v int64) Value {
	switch t {
	case Int16:
		v = int64(int16(v))
	case Int32:
		v = int64(int32(v))
	}
	return Value{T: t, Bits: uint64(v)}
}

// FloatValue returns v rounded to the floating-point type t.
func FloatValue(t Type, v float64) Value {
	if t == Float32 {
		return Value{T: t, Bits: uint64(math.Float32bits(float32(v)))}
	}
	return Value{T: t, Bits: math.Float64bits(v)}
}

// Int returns the integer value. Only meaningful for integer types.
func (v Value) Int() int64 { return int64(v.Bits) }

// Float32 returns the value as a float32.
func (v Value) Float32() float32 { return math.Float32frombits(uint32(v.Bits)) }

// Float returns the value as a float64. float32 values are widened exactly.
func (v Value) Float() float64 {
	switch v.T {
	case Float32:
		return float64(v.Float32())
	case Float64:
		return math.Float64frombits(v.Bits)
	default:
		return float64(v.Int())
	}
}

func (v Value) String() string {
	switch v.T {
	case Float32:
		return strconv.FormatFloat(float64(v.Float32()), 'g', -1, 32)
	case Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case Invalid:
		return "<invalid>"
	default:
		return strconv.FormatInt(v.Int(), 10)
	}
}

// Identity returns the identity element of the reduction operator op over t:
// 0 for add/xor/or, 1 for mul, all-ones for and, and the largest (min) or
// smallest (max) value of t.
func Identity(op Op, t Type) (Value, bool) {
	switch op {
	case OpAdd, OpOr, OpXor:
		if t.IsFloat() {
			return FloatValue(t, 0), true
		}
		return IntValue(t, 0), true
	case OpMul:
		if t.IsFloat() {
			return FloatValue(t, 1), true
		}
		return IntValue(t, 1), true
	case OpAnd:
		if t.IsInt() {
			return IntValue(t, -1), true
		}
	case OpMin:
		switch t {
		case Float32, Float64:
			return FloatValue(t, math.Inf(1)), true
		case Int16:
			return IntValue(t, math.MaxInt16), true
		case Int32:
			return IntValue(t, math.MaxInt32), true
		case Int64:
			return IntValue(t, math.MaxInt64), true
		}
	case OpMax:
		switch t {
		case Float32, Float64:
			return FloatValue(t, math.Inf(-1)), true
		case Int16:
			return IntValue(t, math.MinInt16), true
		case Int32:
			return IntValue(t, math.MinInt32), true
		case Int64:
			return IntValue(t, math.MinInt64), true
		}
	}
	return Value{}, false
}

// Apply evaluates x op y. Both operands must have type t. Integer arithmetic
// wraps; floating-point arithmetic rounds to t after every operation.
// Integer division by zero panics with ErrDivideByZero.
func Apply(op Op, t Type, x, y Value) Value {
	if t.IsFloat() {
		if t == Float32 {
			a, b := x.Float32(), y.Float32()
			var r float32
			switch op {
			case OpAdd:
				r = float32(a + b)
			case OpSub:
				r = float32(a - b)
			case OpMul:
				r = float32(a * b)
			case OpDiv:
				r = float32(a / b)
			case OpMin:
				r = float32(math.Min(float64(a), float64(b)))
			case OpMax:
				r = float32(math.Max(float64(a), float64(b)))
			default:
				panic(fmt.Sprintf("ir: %s not defined on %s", op, t))
			}
			return Value{T: t, Bits: uint64(math.Float32bits(r))}
		}
		a, b := x.Float(), y.Float()
		var r float64
		switch op {
		case OpAdd:
			r = float64(a + b)
		case OpSub:
			r = float64(a - b)
		case OpMul:
			r = float64(a * b)
		case OpDiv:
			r = float64(a / b)
		case OpMin:
			r = math.Min(a, b)
		case OpMax:
			r = math.Max(a, b)
		default:
			panic(fmt.Sprintf("ir: %s not defined on %s", op, t))
		}
		return Value{T: t, Bits: math.Float64bits(r)}
	}

	a, b := x.Int(), y.Int()
	var r int64
	switch op {
	case OpAdd:
		r = a + b
	case OpSub:
		r = a - b
	case OpMul:
		r = a * b
	case OpDiv:
		if b == 0 {
			panic(ErrDivideByZero)
		}
		if b == -1 {
			// MinInt / -1 overflows; wrap like the hardware does.
			r = -a
		} else {
			r = a / b
		}
	case OpAnd:
		r = a & b
	case OpOr:
		r = a | b
	case OpXor:
		r = a ^ b
	case OpMin:
		r = min(a, b)
	case OpMax:
		r = max(a, b)
	default:
		panic(fmt.Sprintf("ir: %s not defined on %s", op, t))
	}
	return IntValue(t, r)
}

// ApplyUnary evaluates neg, abs or sqrt on x of type t.
func ApplyUnary(op Op, t Type, x Value) Value {
	switch t {
	case Float32:
		a := x.Float32()
		var r float32
		switch op {
		case OpNeg:
			r = -a
		case OpAbs:
			r = float32(math.Abs(float64(a)))
		case OpSqrt:
			r = float32(math.Sqrt(float64(a)))
		default:
			panic(fmt.Sprintf("ir: %s not defined on %s", op, t))
		}
		return Value{T: t, Bits: uint64(math.Float32bits(r))}
	case Float64:
		a := x.Float()
		var r float64
		switch op {
		case OpNeg:
			r = -a
		case OpAbs:
			r = math.Abs(a)
		case OpSqrt:
			r = math.Sqrt(a)
		default:
			panic(fmt.Sprintf("ir: %s not defined on %s", op, t))
		}
		return Value{T: t, Bits: math.Float64bits(r)}
	}
	a := x.Int()
	switch op {
	case OpNeg:
		return IntValue(t, -a)
	case OpAbs:
		if a < 0 {
			a = -a
		}
		return IntValue(t, a)
	}
	panic(fmt.Sprintf("ir: %s not defined on %s", op, t))
}

// ConvertValue converts x to t. Integer narrowing truncates; float to
// integer conversion truncates toward zero and saturates, with NaN mapping
// to zero.
func ConvertValue(x Value, t Type) Value {
	switch {
	case x.T == t:
		return x
	case x.T.IsInt() && t.IsInt():
		return IntValue(t, x.Int())
	case x.T.IsInt() && t.IsFloat():
		return FloatValue(t, float64(x.Int()))
	case x.T.IsFloat() && t.IsFloat():
		return FloatValue(t, x.Float())
	}
	f := x.Float()
	var lo, hi int64
	switch t {
	case Int16:
		lo, hi = math.MinInt16, math.MaxInt16
	case Int32:
		lo, hi = math.MinInt32, math.MaxInt32
	default:
		lo, hi = math.MinInt64, math.MaxInt64
	}
	switch {
	case math.IsNaN(f):
		return IntValue(t, 0)
	case f <= float64(lo):
		return IntValue(t, lo)
	case f >= float64(hi):
		return IntValue(t, hi)
	}
	return IntValue(t, int64(f))
}

// EvalMulAddS2I evaluates int32(x0)*int32(y0) + int32(x1)*int32(y1) with
// int32 wraparound.
func EvalMulAddS2I(x0, y0, x1, y1 Value) Value {
	p0 := int32(x0.Int()) * int32(y0.Int())
	p1 := int32(x1.Int()) * int32(y1.Int())
	return IntValue(Int32, int64(p0+p1))
}
