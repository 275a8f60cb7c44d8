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
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestTypeProperties verifies the type descriptor table.
func TestTypeProperties(t *testing.T) {
	tests := []struct {
		typ    Type
		bits   int
		float  bool
		suffix string
	}{
		{Int16, 16, false, "S"},
		{Int32, 32, false, "I"},
		{Int64, 64, false, "L"},
		{Float32, 32, true, "F"},
		{Float64, 64, true, "D"},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			if got := tt.typ.Bits(); got != tt.bits {
				t.Errorf("Bits() = %d, want %d", got, tt.bits)
			}
			if got := tt.typ.IsFloat(); got != tt.float {
				t.Errorf("IsFloat() = %v, want %v", got, tt.float)
			}
			if got := tt.typ.IsInt(); got == tt.float {
				t.Errorf("IsInt() = %v, want %v", got, !tt.float)
			}
			if got := tt.typ.Suffix(); got != tt.suffix {
				t.Errorf("Suffix() = %q, want %q", got, tt.suffix)
			}
			parsed, ok := ParseType(tt.typ.String())
			if !ok || parsed != tt.typ {
				t.Errorf("ParseType(%q) = %v, %v", tt.typ, parsed, ok)
			}
		})
	}
}

func TestReassociates(t *testing.T) {
	tests := []struct {
		op   Op
		typ  Type
		want bool
	}{
		{OpAdd, Int32, true},
		{OpMul, Int64, true},
		{OpXor, Int32, true},
		{OpAdd, Float32, false},
		{OpMul, Float64, false},
		{OpMin, Float32, true},
		{OpMax, Float64, true},
		{OpSub, Int32, false},
	}
	for _, tt := range tests {
		if got := tt.op.Reassociates(tt.typ); got != tt.want {
			t.Errorf("%s.Reassociates(%s) = %v, want %v", tt.op, tt.typ, got, tt.want)
		}
	}
}

func TestIdentity(t *testing.T) {
	tests := []struct {
		op   Op
		typ  Type
		want string
	}{
		{OpAdd, Int32, "0"},
		{OpMul, Int64, "1"},
		{OpAnd, Int32, "-1"},
		{OpOr, Int64, "0"},
		{OpXor, Int32, "0"},
		{OpMin, Int32, "2147483647"},
		{OpMax, Int64, "-9223372036854775808"},
		{OpMin, Float32, "+Inf"},
		{OpMax, Float64, "-Inf"},
		{OpMul, Float32, "1"},
	}
	for _, tt := range tests {
		v, ok := Identity(tt.op, tt.typ)
		require.True(t, ok, "%s over %s", tt.op, tt.typ)
		if got := v.String(); got != tt.want {
			t.Errorf("Identity(%s, %s) = %s, want %s", tt.op, tt.typ, got, tt.want)
		}
	}
	if _, ok := Identity(OpAnd, Float32); ok {
		t.Error("and has no identity over float32")
	}
}

func TestApplyWraps(t *testing.T) {
	x := IntValue(Int32, math.MaxInt32)
	got := Apply(OpAdd, Int32, x, IntValue(Int32, 1))
	if got.Int() != math.MinInt32 {
		t.Errorf("MaxInt32+1 = %d, want %d", got.Int(), math.MinInt32)
	}
	got = Apply(OpDiv, Int32, IntValue(Int32, math.MinInt32), IntValue(Int32, -1))
	if got.Int() != math.MinInt32 {
		t.Errorf("MinInt32 / -1 = %d, want %d", got.Int(), math.MinInt32)
	}
	require.PanicsWithValue(t, ErrDivideByZero, func() {
		Apply(OpDiv, Int64, IntValue(Int64, 1), IntValue(Int64, 0))
	})
}

func TestApplyFloat32Rounds(t *testing.T) {
	a := FloatValue(Float32, 1)
	b := FloatValue(Float32, 1e-8)
	got := Apply(OpAdd, Float32, a, b)
	if got.Float32() != 1 {
		t.Errorf("1 + 1e-8 in float32 = %v, want 1", got.Float32())
	}
	nan := FloatValue(Float32, math.NaN())
	if m := Apply(OpMin, Float32, a, nan); !math.IsNaN(m.Float()) {
		t.Errorf("min(1, NaN) = %v, want NaN", m)
	}
}

func TestConvertValue(t *testing.T) {
	tests := []struct {
		in   Value
		to   Type
		want int64
	}{
		{IntValue(Int32, 70000), Int16, 4464},
		{IntValue(Int16, -3), Int32, -3},
		{FloatValue(Float64, 3.9), Int32, 3},
		{FloatValue(Float64, -3.9), Int32, -3},
		{FloatValue(Float64, 1e20), Int32, math.MaxInt32},
		{FloatValue(Float32, math.NaN()), Int64, 0},
	}
	for _, tt := range tests {
		if got := ConvertValue(tt.in, tt.to).Int(); got != tt.want {
			t.Errorf("ConvertValue(%v, %s) = %d, want %d", tt.in, tt.to, got, tt.want)
		}
	}
}

func TestEvalMulAddS2I(t *testing.T) {
	got := EvalMulAddS2I(IntValue(Int16, -2), IntValue(Int16, 3), IntValue(Int16, 4), IntValue(Int16, 5))
	if got.Int() != 14 {
		t.Errorf("EvalMulAddS2I(-2,3,4,5) = %d, want 14", got.Int())
	}
	big := IntValue(Int16, math.MinInt16)
	got = EvalMulAddS2I(big, big, big, big)
	if got.Int() != math.MinInt32 {
		t.Errorf("MulAddS2I overflow = %d, want %d", got.Int(), math.MinInt32)
	}
}

// TestBuilderReduction builds the canonical int add reduction.
func TestBuilderReduction(t *testing.T) {
	src := `
func sumProd(a, b, c []int32, sum int32) int32 {
	for i := 0; i < len(a); i++ {
		sum += a[i]*b[i] + a[i]*c[i] + b[i]*c[i]
	}
	return sum
}
`
	loop, err := ParseFunc(src, "sumProd", WithUnroll(8))
	require.NoError(t, err)

	if loop.Name != "sumProd" || loop.Var != "i" || loop.Unroll != 8 {
		t.Errorf("got name=%s var=%s unroll=%d", loop.Name, loop.Var, loop.Unroll)
	}
	if loop.End.LenOf != "a" {
		t.Errorf("End = %s, want len(a)", loop.End)
	}
	if loop.Result != "sum" {
		t.Errorf("Result = %q, want sum", loop.Result)
	}
	require.Len(t, loop.Body, 1)
	asg, ok := loop.Body[0].(*Assign)
	require.True(t, ok, "body[0] is %T", loop.Body[0])
	bin, ok := asg.Value.(*Binary)
	require.True(t, ok)
	if bin.Op != OpAdd || bin.T != Int32 {
		t.Errorf("update = %s over %s", bin.Op, bin.T)
	}
	if ref, ok := bin.X.(*AccRef); !ok || ref.Name != "sum" {
		t.Errorf("update lhs = %s, want AccRef(sum)", bin.X)
	}
	if got := CountOps(asg.Value); got != 6 {
		t.Errorf("CountOps = %d, want 6", got)
	}
}

func TestBuilderLocalAndIndex(t *testing.T) {
	src := `
package kernels

func prod(a []float32, n int) float32 {
	total := float32(1)
	for i := 0; i < n/2; i++ {
		t := a[2*i+1] * 0.5
		total *= t
	}
	return total
}
`
	loops, err := ParseFile("prod.go", src)
	require.NoError(t, err)
	require.Len(t, loops, 1)
	loop := loops[0]

	total, ok := loop.Scalar("total")
	require.True(t, ok)
	if !total.Local || total.Init.Float() != 1 {
		t.Errorf("total = %+v, want local initialised to 1", total)
	}
	if loop.End.Param != "n" || loop.End.Div != 2 {
		t.Errorf("End = %s, want n/2", loop.End)
	}
	require.Len(t, loop.Body, 1)
	asg := loop.Body[0].(*Assign)
	var loads []*Load
	Walk(asg.Value, func(e Expr) {
		if l, ok := e.(*Load); ok {
			loads = append(loads, l)
		}
	})
	require.Len(t, loads, 1)
	if got := loads[0].Index; got != AffineIndex(2, 1) {
		t.Errorf("index = %s, want 2*i+1", got)
	}
}

func TestBuilderNonAffineIndex(t *testing.T) {
	src := `
func gather(a []int32, idx []int64, k int64, s int32) int32 {
	for i := 0; i < 100; i++ {
		s += a[idx[i]] + a[k]
	}
	return s
}
`
	loop, err := ParseFunc(src, "")
	require.NoError(t, err)
	var affine, opaque int
	Walk(loop.Body[0].(*Assign).Value, func(e Expr) {
		if l, ok := e.(*Load); ok && l.Array == "a" {
			if l.Index.Affine {
				affine++
			} else {
				opaque++
			}
		}
	})
	if affine != 0 || opaque != 2 {
		t.Errorf("affine=%d opaque=%d, want 0 and 2", affine, opaque)
	}
}

func TestBuilderBranch(t *testing.T) {
	src := `
func branchMin(a []int32, m int32) int32 {
	for i := 0; i < len(a); i++ {
		if a[i] < m {
			m = a[i]
		}
	}
	return m
}
`
	loop, err := ParseFunc(src, "")
	require.NoError(t, err)
	require.Len(t, loop.Body, 1)
	br, ok := loop.Body[0].(*Branch)
	require.True(t, ok, "body[0] is %T", loop.Body[0])
	if _, ok := br.Cond.(*Compare); !ok {
		t.Errorf("cond is %T, want *Compare", br.Cond)
	}
}

func TestBuilderErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "no loop",
			src:  "func f(a []int32) {}",
			want: "has no loop",
		},
		{
			name: "early exit",
			src: `func f(a []int32, s int32) int32 {
	for i := 0; i < len(a); i++ {
		if a[i] == 0 {
			break
		}
	}
	return s
}`,
			want: "not a counted loop",
		},
		{
			name: "mixed types",
			src: `func f(a []int32, b []int64, s int64) int64 {
	for i := 0; i < len(a); i++ {
		s += a[i] + b[i]
	}
	return s
}`,
			want: "mismatched types",
		},
		{
			name: "untyped local",
			src: `func f(a []int32) int32 {
	s := 0
	for i := 0; i < len(a); i++ {
		s += a[i]
	}
	return s
}`,
			want: "explicit type",
		},
		{
			name: "not counted",
			src: `func f(a []int32, s int32) int32 {
	for i := 0; i != len(a); i++ {
		s += a[i]
	}
	return s
}`,
			want: "not a counted loop",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFunc(tt.src, "")
			require.Error(t, err)
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
			if !strings.Contains(err.Error(), "kernel.go:") {
				t.Errorf("error %q carries no position", err)
			}
		})
	}
}
