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

package superword

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ajroetker/go-superword/ir"
	"github.com/stretchr/testify/require"
)

const mulAddSrc = `
func f(a, b []int16, sum int32) int32 {
	for i := 0; i < len(a)/2; i++ {
		sum += int32(a[2*i])*int32(b[2*i]) + int32(a[2*i+1])*int32(b[2*i+1])
	}
	return sum
}`

func countMulAdd(loop *ir.Loop) int {
	n := 0
	for _, stmt := range loop.Body {
		for _, e := range ir.StmtExprs(stmt) {
			ir.Walk(e, func(x ir.Expr) {
				if _, ok := x.(*ir.MulAddS2I); ok {
					n++
				}
			})
		}
	}
	return n
}

func TestFusionMulAddS2I(t *testing.T) {
	loop := mustLoop(t, mulAddSrc)
	before := loop.String()

	var trace bytes.Buffer
	cfg := DefaultConfig()
	cfg.Trace = &trace
	fusedLoop, n := ApplyFusionRules(loop, cfg, 8, newTracer(cfg))
	require.Equal(t, 1, n)
	require.Equal(t, 1, countMulAdd(fusedLoop))
	require.Equal(t, 0, countMulAdd(loop))
	require.Equal(t, before, loop.String(), "input loop modified")
	if !strings.Contains(trace.String(), "[superword] fuse MulAddS2I") {
		t.Errorf("trace = %q", trace.String())
	}

	idiom, reason := MatchReduction(fusedLoop)
	require.Empty(t, reason)
	m, ok := idiom.Expr.(*ir.MulAddS2I)
	require.True(t, ok, "contribution %s", idiom.Expr)
	if m.X0.Index.Offset != 0 || m.X1.Index.Offset != 1 || m.X0.Array != m.X1.Array {
		t.Errorf("operands not in element order: %s", m)
	}
}

func TestFusionPreconditions(t *testing.T) {
	loop := mustLoop(t, mulAddSrc)
	cfg := DefaultConfig()

	got, n := ApplyFusionRules(loop, cfg, 4, tracer{})
	if n != 0 || got != loop {
		t.Errorf("fused at unroll 4")
	}

	cfg.ReductionVectorization = false
	if _, n := ApplyFusionRules(loop, cfg, 16, tracer{}); n != 0 {
		t.Errorf("fused with reductions disabled")
	}
}

func TestFusionNeedsAdjacentElements(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{
			name: "gap",
			src: `
func f(a, b []int16, sum int32) int32 {
	for i := 0; i < len(a)/4; i++ {
		sum += int32(a[4*i])*int32(b[4*i]) + int32(a[4*i+2])*int32(b[4*i+2])
	}
	return sum
}`,
		},
		{
			name: "mixed arrays",
			src: `
func f(a, b []int16, sum int32) int32 {
	for i := 0; i < len(a)/2; i++ {
		sum += int32(a[2*i])*int32(b[2*i]) + int32(b[2*i+1])*int32(b[2*i+1])
	}
	return sum
}`,
		},
		{
			name: "int32 inputs",
			src: `
func f(a, b []int32, sum int32) int32 {
	for i := 0; i < len(a)/2; i++ {
		sum += a[2*i]*b[2*i] + a[2*i+1]*b[2*i+1]
	}
	return sum
}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, n := ApplyFusionRules(mustLoop(t, tt.src), DefaultConfig(), 16, tracer{}); n != 0 {
				t.Errorf("fused %d expressions", n)
			}
		})
	}
}

func TestFusionSwappedOperands(t *testing.T) {
	loop := mustLoop(t, `
func f(a, b []int16, sum int32) int32 {
	for i := 0; i < len(a)/2; i++ {
		sum += int32(b[2*i+1])*int32(a[2*i+1]) + int32(a[2*i])*int32(b[2*i])
	}
	return sum
}`)
	fused, n := ApplyFusionRules(loop, DefaultConfig(), 16, tracer{})
	require.Equal(t, 1, n)
	require.Equal(t, 1, countMulAdd(fused))
}

func TestMatchMulAddS2I(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want bool
	}{
		{name: "widened pair", src: mulAddSrc, want: true},
		{
			name: "plain product",
			src: `
func f(a, b []int32, sum int32) int32 {
	for i := 0; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}`,
		},
		{
			name: "sum of int32 products",
			src: `
func f(a, b []int32, sum int32) int32 {
	for i := 0; i < len(a)/2; i++ {
		sum += a[2*i]*b[2*i] + a[2*i+1]*b[2*i+1]
	}
	return sum
}`,
		},
		{
			name: "sum of three products",
			src: `
func f(a, b, c []int32, sum int32) int32 {
	for i := 0; i < len(a); i++ {
		sum += a[i]*b[i] + a[i]*c[i] + b[i]*c[i]
	}
	return sum
}`,
		},
		{
			name: "float add",
			src: `
func f(a, b []float32, sum float32) float32 {
	for i := 0; i < len(a)/2; i++ {
		sum += a[2*i]*b[2*i] + a[2*i+1]*b[2*i+1]
	}
	return sum
}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idiom, reason := MatchReduction(mustLoop(t, tt.src))
			require.Empty(t, reason)
			if got := matchMulAddS2I(idiom.Expr); got != tt.want {
				t.Errorf("matchMulAddS2I(%s) = %v, want %v", idiom.Expr, got, tt.want)
			}
			if !tt.want {
				x0, y0, x1, y1, _ := mulAddOperands(idiom.Expr)
				if x0 != nil || y0 != nil || x1 != nil || y1 != nil {
					t.Errorf("rejected candidate returned operands")
				}
			}
		})
	}
}

// TestFusionLeavesProductsAlone checks that reductions over int32 products
// are not rewritten when they cannot fuse.
func TestFusionLeavesProductsAlone(t *testing.T) {
	loop := mustLoop(t, `
func f(a, b, c []int32, sum int32) int32 {
	for i := 0; i < len(a); i++ {
		sum += a[i]*b[i] + a[i]*c[i] + b[i]*c[i]
	}
	return sum
}`)
	fused, n := ApplyFusionRules(loop, DefaultConfig(), 16, tracer{})
	require.Equal(t, 0, n)
	require.Equal(t, 0, countMulAdd(fused))
	require.Equal(t, loop.String(), fused.String())
}
