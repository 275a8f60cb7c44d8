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

func TestChooseUnroll(t *testing.T) {
	sumAbsNeg := `
func f(a, b, c, d []float64, total float64) float64 {
	for i := 0; i < len(a); i++ {
		d[i] = math.Abs(-a[i]*-b[i]) + math.Abs(-a[i]*-c[i]) + math.Abs(-b[i]*-c[i])
		total += d[i]
	}
	return total
}`
	short := `
func f(a []int32, s int32) int32 {
	for i := 0; i < 6; i++ {
		s += a[i]
	}
	return s
}`
	tests := []struct {
		name      string
		src       string
		maxUnroll int
		limit     int
		want      int
	}{
		{"small body", dotSrc, 16, 250, 16},
		{"capped", dotSrc, 4, 250, 4},
		{"cap not a power of two", dotSrc, 12, 250, 8},
		{"no unrolling", dotSrc, 1, 250, 1},
		{"body limit", dotSrc, 16, 10, 2},
		{"large body", sumAbsNeg, 16, 250, 8},
		{"constant trip count", short, 16, 250, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.LoopMaxUnroll = tt.maxUnroll
			cfg.LoopUnrollLimit = tt.limit
			if got := ChooseUnroll(mustLoop(t, tt.src), cfg); got != tt.want {
				t.Errorf("ChooseUnroll = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestVectorizePath(t *testing.T) {
	branch := `
func clampMin(a, b []int32, sum int32) int32 {
	for i := 0; i < len(a); i++ {
		if a[i] < b[i] {
			sum = a[i]
		}
	}
	return sum
}`
	store := `
func scale(a, b []int32, k int32) {
	for i := 0; i < len(a); i++ {
		b[i] = a[i]*k + 1
	}
}`
	strided := `
func f(a []int32, s int32) int32 {
	for i := 0; i < len(a); i += 2 {
		s += a[i]
	}
	return s
}`
	generated := []State{Unanalyzed, Analyzed, Matched, Planned, Generated}
	matchedFallback := []State{Unanalyzed, Analyzed, Matched, ScalarFallback}

	tests := []struct {
		name       string
		src        string
		unroll     int
		reductions bool
		path       []State
		reason     string
	}{
		{"reduction", dotSrc, 0, true, generated, ""},
		{"store only", store, 0, true, generated, ""},
		{"store only without reductions", store, 0, false, generated, ""},
		{"reductions disabled", dotSrc, 0, false, matchedFallback, "reduction vectorization disabled"},
		{"small unroll", dotSrc, 4, true, matchedFallback, "unroll factor 4 does not exceed 4"},
		{"branch", branch, 0, true, []State{Unanalyzed, Analyzed, NoIdiom, ScalarFallback}, "under a condition"},
		{"strided", strided, 0, true, matchedFallback, "non-unit stride"},
		{"not unrolled", store, 1, true, matchedFallback, "loop is not unrolled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loop, err := ir.ParseFunc(tt.src, "", ir.WithUnroll(tt.unroll))
			require.NoError(t, err)
			cfg := testConfig("avx2")
			cfg.ReductionVectorization = tt.reductions
			prog, err := Vectorize(loop, cfg)
			require.NoError(t, err)
			rep := prog.Report
			require.Equal(t, tt.path, rep.Path)
			require.Equal(t, tt.path[len(tt.path)-1], rep.State)
			if tt.reason == "" {
				require.Empty(t, rep.Reason)
				require.True(t, rep.IsVector())
			} else {
				require.Contains(t, rep.Reason, tt.reason)
				require.False(t, rep.IsVector())
				require.Equal(t, 1, prog.Lanes)
			}
		})
	}
}

func TestVectorizeErrors(t *testing.T) {
	cfg := testConfig("avx2")

	_, err := Vectorize(nil, cfg)
	require.Error(t, err)

	_, err = Vectorize(&ir.Loop{Name: "empty", Stride: 1}, cfg)
	require.ErrorContains(t, err, "empty body")

	loop := mustLoop(t, dotSrc)
	loop.Unroll = 3
	_, err = Vectorize(loop, cfg)
	require.ErrorContains(t, err, "not a power of two")

	bad := cfg
	bad.LoopMaxUnroll = 0
	_, err = Vectorize(mustLoop(t, dotSrc), bad)
	require.ErrorContains(t, err, "invalid config")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"default", func(*Config) {}, ""},
		{"max unroll", func(c *Config) { c.LoopMaxUnroll = 0 }, "loop_max_unroll"},
		{"unroll limit", func(c *Config) { c.LoopUnrollLimit = -1 }, "loop_unroll_limit"},
		{"reduction threshold", func(c *Config) { c.MinReductionUnroll = -1 }, "min_reduction_unroll"},
		{"sve length", func(c *Config) { c.SVEVectorBytes = 24 }, "sve_vector_bytes"},
		{"width cap", func(c *Config) { c.MaxVectorBytes = 48 }, "max_vector_bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestTreeReductionShape(t *testing.T) {
	prog, err := Vectorize(mustLoop(t, dotSrc), testConfig("avx2"))
	require.NoError(t, err)
	rep := prog.Report
	require.Equal(t, 8, rep.Lanes)
	require.Equal(t, 32, rep.VectorBytes)
	require.Equal(t, "tree", rep.Strategy)

	// Two groups of eight lanes; the accumulator is folded once.
	require.Len(t, prog.Prologue, 1)
	require.Equal(t, 4, rep.Vector["LoadVector"])
	require.Equal(t, 2, rep.Vector["MulVI"])
	require.Equal(t, 2, rep.Vector["AddVI"])
	require.Equal(t, 1, rep.Vector["ReplicateI"])
	require.Equal(t, 1, rep.Vector["AddReductionVI"])
	// The tail runs one scalar iteration.
	require.Equal(t, 1, rep.Scalar["MulI"])
	require.Equal(t, 2, rep.Scalar["LoadI"])
	require.Contains(t, rep.String(), "unroll=16 lanes=8 bytes=32 tree")
}

func TestOrderedReductionShape(t *testing.T) {
	prog, err := Vectorize(mustLoop(t, `
func sum(a []float32, s float32) float32 {
	for i := 0; i < len(a); i++ {
		s += a[i]
	}
	return s
}`), testConfig("sse2"))
	require.NoError(t, err)
	rep := prog.Report
	require.Equal(t, "ordered", rep.Strategy)
	require.Empty(t, prog.Prologue)
	require.Empty(t, prog.Epilogue)
	require.Equal(t, 4, rep.Vector["AddReductionVF"])
	require.Equal(t, 4, rep.Vector["LoadVector"])
}

func TestSpilledReductionShape(t *testing.T) {
	prog, err := Vectorize(mustLoop(t, `
func sum(a []float64, s float64) float64 {
	for i := 0; i < len(a); i++ {
		s += a[i]
	}
	return s
}`), testConfig("sse2"))
	require.NoError(t, err)
	rep := prog.Report
	require.Equal(t, 2, rep.Lanes)
	require.Equal(t, 8, rep.Vector["AddReductionVD"])
	require.Equal(t, 8, rep.Vector["StoreVector"])
	require.Equal(t, 16, rep.Vector["LoadVector"])
}

func TestVectorizeDoesNotModifyLoop(t *testing.T) {
	loop := mustLoop(t, mulAddSrc)
	before := loop.String()
	prog, err := Vectorize(loop, testConfig("sse4.1"))
	require.NoError(t, err)
	require.Equal(t, before, loop.String())
	require.Positive(t, prog.Report.Count("MulAddVS2VI"))
	require.Positive(t, prog.Report.Count("MulAddS2I"))
}

func TestTrace(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig("avx2")
	cfg.Trace = &buf
	_, err := Vectorize(mustLoop(t, dotSrc), cfg)
	require.NoError(t, err)
	out := buf.String()
	for _, want := range []string{
		"[superword] dot: unroll 16",
		"[superword] dot: planned 4 packs at width 8",
		"[superword] dot: generated 8 lanes x 32 bytes",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("trace missing %q:\n%s", want, out)
		}
	}
}

func TestStateString(t *testing.T) {
	require.Equal(t, "ScalarFallback", ScalarFallback.String())
	require.Equal(t, "State(42)", State(42).String())
}
