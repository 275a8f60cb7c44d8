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
	"errors"
	"strings"
	"testing"

	"github.com/ajroetker/go-superword/ir"
	"github.com/ajroetker/go-superword/target"
	"github.com/stretchr/testify/require"
)

func testConfig(features string) Config {
	cfg := DefaultConfig()
	cfg.Features = target.MustParse(features)
	return cfg
}

// planFor runs the planner on src at the unroll factor ChooseUnroll picks.
func planFor(t *testing.T, src string, cfg Config) (*Plan, string) {
	t.Helper()
	loop := mustLoop(t, src)
	u := ChooseUnroll(loop, cfg)
	idiom, reason := MatchReduction(loop)
	require.Empty(t, reason)
	pl := &planner{
		loop:   loop,
		legal:  Analyze(loop, u),
		idiom:  idiom,
		gate:   cfg.Gate(),
		cfg:    cfg,
		unroll: u,
	}
	return pl.plan()
}

func packKinds(p *Plan) []PackKind {
	out := make([]PackKind, len(p.Packs))
	for i, pk := range p.Packs {
		out[i] = pk.Kind
	}
	return out
}

const dotSrc = `
func dot(a, b []int32, s int32) int32 {
	for i := 0; i < len(a); i++ {
		s += a[i] * b[i]
	}
	return s
}`

func TestPlanIntReduction(t *testing.T) {
	p, reason := planFor(t, dotSrc, testConfig("sse4.1"))
	require.NotNil(t, p, reason)
	require.Equal(t, 16, p.Unroll)
	require.Equal(t, 4, p.Lanes)
	require.Equal(t, 16, p.VectorBytes)
	require.Equal(t, CombineTree, p.Combine)
	require.False(t, p.Spill)
	require.Equal(t, []PackKind{PackLoad, PackLoad, PackElementwise, PackReduction}, packKinds(p))
	require.True(t, p.IsVector(0))

	p, _ = planFor(t, dotSrc, testConfig("avx512f"))
	require.Equal(t, 16, p.Lanes)
	require.Equal(t, 64, p.VectorBytes)
}

func TestPlanRejectedWidths(t *testing.T) {
	p, reason := planFor(t, dotSrc, testConfig("sse2"))
	require.Nil(t, p)
	if !strings.HasPrefix(reason, "no vector width accepted") || !strings.Contains(reason, "requires") {
		t.Errorf("reason = %q", reason)
	}
}

func TestPlanFloatCombine(t *testing.T) {
	src := `
func sum(a []float32, s float32) float32 {
	for i := 0; i < len(a); i++ {
		s += a[i]
	}
	return s
}`
	cfg := testConfig("sse2")
	p, reason := planFor(t, src, cfg)
	require.NotNil(t, p, reason)
	require.Equal(t, 4, p.Lanes)
	require.Equal(t, CombineOrdered, p.Combine)

	cfg.StrictFloatReductions = false
	p, _ = planFor(t, src, cfg)
	require.Equal(t, CombineTree, p.Combine)

	// min/max reassociate, so they never need the ordered fold.
	cfg = testConfig("avx")
	p, reason = planFor(t, `
func lo(a []float32, s float32) float32 {
	for i := 0; i < len(a); i++ {
		s = min(s, a[i])
	}
	return s
}`, cfg)
	require.NotNil(t, p, reason)
	require.Equal(t, CombineTree, p.Combine)
}

func TestPlanDoubleSpill(t *testing.T) {
	src := `
func sum(a []float64, s float64) float64 {
	for i := 0; i < len(a); i++ {
		s += a[i]
	}
	return s
}`
	p, reason := planFor(t, src, testConfig("sse2"))
	require.NotNil(t, p, reason)
	require.Equal(t, 2, p.Lanes)
	require.True(t, p.Spill)
	require.Equal(t, CombineOrdered, p.Combine)

	p, _ = planFor(t, src, testConfig("avx2"))
	require.Equal(t, 4, p.Lanes)
	require.False(t, p.Spill)
}

func TestPlanBroadcast(t *testing.T) {
	p, reason := planFor(t, `
func scale(a, b []int32, k int32) {
	for i := 0; i < len(a); i++ {
		b[i] = a[i]*k + 1
	}
}`, testConfig("avx2"))
	require.NotNil(t, p, reason)
	require.Equal(t, 8, p.Lanes)
	require.Equal(t, CombineNone, p.Combine)
	require.Equal(t, []PackKind{PackLoad, PackBroadcast, PackElementwise, PackBroadcast, PackElementwise, PackStore},
		packKinds(p))
}

func TestPlanMulAdd(t *testing.T) {
	loop := mustLoop(t, mulAddSrc)
	cfg := testConfig("sse4.1")
	fused, n := ApplyFusionRules(loop, cfg, 16, tracer{})
	require.Equal(t, 1, n)
	idiom, _ := MatchReduction(fused)
	pl := &planner{loop: fused, legal: Analyze(fused, 16), idiom: idiom, gate: cfg.Gate(), cfg: cfg, unroll: 16}
	p, reason := pl.plan()
	require.NotNil(t, p, reason)
	require.Equal(t, 4, p.Lanes)
	require.Equal(t, []PackKind{PackLoad, PackLoad, PackMulAdd, PackReduction}, packKinds(p))
	require.Equal(t, 8, p.Packs[0].Lanes)
	require.Equal(t, ir.Int16, p.Packs[0].Type)
	require.Equal(t, 16, p.VectorBytes)
}

func TestPlanDemotesDependentStatement(t *testing.T) {
	_, reason := planFor(t, `
func f(a, b []int32, idx []int64, s int32) int32 {
	for i := 0; i < len(b); i++ {
		b[i] = a[idx[i]]
		s += b[i]
	}
	return s
}`, testConfig("avx2"))
	require.Contains(t, reason, "no packable statement")
	require.Contains(t, reason, "stmt 1: depends on scalar stmt 0")
}

func TestPlanKeys(t *testing.T) {
	p, _ := planFor(t, dotSrc, testConfig("avx2"))
	var reductions, memory int
	for _, q := range p.Keys() {
		require.Equal(t, p.Lanes, q.Lanes)
		switch q.Key.Class {
		case target.ClassReduction:
			reductions++
		case target.ClassMemory:
			memory++
		}
	}
	require.Equal(t, 1, reductions)
	// Two loads plus the accumulator broadcast.
	require.Equal(t, 3, memory)
}

func verifyPanic(p *Plan) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = r.(error)
		}
	}()
	p.verify()
	return nil
}

func TestPlanVerify(t *testing.T) {
	loop := &ir.Loop{Name: "broken"}
	load := func(id int, typ ir.Type, lanes int) *Pack {
		return &Pack{ID: id, Kind: PackLoad, Type: typ, Lanes: lanes}
	}
	tests := []struct {
		name string
		plan *Plan
		want string
	}{
		{
			name: "mixed lane types",
			plan: &Plan{Loop: loop, Unroll: 8, Lanes: 4, Packs: []*Pack{
				load(0, ir.Int32, 4),
				{ID: 1, Kind: PackStore, Type: ir.Int64, Lanes: 4, Inputs: []int{0}},
			}},
			want: "mixes int64 and int32",
		},
		{
			name: "forward reference",
			plan: &Plan{Loop: loop, Unroll: 8, Lanes: 4, Packs: []*Pack{
				{ID: 0, Kind: PackStore, Type: ir.Int32, Lanes: 4, Inputs: []int{1}},
				load(1, ir.Int32, 4),
			}},
			want: "not defined before it",
		},
		{
			name: "lane mismatch",
			plan: &Plan{Loop: loop, Unroll: 8, Lanes: 4, Packs: []*Pack{
				load(0, ir.Int32, 8),
				{ID: 1, Kind: PackElementwise, Op: ir.OpNeg, Type: ir.Int32, Lanes: 4, Inputs: []int{0}},
			}},
			want: "with 8 lanes, want 4",
		},
		{
			name: "binary arity",
			plan: &Plan{Loop: loop, Unroll: 8, Lanes: 4, Packs: []*Pack{
				load(0, ir.Int32, 4),
				{ID: 1, Kind: PackElementwise, Op: ir.OpAdd, Type: ir.Int32, Lanes: 4, Inputs: []int{0}},
			}},
			want: "has 1 inputs, want 2",
		},
		{
			name: "width does not divide unroll",
			plan: &Plan{Loop: loop, Unroll: 4, Lanes: 8},
			want: "does not divide",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyPanic(tt.plan)
			var ie *InvariantError
			require.True(t, errors.As(err, &ie), "got %v", err)
			require.Equal(t, "broken", ie.Loop)
			require.Contains(t, ie.Msg, tt.want)
		})
	}
}
