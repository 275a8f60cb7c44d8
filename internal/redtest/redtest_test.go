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

package redtest

import (
	"context"
	"strings"
	"testing"

	"github.com/ajroetker/go-superword/ir"
	"github.com/ajroetker/go-superword/superword"
	"github.com/ajroetker/go-superword/target"
	"github.com/ajroetker/go-superword/vm"
	"github.com/stretchr/testify/require"
)

func config(features string, reductions bool, maxUnroll int) superword.Config {
	cfg := superword.DefaultConfig()
	cfg.Features = target.MustParse(features)
	cfg.ReductionVectorization = reductions
	cfg.LoopMaxUnroll = maxUnroll
	return cfg
}

func TestCatalogueBuilds(t *testing.T) {
	seen := make(map[string]bool)
	for _, k := range Catalogue() {
		t.Run(k.Name, func(t *testing.T) {
			require.False(t, seen[k.Name], "duplicate kernel")
			seen[k.Name] = true
			require.NotEmpty(t, k.Counts)

			loop, err := k.Loop()
			require.NoError(t, err)
			if loop.Result == "" {
				t.Errorf("kernel %s returns nothing", k.Name)
			}
			env := k.Fill(Range)
			for _, a := range loop.Arrays {
				if _, ok := env.Arrays[a.Name]; !ok {
					t.Errorf("fill does not bind array %s", a.Name)
				}
			}
			for _, s := range loop.Scalars {
				if _, ok := env.Scalars[s.Name]; !s.Local && !ok {
					t.Errorf("fill does not bind scalar %s", s.Name)
				}
			}
			if _, reason := superword.MatchReduction(loop); reason != "" {
				t.Errorf("no reduction idiom: %s", reason)
			}
		})
	}
}

func TestExpect(t *testing.T) {
	addInt, _ := Lookup("addInt")
	minInt, _ := Lookup("minInt")
	mulLong, _ := Lookup("mulLong")

	experimental := config("avx512dq", true, 16)
	experimental.ExperimentalIntMinMax = true

	tests := []struct {
		name   string
		kernel *Kernel
		cfg    superword.Config
		unroll int
		want   Expectation
	}{
		{"reductions off", addInt, config("avx512dq", false, 16), 16, Zero},
		{"unroll at threshold", addInt, config("avx512dq", true, 4), 4, Zero},
		{"features met", addInt, config("sse4.1", true, 8), 8, Positive},
		{"arm sve", addInt, config("sve", true, 8), 8, Positive},
		{"features missing", addInt, config("sse2", true, 16), 16, Any},
		{"experimental off", minInt, config("avx512dq", true, 16), 16, Zero},
		{"experimental on", minInt, experimental, 16, Positive},
		{"long mul on avx2", mulLong, config("avx2", true, 16), 16, Any},
		{"long mul on avx512dq", mulLong, config("avx512dq", true, 16), 16, Positive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.kernel.Expect(tt.cfg, tt.unroll); got != tt.want {
				t.Errorf("Expect = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestSweep runs the whole catalogue over the default scenario grid.
func TestSweep(t *testing.T) {
	configs, err := DefaultMatrix().Configs()
	require.NoError(t, err)
	if testing.Short() {
		configs = configs[:8]
	}
	results, err := Sweep(context.Background(), configs, nil, 8)
	require.NoError(t, err)
	require.Len(t, results, len(configs)*len(Catalogue()))
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("%s", r)
		}
	}
}

func TestSweepUnordered(t *testing.T) {
	var configs []superword.Config
	for _, f := range []string{"sse2", "avx2", "avx512dq", "sve"} {
		cfg := config(f, true, 16)
		cfg.StrictFloatReductions = false
		configs = append(configs, cfg)
	}
	results, err := Sweep(context.Background(), configs, nil, 4)
	require.NoError(t, err)
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("%s", r)
		}
		if r.Expect == Positive && r.Report.Strategy == "ordered" {
			t.Errorf("%s: ordered strategy with strict float reductions off", r.Kernel)
		}
	}
}

func TestSweepExperimental(t *testing.T) {
	var configs []superword.Config
	for _, f := range []string{"sse4.1", "avx2", "avx512dq", "sve"} {
		cfg := config(f, true, 16)
		cfg.ExperimentalIntMinMax = true
		configs = append(configs, cfg)
	}
	results, err := Sweep(context.Background(), configs, []string{"minInt", "maxInt", "minLong", "maxLong"}, 0)
	require.NoError(t, err)
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("%s", r)
		}
	}
}

func TestSweepUnknownKernel(t *testing.T) {
	_, err := Sweep(context.Background(), []superword.Config{config("avx2", true, 16)}, []string{"nope"}, 1)
	require.Error(t, err)
}

// TestIntScenario checks the a[i]=i, b[i]=i-1, c[i]=i+1 add reduction under
// every grid configuration.
func TestIntScenario(t *testing.T) {
	k, ok := Lookup("addInt")
	require.True(t, ok)
	loop, err := k.Loop()
	require.NoError(t, err)

	configs, err := DefaultMatrix().Configs()
	require.NoError(t, err)
	for _, cfg := range configs {
		env := vm.NewEnv().
			Array("a", ramp(Range, func(i int) int32 { return int32(i) })).
			Array("b", ramp(Range, func(i int) int32 { return int32(i - 1) })).
			Array("c", ramp(Range, func(i int) int32 { return int32(i + 1) })).
			Scalar("sum", ir.IntValue(ir.Int32, 0))

		prog, err := superword.Vectorize(loop, cfg)
		require.NoError(t, err)
		want, err := vm.Reference(loop, env.Clone())
		require.NoError(t, err)
		got, err := vm.Run(prog, env)
		require.NoError(t, err)
		if got != want {
			t.Errorf("%s: got %s, want %s", cfg, got, want)
		}
	}
}

// TestTail runs every kernel on a trip count that no unroll factor divides.
func TestTail(t *testing.T) {
	cfg := config("avx512dq", true, 16)
	for _, k := range Catalogue() {
		t.Run(k.Name, func(t *testing.T) {
			r := Run(k, cfg, 517)
			require.NoError(t, r.Err)
		})
	}
}

func TestSpecialBytesDoNotCollapse(t *testing.T) {
	for range 20 {
		a, b := specialBytes[int32](Range, -1, 32)
		and := int32(-1)
		for i := range a {
			and &= a[i] - b[i]
		}
		if and == 0 || and == -1 {
			t.Fatalf("and over special bytes collapsed to %d", and)
		}

		c, d := specialBytes[int64](Range, 0, 64)
		var or int64
		for i := range c {
			or |= c[i] - d[i]
		}
		if or == 0 || or == -1 {
			t.Fatalf("or over special bytes collapsed to %d", or)
		}
	}
}

func TestSmallPrimeDiff(t *testing.T) {
	a, b := smallPrimeDiff[int32](Range)
	for i := range a {
		d := -(a[i] - b[i])
		if d < 3 || d > 29 {
			t.Fatalf("a[%d]-b[%d] = %d, want minus a small prime", i, i, -d)
		}
	}
}

func TestDecodeMatrix(t *testing.T) {
	src := `
reductions: [true]
loop_max_unroll: [8, 16]
features:
  - [sse4.1]
  - avx2,sve
kernels: [addInt]
`
	m, err := DecodeMatrix(strings.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, []string{"addInt"}, m.Kernels)
	require.Equal(t, 250, m.LoopUnrollLimit)

	configs, err := m.Configs()
	require.NoError(t, err)
	require.Len(t, configs, 4)
	if !configs[2].Features.Has("avx2") || !configs[2].Features.Has("sve") {
		t.Errorf("features = %s", configs[2].Features)
	}
	if configs[1].LoopMaxUnroll != 16 || !configs[1].ReductionVectorization {
		t.Errorf("configs[1] = %s", configs[1])
	}

	_, err = DecodeMatrix(strings.NewReader("bogus: 1\n"))
	require.Error(t, err)
	_, err = DecodeMatrix(strings.NewReader("features: [[avx9]]\n"))
	require.Error(t, err)
}
