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
	"fmt"
	"io"
	"os"

	"github.com/ajroetker/go-superword/superword"
	"github.com/ajroetker/go-superword/target"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Matrix is a sweep over configurations. Every combination of its list
// fields becomes one superword.Config.
type Matrix struct {
	Reductions      []bool            `yaml:"reductions"`
	LoopMaxUnroll   []int             `yaml:"loop_max_unroll"`
	Features        []target.Features `yaml:"features"`
	Strict          []bool            `yaml:"strict_float_reductions"`
	LoopUnrollLimit int               `yaml:"loop_unroll_limit"`
	Experimental    bool              `yaml:"experimental_int_minmax"`
	SVEVectorBytes  int               `yaml:"sve_vector_bytes"`
	Kernels         []string          `yaml:"kernels"`
}

// DefaultMatrix is the standard scenario grid: reductions on and off
// crossed with LoopMaxUnroll 2, 4, 8 and 16, over a spread of
// x86 and arm feature sets.
func DefaultMatrix() Matrix {
	return Matrix{
		Reductions:    []bool{true, false},
		LoopMaxUnroll: []int{2, 4, 8, 16},
		Features: []target.Features{
			target.MustParse("sse2"),
			target.MustParse("sse4.1"),
			target.MustParse("avx"),
			target.MustParse("avx2"),
			target.MustParse("avx512dq"),
			target.MustParse("asimd"),
			target.MustParse("sve"),
		},
		Strict:          []bool{true},
		LoopUnrollLimit: 250,
	}
}

// LoadMatrix reads a YAML matrix. Missing fields take the values of
// DefaultMatrix.
func LoadMatrix(path string) (Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return Matrix{}, err
	}
	defer f.Close()
	return DecodeMatrix(f)
}

// DecodeMatrix decodes a YAML matrix from r; see LoadMatrix.
func DecodeMatrix(r io.Reader) (Matrix, error) {
	m := DefaultMatrix()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && err != io.EOF {
		return Matrix{}, fmt.Errorf("decode matrix: %w", err)
	}
	return m, nil
}

// Configs expands the matrix.
func (m Matrix) Configs() ([]superword.Config, error) {
	base := superword.DefaultConfig()
	if m.LoopUnrollLimit > 0 {
		base.LoopUnrollLimit = m.LoopUnrollLimit
	}
	if m.SVEVectorBytes > 0 {
		base.SVEVectorBytes = m.SVEVectorBytes
	}
	base.ExperimentalIntMinMax = m.Experimental
	strict := m.Strict
	if len(strict) == 0 {
		strict = []bool{true}
	}

	var out []superword.Config
	for _, feat := range m.Features {
		for _, red := range m.Reductions {
			for _, u := range m.LoopMaxUnroll {
				for _, s := range strict {
					cfg := base
					cfg.Features = feat
					cfg.ReductionVectorization = red
					cfg.LoopMaxUnroll = u
					cfg.StrictFloatReductions = s
					out = append(out, cfg)
				}
			}
		}
	}
	for _, cfg := range out {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Sweep runs every selected kernel under every configuration, using at
// most jobs goroutines, and returns the results in (config, kernel) order.
// An empty names list selects the whole catalogue.
func Sweep(ctx context.Context, configs []superword.Config, names []string, jobs int) ([]Result, error) {
	kernels := Catalogue()
	if len(names) > 0 {
		var selected []*Kernel
		for _, name := range names {
			k, ok := Lookup(name)
			if !ok {
				return nil, fmt.Errorf("unknown kernel %q", name)
			}
			selected = append(selected, k)
		}
		kernels = selected
	}

	results := make([]Result, len(configs)*len(kernels))
	g, ctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for ci, cfg := range configs {
		for ki, k := range kernels {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				results[ci*len(kernels)+ki] = Run(k, cfg, Range)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
