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
	"fmt"
	"io"
	"math/bits"

	"github.com/ajroetker/go-superword/target"
)

// Config holds the knobs of one compilation. It is passed by value and
// never mutated by the vectorizer.
type Config struct {
	// ReductionVectorization enables vectorizing loops that carry a
	// reduction. When false such loops stay scalar.
	ReductionVectorization bool `yaml:"reductions"`

	// LoopMaxUnroll caps the unroll factor chosen by ChooseUnroll.
	LoopMaxUnroll int `yaml:"loop_max_unroll"`

	// LoopUnrollLimit bounds the unrolled body size (ops per iteration
	// times unroll factor).
	LoopUnrollLimit int `yaml:"loop_unroll_limit"`

	// MinReductionUnroll is the largest unroll factor at which reductions
	// are still left scalar.
	MinReductionUnroll int `yaml:"min_reduction_unroll"`

	// Features is the capability oracle consulted by the gate.
	Features target.Features `yaml:"features"`

	// SVEVectorBytes is the SVE vector length in bytes.
	SVEVectorBytes int `yaml:"sve_vector_bytes"`

	// MaxVectorBytes caps the vector width. Zero means no cap.
	MaxVectorBytes int `yaml:"max_vector_bytes"`

	// StrictFloatReductions keeps float add/mul reductions in loop order
	// by folding lanes in sequence inside the loop. When false the lanes
	// are accumulated in a vector and folded pairwise after the loop, which
	// may round differently.
	StrictFloatReductions bool `yaml:"strict_float_reductions"`

	// ExperimentalIntMinMax enables int32/int64 min and max vectors.
	ExperimentalIntMinMax bool `yaml:"experimental_int_minmax"`

	// Trace receives debug lines. SUPERWORD_DEBUG sends them to stderr
	// when Trace is nil.
	Trace io.Writer `yaml:"-"`
}

// DefaultConfig returns the configuration used when none is given: the
// host's features, reductions on, LoopMaxUnroll=16, LoopUnrollLimit=250
// and strict float order.
func DefaultConfig() Config {
	return Config{
		ReductionVectorization: true,
		LoopMaxUnroll:          16,
		LoopUnrollLimit:        250,
		MinReductionUnroll:     4,
		Features:               target.Host(),
		SVEVectorBytes:         target.DefaultSVEVectorBytes,
		StrictFloatReductions:  true,
	}
}

// Validate checks the configuration for values the vectorizer cannot use.
func (c Config) Validate() error {
	if c.LoopMaxUnroll < 1 {
		return fmt.Errorf("loop_max_unroll must be at least 1, got %d", c.LoopMaxUnroll)
	}
	if c.LoopUnrollLimit < 1 {
		return fmt.Errorf("loop_unroll_limit must be at least 1, got %d", c.LoopUnrollLimit)
	}
	if c.MinReductionUnroll < 0 {
		return fmt.Errorf("min_reduction_unroll must not be negative, got %d", c.MinReductionUnroll)
	}
	if c.SVEVectorBytes != 0 && (c.SVEVectorBytes < 16 || c.SVEVectorBytes > 256 || c.SVEVectorBytes%16 != 0) {
		return fmt.Errorf("sve_vector_bytes must be a multiple of 16 in [16, 256], got %d", c.SVEVectorBytes)
	}
	if c.MaxVectorBytes < 0 || (c.MaxVectorBytes > 0 && bits.OnesCount(uint(c.MaxVectorBytes)) != 1) {
		return fmt.Errorf("max_vector_bytes must be zero or a power of two, got %d", c.MaxVectorBytes)
	}
	return nil
}

// Gate returns the capability gate for this configuration.
func (c Config) Gate() *target.Gate {
	sve := c.SVEVectorBytes
	if sve == 0 {
		sve = target.DefaultSVEVectorBytes
	}
	return target.NewGate(c.Features,
		target.WithSVEVectorBytes(sve),
		target.WithMaxVectorBytes(c.MaxVectorBytes),
		target.WithExperimental(c.ExperimentalIntMinMax),
	)
}

func (c Config) String() string {
	red := "off"
	if c.ReductionVectorization {
		red = "on"
	}
	return fmt.Sprintf("reductions=%s max_unroll=%d features=%s", red, c.LoopMaxUnroll, c.Features.Compact())
}
