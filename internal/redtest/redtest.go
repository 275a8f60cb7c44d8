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

// Package redtest holds the reduction acceptance catalogue: accumulation
// kernels over int, long, float and double arrays, the data they run on,
// and the rules deciding which vector nodes each configuration must (or
// must not) produce.
package redtest

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ajroetker/go-superword/ir"
	"github.com/ajroetker/go-superword/superword"
	"github.com/ajroetker/go-superword/vm"
)

// Expectation is what a configuration demands of a kernel's counted nodes.
type Expectation uint8

const (
	// Any places no constraint on the counts.
	Any Expectation = iota
	// Zero requires every counted node to be absent.
	Zero
	// Positive requires every counted node to be present.
	Positive
)

func (e Expectation) String() string {
	switch e {
	case Zero:
		return "=0"
	case Positive:
		return ">0"
	}
	return "any"
}

// Expect returns the rule for k compiled under cfg with the given unroll
// factor.
func (k *Kernel) Expect(cfg superword.Config, unroll int) Expectation {
	switch {
	case !cfg.ReductionVectorization, unroll <= cfg.MinReductionUnroll:
		return Zero
	case k.Requires.Experimental && !cfg.ExperimentalIntMinMax:
		return Zero
	case k.Requires.Satisfied(cfg.Features.Closure()):
		return Positive
	}
	return Any
}

// narrowOnly reports an x86 feature set that tops out at 128-bit integer
// vectors, where int64 kernels must not vectorize.
func narrowOnly(cfg superword.Config) bool {
	f := cfg.Features.Closure()
	return f.Has("sse4.1") && !f.Has("avx2") && !f.Has("sve") && !f.Has("asimd")
}

// CheckReport verifies the presence rules against a compiled report.
func (k *Kernel) CheckReport(rep *superword.Report, cfg superword.Config) error {
	var errs []error
	switch want := k.Expect(cfg, rep.Unroll); want {
	case Zero:
		for _, name := range k.Counts {
			if n := rep.Count(name); n != 0 {
				errs = append(errs, fmt.Errorf("%s = %d, want 0", name, n))
			}
		}
	case Positive:
		for _, name := range k.Counts {
			if rep.Count(name) == 0 {
				errs = append(errs, fmt.Errorf("%s = 0, want > 0", name))
			}
		}
	}
	if k.Wide && narrowOnly(cfg) {
		if n := rep.Count("LoadVector"); n != 0 {
			errs = append(errs, fmt.Errorf("LoadVector = %d without avx2, want 0", n))
		}
	}
	if len(errs) > 0 && rep.Reason != "" {
		errs = append(errs, fmt.Errorf("fallback reason: %s", rep.Reason))
	}
	return errors.Join(errs...)
}

// Result is the outcome of one kernel under one configuration.
type Result struct {
	Kernel string
	Config superword.Config
	Report *superword.Report
	Expect Expectation

	// Got and Want are the kernel results of the compiled program and of
	// the reference evaluation.
	Got, Want ir.Value

	Err error
}

func (r Result) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-18s %-44s", r.Kernel, r.Config)
	if r.Report != nil {
		fmt.Fprintf(&sb, " %-14s u=%-2d", r.Report.State, r.Report.Unroll)
	}
	fmt.Fprintf(&sb, " %-4s", r.Expect)
	if r.Err != nil {
		fmt.Fprintf(&sb, " FAIL: %v", r.Err)
	} else {
		sb.WriteString(" ok")
	}
	return sb.String()
}

// Run compiles k under cfg, executes the program and the reference on the
// same n-element inputs, and checks that they agree and that the report
// satisfies the presence rules.
func Run(k *Kernel, cfg superword.Config, n int) Result {
	res := Result{Kernel: k.Name, Config: cfg}
	loop, err := k.Loop()
	if err != nil {
		res.Err = err
		return res
	}
	prog, err := superword.Vectorize(loop, cfg)
	if err != nil {
		res.Err = err
		return res
	}
	res.Report = prog.Report
	res.Expect = k.Expect(cfg, prog.Report.Unroll)

	env := k.Fill(n)
	ref := env.Clone()
	if res.Got, err = vm.Run(prog, env); err != nil {
		res.Err = err
		return res
	}
	if res.Want, err = vm.Reference(loop, ref); err != nil {
		res.Err = err
		return res
	}

	var errs []error
	exact := cfg.StrictFloatReductions || !prog.Report.IsVector()
	if !agree(res.Got, res.Want, exact) {
		errs = append(errs, fmt.Errorf("result %s, reference %s", res.Got, res.Want))
	}
	if err := sameArrays(env, ref); err != nil {
		errs = append(errs, err)
	}
	if k.Collapsed != nil && k.Collapsed(res.Got) {
		errs = append(errs, fmt.Errorf("result collapsed to %s", res.Got))
	}
	if k.Total != nil {
		if total := k.Total(env); !agree(res.Got, total, exact) {
			errs = append(errs, fmt.Errorf("result %s, stored terms total %s", res.Got, total))
		}
	}
	if err := k.CheckReport(prog.Report, cfg); err != nil {
		errs = append(errs, err)
	}
	res.Err = errors.Join(errs...)
	return res
}

// agree compares two results. Integers must match exactly; floats match
// exactly when the lanes were folded in loop order and within a relative
// tolerance otherwise.
func agree(got, want ir.Value, exact bool) bool {
	if got.T != want.T {
		return false
	}
	if !got.T.IsFloat() || exact {
		if got.T.IsFloat() && math.IsNaN(got.Float()) {
			return math.IsNaN(want.Float())
		}
		return got.Bits == want.Bits
	}
	g, w := got.Float(), want.Float()
	if math.IsNaN(g) || math.IsInf(g, 0) {
		return false
	}
	tol := 1e-9
	if got.T == ir.Float32 {
		tol = 1e-4
	}
	return math.Abs(g-w) <= tol*math.Max(1, math.Abs(w))
}

// sameArrays checks that the program and the reference wrote identical
// arrays. Stored values never depend on reduction order.
func sameArrays(got, want *vm.Env) error {
	for name, data := range got.Arrays {
		var diff int
		switch a := data.(type) {
		case []float32:
			diff = firstDiff(a, want.Arrays[name].([]float32))
		case []float64:
			diff = firstDiff(a, want.Arrays[name].([]float64))
		case []int16:
			diff = firstDiff(a, want.Arrays[name].([]int16))
		case []int32:
			diff = firstDiff(a, want.Arrays[name].([]int32))
		case []int64:
			diff = firstDiff(a, want.Arrays[name].([]int64))
		}
		if diff >= 0 {
			return fmt.Errorf("array %s differs at index %d", name, diff)
		}
	}
	return nil
}

func firstDiff[T comparable](a, b []T) int {
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return -1
}
