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
	"math"

	"github.com/ajroetker/go-superword/ir"
	"github.com/ajroetker/go-superword/target"
	"github.com/ajroetker/go-superword/vm"
	"github.com/samber/lo"
)

// Kernel is one acceptance kernel: Go-syntax source, the report nodes its
// presence rule names, the features that make them appear, and a data fill.
type Kernel struct {
	Name   string
	Source string

	// Counts lists the report nodes that must all be zero when the
	// reduction stays scalar and all be positive when Requires holds.
	Counts []string

	// Requires is the feature rule for the positive case. Experimental
	// kernels also need Config.ExperimentalIntMinMax.
	Requires target.Requirement

	// Wide marks int64 kernels: on sse4.1 without avx2 (and without an
	// arm vector unit) they must not load vectors at all.
	Wide bool

	// Fill binds fresh inputs of n elements.
	Fill func(n int) *vm.Env

	// Collapsed reports a result that signals broken data flow, such as an
	// and-reduction that cleared every bit.
	Collapsed func(v ir.Value) bool

	// Total recomputes the expected result from the arrays the kernel
	// wrote, for kernels that store every term before accumulating it.
	Total func(env *vm.Env) ir.Value
}

// Loop parses the kernel source.
func (k *Kernel) Loop(opts ...ir.BuilderOption) (*ir.Loop, error) {
	return ir.ParseFunc(k.Source, k.Name, opts...)
}

func req(alts ...string) target.Requirement {
	return target.Requirement{AnyOf: lo.Map(alts, func(s string, _ int) target.Features { return target.MustParse(s) })}
}

func experimentalReq(alts ...string) target.Requirement {
	r := req(alts...)
	r.Experimental = true
	return r
}

func i32(v int64) ir.Value   { return ir.IntValue(ir.Int32, v) }
func i64(v int64) ir.Value   { return ir.IntValue(ir.Int64, v) }
func f32(v float32) ir.Value { return ir.FloatValue(ir.Float32, float64(v)) }
func f64(v float64) ir.Value { return ir.FloatValue(ir.Float64, v) }

// zeroOrAllOnes flags and/or reductions that lost their bit pattern.
func zeroOrAllOnes(v ir.Value) bool { return v.Int() == 0 || v.Int() == -1 }

func isZero(v ir.Value) bool { return v.Int() == 0 }

// degenerate flags float results that are zero, NaN or infinite.
func degenerate(v ir.Value) bool {
	f := v.Float()
	return f == 0 || math.IsNaN(f) || math.IsInf(f, 0)
}

func threeInt32(n int) *vm.Env {
	return vm.NewEnv().
		Array("a", random(n, randInt32)).
		Array("b", random(n, randInt32)).
		Array("c", random(n, randInt32))
}

func threeInt64(n int) *vm.Env {
	return vm.NewEnv().
		Array("a", random(n, randInt64)).
		Array("b", random(n, randInt64)).
		Array("c", random(n, randInt64))
}

func threeFloat32(n int) *vm.Env {
	return vm.NewEnv().
		Array("a", random(n, randFloat32)).
		Array("b", random(n, randFloat32)).
		Array("c", random(n, randFloat32))
}

func threeFloat64(n int) *vm.Env {
	return vm.NewEnv().
		Array("a", random(n, randFloat64)).
		Array("b", random(n, randFloat64)).
		Array("c", random(n, randFloat64)).
		Array("r", make([]float64, n))
}

// Catalogue returns every acceptance kernel in a fixed order.
func Catalogue() []*Kernel {
	return []*Kernel{
		// ===== int32
		{
			Name: "addInt",
			Source: `
func addInt(a, b, c []int32, sum int32) int32 {
	for i := 0; i < len(a); i++ {
		sum += (a[i] * b[i]) + (a[i] * c[i]) + (b[i] * c[i])
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "AddVI", "MulVI", "AddReductionVI"},
			Requires: req("sse4.1", "sve"),
			Fill: func(n int) *vm.Env {
				return threeInt32(n).Scalar("sum", i32(int64(randInt32())))
			},
		},
		{
			Name: "mulInt",
			Source: `
func mulInt(a, b []int32, mul int32) int32 {
	for i := 0; i < len(a); i++ {
		mul *= a[i] - b[i]
	}
	return mul
}`,
			Counts:   []string{"LoadVector", "SubVI", "MulReductionVI"},
			Requires: req("sse4.1", "sve"),
			Fill: func(n int) *vm.Env {
				a, b := smallPrimeDiff[int32](n)
				return vm.NewEnv().Array("a", a).Array("b", b).Scalar("mul", i32(smallPrime()))
			},
			Collapsed: isZero,
		},
		{
			Name: "xorInt",
			Source: `
func xorInt(a, b []int32, sum int32) int32 {
	for i := 0; i < len(a); i++ {
		sum ^= a[i] + b[i]
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "AddVI", "XorReductionV"},
			Requires: req("sse4.1", "sve"),
			Fill: func(n int) *vm.Env {
				return vm.NewEnv().
					Array("a", random(n, randInt32)).
					Array("b", random(n, randInt32)).
					Scalar("sum", i32(int64(randInt32())))
			},
		},
		{
			Name: "andInt",
			Source: `
func andInt(a, b []int32, sum int32) int32 {
	for i := 0; i < len(a); i++ {
		sum &= a[i] - b[i]
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "SubVI", "AndReductionV"},
			Requires: req("sse4.1", "sve"),
			Fill: func(n int) *vm.Env {
				a, b := specialBytes[int32](n, -1, 32)
				return vm.NewEnv().Array("a", a).Array("b", b).Scalar("sum", i32(-1))
			},
			Collapsed: zeroOrAllOnes,
		},
		{
			Name: "orInt",
			Source: `
func orInt(a, b []int32, sum int32) int32 {
	for i := 0; i < len(a); i++ {
		sum |= a[i] - b[i]
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "SubVI", "OrReductionV"},
			Requires: req("sse4.1", "sve"),
			Fill: func(n int) *vm.Env {
				a, b := specialBytes[int32](n, 0, 32)
				return vm.NewEnv().Array("a", a).Array("b", b).Scalar("sum", i32(0))
			},
			Collapsed: zeroOrAllOnes,
		},
		{
			Name: "minInt",
			Source: `
func minInt(a []int32, sum int32) int32 {
	for i := 0; i < len(a); i++ {
		sum = min(sum, a[i]*11)
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "MulVI", "MinReductionV"},
			Requires: experimentalReq("sse4.1", "sve"),
			Fill: func(n int) *vm.Env {
				return vm.NewEnv().Array("a", random(n, randInt32)).Scalar("sum", i32(int64(randInt32())))
			},
		},
		{
			Name: "maxInt",
			Source: `
func maxInt(a []int32, sum int32) int32 {
	for i := 0; i < len(a); i++ {
		sum = max(sum, a[i]*11)
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "MulVI", "MaxReductionV"},
			Requires: experimentalReq("sse4.1", "sve"),
			Fill: func(n int) *vm.Env {
				return vm.NewEnv().Array("a", random(n, randInt32)).Scalar("sum", i32(int64(randInt32())))
			},
		},

		// ===== int64
		{
			Name: "addLong",
			Source: `
func addLong(a, b, c []int64, sum int64) int64 {
	for i := 0; i < len(a); i++ {
		sum += (a[i] * b[i]) + (a[i] * c[i]) + (b[i] * c[i])
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "AddVL", "MulVL", "AddReductionVL"},
			Requires: req("avx2", "sve"),
			Wide:     true,
			Fill: func(n int) *vm.Env {
				return threeInt64(n).Scalar("sum", i64(randInt64()))
			},
		},
		{
			Name: "mulLong",
			Source: `
func mulLong(a, b, c []int64, mul int64) int64 {
	for i := 0; i < len(a); i++ {
		mul *= a[i] - b[i]
	}
	return mul
}`,
			Counts:   []string{"LoadVector", "SubVL", "MulReductionVL"},
			Requires: req("avx512dq", "sve"),
			Wide:     true,
			Fill: func(n int) *vm.Env {
				a, b := smallPrimeDiff[int64](n)
				return vm.NewEnv().Array("a", a).Array("b", b).
					Array("c", random(n, randInt64)).
					Scalar("mul", i64(smallPrime()))
			},
			Collapsed: isZero,
		},
		{
			Name: "xorLong",
			Source: `
func xorLong(a, b []int64, sum int64) int64 {
	for i := 0; i < len(a); i++ {
		sum ^= a[i] + b[i]
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "AddVL", "XorReductionV"},
			Requires: req("avx2", "sve"),
			Wide:     true,
			Fill: func(n int) *vm.Env {
				return vm.NewEnv().
					Array("a", random(n, randInt64)).
					Array("b", random(n, randInt64)).
					Scalar("sum", i64(randInt64()))
			},
		},
		{
			Name: "andLong",
			Source: `
func andLong(a, b []int64, sum int64) int64 {
	for i := 0; i < len(a); i++ {
		sum &= a[i] - b[i]
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "SubVL", "AndReductionV"},
			Requires: req("avx2", "sve"),
			Wide:     true,
			Fill: func(n int) *vm.Env {
				a, b := specialBytes[int64](n, -1, 64)
				return vm.NewEnv().Array("a", a).Array("b", b).Scalar("sum", i64(-1))
			},
			Collapsed: zeroOrAllOnes,
		},
		{
			Name: "orLong",
			Source: `
func orLong(a, b []int64, sum int64) int64 {
	for i := 0; i < len(a); i++ {
		sum |= a[i] - b[i]
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "SubVL", "OrReductionV"},
			Requires: req("avx2", "sve"),
			Wide:     true,
			Fill: func(n int) *vm.Env {
				a, b := specialBytes[int64](n, 0, 64)
				return vm.NewEnv().Array("a", a).Array("b", b).Scalar("sum", i64(0))
			},
			Collapsed: zeroOrAllOnes,
		},
		{
			Name: "minLong",
			Source: `
func minLong(a []int64, sum int64) int64 {
	for i := 0; i < len(a); i++ {
		sum = min(sum, a[i]*11)
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "MulVL", "MinReductionV"},
			Requires: experimentalReq("avx512dq", "sve"),
			Wide:     true,
			Fill: func(n int) *vm.Env {
				return vm.NewEnv().Array("a", random(n, randInt64)).Scalar("sum", i64(randInt64()))
			},
		},
		{
			Name: "maxLong",
			Source: `
func maxLong(a []int64, sum int64) int64 {
	for i := 0; i < len(a); i++ {
		sum = max(sum, a[i]*123456789)
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "MulVL", "MaxReductionV"},
			Requires: experimentalReq("avx512dq", "sve"),
			Wide:     true,
			Fill: func(n int) *vm.Env {
				return vm.NewEnv().Array("a", random(n, randInt64)).Scalar("sum", i64(randInt64()))
			},
		},

		// ===== float32
		{
			Name: "addFloat",
			Source: `
func addFloat(a, b, c []float32, sum float32) float32 {
	for i := 0; i < len(a); i++ {
		sum += (a[i] * b[i]) + (a[i] * c[i]) + (b[i] * c[i])
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "AddVF", "MulVF", "AddReductionVF"},
			Requires: req("sse2", "sve"),
			Fill: func(n int) *vm.Env {
				return threeFloat32(n).Scalar("sum", f32(randFloat32()))
			},
			Collapsed: degenerate,
		},
		{
			Name: "minFloat",
			Source: `
func minFloat(a []float32, sum float32) float32 {
	for i := 0; i < len(a); i++ {
		sum = min(sum, a[i]*5.5)
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "MulVF", "MinReductionV"},
			Requires: req("avx", "sve"),
			Fill: func(n int) *vm.Env {
				return vm.NewEnv().Array("a", random(n, randFloat32)).Scalar("sum", f32(randFloat32()))
			},
		},
		{
			Name: "maxFloat",
			Source: `
func maxFloat(a []float32, sum float32) float32 {
	for i := 0; i < len(a); i++ {
		sum = max(sum, a[i]*5.5)
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "MulVF", "MaxReductionV"},
			Requires: req("avx", "sve"),
			Fill: func(n int) *vm.Env {
				return vm.NewEnv().Array("a", random(n, randFloat32)).Scalar("sum", f32(randFloat32()))
			},
		},
		{
			Name: "addAbsNegFloat",
			Source: `
func addAbsNegFloat(a, b, c []float32, sum float32) float32 {
	for i := 0; i < len(a); i++ {
		sum += math.Abs(-a[i]*-b[i]) + math.Abs(-a[i]*-c[i]) + math.Abs(-b[i]*-c[i])
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "AddVF", "MulVF", "AddReductionVF", "AbsV", "NegV"},
			Requires: req("sse4.1", "sve"),
			Fill: func(n int) *vm.Env {
				return threeFloat32(n).Scalar("sum", f32(randFloat32()))
			},
		},

		// ===== float64, every term stored before it is accumulated
		{
			Name: "addDouble",
			Source: `
func addDouble(a, b, c, r []float64, sum float64) float64 {
	for i := 0; i < len(a); i++ {
		r[i] = (a[i] * b[i]) + (a[i] * c[i]) + (b[i] * c[i])
		sum += r[i]
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "AddVD", "MulVD", "StoreVector", "AddReductionVD"},
			Requires: req("sse2", "sve"),
			Fill: func(n int) *vm.Env {
				return threeFloat64(n).Scalar("sum", f64(randFloat64()))
			},
			Collapsed: degenerate,
		},
		{
			Name: "addDoubleSqrt",
			Source: `
func addDoubleSqrt(a, b, c, r []float64, sum float64) float64 {
	for i := 0; i < len(a); i++ {
		r[i] = math.Sqrt(a[i]*b[i]) + math.Sqrt(a[i]*c[i]) + math.Sqrt(b[i]*c[i])
		sum += r[i]
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "AddVD", "MulVD", "StoreVector", "SqrtVD", "AddReductionVD"},
			Requires: req("avx", "sve"),
			Fill: func(n int) *vm.Env {
				return threeFloat64(n).Scalar("sum", f64(randFloat64()))
			},
			Collapsed: degenerate,
		},
		{
			Name: "mulDouble",
			Source: `
func mulDouble(a, b, c, r []float64, mul float64) float64 {
	for i := 0; i < len(a); i++ {
		r[i] = a[i]*0.05 + b[i]*0.07 + c[i]*0.08 + 0.9
		mul *= r[i]
	}
	return mul
}`,
			Counts:   []string{"LoadVector", "AddVD", "MulVD", "StoreVector", "MulReductionVD"},
			Requires: req("sse2", "sve"),
			Fill: func(n int) *vm.Env {
				return threeFloat64(n).Scalar("mul", f64(randFloat64()+1))
			},
			Collapsed: degenerate,
		},
		{
			Name: "minDouble",
			Source: `
func minDouble(a, b, c, r []float64, sum float64) float64 {
	for i := 0; i < len(a); i++ {
		r[i] = (a[i] * b[i]) + (a[i] * c[i]) + (b[i] * c[i])
		sum = math.Min(sum, r[i])
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "AddVD", "MulVD", "StoreVector", "MinReductionV"},
			Requires: req("avx", "sve"),
			Fill: func(n int) *vm.Env {
				return threeFloat64(n).Scalar("sum", f64(randFloat64()))
			},
		},
		{
			Name: "maxDouble",
			Source: `
func maxDouble(a, b, c, r []float64, sum float64) float64 {
	for i := 0; i < len(a); i++ {
		r[i] = (a[i] * b[i]) + (a[i] * c[i]) + (b[i] * c[i])
		sum = math.Max(sum, r[i])
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "AddVD", "MulVD", "StoreVector", "MaxReductionV"},
			Requires: req("avx", "sve"),
			Fill: func(n int) *vm.Env {
				return threeFloat64(n).Scalar("sum", f64(randFloat64()))
			},
		},
		{
			Name: "addAbsNegDouble",
			Source: `
func addAbsNegDouble(a, b, c, r []float64, sum float64) float64 {
	for i := 0; i < len(a); i++ {
		r[i] = math.Abs(-a[i]*-b[i]) + math.Abs(-a[i]*-c[i]) + math.Abs(-b[i]*-c[i])
		sum += r[i]
	}
	return sum
}`,
			Counts:   []string{"LoadVector", "AddVD", "MulVD", "StoreVector", "AddReductionVD", "AbsV", "NegV"},
			Requires: req("sve"),
			Fill: func(n int) *vm.Env {
				return threeFloat64(n).Scalar("sum", f64(randFloat64()))
			},
		},

		// ===== int16 pairs into int32
		{
			Name: "addMulShort2Int",
			Source: `
func addMulShort2Int(a, b []int16, sum int32) int32 {
	for i := 0; i < len(a)/2; i++ {
		sum += int32(a[2*i])*int32(b[2*i]) + int32(a[2*i+1])*int32(b[2*i+1])
	}
	return sum
}`,
			Counts:   []string{"MulAddS2I"},
			Requires: req("sse2", "sve"),
			Fill: func(n int) *vm.Env {
				return vm.NewEnv().
					Array("a", random(n, randInt16)).
					Array("b", random(n, randInt16)).
					Scalar("sum", i32(int64(randInt32())))
			},
		},

		// ===== store-then-accumulate totals checked against the stored terms
		{
			Name: "sumFloat",
			Source: `
func sumFloat(a, b, c, d []float32) float32 {
	total := float32(0)
	for i := 0; i < len(a); i++ {
		d[i] = (a[i] * b[i]) + (a[i] * c[i]) + (b[i] * c[i])
		total += d[i]
	}
	return total
}`,
			Counts:   []string{"AddReductionVF"},
			Requires: req("sse", "sve"),
			Fill: func(n int) *vm.Env {
				return vm.NewEnv().
					Array("a", ramp(n, func(i int) float32 { return float32(i) })).
					Array("b", ramp(n, func(i int) float32 { return float32(i) })).
					Array("c", ramp(n, func(i int) float32 { return float32(i) })).
					Array("d", make([]float32, n))
			},
			Total: func(env *vm.Env) ir.Value {
				var total float32
				for _, x := range env.Arrays["d"].([]float32) {
					total += x
				}
				return f32(total)
			},
		},
		{
			Name: "prodFloat",
			Source: `
func prodFloat(a, b, d []float32) float32 {
	total := float32(1)
	for i := 0; i < len(a); i++ {
		d[i] = a[i] - b[i]
		total *= d[i]
	}
	return total
}`,
			Counts:   []string{"MulReductionVF"},
			Requires: req("ssse3", "sve"),
			Fill: func(n int) *vm.Env {
				return vm.NewEnv().
					Array("a", ramp(n, func(i int) float32 { return float32(i + 2) })).
					Array("b", ramp(n, func(i int) float32 { return float32(i + 1) })).
					Array("d", make([]float32, n))
			},
			Total: func(env *vm.Env) ir.Value {
				total := float32(1)
				for _, x := range env.Arrays["d"].([]float32) {
					total *= x
				}
				return f32(total)
			},
		},
		{
			Name: "sumAbsNegDouble",
			Source: `
func sumAbsNegDouble(a, b, c, d []float64, total float64) float64 {
	for i := 0; i < len(a); i++ {
		d[i] = math.Abs(-a[i]*-b[i]) + math.Abs(-a[i]*-c[i]) + math.Abs(-b[i]*-c[i])
		total += d[i]
	}
	return total
}`,
			Counts:   []string{"AddReductionVD"},
			Requires: req("sve"),
			Fill: func(n int) *vm.Env {
				return vm.NewEnv().
					Array("a", ramp(n, func(i int) float64 { return float64(i) })).
					Array("b", ramp(n, func(i int) float64 { return float64(i) })).
					Array("c", ramp(n, func(i int) float64 { return float64(i) })).
					Array("d", make([]float64, n)).
					Scalar("total", f64(0))
			},
			Total: func(env *vm.Env) ir.Value {
				var total float64
				for _, x := range env.Arrays["d"].([]float64) {
					total += x
				}
				return f64(total)
			},
		},
	}
}

// Lookup returns the catalogue kernel with the given name.
func Lookup(name string) (*Kernel, bool) {
	return lo.Find(Catalogue(), func(k *Kernel) bool { return k.Name == name })
}
