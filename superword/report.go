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
	"slices"
	"strings"

	"github.com/ajroetker/go-superword/ir"
	"github.com/samber/lo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Report is the instruction-shape summary of one compiled loop. Counts are
// keyed by node name: LoadVector, StoreVector, AddVI, MulVF, AbsV,
// AddReductionVI, XorReductionV, MulAddVS2VI, MulAddS2I, and so on.
type Report struct {
	Loop string

	State State
	// Path lists every state the compilation went through.
	Path []State

	// Reason explains a scalar fallback.
	Reason string

	Unroll      int
	Lanes       int
	VectorBytes int

	// Strategy is "ordered" or "tree" for vectorized reductions.
	Strategy  string
	Reduction string

	Vector map[string]int
	Scalar map[string]int
}

func newReport(loop *ir.Loop) *Report {
	return &Report{
		Loop:   loop.Name,
		Vector: make(map[string]int),
		Scalar: make(map[string]int),
	}
}

func (r *Report) enter(s State) {
	r.State = s
	r.Path = append(r.Path, s)
}

// Count returns how many nodes named name the program contains.
func (r *Report) Count(name string) int {
	return r.Vector[name] + r.Scalar[name]
}

// IsVector reports whether any vector instruction was emitted.
func (r *Report) IsVector() bool { return len(r.Vector) > 0 }

func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "loop %s: %s", r.Loop, r.State)
	if r.State == Generated {
		fmt.Fprintf(&sb, " unroll=%d lanes=%d bytes=%d", r.Unroll, r.Lanes, r.VectorBytes)
		if r.Strategy != "" {
			fmt.Fprintf(&sb, " %s", r.Strategy)
		}
	} else {
		fmt.Fprintf(&sb, " unroll=%d", r.Unroll)
	}
	sb.WriteString("\n")
	if r.Reason != "" {
		fmt.Fprintf(&sb, "reason: %s\n", r.Reason)
	}
	if r.Reduction != "" {
		fmt.Fprintf(&sb, "reduction: %s\n", r.Reduction)
	}
	writeCounts(&sb, "vector", r.Vector)
	writeCounts(&sb, "scalar", r.Scalar)
	return sb.String()
}

func writeCounts(sb *strings.Builder, label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	names := lo.Keys(counts)
	slices.Sort(names)
	fmt.Fprintf(sb, "%s:", label)
	for _, name := range names {
		fmt.Fprintf(sb, " %s=%d", name, counts[name])
	}
	sb.WriteString("\n")
}

// opTitles holds "Add", "Mul", "Sqrt", ... for every operator.
var opTitles = map[ir.Op]string{}

func init() {
	title := cases.Title(language.English)
	for op := ir.OpAdd; op <= ir.OpMulAddS2I; op++ {
		opTitles[op] = title.String(op.String())
	}
}

// untypedVector are the vector operators whose node name carries no
// element type.
var untypedVector = map[ir.Op]bool{
	ir.OpAnd: true,
	ir.OpOr:  true,
	ir.OpXor: true,
	ir.OpAbs: true,
	ir.OpNeg: true,
}

func vectorOpName(op ir.Op, t ir.Type) string {
	if untypedVector[op] {
		return opTitles[op] + "V"
	}
	return opTitles[op] + "V" + t.Suffix()
}

func reductionName(op ir.Op, t ir.Type) string {
	if op == ir.OpAdd || op == ir.OpMul {
		return opTitles[op] + "ReductionV" + t.Suffix()
	}
	return opTitles[op] + "ReductionV"
}

// count adds the nodes of one instruction to the report.
func (r *Report) count(in Instr) {
	vec := func(name string) { r.Vector[name]++ }
	sca := func(name string) { r.Scalar[name]++ }
	switch in.Op {
	case SLoad:
		sca("Load" + in.Type.Suffix())
	case SStore:
		sca("Store" + in.Type.Suffix())
	case SConst:
		sca("Con" + in.Type.Suffix())
	case SBinary, SUnary:
		sca(opTitles[in.Kind] + in.Type.Suffix())
	case SConvert:
		sca("Conv" + in.From.Suffix() + "2" + in.Type.Suffix())
	case SMulAdd:
		sca("MulAddS2I")
	case SCompare:
		sca("Cmp" + in.Type.Suffix())
	case VLoad:
		vec("LoadVector")
	case VStore:
		vec("StoreVector")
	case VBroadcast, VAccInit:
		vec("Replicate" + in.Type.Suffix())
	case VBinary, VUnary, VAccCombine:
		vec(vectorOpName(in.Kind, in.Type))
	case VConvert:
		vec("VectorCast" + in.From.Suffix() + "2X")
	case VMulAdd:
		vec("MulAddVS2VI")
	case VReduce:
		vec(reductionName(in.Kind, in.Type))
	case VSpill:
		vec("StoreVector")
		vec("LoadVector")
	}
}

// fill counts every instruction of p.
func (r *Report) fill(p *Program) {
	for _, sec := range p.Sections() {
		for _, in := range sec {
			r.count(in)
		}
	}
}
