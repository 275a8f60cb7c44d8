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
	"go/token"
	"strings"

	"github.com/ajroetker/go-superword/ir"
	"github.com/ajroetker/go-superword/target"
	"github.com/samber/lo"
)

// Opcode is a machine operation of a generated Program.
type Opcode uint8

const (
	// Scalar opcodes. Dst and Src name scalar registers.
	SLoad Opcode = iota
	SStore
	SConst
	SParam
	SIndVar
	SAcc
	SSetAcc
	SBinary
	SUnary
	SConvert
	SMulAdd
	SCompare

	// Vector opcodes. Dst and Src name vector registers except where noted.
	VLoad
	VStore
	VBroadcast // Src[0] is a scalar register
	VBinary
	VUnary
	VConvert
	VMulAdd
	VAccInit
	VAccCombine
	VReduce // Dst and Src[0] are scalar registers, Src[1] is a vector
	VSpill
)

var opcodeNames = [...]string{
	SLoad:       "load",
	SStore:      "store",
	SConst:      "const",
	SParam:      "param",
	SIndVar:     "indvar",
	SAcc:        "getvar",
	SSetAcc:     "setvar",
	SBinary:     "binary",
	SUnary:      "unary",
	SConvert:    "convert",
	SMulAdd:     "muladd",
	SCompare:    "cmp",
	VLoad:       "vload",
	VStore:      "vstore",
	VBroadcast:  "vbroadcast",
	VBinary:     "vbinary",
	VUnary:      "vunary",
	VConvert:    "vconvert",
	VMulAdd:     "vmuladd",
	VAccInit:    "vaccinit",
	VAccCombine: "vacccombine",
	VReduce:     "vreduce",
	VSpill:      "vspill",
}

func (o Opcode) String() string {
	if int(o) < len(opcodeNames) {
		return opcodeNames[o]
	}
	return fmt.Sprintf("Opcode(%d)", o)
}

// IsVector reports whether o operates on vector registers.
func (o Opcode) IsVector() bool { return o >= VLoad }

// HasDst reports whether o writes a register.
func (o Opcode) HasDst() bool {
	switch o {
	case SStore, SSetAcc, VStore:
		return false
	}
	return true
}

// Instr is one instruction of a Program.
type Instr struct {
	Op  Opcode
	Dst int
	Src []int

	// Array and Index address memory. The first element touched is
	// Index.Scale*(i+Lane*stride) + Index.Offset; vector accesses cover
	// Lanes consecutive elements from there. A non-affine Index takes the
	// element index from the last Src register instead.
	Array string
	Index ir.Index
	Lane  int

	// Var names the scalar variable of SParam, SAcc and SSetAcc.
	Var string

	// Value is the literal of SConst and the identity of VAccInit.
	Value ir.Value

	// Kind is the arithmetic operator of binary, unary, combine and reduce
	// instructions; Cond is the relation of SCompare.
	Kind ir.Op
	Cond token.Token

	Type  ir.Type
	From  ir.Type
	Lanes int

	// Ordered selects the in-order lane fold of VReduce.
	Ordered bool

	// A guarded instruction only takes effect when scalar register Pred
	// is non-zero; otherwise its destination is set to zero.
	Pred    int
	Guarded bool
}

func (in Instr) String() string {
	var sb strings.Builder
	reg := func(vec bool, r int) string {
		if vec {
			return fmt.Sprintf("v%d", r)
		}
		return fmt.Sprintf("s%d", r)
	}
	if in.Op.HasDst() {
		dstVec := in.Op.IsVector() && in.Op != VReduce
		fmt.Fprintf(&sb, "%s = ", reg(dstVec, in.Dst))
	}
	sb.WriteString(in.Op.String())
	switch in.Op {
	case SBinary, SUnary, VBinary, VUnary, VAccCombine, VReduce:
		fmt.Fprintf(&sb, ".%s", in.Kind)
	case SCompare:
		fmt.Fprintf(&sb, ".%s", in.Cond)
	case SConvert, VConvert:
		fmt.Fprintf(&sb, ".%s", in.From)
	}
	if in.Lanes > 0 {
		fmt.Fprintf(&sb, " %sx%d", in.Type, in.Lanes)
	} else if in.Type != ir.Invalid {
		fmt.Fprintf(&sb, " %s", in.Type)
	}
	switch in.Op {
	case SLoad, SStore, VLoad, VStore:
		fmt.Fprintf(&sb, " %s[%s]@%d", in.Array, in.Index, in.Lane)
	case SIndVar:
		fmt.Fprintf(&sb, " @%d", in.Lane)
	case SParam, SAcc, SSetAcc:
		fmt.Fprintf(&sb, " %s", in.Var)
	case SConst, VAccInit:
		fmt.Fprintf(&sb, " %s", in.Value)
	case VReduce:
		if in.Ordered {
			sb.WriteString(" ordered")
		}
	}
	if len(in.Src) > 0 {
		srcs := lo.Map(in.Src, func(r int, i int) string {
			vec := in.Op.IsVector() && in.Op != VBroadcast && !(in.Op == VReduce && i == 0)
			return reg(vec, r)
		})
		fmt.Fprintf(&sb, " %s", strings.Join(srcs, ", "))
	}
	if in.Guarded {
		fmt.Fprintf(&sb, " if s%d", in.Pred)
	}
	return sb.String()
}

// Program is the generated code for one loop: a prologue run once, a body
// run once per Unroll iterations, an epilogue, and a scalar tail run once
// per remaining iteration.
type Program struct {
	Loop   *ir.Loop
	Unroll int
	Lanes  int

	Prologue []Instr
	Body     []Instr
	Epilogue []Instr
	Tail     []Instr

	NumScalar int
	NumVector int

	Report *Report
}

// Sections returns the instruction lists in execution order.
func (p *Program) Sections() [][]Instr {
	return [][]Instr{p.Prologue, p.Body, p.Epilogue, p.Tail}
}

func (p *Program) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "program %s: unroll %d, lanes %d, %d scalar / %d vector registers\n",
		p.Loop.Name, p.Unroll, p.Lanes, p.NumScalar, p.NumVector)
	names := []string{"prologue", "body", "epilogue", "tail"}
	for i, sec := range p.Sections() {
		if len(sec) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "%s:\n", names[i])
		for _, in := range sec {
			fmt.Fprintf(&sb, "\t%s\n", in)
		}
	}
	return sb.String()
}

// generator lowers a loop, and optionally a plan, into a Program.
type generator struct {
	loop   *ir.Loop
	plan   *Plan
	unroll int
	gate   *target.Gate

	out *[]Instr
	p   *Program

	vacc int
}

func newGenerator(loop *ir.Loop, plan *Plan, unroll int, gate *target.Gate) *generator {
	g := &generator{loop: loop, plan: plan, unroll: unroll, gate: gate}
	g.p = &Program{Loop: loop, Unroll: unroll, Lanes: 1}
	return g
}

func (g *generator) section(sec *[]Instr) { g.out = sec }

func (g *generator) emit(in Instr) {
	*g.out = append(*g.out, in)
}

func (g *generator) scalarReg() int {
	g.p.NumScalar++
	return g.p.NumScalar - 1
}

func (g *generator) vectorReg() int {
	g.p.NumVector++
	return g.p.NumVector - 1
}

// guard is the predicate that scalar instructions inside a branch carry.
type guard struct {
	pred int
	on   bool
}

func (g *generator) emitScalar(in Instr, gd guard) int {
	if in.Op.HasDst() {
		in.Dst = g.scalarReg()
	}
	in.Pred, in.Guarded = gd.pred, gd.on
	g.emit(in)
	return in.Dst
}

// scalarExpr emits e for the iteration at the given lane and returns the
// register holding its value.
func (g *generator) scalarExpr(e ir.Expr, lane int, gd guard) int {
	switch n := e.(type) {
	case *ir.Load:
		return g.scalarLoad(n, lane, gd)
	case *ir.Const:
		return g.emitScalar(Instr{Op: SConst, Value: n.Value, Type: n.Value.T}, gd)
	case *ir.Param:
		return g.emitScalar(Instr{Op: SParam, Var: n.Name, Type: n.T}, gd)
	case *ir.IndVar:
		return g.emitScalar(Instr{Op: SIndVar, Lane: lane, Type: n.T}, gd)
	case *ir.AccRef:
		return g.emitScalar(Instr{Op: SAcc, Var: n.Name, Type: n.T}, gd)
	case *ir.Binary:
		x := g.scalarExpr(n.X, lane, gd)
		y := g.scalarExpr(n.Y, lane, gd)
		return g.emitScalar(Instr{Op: SBinary, Kind: n.Op, Type: n.T, Src: []int{x, y}}, gd)
	case *ir.Unary:
		x := g.scalarExpr(n.X, lane, gd)
		return g.emitScalar(Instr{Op: SUnary, Kind: n.Op, Type: n.T, Src: []int{x}}, gd)
	case *ir.Convert:
		x := g.scalarExpr(n.X, lane, gd)
		if n.X.Type() == n.T {
			return x
		}
		return g.emitScalar(Instr{Op: SConvert, From: n.X.Type(), Type: n.T, Src: []int{x}}, gd)
	case *ir.MulAddS2I:
		x0 := g.scalarLoad(n.X0, lane, gd)
		y0 := g.scalarLoad(n.Y0, lane, gd)
		x1 := g.scalarLoad(n.X1, lane, gd)
		y1 := g.scalarLoad(n.Y1, lane, gd)
		return g.emitScalar(Instr{Op: SMulAdd, Type: ir.Int32, Src: []int{x0, y0, x1, y1}}, gd)
	case *ir.Compare:
		x := g.scalarExpr(n.X, lane, gd)
		y := g.scalarExpr(n.Y, lane, gd)
		return g.emitScalar(Instr{Op: SCompare, Cond: n.Tok, Type: n.X.Type(), Src: []int{x, y}}, gd)
	}
	invariantf(g.loop.Name, "no scalar form for %s", e)
	return -1
}

func (g *generator) scalarLoad(n *ir.Load, lane int, gd guard) int {
	in := Instr{Op: SLoad, Array: n.Array, Index: n.Index, Lane: lane, Type: n.Elem}
	if !n.Index.Affine {
		in.Src = []int{g.scalarExpr(n.Index.Expr, lane, gd)}
	}
	return g.emitScalar(in, gd)
}

// scalarStmt emits stmt for the iteration at the given lane.
func (g *generator) scalarStmt(stmt ir.Stmt, lane int, gd guard) {
	switch st := stmt.(type) {
	case *ir.Store:
		v := g.scalarExpr(st.Value, lane, gd)
		in := Instr{Op: SStore, Array: st.Array, Index: st.Index, Lane: lane, Type: st.Elem, Src: []int{v}}
		if !st.Index.Affine {
			in.Src = append(in.Src, g.scalarExpr(st.Index.Expr, lane, gd))
		}
		g.emitScalar(in, gd)
	case *ir.Assign:
		v := g.scalarExpr(st.Value, lane, gd)
		g.emitScalar(Instr{Op: SSetAcc, Var: st.Var, Type: st.T, Src: []int{v}}, gd)
	case *ir.Branch:
		// Every instruction under gd yields zero when gd is off, so the
		// condition register is already false outside the enclosing branch.
		cond := g.scalarExpr(st.Cond, lane, gd)
		for _, inner := range st.Then {
			g.scalarStmt(inner, lane, guard{pred: cond, on: true})
		}
		if len(st.Else) > 0 {
			zero := g.emitScalar(Instr{Op: SConst, Value: ir.IntValue(ir.Int32, 0), Type: ir.Int32}, gd)
			notCond := g.emitScalar(Instr{Op: SCompare, Cond: token.EQL, Type: ir.Int32, Src: []int{cond, zero}}, gd)
			for _, inner := range st.Else {
				g.scalarStmt(inner, lane, guard{pred: notCond, on: true})
			}
		}
	default:
		invariantf(g.loop.Name, "no scalar form for %s", stmt)
	}
}

// tail emits one original iteration.
func (g *generator) tail() {
	g.section(&g.p.Tail)
	for _, stmt := range g.loop.Body {
		g.scalarStmt(stmt, 0, guard{})
	}
}

// generateScalar emits the loop unrolled but without vector instructions:
// the body runs the unroll window's iterations one after another.
func (g *generator) generateScalar() *Program {
	g.section(&g.p.Body)
	for lane := 0; lane < g.unroll; lane++ {
		for _, stmt := range g.loop.Body {
			g.scalarStmt(stmt, lane, guard{})
		}
	}
	g.tail()
	return g.p
}

// generate emits the vectorized body for the plan. Within each vector
// group the vectorized statements run first, then the scalar statements
// lane by lane.
func (g *generator) generate() *Program {
	pl := g.plan
	pl.verify()
	for _, q := range pl.Keys() {
		if err := g.gate.Check(q.Key, q.Lanes); err != nil {
			invariantf(g.loop.Name, "planned pack rejected by the gate: %v", err)
		}
	}
	g.p.Lanes = pl.Lanes

	if pl.Combine == CombineTree {
		g.section(&g.p.Prologue)
		g.vacc = g.vectorReg()
		g.emit(Instr{Op: VAccInit, Dst: g.vacc, Value: pl.Reduction.Identity, Type: pl.Reduction.Type, Lanes: pl.Lanes})
	}

	g.section(&g.p.Body)
	for base := 0; base < g.unroll; base += pl.Lanes {
		g.vectorGroup(base)
		for j := 0; j < pl.Lanes; j++ {
			for s, stmt := range g.loop.Body {
				if !pl.IsVector(s) {
					g.scalarStmt(stmt, base+j, guard{})
				}
			}
		}
	}

	if pl.Combine == CombineTree {
		g.section(&g.p.Epilogue)
		acc := g.scalarExpr(&ir.AccRef{Name: pl.Reduction.Acc, T: pl.Reduction.Type}, 0, guard{})
		g.fold(acc, g.vacc, false)
	}
	g.tail()
	return g.p
}

// vectorGroup emits every pack once for the group starting at base.
func (g *generator) vectorGroup(base int) {
	pl := g.plan
	regs := make([]int, len(pl.Packs))
	src := func(pk *Pack) []int {
		return lo.Map(pk.Inputs, func(id int, _ int) int { return regs[id] })
	}
	for _, pk := range pl.Packs {
		switch pk.Kind {
		case PackLoad:
			regs[pk.ID] = g.vectorReg()
			g.emit(Instr{Op: VLoad, Dst: regs[pk.ID], Array: pk.Array, Index: pk.Index, Lane: base, Type: pk.Type, Lanes: pk.Lanes})
		case PackBroadcast:
			s := g.scalarExpr(pk.Expr, base, guard{})
			regs[pk.ID] = g.vectorReg()
			g.emit(Instr{Op: VBroadcast, Dst: regs[pk.ID], Src: []int{s}, Type: pk.Type, Lanes: pk.Lanes})
		case PackElementwise:
			op := VBinary
			if pk.Op.IsUnary() {
				op = VUnary
			}
			regs[pk.ID] = g.vectorReg()
			g.emit(Instr{Op: op, Dst: regs[pk.ID], Kind: pk.Op, Src: src(pk), Type: pk.Type, Lanes: pk.Lanes})
		case PackConvert:
			regs[pk.ID] = g.vectorReg()
			g.emit(Instr{Op: VConvert, Dst: regs[pk.ID], Src: src(pk), From: pk.From, Type: pk.Type, Lanes: pk.Lanes})
		case PackMulAdd:
			regs[pk.ID] = g.vectorReg()
			g.emit(Instr{Op: VMulAdd, Dst: regs[pk.ID], Src: src(pk), Type: pk.Type, Lanes: pk.Lanes})
		case PackStore:
			g.emit(Instr{Op: VStore, Src: src(pk), Array: pk.Array, Index: pk.Index, Lane: base, Type: pk.Type, Lanes: pk.Lanes})
		case PackReduction:
			v := regs[pk.Inputs[0]]
			if pl.Combine == CombineOrdered {
				acc := g.scalarExpr(&ir.AccRef{Name: pl.Reduction.Acc, T: pk.Type}, base, guard{})
				g.fold(acc, v, true)
				continue
			}
			g.emit(Instr{Op: VAccCombine, Dst: g.vacc, Kind: pk.Op, Src: []int{g.vacc, v}, Type: pk.Type, Lanes: pk.Lanes})
		default:
			invariantf(g.loop.Name, "unknown pack %s", pk)
		}
	}
}

// fold reduces vector register v into the scalar in register acc and
// writes the result back to the accumulator.
func (g *generator) fold(acc, v int, ordered bool) {
	red := g.plan.Reduction
	if g.plan.Spill {
		spilled := g.vectorReg()
		g.emit(Instr{Op: VSpill, Dst: spilled, Src: []int{v}, Type: red.Type, Lanes: g.plan.Lanes})
		v = spilled
	}
	r := g.scalarReg()
	g.emit(Instr{Op: VReduce, Dst: r, Src: []int{acc, v}, Kind: red.Op, Type: red.Type, Lanes: g.plan.Lanes, Ordered: ordered})
	g.emit(Instr{Op: SSetAcc, Var: red.Acc, Type: red.Type, Src: []int{r}})
}
