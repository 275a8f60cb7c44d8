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
	"strings"

	"github.com/ajroetker/go-superword/ir"
	"github.com/ajroetker/go-superword/target"
	"github.com/samber/lo"
)

// PackKind classifies a pack by the vector operation it becomes.
type PackKind uint8

const (
	PackLoad PackKind = iota
	PackStore
	PackBroadcast
	PackElementwise
	PackConvert
	PackMulAdd
	PackReduction
)

func (k PackKind) String() string {
	switch k {
	case PackLoad:
		return "load"
	case PackStore:
		return "store"
	case PackBroadcast:
		return "broadcast"
	case PackElementwise:
		return "elementwise"
	case PackConvert:
		return "convert"
	case PackMulAdd:
		return "muladd"
	case PackReduction:
		return "reduction"
	default:
		return fmt.Sprintf("PackKind(%d)", k)
	}
}

// Pack groups the instances of one expression node across consecutive
// unrolled iterations into a single vector operation.
type Pack struct {
	ID   int
	Kind PackKind

	// Op is the operator of elementwise and reduction packs.
	Op   ir.Op
	Type ir.Type
	// From is the source type of a conversion.
	From ir.Type

	Lanes int

	// Stmt is the index of the owning statement.
	Stmt int

	// Expr is the scalar node the pack replicates. Broadcast packs
	// evaluate it once per group.
	Expr ir.Expr

	// Array and Index locate load and store packs. Lane k of a group with
	// base lane b touches Array[Index.Scale*(i+b) + Index.Offset + k].
	Array string
	Index ir.Index

	// Inputs are the IDs of the packs this one consumes.
	Inputs []int
}

func (p *Pack) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "p%d %s", p.ID, p.Kind)
	switch p.Kind {
	case PackLoad, PackStore:
		fmt.Fprintf(&sb, " %s[%s]", p.Array, p.Index)
	case PackElementwise, PackReduction:
		fmt.Fprintf(&sb, " %s", p.Op)
	case PackConvert:
		fmt.Fprintf(&sb, " %s->", p.From)
	case PackBroadcast:
		fmt.Fprintf(&sb, " %s", p.Expr)
	}
	fmt.Fprintf(&sb, " %sx%d", p.Type, p.Lanes)
	if len(p.Inputs) > 0 {
		ins := lo.Map(p.Inputs, func(id int, _ int) string { return fmt.Sprintf("p%d", id) })
		fmt.Fprintf(&sb, " (%s)", strings.Join(ins, ", "))
	}
	return sb.String()
}

// Combine is how the per-lane partial results of a reduction are folded
// into the accumulator.
type Combine uint8

const (
	CombineNone Combine = iota
	// CombineOrdered folds the lanes into the scalar accumulator in loop
	// order once per vector group.
	CombineOrdered
	// CombineTree keeps a vector accumulator in the loop and folds its
	// lanes pairwise after the loop.
	CombineTree
)

func (c Combine) String() string {
	switch c {
	case CombineOrdered:
		return "ordered"
	case CombineTree:
		return "tree"
	}
	return ""
}

// Plan is the pack planner's result for one loop at one vector width.
type Plan struct {
	Loop   *ir.Loop
	Unroll int
	Lanes  int

	// VectorBytes is the widest register the plan uses.
	VectorBytes int

	// Packs are in emission order: operands precede their users.
	Packs []*Pack

	// Roots holds the store or reduction pack of each vectorized
	// statement and -1 for statements left scalar.
	Roots []int

	// Reduction is the packed accumulator update, if any.
	Reduction *ReductionIdiom
	Combine   Combine

	// Spill is set when the reduction input must be written out and
	// reloaded before folding.
	Spill bool
}

// IsVector reports whether statement s was vectorized.
func (p *Plan) IsVector(s int) bool { return p.Roots[s] >= 0 }

// Keys returns the gate keys every pack of the plan needs, with the lane
// count each one runs at.
func (p *Plan) Keys() []GateQuery {
	var qs []GateQuery
	for _, pk := range p.Packs {
		qs = append(qs, p.packKeys(pk)...)
	}
	return qs
}

// GateQuery is one capability question asked of the gate.
type GateQuery struct {
	Key   target.Key
	Lanes int
}

func (p *Plan) packKeys(pk *Pack) []GateQuery {
	q := func(k target.Key, lanes int) GateQuery { return GateQuery{Key: k, Lanes: lanes} }
	switch pk.Kind {
	case PackLoad, PackStore, PackBroadcast:
		return []GateQuery{q(target.Key{Class: target.ClassMemory, Type: pk.Type}, pk.Lanes)}
	case PackElementwise:
		return []GateQuery{q(target.Key{Class: target.ClassElementwise, Op: pk.Op, Type: pk.Type}, pk.Lanes)}
	case PackConvert:
		return []GateQuery{q(target.Key{Class: target.ClassConvert, Op: ir.OpConv, Type: pk.Type, From: pk.From}, pk.Lanes)}
	case PackMulAdd:
		return []GateQuery{q(target.Key{Class: target.ClassMulAdd, Type: pk.Type}, pk.Lanes)}
	case PackReduction:
		qs := []GateQuery{q(target.Key{Class: target.ClassReduction, Op: pk.Op, Type: pk.Type}, pk.Lanes)}
		if p.Combine == CombineTree {
			// Identity broadcast plus one lane-wise combine per group.
			qs = append(qs,
				q(target.Key{Class: target.ClassMemory, Type: pk.Type}, pk.Lanes),
				q(target.Key{Class: target.ClassElementwise, Op: pk.Op, Type: pk.Type}, pk.Lanes))
		} else if p.Spill {
			qs = append(qs, q(target.Key{Class: target.ClassMemory, Type: pk.Type}, pk.Lanes))
		}
		return qs
	}
	return nil
}

// check asks the gate about every pack. The first rejection excludes the
// whole width.
func (p *Plan) check(g *target.Gate) error {
	for _, q := range p.Keys() {
		if err := g.Check(q.Key, q.Lanes); err != nil {
			return err
		}
	}
	return nil
}

// verify panics with an *InvariantError when the pack graph is malformed.
func (p *Plan) verify() {
	if p.Lanes < 2 || p.Unroll%p.Lanes != 0 {
		invariantf(p.Loop.Name, "lane count %d does not divide unroll factor %d", p.Lanes, p.Unroll)
	}
	wantInputs := map[PackKind]int{
		PackLoad: 0, PackBroadcast: 0, PackStore: 1, PackConvert: 1, PackReduction: 1, PackMulAdd: 2,
	}
	for i, pk := range p.Packs {
		if pk.ID != i {
			invariantf(p.Loop.Name, "pack %d stored at position %d", pk.ID, i)
		}
		for _, in := range pk.Inputs {
			if in < 0 || in >= pk.ID {
				invariantf(p.Loop.Name, "%s consumes p%d, which is not defined before it", pk, in)
			}
			input := p.Packs[in]
			wantLanes := pk.Lanes
			if pk.Kind == PackMulAdd {
				wantLanes = 2 * pk.Lanes
			}
			if input.Lanes != wantLanes {
				invariantf(p.Loop.Name, "%s consumes %s with %d lanes, want %d", pk, input, input.Lanes, wantLanes)
			}
			wantType := pk.Type
			switch pk.Kind {
			case PackConvert:
				wantType = pk.From
			case PackMulAdd:
				wantType = ir.Int16
			}
			if input.Type != wantType {
				invariantf(p.Loop.Name, "%s mixes %s and %s lanes", pk, pk.Type, input.Type)
			}
		}
		if n, ok := wantInputs[pk.Kind]; ok && len(pk.Inputs) != n {
			invariantf(p.Loop.Name, "%s has %d inputs, want %d", pk, len(pk.Inputs), n)
		}
		if pk.Kind == PackElementwise {
			want := 2
			if pk.Op.IsUnary() {
				want = 1
			}
			if len(pk.Inputs) != want {
				invariantf(p.Loop.Name, "%s has %d inputs, want %d", pk, len(pk.Inputs), want)
			}
		}
	}
}

// planner chooses which statements to vectorize and at what width.
type planner struct {
	loop   *ir.Loop
	legal  *Legality
	idiom  *ReductionIdiom
	gate   *target.Gate
	cfg    Config
	unroll int
	tr     tracer
}

// plan returns the widest accepted plan, or nil and the reason nothing
// could be vectorized.
func (pl *planner) plan() (*Plan, string) {
	vector := make([]bool, len(pl.loop.Body))
	var reasons []string
	for s := range pl.loop.Body {
		if !pl.legal.Legal(s) {
			reasons = append(reasons, fmt.Sprintf("stmt %d: %s", s, pl.legal.Blocked[s]))
			continue
		}
		if reason := pl.packable(s); reason != "" {
			reasons = append(reasons, fmt.Sprintf("stmt %d: %s", s, reason))
			continue
		}
		vector[s] = true
	}

	// Vector statements of a group run before its scalar ones, so a vector
	// statement that depends on an earlier scalar one must stay scalar.
	for changed := true; changed; {
		changed = false
		for s := range vector {
			if !vector[s] {
				continue
			}
			for t := 0; t < s; t++ {
				if !vector[t] && pl.legal.Conflicts(t, s) {
					pl.tr.printf("stmt %d demoted: depends on scalar stmt %d", s, t)
					reasons = append(reasons, fmt.Sprintf("stmt %d: depends on scalar stmt %d", s, t))
					vector[s] = false
					changed = true
					break
				}
			}
		}
	}
	if !lo.Contains(vector, true) {
		return nil, "no packable statement: " + strings.Join(reasons, "; ")
	}

	var lastReject error
	for w := pl.unroll; w >= 2; w /= 2 {
		p := pl.build(w, vector)
		if err := p.check(pl.gate); err != nil {
			pl.tr.printf("%s: width %d rejected: %v", pl.loop.Name, w, err)
			lastReject = err
			continue
		}
		p.verify()
		pl.tr.printf("%s: planned %d packs at width %d", pl.loop.Name, len(p.Packs), w)
		return p, ""
	}
	if lastReject == nil {
		return nil, fmt.Sprintf("unroll factor %d leaves no vector width", pl.unroll)
	}
	return nil, fmt.Sprintf("no vector width accepted: %v", lastReject)
}

// packable reports why statement s has no vector form at any width, or
// "" when it has one.
func (pl *planner) packable(s int) string {
	switch st := pl.loop.Body[s].(type) {
	case *ir.Store:
		if !st.Index.Affine || st.Index.Scale != 1 {
			return fmt.Sprintf("store to %s[%s] is not contiguous", st.Array, st.Index)
		}
		return packableExpr(st.Value)
	case *ir.Assign:
		if pl.idiom == nil || pl.idiom.Stmt != s {
			return fmt.Sprintf("assignment to %s is not a reduction", st.Var)
		}
		return packableExpr(pl.idiom.Expr)
	case *ir.Branch:
		return "conditional statement"
	}
	return "unknown statement"
}

// packableExpr reports why e cannot be packed, or "" when it can.
func packableExpr(e ir.Expr) string {
	if isUniform(e) {
		return ""
	}
	switch n := e.(type) {
	case *ir.Load:
		if !n.Index.Affine || n.Index.Scale != 1 {
			return fmt.Sprintf("load %s is not contiguous", n)
		}
		return ""
	case *ir.Binary:
		if r := packableExpr(n.X); r != "" {
			return r
		}
		return packableExpr(n.Y)
	case *ir.Unary:
		return packableExpr(n.X)
	case *ir.Convert:
		return packableExpr(n.X)
	case *ir.MulAddS2I:
		for _, ld := range []*ir.Load{n.X0, n.Y0} {
			if !ld.Index.Affine || ld.Index.Scale != 2 {
				return fmt.Sprintf("multiply-add input %s is not pairwise contiguous", ld)
			}
		}
		if !adjacent(n.X0, n.X1) || !adjacent(n.Y0, n.Y1) {
			return fmt.Sprintf("multiply-add %s does not read adjacent elements", n)
		}
		return ""
	case *ir.IndVar:
		return fmt.Sprintf("induction variable %s used as a value", n.Name)
	case *ir.AccRef:
		return fmt.Sprintf("reads loop-carried scalar %s", n.Name)
	case *ir.Compare:
		return "comparison"
	}
	return fmt.Sprintf("no vector form for %s", e)
}

// isUniform reports whether e has the same value in every iteration.
func isUniform(e ir.Expr) bool {
	uniform := true
	ir.Walk(e, func(n ir.Expr) {
		switch n := n.(type) {
		case *ir.Const, *ir.Param, *ir.Binary, *ir.Unary, *ir.Convert:
		case *ir.Load:
			if !n.Index.Affine || n.Index.Scale != 0 {
				uniform = false
			}
		default:
			uniform = false
		}
	})
	return uniform
}

// build packs the vector statements at width w.
func (pl *planner) build(w int, vector []bool) *Plan {
	p := &Plan{
		Loop:   pl.loop,
		Unroll: pl.unroll,
		Lanes:  w,
		Roots:  make([]int, len(pl.loop.Body)),
	}
	b := &packBuilder{plan: p}
	for s, stmt := range pl.loop.Body {
		p.Roots[s] = -1
		if !vector[s] {
			continue
		}
		b.stmt = s
		switch st := stmt.(type) {
		case *ir.Store:
			v := b.expr(st.Value)
			p.Roots[s] = b.add(&Pack{Kind: PackStore, Type: st.Elem, Lanes: w,
				Array: st.Array, Index: st.Index, Inputs: []int{v}})
		case *ir.Assign:
			v := b.expr(pl.idiom.Expr)
			p.Reduction = pl.idiom
			p.Combine = CombineTree
			if pl.idiom.Type.IsFloat() && !pl.idiom.Op.Reassociates(pl.idiom.Type) && pl.cfg.StrictFloatReductions {
				p.Combine = CombineOrdered
			}
			p.Spill = pl.gate.NeedsLaneSpill(pl.idiom.Type, w)
			p.Roots[s] = b.add(&Pack{Kind: PackReduction, Op: pl.idiom.Op, Type: pl.idiom.Type, Lanes: w,
				Expr: st.Value, Inputs: []int{v}})
		}
	}
	for _, pk := range p.Packs {
		width := pk.Type.Bytes()
		if pk.Kind == PackConvert {
			width = max(width, pk.From.Bytes())
		}
		p.VectorBytes = max(p.VectorBytes, width*pk.Lanes)
	}
	return p
}

type packBuilder struct {
	plan *Plan
	stmt int
}

func (b *packBuilder) add(pk *Pack) int {
	pk.ID = len(b.plan.Packs)
	pk.Stmt = b.stmt
	b.plan.Packs = append(b.plan.Packs, pk)
	return pk.ID
}

// expr packs e bottom-up and returns the ID of its root pack.
func (b *packBuilder) expr(e ir.Expr) int {
	w := b.plan.Lanes
	if isUniform(e) {
		return b.add(&Pack{Kind: PackBroadcast, Type: e.Type(), Lanes: w, Expr: e})
	}
	switch n := e.(type) {
	case *ir.Load:
		return b.add(&Pack{Kind: PackLoad, Type: n.Elem, Lanes: w, Expr: n, Array: n.Array, Index: n.Index})
	case *ir.Binary:
		x := b.expr(n.X)
		y := b.expr(n.Y)
		return b.add(&Pack{Kind: PackElementwise, Op: n.Op, Type: n.T, Lanes: w, Expr: n, Inputs: []int{x, y}})
	case *ir.Unary:
		x := b.expr(n.X)
		return b.add(&Pack{Kind: PackElementwise, Op: n.Op, Type: n.T, Lanes: w, Expr: n, Inputs: []int{x}})
	case *ir.Convert:
		if n.X.Type() == n.T {
			return b.expr(n.X)
		}
		x := b.expr(n.X)
		return b.add(&Pack{Kind: PackConvert, Type: n.T, From: n.X.Type(), Lanes: w, Expr: n, Inputs: []int{x}})
	case *ir.MulAddS2I:
		x := b.add(&Pack{Kind: PackLoad, Type: ir.Int16, Lanes: 2 * w, Expr: n.X0, Array: n.X0.Array, Index: n.X0.Index})
		y := b.add(&Pack{Kind: PackLoad, Type: ir.Int16, Lanes: 2 * w, Expr: n.Y0, Array: n.Y0.Array, Index: n.Y0.Index})
		return b.add(&Pack{Kind: PackMulAdd, Type: ir.Int32, Lanes: w, Expr: n, Inputs: []int{x, y}})
	}
	invariantf(b.plan.Loop.Name, "no pack for %s", e)
	return -1
}
