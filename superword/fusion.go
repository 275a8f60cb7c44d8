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
	"slices"

	"github.com/ajroetker/go-superword/ir"
)

// FusionRule defines a rewrite of an expression pattern into a fused node.
type FusionRule struct {
	// Name identifies this rule for debugging.
	Name string

	// Priority determines application order (higher = applied first).
	Priority int

	// Match checks whether this rule applies to the expression.
	Match func(e ir.Expr) bool

	// CanFuse validates the loop-level preconditions after Match succeeds.
	CanFuse func(fc *fusionContext) bool

	// Apply builds the replacement node.
	Apply func(e ir.Expr) ir.Expr
}

type fusionContext struct {
	cfg    Config
	unroll int
}

// builtinRules are the default fusion rules.
var builtinRules = []FusionRule{
	{
		Name:     "MulAddS2I",
		Priority: 10,
		Match:    matchMulAddS2I,
		CanFuse:  canFuseMulAddS2I,
		Apply:    applyMulAddS2I,
	},
}

// ApplyFusionRules rewrites every matching sub-expression of the loop body
// bottom-up. It returns the loop unchanged when nothing fused, and a copy
// with a new body otherwise; the input loop is never modified.
func ApplyFusionRules(loop *ir.Loop, cfg Config, unroll int, tr tracer) (*ir.Loop, int) {
	rules := slices.Clone(builtinRules)
	slices.SortStableFunc(rules, func(a, b FusionRule) int { return b.Priority - a.Priority })

	fc := &fusionContext{cfg: cfg, unroll: unroll}
	fused := 0
	rewrite := func(e ir.Expr) ir.Expr {
		return rewriteExpr(e, func(n ir.Expr) ir.Expr {
			for _, rule := range rules {
				if rule.Match(n) && rule.CanFuse(fc) {
					tr.printf("fuse %s: %s", rule.Name, n)
					fused++
					return rule.Apply(n)
				}
			}
			return n
		})
	}

	body := make([]ir.Stmt, len(loop.Body))
	for i, stmt := range loop.Body {
		body[i] = rewriteStmt(stmt, rewrite)
	}
	if fused == 0 {
		return loop, 0
	}
	return loop.WithBody(body), fused
}

func rewriteStmt(stmt ir.Stmt, rewrite func(ir.Expr) ir.Expr) ir.Stmt {
	switch st := stmt.(type) {
	case *ir.Store:
		c := *st
		c.Value = rewrite(st.Value)
		return &c
	case *ir.Assign:
		c := *st
		c.Value = rewrite(st.Value)
		return &c
	case *ir.Branch:
		c := *st
		c.Cond = rewrite(st.Cond)
		c.Then = make([]ir.Stmt, len(st.Then))
		for i, s := range st.Then {
			c.Then[i] = rewriteStmt(s, rewrite)
		}
		c.Else = make([]ir.Stmt, len(st.Else))
		for i, s := range st.Else {
			c.Else[i] = rewriteStmt(s, rewrite)
		}
		return &c
	}
	return stmt
}

// rewriteExpr rebuilds e with f applied to every node, operands first.
// Unchanged sub-trees are shared with the input.
func rewriteExpr(e ir.Expr, f func(ir.Expr) ir.Expr) ir.Expr {
	switch n := e.(type) {
	case *ir.Binary:
		x, y := rewriteExpr(n.X, f), rewriteExpr(n.Y, f)
		if x != n.X || y != n.Y {
			e = &ir.Binary{Op: n.Op, X: x, Y: y, T: n.T}
		}
	case *ir.Unary:
		if x := rewriteExpr(n.X, f); x != n.X {
			e = &ir.Unary{Op: n.Op, X: x, T: n.T}
		}
	case *ir.Convert:
		if x := rewriteExpr(n.X, f); x != n.X {
			e = &ir.Convert{X: x, T: n.T}
		}
	case *ir.Compare:
		x, y := rewriteExpr(n.X, f), rewriteExpr(n.Y, f)
		if x != n.X || y != n.Y {
			e = &ir.Compare{Tok: n.Tok, X: x, Y: y}
		}
	}
	return f(e)
}

// =============================================================================
// Pattern: MulAddS2I
// int32(x[k]) * int32(y[k]) + int32(x[k+1]) * int32(y[k+1]) over int16 arrays.
// =============================================================================

// widenedProduct returns the int16 loads of int32(x)*int32(y).
func widenedProduct(e ir.Expr) (x, y *ir.Load, ok bool) {
	mul, ok := e.(*ir.Binary)
	if !ok || mul.Op != ir.OpMul || mul.T != ir.Int32 {
		return nil, nil, false
	}
	x, ok = widenedLoad(mul.X)
	if !ok {
		return nil, nil, false
	}
	y, ok = widenedLoad(mul.Y)
	return x, y, ok
}

func widenedLoad(e ir.Expr) (*ir.Load, bool) {
	cv, ok := e.(*ir.Convert)
	if !ok || cv.T != ir.Int32 {
		return nil, false
	}
	ld, ok := cv.X.(*ir.Load)
	if !ok || ld.Elem != ir.Int16 || !ld.Index.Affine {
		return nil, false
	}
	return ld, true
}

// adjacent reports whether hi reads the element right after lo in every
// iteration.
func adjacent(lo, hi *ir.Load) bool {
	return lo.Array == hi.Array && lo.Index.Scale == hi.Index.Scale && hi.Index.Offset == lo.Index.Offset+1
}

// mulAddOperands orders the four loads of a candidate as x0, y0, x1, y1.
func mulAddOperands(e ir.Expr) (x0, y0, x1, y1 *ir.Load, ok bool) {
	add, ok := e.(*ir.Binary)
	if !ok || add.Op != ir.OpAdd || add.T != ir.Int32 {
		return nil, nil, nil, nil, false
	}
	px, py, ok1 := widenedProduct(add.X)
	qx, qy, ok2 := widenedProduct(add.Y)
	if !ok1 || !ok2 {
		return nil, nil, nil, nil, false
	}
	candidates := [][4]*ir.Load{
		{px, py, qx, qy},
		{px, py, qy, qx},
		{qx, qy, px, py},
		{qx, qy, py, px},
	}
	for _, c := range candidates {
		if adjacent(c[0], c[2]) && adjacent(c[1], c[3]) {
			return c[0], c[1], c[2], c[3], true
		}
	}
	return nil, nil, nil, nil, false
}

func matchMulAddS2I(e ir.Expr) bool {
	_, _, _, _, ok := mulAddOperands(e)
	return ok
}

// canFuseMulAddS2I only fuses when the reduction is going to be vectorized
// at an unroll factor that allows it.
func canFuseMulAddS2I(fc *fusionContext) bool {
	return fc.cfg.ReductionVectorization && fc.unroll > fc.cfg.MinReductionUnroll
}

func applyMulAddS2I(e ir.Expr) ir.Expr {
	x0, y0, x1, y1, _ := mulAddOperands(e)
	return &ir.MulAddS2I{X0: x0, Y0: y0, X1: x1, Y1: y1}
}
