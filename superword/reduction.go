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

	"github.com/ajroetker/go-superword/ir"
)

// ReductionIdiom is a recognized accumulation acc = acc OP expr.
type ReductionIdiom struct {
	// Acc is the accumulator variable.
	Acc string

	Op   ir.Op
	Type ir.Type

	// Identity is the neutral element of Op over Type, used to seed the
	// vector accumulator.
	Identity ir.Value

	// Expr is the per-iteration contribution.
	Expr ir.Expr

	// Stmt is the index of the update in the loop body.
	Stmt int
}

func (r *ReductionIdiom) String() string {
	return fmt.Sprintf("%s = %s %s %s (%s)", r.Acc, r.Op, r.Acc, r.Expr, r.Type)
}

// MatchReduction looks for the accumulator update of loop.
//
// It returns (idiom, "") on a match and (nil, reason) when the body updates
// a scalar in a way that cannot be vectorized. A loop that updates no
// scalar at all returns (nil, ""): there is nothing to reduce.
func MatchReduction(loop *ir.Loop) (*ReductionIdiom, string) {
	var updates []int
	for s, stmt := range loop.Body {
		switch st := stmt.(type) {
		case *ir.Assign:
			updates = append(updates, s)
		case *ir.Branch:
			if branchAssigns(st) {
				return nil, "accumulator updated under a condition (branch-based min/max is not matched)"
			}
		}
	}
	if len(updates) == 0 {
		return nil, ""
	}

	first := loop.Body[updates[0]].(*ir.Assign)
	if len(updates) > 1 {
		if loop.Body[updates[1]].(*ir.Assign).Var == first.Var {
			return nil, fmt.Sprintf("accumulator %s updated more than once per iteration", first.Var)
		}
		return nil, "more than one scalar updated in the loop"
	}
	for s, stmt := range loop.Body {
		if s == updates[0] {
			continue
		}
		for _, e := range ir.StmtExprs(stmt) {
			if ir.Reads(e, first.Var) {
				return nil, fmt.Sprintf("accumulator %s read outside its update", first.Var)
			}
		}
	}

	acc := first.Var
	if first.T.Bits() < 32 {
		return nil, fmt.Sprintf("%d-bit accumulator %s is not supported", first.T.Bits(), acc)
	}

	bin, ok := first.Value.(*ir.Binary)
	if !ok {
		return nil, fmt.Sprintf("%s is overwritten, not accumulated", acc)
	}
	var contrib ir.Expr
	switch {
	case isAcc(bin.X, acc):
		contrib = bin.Y
	case isAcc(bin.Y, acc) && bin.Op.IsCommutative():
		contrib = bin.X
	default:
		return nil, fmt.Sprintf("update of %s does not have the form %s = %s OP expr", acc, acc, acc)
	}
	if !bin.Op.IsReduction() {
		return nil, fmt.Sprintf("operator %s is not a reduction", bin.Op)
	}
	if ir.Reads(contrib, acc) {
		return nil, fmt.Sprintf("accumulator %s read more than once in its update", acc)
	}
	if reason := checkContribution(contrib); reason != "" {
		return nil, reason
	}
	id, ok := ir.Identity(bin.Op, first.T)
	if !ok {
		return nil, fmt.Sprintf("operator %s has no identity over %s", bin.Op, first.T)
	}
	return &ReductionIdiom{
		Acc:      acc,
		Op:       bin.Op,
		Type:     first.T,
		Identity: id,
		Expr:     contrib,
		Stmt:     updates[0],
	}, ""
}

func isAcc(e ir.Expr, acc string) bool {
	r, ok := e.(*ir.AccRef)
	return ok && r.Name == acc
}

func branchAssigns(br *ir.Branch) bool {
	for _, stmt := range append(append([]ir.Stmt(nil), br.Then...), br.Else...) {
		switch st := stmt.(type) {
		case *ir.Assign:
			return true
		case *ir.Branch:
			if branchAssigns(st) {
				return true
			}
		}
	}
	return false
}

// checkContribution accepts loads, arithmetic, abs/neg/sqrt, conversions,
// the fused multiply-add and loop invariants.
func checkContribution(e ir.Expr) string {
	var reason string
	ir.Walk(e, func(n ir.Expr) {
		if reason != "" {
			return
		}
		switch n := n.(type) {
		case *ir.Compare:
			reason = "comparison in the contribution"
		case *ir.AccRef:
			reason = fmt.Sprintf("contribution reads loop-carried scalar %s", n.Name)
		}
	})
	return reason
}
