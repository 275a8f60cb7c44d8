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

// AccessKind distinguishes reads from writes.
type AccessKind uint8

const (
	Read AccessKind = iota
	Write
)

func (k AccessKind) String() string {
	if k == Write {
		return "write"
	}
	return "read"
}

// MemoryAccess is one array reference of the loop body.
type MemoryAccess struct {
	Array string
	Index ir.Index
	Elem  ir.Type
	Kind  AccessKind

	// Stmt is the index of the owning top-level statement.
	Stmt int
}

func (m MemoryAccess) String() string {
	return fmt.Sprintf("%s %s[%s] (stmt %d)", m.Kind, m.Array, m.Index, m.Stmt)
}

// AliasPair records two accesses whose independence could not be proven.
type AliasPair struct {
	A, B   MemoryAccess
	Reason string
}

// Legality is the analyzer's verdict for one loop at one unroll factor.
type Legality struct {
	Unroll   int
	Accesses []MemoryAccess

	// Blocked holds, per top-level statement, why it must stay scalar.
	// An empty string means the statement may be reordered across the
	// unroll window.
	Blocked []string

	MayAlias []AliasPair

	// LoopReason is set when the whole loop is rejected.
	LoopReason string
}

// Legal reports whether statement s may be vectorized.
func (l *Legality) Legal(s int) bool {
	return l.LoopReason == "" && l.Blocked[s] == ""
}

// Conflicts reports whether statements s and t touch a common array with
// at least one write.
func (l *Legality) Conflicts(s, t int) bool {
	for _, a := range l.Accesses {
		if a.Stmt != s {
			continue
		}
		for _, b := range l.Accesses {
			if b.Stmt == t && a.Array == b.Array && (a.Kind == Write || b.Kind == Write) {
				return true
			}
		}
	}
	return false
}

// Analyze collects the memory accesses of loop and decides, per statement,
// whether it may be reordered across an unroll window of the given size.
// Accesses to different arrays never alias. Two accesses to the same array
// where at least one writes are independent only if their subscripts are
// identical or provably disjoint within the window; anything else blocks
// both statements. Analyze does not modify loop.
func Analyze(loop *ir.Loop, unroll int) *Legality {
	l := &Legality{
		Unroll:  unroll,
		Blocked: make([]string, len(loop.Body)),
	}
	if loop.Stride != 1 {
		l.LoopReason = fmt.Sprintf("non-unit stride %d", loop.Stride)
	}
	for s, stmt := range loop.Body {
		l.Accesses = append(l.Accesses, stmtAccesses(stmt, s)...)
		if _, ok := stmt.(*ir.Branch); ok {
			l.Blocked[s] = "conditional statement"
		}
	}

	for i, a := range l.Accesses {
		for _, b := range l.Accesses[i+1:] {
			if a.Array != b.Array || (a.Kind == Read && b.Kind == Read) {
				continue
			}
			if ok, reason := independent(a, b, unroll); !ok {
				l.MayAlias = append(l.MayAlias, AliasPair{A: a, B: b, Reason: reason})
				l.block(a.Stmt, reason)
				l.block(b.Stmt, reason)
			}
		}
	}
	return l
}

func (l *Legality) block(s int, reason string) {
	if l.Blocked[s] == "" {
		l.Blocked[s] = reason
	}
}

// independent decides whether two same-array accesses, at least one a
// write, can be reordered across an unroll window of n iterations.
func independent(a, b MemoryAccess, n int) (bool, string) {
	if !a.Index.Affine || !b.Index.Affine {
		return false, fmt.Sprintf("non-affine subscript on %s", a.Array)
	}
	if a.Index.Scale != b.Index.Scale {
		return false, fmt.Sprintf("%s[%s] and %s[%s] have different strides", a.Array, a.Index, b.Array, b.Index)
	}
	scale := a.Index.Scale
	delta := a.Index.Offset - b.Index.Offset
	if scale == 0 {
		if delta == 0 {
			return false, fmt.Sprintf("loop-invariant element %s[%d] is written", a.Array, a.Index.Offset)
		}
		return true, ""
	}
	if delta == 0 {
		return true, ""
	}
	if scale < 0 {
		scale = -scale
	}
	if delta%scale != 0 {
		return true, ""
	}
	if delta < 0 {
		delta = -delta
	}
	if delta >= n*scale {
		return true, ""
	}
	return false, fmt.Sprintf("%s[%s] and %s[%s] overlap within %d iterations", a.Array, a.Index, b.Array, b.Index, n)
}

// stmtAccesses returns the memory accesses of one top-level statement,
// including those nested in branches and in subscripts.
func stmtAccesses(stmt ir.Stmt, s int) []MemoryAccess {
	var out []MemoryAccess
	reads := func(e ir.Expr) {
		ir.Walk(e, func(n ir.Expr) {
			if ld, ok := n.(*ir.Load); ok {
				out = append(out, MemoryAccess{Array: ld.Array, Index: ld.Index, Elem: ld.Elem, Kind: Read, Stmt: s})
			}
		})
	}
	switch st := stmt.(type) {
	case *ir.Store:
		for _, e := range ir.StmtExprs(st) {
			reads(e)
		}
		out = append(out, MemoryAccess{Array: st.Array, Index: st.Index, Elem: st.Elem, Kind: Write, Stmt: s})
	case *ir.Assign:
		reads(st.Value)
	case *ir.Branch:
		reads(st.Cond)
		for _, inner := range append(append([]ir.Stmt(nil), st.Then...), st.Else...) {
			out = append(out, stmtAccesses(inner, s)...)
		}
	}
	return out
}
