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

// Package superword is a reduction-aware superword-level-parallelism
// vectorizer for counted loops.
//
// Vectorize takes an ir.Loop and a Config and runs the pipeline
//
//	Analyze -> MatchReduction -> ApplyFusionRules -> plan -> generate
//
// producing a Program plus a Report describing its instruction shape. Any
// legality, pattern or capability failure falls back to scalar code for the
// whole loop; only malformed input is an error.
package superword

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/ajroetker/go-superword/ir"
)

// State is the compilation state of a loop.
type State uint8

const (
	Unanalyzed State = iota
	Analyzed
	Matched
	NoIdiom
	Planned
	ScalarFallback
	Generated
)

var stateNames = [...]string{
	Unanalyzed:     "Unanalyzed",
	Analyzed:       "Analyzed",
	Matched:        "Matched",
	NoIdiom:        "NoIdiom",
	Planned:        "Planned",
	ScalarFallback: "ScalarFallback",
	Generated:      "Generated",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// InvariantError reports an internal inconsistency of the vectorizer, such
// as a pack mixing operators. It is raised with panic and indicates a bug.
type InvariantError struct {
	Loop string
	Msg  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("superword: invariant violated in loop %s: %s", e.Loop, e.Msg)
}

func invariantf(loop, format string, args ...any) {
	panic(&InvariantError{Loop: loop, Msg: fmt.Sprintf(format, args...)})
}

// ChooseUnroll picks the unroll factor for loop: the largest power of two
// not above cfg.LoopMaxUnroll such that the unrolled body stays within
// cfg.LoopUnrollLimit and, for constant bounds, the trip count.
func ChooseUnroll(loop *ir.Loop, cfg Config) int {
	size := 1
	for _, stmt := range loop.Body {
		size += stmtSize(stmt)
	}
	trip, constTrip := tripCount(loop)
	u := 1
	for next := 2; next <= cfg.LoopMaxUnroll; next *= 2 {
		if next*size > cfg.LoopUnrollLimit {
			break
		}
		if constTrip && next > trip {
			break
		}
		u = next
	}
	return u
}

// stmtSize counts the arithmetic nodes and stores of stmt.
func stmtSize(stmt ir.Stmt) int {
	n := 0
	for _, e := range ir.StmtExprs(stmt) {
		n += ir.CountOps(e)
	}
	switch st := stmt.(type) {
	case *ir.Store:
		n++
	case *ir.Branch:
		n = ir.CountOps(st.Cond)
		for _, inner := range append(append([]ir.Stmt(nil), st.Then...), st.Else...) {
			n += stmtSize(inner)
		}
	}
	return n
}

func tripCount(loop *ir.Loop) (int, bool) {
	if !loop.Start.IsConst() || !loop.End.IsConst() {
		return 0, false
	}
	eval := func(b ir.Bound) int {
		if b.Div > 1 {
			return b.Const / b.Div
		}
		return b.Const
	}
	stride := max(loop.Stride, 1)
	return max(0, (eval(loop.End)-eval(loop.Start)+stride-1)/stride), true
}

// Vectorize compiles loop under cfg. The loop is not modified.
//
// The returned error is non-nil only for an invalid configuration or a
// malformed loop; every other obstacle produces a scalar Program whose
// Report carries the reason.
func Vectorize(loop *ir.Loop, cfg Config) (*Program, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := checkLoop(loop); err != nil {
		return nil, err
	}
	tr := newTracer(cfg)
	rep := newReport(loop)
	rep.enter(Unanalyzed)

	u := loop.Unroll
	if u == 0 {
		u = ChooseUnroll(loop, cfg)
	} else if u < 0 || bits.OnesCount(uint(u)) != 1 {
		return nil, fmt.Errorf("loop %s: unroll factor %d is not a power of two", loop.Name, u)
	}
	rep.Unroll = u
	tr.printf("%s: unroll %d, %s", loop.Name, u, cfg)

	legal := Analyze(loop, u)
	rep.enter(Analyzed)
	for _, pair := range legal.MayAlias {
		tr.printf("%s: may alias: %s / %s: %s", loop.Name, pair.A, pair.B, pair.Reason)
	}

	gate := cfg.Gate()
	idiom, reason := MatchReduction(loop)
	if reason != "" {
		rep.enter(NoIdiom)
		return fallback(loop, u, rep, reason, tr), nil
	}
	rep.enter(Matched)

	work := loop
	if idiom != nil {
		rep.Reduction = idiom.String()
		if cfg.ReductionVectorization && u > cfg.MinReductionUnroll {
			if fused, n := ApplyFusionRules(loop, cfg, u, tr); n > 0 {
				work = fused
				if idiom, reason = MatchReduction(work); reason != "" {
					invariantf(loop.Name, "fusion broke the reduction: %s", reason)
				}
				rep.Reduction = idiom.String()
				legal = Analyze(work, u)
			}
		}
	}

	switch {
	case idiom != nil && !cfg.ReductionVectorization:
		return fallback(work, u, rep, "reduction vectorization disabled", tr), nil
	case idiom != nil && u <= cfg.MinReductionUnroll:
		return fallback(work, u, rep,
			fmt.Sprintf("unroll factor %d does not exceed %d, reduction left scalar", u, cfg.MinReductionUnroll), tr), nil
	case legal.LoopReason != "":
		return fallback(work, u, rep, legal.LoopReason, tr), nil
	case u < 2:
		return fallback(work, u, rep, "loop is not unrolled", tr), nil
	}

	pl := &planner{loop: work, legal: legal, idiom: idiom, gate: gate, cfg: cfg, unroll: u, tr: tr}
	plan, reason := pl.plan()
	if plan == nil {
		return fallback(work, u, rep, reason, tr), nil
	}
	rep.enter(Planned)
	rep.Lanes = plan.Lanes
	rep.VectorBytes = plan.VectorBytes
	rep.Strategy = plan.Combine.String()

	prog := newGenerator(work, plan, u, gate).generate()
	rep.enter(Generated)
	rep.fill(prog)
	prog.Report = rep
	tr.printf("%s: generated %d lanes x %d bytes", loop.Name, plan.Lanes, plan.VectorBytes)
	return prog, nil
}

func fallback(loop *ir.Loop, u int, rep *Report, reason string, tr tracer) *Program {
	rep.enter(ScalarFallback)
	rep.Reason = reason
	tr.printf("%s: scalar fallback: %s", loop.Name, reason)
	prog := newGenerator(loop, nil, u, nil).generateScalar()
	rep.fill(prog)
	prog.Report = rep
	return prog
}

func checkLoop(loop *ir.Loop) error {
	if loop == nil {
		return errors.New("nil loop")
	}
	if len(loop.Body) == 0 {
		return fmt.Errorf("loop %s has an empty body", loop.Name)
	}
	if loop.Stride < 1 {
		return fmt.Errorf("loop %s: stride %d is not positive", loop.Name, loop.Stride)
	}
	for _, stmt := range loop.Body {
		if stmt == nil {
			return fmt.Errorf("loop %s: nil statement", loop.Name)
		}
	}
	return nil
}
