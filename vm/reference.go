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

package vm

import (
	"fmt"

	"github.com/ajroetker/go-superword/ir"
)

// Reference evaluates loop directly from its expression trees, one
// iteration at a time in source order. It shares no code with the
// generator and is the oracle programs are checked against.
func Reference(loop *ir.Loop, env *Env) (result ir.Value, err error) {
	if loop == nil {
		return ir.Value{}, fmt.Errorf("nil loop")
	}
	m, err := newMachine(loop, env)
	if err != nil {
		return ir.Value{}, fmt.Errorf("reference %s: %w", loop.Name, err)
	}
	defer catch("reference "+loop.Name, &err)

	for iv := m.start; iv < m.end; iv += m.stride {
		m.iv = iv
		for _, stmt := range loop.Body {
			m.stmt(stmt)
		}
	}
	return m.result(), nil
}

func (m *machine) stmt(s ir.Stmt) {
	switch s := s.(type) {
	case *ir.Store:
		v := m.eval(s.Value)
		m.arrays[s.Array].Set(m.index(s.Index), v)
	case *ir.Assign:
		m.vars[s.Var] = m.eval(s.Value)
	case *ir.Branch:
		body := s.Else
		if m.eval(s.Cond).Int() != 0 {
			body = s.Then
		}
		for _, inner := range body {
			m.stmt(inner)
		}
	default:
		panic(fmt.Errorf("unknown statement %T", s))
	}
}

func (m *machine) index(x ir.Index) int {
	if x.Affine {
		return x.At(m.iv)
	}
	return int(m.eval(x.Expr).Int())
}

func (m *machine) eval(e ir.Expr) ir.Value {
	switch e := e.(type) {
	case *ir.Load:
		return m.arrays[e.Array].Get(m.index(e.Index))
	case *ir.Const:
		return e.Value
	case *ir.Param:
		return m.vars[e.Name]
	case *ir.AccRef:
		return m.vars[e.Name]
	case *ir.IndVar:
		return indVar(e.T, m.iv)
	case *ir.Binary:
		return ir.Apply(e.Op, e.T, m.eval(e.X), m.eval(e.Y))
	case *ir.Unary:
		return ir.ApplyUnary(e.Op, e.T, m.eval(e.X))
	case *ir.Convert:
		return ir.ConvertValue(m.eval(e.X), e.T)
	case *ir.MulAddS2I:
		return ir.EvalMulAddS2I(m.eval(e.X0), m.eval(e.Y0), m.eval(e.X1), m.eval(e.Y1))
	case *ir.Compare:
		return compare(e.Tok, m.eval(e.X), m.eval(e.Y))
	}
	panic(fmt.Errorf("unknown expression %T", e))
}
