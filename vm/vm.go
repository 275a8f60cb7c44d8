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
	"errors"
	"fmt"
	"go/token"

	"github.com/ajroetker/go-superword/ir"
	"github.com/ajroetker/go-superword/superword"
)

// machine holds the state shared by Run and Reference.
type machine struct {
	loop   *ir.Loop
	arrays map[string]array
	vars   map[string]ir.Value

	start, end int
	stride     int
	iv         int

	s []ir.Value
	v [][]ir.Value
}

func newMachine(loop *ir.Loop, env *Env) (*machine, error) {
	if env == nil {
		return nil, errors.New("nil environment")
	}
	m := &machine{
		loop:   loop,
		arrays: make(map[string]array, len(loop.Arrays)),
		vars:   make(map[string]ir.Value, len(loop.Scalars)),
		stride: loop.Stride,
	}
	for _, ap := range loop.Arrays {
		data, ok := env.Arrays[ap.Name]
		if !ok {
			return nil, fmt.Errorf("array %s is not bound", ap.Name)
		}
		a, err := wrap(ap.Name, data)
		if err != nil {
			return nil, err
		}
		if a.Elem() != ap.Elem {
			return nil, fmt.Errorf("array %s: bound %s, kernel expects %s", ap.Name, a.Elem(), ap.Elem)
		}
		m.arrays[ap.Name] = a
	}
	for _, sp := range loop.Scalars {
		if sp.Local {
			m.vars[sp.Name] = sp.Init
			continue
		}
		v, ok := env.Scalars[sp.Name]
		if !ok {
			return nil, fmt.Errorf("scalar %s is not bound", sp.Name)
		}
		if v.T != sp.Type {
			return nil, fmt.Errorf("scalar %s: bound %s, kernel expects %s", sp.Name, v.T, sp.Type)
		}
		m.vars[sp.Name] = v
	}
	var err error
	if m.start, err = m.bound(loop.Start); err != nil {
		return nil, err
	}
	if m.end, err = m.bound(loop.End); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *machine) bound(b ir.Bound) (int, error) {
	var n int
	switch {
	case b.Param != "":
		v, ok := m.vars[b.Param]
		if !ok {
			return 0, fmt.Errorf("bound %s is not bound", b.Param)
		}
		n = int(v.Int())
	case b.LenOf != "":
		a, ok := m.arrays[b.LenOf]
		if !ok {
			return 0, fmt.Errorf("bound len(%s): no such array", b.LenOf)
		}
		n = a.Len()
	default:
		n = b.Const
	}
	if b.Div > 1 {
		n /= b.Div
	}
	return n, nil
}

func (m *machine) result() ir.Value {
	if m.loop.Result == "" {
		return ir.Value{}
	}
	return m.vars[m.loop.Result]
}

// catch turns the panics raised by bad data (out-of-range indices,
// integer division by zero) into errors.
func catch(name string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	e, ok := r.(error)
	if !ok {
		panic(r)
	}
	var inv *superword.InvariantError
	if errors.As(e, &inv) {
		panic(r)
	}
	*err = fmt.Errorf("%s: %w", name, e)
}

// Run executes p on env. Arrays in env are updated in place; scalar
// parameters are read but not modified. It returns the value of the
// kernel's result variable, or the zero Value when it has none.
func Run(p *superword.Program, env *Env) (result ir.Value, err error) {
	if p == nil || p.Loop == nil {
		return ir.Value{}, errors.New("nil program")
	}
	m, err := newMachine(p.Loop, env)
	if err != nil {
		return ir.Value{}, fmt.Errorf("run %s: %w", p.Loop.Name, err)
	}
	defer catch("run "+p.Loop.Name, &err)

	m.s = make([]ir.Value, p.NumScalar)
	m.v = make([][]ir.Value, p.NumVector)
	m.exec(p.Prologue)
	iv := m.start
	span := (p.Unroll - 1) * m.stride
	for iv+span < m.end {
		m.iv = iv
		m.exec(p.Body)
		iv += p.Unroll * m.stride
	}
	m.exec(p.Epilogue)
	for iv < m.end {
		m.iv = iv
		m.exec(p.Tail)
		iv += m.stride
	}
	return m.result(), nil
}

func (m *machine) exec(code []superword.Instr) {
	for i := range code {
		m.step(&code[i])
	}
}

func zero(t ir.Type) ir.Value {
	if t.IsFloat() {
		return ir.FloatValue(t, 0)
	}
	return ir.IntValue(t, 0)
}

// addr returns the first element index an instruction touches.
func (m *machine) addr(in *superword.Instr) int {
	if !in.Index.Affine {
		return int(m.s[in.Src[len(in.Src)-1]].Int())
	}
	return in.Index.Scale*(m.iv+in.Lane*m.stride) + in.Index.Offset
}

func (m *machine) step(in *superword.Instr) {
	if in.Guarded && m.s[in.Pred].Int() == 0 {
		if in.Op.HasDst() && !in.Op.IsVector() {
			m.s[in.Dst] = zero(in.Type)
		}
		return
	}
	switch in.Op {
	case superword.SLoad:
		m.s[in.Dst] = m.arrays[in.Array].Get(m.addr(in))
	case superword.SStore:
		m.arrays[in.Array].Set(m.addr(in), m.s[in.Src[0]])
	case superword.SConst:
		m.s[in.Dst] = in.Value
	case superword.SParam, superword.SAcc:
		m.s[in.Dst] = m.vars[in.Var]
	case superword.SSetAcc:
		m.vars[in.Var] = m.s[in.Src[0]]
	case superword.SIndVar:
		m.s[in.Dst] = indVar(in.Type, m.iv+in.Lane*m.stride)
	case superword.SBinary:
		m.s[in.Dst] = ir.Apply(in.Kind, in.Type, m.s[in.Src[0]], m.s[in.Src[1]])
	case superword.SUnary:
		m.s[in.Dst] = ir.ApplyUnary(in.Kind, in.Type, m.s[in.Src[0]])
	case superword.SConvert:
		m.s[in.Dst] = ir.ConvertValue(m.s[in.Src[0]], in.Type)
	case superword.SMulAdd:
		m.s[in.Dst] = ir.EvalMulAddS2I(m.s[in.Src[0]], m.s[in.Src[1]], m.s[in.Src[2]], m.s[in.Src[3]])
	case superword.SCompare:
		m.s[in.Dst] = compare(in.Cond, m.s[in.Src[0]], m.s[in.Src[1]])

	case superword.VLoad:
		a, start := m.arrays[in.Array], m.addr(in)
		out := make([]ir.Value, in.Lanes)
		for k := range out {
			out[k] = a.Get(start + k)
		}
		m.v[in.Dst] = out
	case superword.VStore:
		a, start := m.arrays[in.Array], m.addr(in)
		for k, x := range m.v[in.Src[0]] {
			a.Set(start+k, x)
		}
	case superword.VBroadcast:
		m.v[in.Dst] = broadcast(m.s[in.Src[0]], in.Lanes)
	case superword.VAccInit:
		m.v[in.Dst] = broadcast(in.Value, in.Lanes)
	case superword.VBinary, superword.VAccCombine:
		x, y := m.v[in.Src[0]], m.v[in.Src[1]]
		out := make([]ir.Value, in.Lanes)
		for k := range out {
			out[k] = ir.Apply(in.Kind, in.Type, x[k], y[k])
		}
		m.v[in.Dst] = out
	case superword.VUnary:
		x := m.v[in.Src[0]]
		out := make([]ir.Value, in.Lanes)
		for k := range out {
			out[k] = ir.ApplyUnary(in.Kind, in.Type, x[k])
		}
		m.v[in.Dst] = out
	case superword.VConvert:
		x := m.v[in.Src[0]]
		out := make([]ir.Value, in.Lanes)
		for k := range out {
			out[k] = ir.ConvertValue(x[k], in.Type)
		}
		m.v[in.Dst] = out
	case superword.VMulAdd:
		x, y := m.v[in.Src[0]], m.v[in.Src[1]]
		out := make([]ir.Value, in.Lanes)
		for k := range out {
			out[k] = ir.EvalMulAddS2I(x[2*k], y[2*k], x[2*k+1], y[2*k+1])
		}
		m.v[in.Dst] = out
	case superword.VSpill:
		m.v[in.Dst] = append([]ir.Value(nil), m.v[in.Src[0]]...)
	case superword.VReduce:
		m.s[in.Dst] = reduce(in, m.s[in.Src[0]], m.v[in.Src[1]])
	default:
		panic(fmt.Errorf("unknown opcode %s", in.Op))
	}
}

func broadcast(x ir.Value, lanes int) []ir.Value {
	out := make([]ir.Value, lanes)
	for k := range out {
		out[k] = x
	}
	return out
}

// reduce folds the lanes of v into acc. The ordered form follows lane
// order; the tree form halves the vector pairwise and combines the last
// lane with acc.
func reduce(in *superword.Instr, acc ir.Value, v []ir.Value) ir.Value {
	if in.Ordered {
		for _, x := range v {
			acc = ir.Apply(in.Kind, in.Type, acc, x)
		}
		return acc
	}
	t := append([]ir.Value(nil), v...)
	for n := len(t); n > 1; n /= 2 {
		half := n / 2
		for k := 0; k < half; k++ {
			t[k] = ir.Apply(in.Kind, in.Type, t[k], t[k+half])
		}
	}
	return ir.Apply(in.Kind, in.Type, acc, t[0])
}

func indVar(t ir.Type, i int) ir.Value {
	if t.IsFloat() {
		return ir.FloatValue(t, float64(i))
	}
	return ir.IntValue(t, int64(i))
}

func compare(tok token.Token, x, y ir.Value) ir.Value {
	var c int
	if x.T.IsFloat() {
		a, b := x.Float(), y.Float()
		switch {
		case a < b:
			c = -1
		case a > b:
			c = 1
		case a == b:
			c = 0
		default:
			// Unordered: only != holds.
			return boolValue(tok == token.NEQ)
		}
	} else {
		a, b := x.Int(), y.Int()
		switch {
		case a < b:
			c = -1
		case a > b:
			c = 1
		}
	}
	var r bool
	switch tok {
	case token.LSS:
		r = c < 0
	case token.LEQ:
		r = c <= 0
	case token.GTR:
		r = c > 0
	case token.GEQ:
		r = c >= 0
	case token.EQL:
		r = c == 0
	case token.NEQ:
		r = c != 0
	default:
		panic(fmt.Errorf("unsupported comparison %s", tok))
	}
	return boolValue(r)
}

func boolValue(b bool) ir.Value {
	if b {
		return ir.IntValue(ir.Int32, 1)
	}
	return ir.IntValue(ir.Int32, 0)
}
