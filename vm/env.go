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

// Package vm executes generated programs and, independently, the loops
// they were generated from, so the two can be compared.
package vm

import (
	"fmt"
	"slices"

	"github.com/ajroetker/go-superword/ir"
)

// Env binds kernel parameters to data. Arrays hold Go slices of the
// kernel's element types ([]int16, []int32, []int64, []float32,
// []float64); stores write through to them. Scalars hold the values of
// scalar parameters; int parameters are ir.Int64 values.
type Env struct {
	Arrays  map[string]any
	Scalars map[string]ir.Value
}

// NewEnv returns an empty environment.
func NewEnv() *Env {
	return &Env{Arrays: make(map[string]any), Scalars: make(map[string]ir.Value)}
}

// Array binds a slice to name and returns e.
func (e *Env) Array(name string, data any) *Env {
	e.Arrays[name] = data
	return e
}

// Scalar binds a scalar value to name and returns e.
func (e *Env) Scalar(name string, v ir.Value) *Env {
	e.Scalars[name] = v
	return e
}

// Clone returns a deep copy of e, so a program and its reference can run
// on identical inputs.
func (e *Env) Clone() *Env {
	c := NewEnv()
	for name, data := range e.Arrays {
		switch a := data.(type) {
		case []int16:
			c.Arrays[name] = slices.Clone(a)
		case []int32:
			c.Arrays[name] = slices.Clone(a)
		case []int64:
			c.Arrays[name] = slices.Clone(a)
		case []float32:
			c.Arrays[name] = slices.Clone(a)
		case []float64:
			c.Arrays[name] = slices.Clone(a)
		default:
			c.Arrays[name] = data
		}
	}
	for name, v := range e.Scalars {
		c.Scalars[name] = v
	}
	return c
}

type number interface {
	~int16 | ~int32 | ~int64 | ~float32 | ~float64
}

// array is a typed view of a bound slice.
type array interface {
	Len() int
	Elem() ir.Type
	Get(i int) ir.Value
	Set(i int, v ir.Value)
}

type typedArray[T number] struct {
	name string
	data []T
	elem ir.Type
}

func (a *typedArray[T]) Len() int      { return len(a.data) }
func (a *typedArray[T]) Elem() ir.Type { return a.elem }

func (a *typedArray[T]) check(i int) {
	if i < 0 || i >= len(a.data) {
		panic(&AccessError{Array: a.name, Index: i, Len: len(a.data)})
	}
}

func (a *typedArray[T]) Get(i int) ir.Value {
	a.check(i)
	if a.elem.IsFloat() {
		return ir.FloatValue(a.elem, float64(a.data[i]))
	}
	return ir.IntValue(a.elem, int64(a.data[i]))
}

func (a *typedArray[T]) Set(i int, v ir.Value) {
	a.check(i)
	if a.elem.IsFloat() {
		a.data[i] = T(v.Float())
		return
	}
	a.data[i] = T(v.Int())
}

// AccessError reports an out-of-bounds array access.
type AccessError struct {
	Array string
	Index int
	Len   int
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("index %d out of range for %s (len %d)", e.Index, e.Array, e.Len)
}

func wrap(name string, data any) (array, error) {
	switch a := data.(type) {
	case []int16:
		return &typedArray[int16]{name: name, data: a, elem: ir.Int16}, nil
	case []int32:
		return &typedArray[int32]{name: name, data: a, elem: ir.Int32}, nil
	case []int64:
		return &typedArray[int64]{name: name, data: a, elem: ir.Int64}, nil
	case []float32:
		return &typedArray[float32]{name: name, data: a, elem: ir.Float32}, nil
	case []float64:
		return &typedArray[float64]{name: name, data: a, elem: ir.Float64}, nil
	}
	return nil, fmt.Errorf("array %s: unsupported type %T", name, data)
}
