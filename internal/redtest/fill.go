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

package redtest

import (
	"sync"

	"github.com/zeebo/pcg"
)

// Range is the element count of every acceptance array.
const Range = 512

var rngMu sync.Mutex

// next draws 64 random bits. Sweeps fill environments from many
// goroutines, so the generator is serialized.
func next() uint64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return pcg.Uint64()
}

// intn returns a uniform value in [0, n).
func intn(n int) int {
	hi := (next() >> 32) * uint64(n)
	return int(hi >> 32)
}

func randInt16() int16     { return int16(next()) }
func randInt32() int32     { return int32(next()) }
func randInt64() int64     { return int64(next()) }
func randFloat32() float32 { return float32(next()>>40) / (1 << 24) }
func randFloat64() float64 { return float64(next()>>11) / (1 << 53) }

func random[T any](n int, draw func() T) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = draw()
	}
	return out
}

var smallPrimes = [...]int64{3, 5, 7, 11, 13, 17, 23, 29}

func smallPrime() int64 { return smallPrimes[intn(len(smallPrimes))] }

// smallPrimeDiff fills a and b so that a[i]-b[i] is minus a small prime:
// the product of the differences never wraps to zero.
func smallPrimeDiff[T int32 | int64](n int) (a, b []T) {
	a, b = make([]T, n), make([]T, n)
	for i := range a {
		r := T(next())
		a[i] = r
		b[i] = r + T(smallPrime())
	}
	return a, b
}

// specialBytes fills a and b so that a[i]-b[i] is base with a few bits
// flipped. At most bits-1 flips land, so and/or reductions over the
// differences neither clear nor set every bit.
func specialBytes[T int32 | int64](n int, base T, bits int) (a, b []T) {
	a, b = make([]T, n), make([]T, n)
	for i := range a {
		a[i] = base
	}
	for range bits - 1 {
		bit := T(1) << intn(bits)
		a[intn(n)] ^= bit
	}
	for i := range a {
		r := T(next())
		a[i] += r
		b[i] = r
	}
	return a, b
}

// ramp returns f(i) for i in [0, n).
func ramp[T any](n int, f func(i int) T) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}
