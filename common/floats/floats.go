// Copyright 2020 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package floats

import (
	"github.com/chewxy/math32"
)

// Zero fills zeros in a slice of 32-bit floats.
func Zero(a []float32) {
	for i := range a {
		a[i] = 0
	}
}

// Add two vectors: dst = dst + s
func Add(dst, s []float32) {
	if len(dst) != len(s) {
		panic("floats: slice lengths do not match")
	}
	for i := range dst {
		dst[i] += s[i]
	}
}

// MulConst multiplies a vector with a const: dst = dst * c
func MulConst(dst []float32, c float32) {
	for i := range dst {
		dst[i] *= c
	}
}

// MulConstAdd multiplies a vector and a const, then adds to dst: dst = dst + a * c
func MulConstAdd(a []float32, c float32, dst []float32) {
	if len(a) != len(dst) {
		panic("floats: slice lengths do not match")
	}
	for i := range a {
		dst[i] += a[i] * c
	}
}

// AddTo adds two vectors and saves the result in dst: dst = a + b
func AddTo(a, b, dst []float32) {
	if len(a) != len(b) || len(a) != len(dst) {
		panic("floats: slice lengths do not match")
	}
	for i := range a {
		dst[i] = a[i] + b[i]
	}
}

// Dot two vectors.
func Dot(a, b []float32) (ret float32) {
	if len(a) != len(b) {
		panic("floats: slice lengths do not match")
	}
	for i := range a {
		ret += a[i] * b[i]
	}
	return
}

// Norm returns the euclidean norm of a vector.
func Norm(a []float32) float32 {
	var ret float32
	for i := range a {
		ret += a[i] * a[i]
	}
	return math32.Sqrt(ret)
}

// Cosine similarity of two vectors. A zero vector has similarity 0 with anything.
func Cosine(a, b []float32) float32 {
	normA, normB := Norm(a), Norm(b)
	if normA == 0 || normB == 0 {
		return 0
	}
	return Dot(a, b) / (normA * normB)
}

// CosineAll computes the cosine similarity between a query vector and every row
// of a matrix. Row norms can be passed in to avoid recomputing them; pass nil to
// compute them on the fly.
func CosineAll(query []float32, rows [][]float32, norms []float32) []float32 {
	if norms != nil && len(norms) != len(rows) {
		panic("floats: slice lengths do not match")
	}
	queryNorm := Norm(query)
	sims := make([]float32, len(rows))
	if queryNorm == 0 {
		return sims
	}
	for i, row := range rows {
		var rowNorm float32
		if norms != nil {
			rowNorm = norms[i]
		} else {
			rowNorm = Norm(row)
		}
		if rowNorm == 0 {
			continue
		}
		sims[i] = Dot(query, row) / (queryNorm * rowNorm)
	}
	return sims
}

// RowNorms returns the euclidean norm of every row of a matrix.
func RowNorms(rows [][]float32) []float32 {
	norms := make([]float32, len(rows))
	for i, row := range rows {
		norms[i] = Norm(row)
	}
	return norms
}
