// Copyright 2024 gorse Project Authors
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

package nn

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
)

// Tensor is a dense row-major array of 32-bit floats. Only rank 1 and rank 2
// tensors are used by the layers of this package.
type Tensor struct {
	data  []float32
	shape []int
}

func NewTensor(data []float32, shape ...int) *Tensor {
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// NewMatrix creates a rank 2 tensor from rows. All rows must have the same length.
func NewMatrix(rows [][]float32) (*Tensor, error) {
	if len(rows) == 0 {
		return &Tensor{shape: []int{0, 0}}, nil
	}
	cols := len(rows[0])
	data := make([]float32, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, errors.NotValidf("row %d has %d columns (expect %d)", i, len(row), cols)
		}
		data = append(data, row...)
	}
	return &Tensor{
		data:  data,
		shape: []int{len(rows), cols},
	}, nil
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape ...int) *Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return &Tensor{
		data:  make([]float32, n),
		shape: shape,
	}
}

func (t *Tensor) Data() []float32 {
	return t.data
}

// Row returns a view of the i-th row of a rank 2 tensor.
func (t *Tensor) Row(i int) []float32 {
	cols := t.shape[1]
	return t.data[i*cols : (i+1)*cols]
}

// Rows returns views of all rows of a rank 2 tensor.
func (t *Tensor) Rows() [][]float32 {
	rows := make([][]float32, t.shape[0])
	for i := range rows {
		rows[i] = t.Row(i)
	}
	return rows
}

func (t *Tensor) String() string {
	// Print scalar value
	if len(t.shape) == 0 {
		return fmt.Sprint(t.data[0])
	}

	builder := strings.Builder{}
	builder.WriteString("[")
	if len(t.data) <= 10 {
		for i := 0; i < len(t.data); i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			if i != len(t.data)-1 {
				builder.WriteString(", ")
			}
		}
	} else {
		for i := 0; i < 5; i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			builder.WriteString(", ")
		}
		builder.WriteString("..., ")
		for i := len(t.data) - 5; i < len(t.data); i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			if i != len(t.data)-1 {
				builder.WriteString(", ")
			}
		}
	}
	builder.WriteString("]")
	return builder.String()
}

// Concat joins rank 2 tensors with the same number of rows along the column axis.
func Concat(xs ...*Tensor) *Tensor {
	if len(xs) == 0 {
		return Zeros(0, 0)
	}
	rows, cols := xs[0].shape[0], 0
	for _, x := range xs {
		if len(x.shape) != 2 || x.shape[0] != rows {
			panic("nn: tensors to concatenate must be rank 2 with equal rows")
		}
		cols += x.shape[1]
	}
	y := Zeros(rows, cols)
	for i := 0; i < rows; i++ {
		dst := y.Row(i)
		offset := 0
		for _, x := range xs {
			offset += copy(dst[offset:], x.Row(i))
		}
	}
	return y
}

// ReLU returns max(0, x) element-wise.
func ReLU(x *Tensor) *Tensor {
	y := &Tensor{
		data:  make([]float32, len(x.data)),
		shape: x.shape,
	}
	for i, v := range x.data {
		if v > 0 {
			y.data[i] = v
		}
	}
	return y
}
