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
	"github.com/chewxy/math32"
	"github.com/gorse-io/recommender/common/floats"
	"github.com/juju/errors"
)

// Layer is an inference-only layer.
type Layer interface {
	Forward(x *Tensor) *Tensor
}

// LinearLayer computes y = x W^T + b. W has shape (out, in).
type LinearLayer struct {
	W *Tensor
	B *Tensor
}

// NewLinear creates a linear layer from weights laid out as (out, in).
func NewLinear(weight [][]float32, bias []float32) (*LinearLayer, error) {
	w, err := NewMatrix(weight)
	if err != nil {
		return nil, errors.Annotate(err, "linear weight")
	}
	if len(bias) != len(weight) {
		return nil, errors.NotValidf("linear bias of size %d (expect %d)", len(bias), len(weight))
	}
	return &LinearLayer{
		W: w,
		B: NewTensor(bias, len(bias)),
	}, nil
}

func (l *LinearLayer) In() int {
	return l.W.shape[1]
}

func (l *LinearLayer) Out() int {
	return l.W.shape[0]
}

func (l *LinearLayer) Forward(x *Tensor) *Tensor {
	if x.shape[1] != l.In() {
		panic("nn: linear input size mismatch")
	}
	y := Zeros(x.shape[0], l.Out())
	for i := 0; i < x.shape[0]; i++ {
		xi, yi := x.Row(i), y.Row(i)
		for j := range yi {
			yi[j] = floats.Dot(l.W.Row(j), xi) + l.B.data[j]
		}
	}
	return y
}

// EmbeddingLayer maps indices to rows of a weight matrix of shape (n, dim).
type EmbeddingLayer struct {
	W *Tensor
}

func NewEmbedding(weight [][]float32) (*EmbeddingLayer, error) {
	w, err := NewMatrix(weight)
	if err != nil {
		return nil, errors.Annotate(err, "embedding weight")
	}
	return &EmbeddingLayer{W: w}, nil
}

// Count is the number of embeddings.
func (e *EmbeddingLayer) Count() int {
	return e.W.shape[0]
}

// Dim is the embedding size.
func (e *EmbeddingLayer) Dim() int {
	return e.W.shape[1]
}

// Lookup gathers the embeddings of the given indices into a (len(indices), dim) tensor.
func (e *EmbeddingLayer) Lookup(indices []int) *Tensor {
	y := Zeros(len(indices), e.Dim())
	for i, index := range indices {
		copy(y.Row(i), e.W.Row(index))
	}
	return y
}

// BatchNormLayer normalizes features with running statistics (evaluation mode).
type BatchNormLayer struct {
	Weight      []float32
	Bias        []float32
	RunningMean []float32
	RunningVar  []float32
	Eps         float32
}

func NewBatchNorm(weight, bias, runningMean, runningVar []float32, eps float32) (*BatchNormLayer, error) {
	n := len(weight)
	if len(bias) != n || len(runningMean) != n || len(runningVar) != n {
		return nil, errors.NotValidf("batch norm parameters of sizes %d/%d/%d/%d",
			len(weight), len(bias), len(runningMean), len(runningVar))
	}
	return &BatchNormLayer{
		Weight:      weight,
		Bias:        bias,
		RunningMean: runningMean,
		RunningVar:  runningVar,
		Eps:         eps,
	}, nil
}

func (b *BatchNormLayer) Forward(x *Tensor) *Tensor {
	if x.shape[1] != len(b.Weight) {
		panic("nn: batch norm input size mismatch")
	}
	y := Zeros(x.shape...)
	for i := 0; i < x.shape[0]; i++ {
		xi, yi := x.Row(i), y.Row(i)
		for j := range yi {
			yi[j] = (xi[j]-b.RunningMean[j])/math32.Sqrt(b.RunningVar[j]+b.Eps)*b.Weight[j] + b.Bias[j]
		}
	}
	return y
}

type reluLayer struct{}

func NewReLU() Layer {
	return &reluLayer{}
}

func (r *reluLayer) Forward(x *Tensor) *Tensor {
	return ReLU(x)
}

type Sequential struct {
	Layers []Layer
}

func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

func (s *Sequential) Forward(x *Tensor) *Tensor {
	for _, layer := range s.Layers {
		x = layer.Forward(x)
	}
	return x
}
