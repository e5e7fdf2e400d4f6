// Copyright 2026 gorse Project Authors
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

package ncf

import (
	"io"

	"github.com/gorse-io/recommender/base/encoding"
	"github.com/gorse-io/recommender/common/floats"
	"github.com/gorse-io/recommender/common/nn"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

const Name = "ncf"

const (
	StandardScaler = "standard"
	MinMaxScaler   = "minmax"
)

// Scaler transforms dense features before the dense layer.
//
//	standard: (x - Center) / Scale
//	minmax:   x * Scale + Center
type Scaler struct {
	Kind   string
	Center []float32
	Scale  []float32
}

func (s *Scaler) Transform(x []float32) []float32 {
	y := make([]float32, len(x))
	for i := range x {
		switch s.Kind {
		case MinMaxScaler:
			y[i] = x[i]*s.Scale[i] + s.Center[i]
		default:
			scale := s.Scale[i]
			if scale == 0 {
				scale = 1
			}
			y[i] = (x[i] - s.Center[i]) / scale
		}
	}
	return y
}

// Linear holds the weights of a fully connected layer laid out as (out, in).
type Linear struct {
	Weight [][]float32
	Bias   []float32
}

// BatchNorm holds the inference statistics of a batch normalization layer.
type BatchNorm struct {
	Weight      []float32
	Bias        []float32
	RunningMean []float32
	RunningVar  []float32
	Eps         float32
}

// Model is a neural collaborative filtering regressor:
//
//	u = E_user[u], i = E_item[i], c = E_category[category(i)]
//	d = ReLU(Dense(scale(x)))
//	h = ReLU(BN(FC1([u, i, c, d])))
//	h = ReLU(FC2(h))
//	y = Output(h)
type Model struct {
	UserIds []int64
	ItemIds []int64
	// Categories maps every item index to a category index.
	Categories        []int32
	UserEmbedding     [][]float32
	ItemEmbedding     [][]float32
	CategoryEmbedding [][]float32
	Scaler            Scaler
	Dense             Linear
	FC1               Linear
	BN                BatchNorm
	FC2               Linear
	Output            Linear

	userIndex map[int64]int
	itemIndex map[int64]int
	users     *nn.EmbeddingLayer
	items     *nn.EmbeddingLayer
	category  *nn.EmbeddingLayer
	dense     *nn.Sequential
	head      *nn.Sequential
	itemNorms []float32
}

// Validate checks the vocabularies and the embedding tables.
func (m *Model) Validate() error {
	if dup := lo.FindDuplicates(m.UserIds); len(dup) > 0 {
		return errors.NotValidf("duplicate user ids %v", dup)
	}
	if dup := lo.FindDuplicates(m.ItemIds); len(dup) > 0 {
		return errors.NotValidf("duplicate item ids %v", dup)
	}
	if len(m.UserEmbedding) != len(m.UserIds) {
		return errors.NotValidf("%d user embeddings for %d users", len(m.UserEmbedding), len(m.UserIds))
	}
	if len(m.ItemEmbedding) != len(m.ItemIds) {
		return errors.NotValidf("%d item embeddings for %d items", len(m.ItemEmbedding), len(m.ItemIds))
	}
	if len(m.Categories) != len(m.ItemIds) {
		return errors.NotValidf("category lookup of length %d for %d items", len(m.Categories), len(m.ItemIds))
	}
	for i, c := range m.Categories {
		if c < 0 || int(c) >= len(m.CategoryEmbedding) {
			return errors.NotValidf("category index %d of item %d", c, i)
		}
	}
	if m.Scaler.Kind != StandardScaler && m.Scaler.Kind != MinMaxScaler {
		return errors.NotValidf("scaler %q", m.Scaler.Kind)
	}
	if len(m.Scaler.Center) != len(m.Scaler.Scale) {
		return errors.NotValidf("scaler of sizes %d/%d", len(m.Scaler.Center), len(m.Scaler.Scale))
	}
	return nil
}

// build creates the layers and checks that their shapes line up.
func (m *Model) build() error {
	var err error
	if m.users, err = nn.NewEmbedding(m.UserEmbedding); err != nil {
		return errors.Annotate(err, "user embedding")
	}
	if m.items, err = nn.NewEmbedding(m.ItemEmbedding); err != nil {
		return errors.Annotate(err, "item embedding")
	}
	if m.category, err = nn.NewEmbedding(m.CategoryEmbedding); err != nil {
		return errors.Annotate(err, "category embedding")
	}
	dense, err := nn.NewLinear(m.Dense.Weight, m.Dense.Bias)
	if err != nil {
		return errors.Annotate(err, "dense")
	}
	fc1, err := nn.NewLinear(m.FC1.Weight, m.FC1.Bias)
	if err != nil {
		return errors.Annotate(err, "fc1")
	}
	bn, err := nn.NewBatchNorm(m.BN.Weight, m.BN.Bias, m.BN.RunningMean, m.BN.RunningVar, m.BN.Eps)
	if err != nil {
		return errors.Annotate(err, "bn")
	}
	fc2, err := nn.NewLinear(m.FC2.Weight, m.FC2.Bias)
	if err != nil {
		return errors.Annotate(err, "fc2")
	}
	output, err := nn.NewLinear(m.Output.Weight, m.Output.Bias)
	if err != nil {
		return errors.Annotate(err, "output")
	}
	if dense.In() != len(m.Scaler.Scale) {
		return errors.NotValidf("dense layer with %d inputs for %d features", dense.In(), len(m.Scaler.Scale))
	}
	if concat := m.users.Dim() + m.items.Dim() + m.category.Dim() + dense.Out(); fc1.In() != concat {
		return errors.NotValidf("fc1 with %d inputs (expect %d)", fc1.In(), concat)
	}
	if len(m.BN.Weight) != fc1.Out() {
		return errors.NotValidf("bn of size %d (expect %d)", len(m.BN.Weight), fc1.Out())
	}
	if fc2.In() != fc1.Out() {
		return errors.NotValidf("fc2 with %d inputs (expect %d)", fc2.In(), fc1.Out())
	}
	if output.In() != fc2.Out() || output.Out() != 1 {
		return errors.NotValidf("output layer of shape (%d, %d)", output.Out(), output.In())
	}
	m.dense = nn.NewSequential(dense, nn.NewReLU())
	m.head = nn.NewSequential(fc1, bn, nn.NewReLU(), fc2, nn.NewReLU(), output)
	return nil
}

// Marshal writes the model into a byte stream.
func (m *Model) Marshal(w io.Writer) error {
	if err := m.Validate(); err != nil {
		return errors.Trace(err)
	}
	return encoding.WriteModel(w, Name, m)
}

// Unmarshal reads the model from a byte stream.
func (m *Model) Unmarshal(r io.Reader) error {
	*m = Model{}
	if err := encoding.ReadModel(r, Name, m); err != nil {
		return errors.Trace(err)
	}
	return m.Prepare()
}

// Prepare validates the model and builds its layers.
func (m *Model) Prepare() error {
	if err := m.Validate(); err != nil {
		return errors.Trace(err)
	}
	if err := m.build(); err != nil {
		return errors.Trace(err)
	}
	m.userIndex = make(map[int64]int, len(m.UserIds))
	for i, id := range m.UserIds {
		m.userIndex[id] = i
	}
	m.itemIndex = make(map[int64]int, len(m.ItemIds))
	for i, id := range m.ItemIds {
		m.itemIndex[id] = i
	}
	m.itemNorms = floats.RowNorms(m.ItemEmbedding)
	return nil
}

func (m *Model) CountItems() int {
	return len(m.ItemIds)
}

// CountDenseFeatures returns the number of dense features expected by Predict.
func (m *Model) CountDenseFeatures() int {
	return len(m.Scaler.Scale)
}

func (m *Model) UserIndex(userId int64) (int, bool) {
	index, ok := m.userIndex[userId]
	return index, ok
}

func (m *Model) ItemIndex(itemId int64) (int, bool) {
	index, ok := m.itemIndex[itemId]
	return index, ok
}

func (m *Model) ItemId(index int) int64 {
	return m.ItemIds[index]
}

// Predict scores a batch of items for a user. The same dense features are used
// for every item in the batch.
func (m *Model) Predict(userIndex int, itemIndices []int, dense []float32) []float32 {
	if len(dense) != m.CountDenseFeatures() {
		panic("ncf: dense feature size mismatch")
	}
	n := len(itemIndices)
	users := make([]int, n)
	categories := make([]int, n)
	scaled := m.Scaler.Transform(dense)
	features := make([]float32, 0, n*len(scaled))
	for i, itemIndex := range itemIndices {
		users[i] = userIndex
		categories[i] = int(m.Categories[itemIndex])
		features = append(features, scaled...)
	}
	x := nn.Concat(
		m.users.Lookup(users),
		m.items.Lookup(itemIndices),
		m.category.Lookup(categories),
		m.dense.Forward(nn.NewTensor(features, n, len(scaled))),
	)
	return m.head.Forward(x).Data()
}

// SimilarItems returns the cosine similarity between the embedding of an item and
// the embedding of every item.
func (m *Model) SimilarItems(itemIndex int) []float32 {
	return floats.CosineAll(m.ItemEmbedding[itemIndex], m.ItemEmbedding, m.itemNorms)
}
