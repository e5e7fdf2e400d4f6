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

package svdpp

import (
	"io"

	"github.com/chewxy/math32"
	"github.com/gorse-io/recommender/base/encoding"
	"github.com/gorse-io/recommender/common/floats"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

const Name = "svdpp"

const (
	DefaultMinRating float32 = 1
	DefaultMaxRating float32 = 5
)

// Model is the SVD++ rating predictor. The prediction \hat{r}_{ui} is set as:
//
//	\hat{r}_{ui} = μ + b_u + b_i + q_i^T(p_u + |I_u|^{-1/2} \sum_{j \in I_u} y_j)
//
// If user u is unknown, then the bias b_u and the factors p_u are assumed to be
// zero. The same applies for item i with b_i and q_i. The prediction is clipped
// to [MinRating, MaxRating].
type Model struct {
	GlobalMean float32   // μ
	UserIds    []int64   // user vocabulary
	ItemIds    []int64   // item vocabulary
	UserBias   []float32 // b_u
	ItemBias   []float32 // b_i
	UserFactor [][]float32
	ItemFactor [][]float32
	// ImplicitFactor holds y_j for every item.
	ImplicitFactor [][]float32
	// Implicit lists I_u as item indices for every user.
	Implicit  [][]int32
	MinRating float32
	MaxRating float32

	userIndex  map[int64]int
	itemIndex  map[int64]int
	userVector [][]float32
	itemNorms  []float32
}

// Validate checks that the vocabularies are unique and the factors are aligned.
func (m *Model) Validate() error {
	if dup := lo.FindDuplicates(m.UserIds); len(dup) > 0 {
		return errors.NotValidf("duplicate user ids %v", dup)
	}
	if dup := lo.FindDuplicates(m.ItemIds); len(dup) > 0 {
		return errors.NotValidf("duplicate item ids %v", dup)
	}
	nUsers, nItems := len(m.UserIds), len(m.ItemIds)
	if len(m.UserBias) != nUsers || len(m.UserFactor) != nUsers || len(m.Implicit) != nUsers {
		return errors.NotValidf("user parameters for %d users", nUsers)
	}
	if len(m.ItemBias) != nItems || len(m.ItemFactor) != nItems || len(m.ImplicitFactor) != nItems {
		return errors.NotValidf("item parameters for %d items", nItems)
	}
	dim := m.dim()
	for _, factors := range [][][]float32{m.UserFactor, m.ItemFactor, m.ImplicitFactor} {
		for _, factor := range factors {
			if len(factor) != dim {
				return errors.NotValidf("factor with %d dimensions (expect %d)", len(factor), dim)
			}
		}
	}
	for u, items := range m.Implicit {
		for _, itemIndex := range items {
			if itemIndex < 0 || int(itemIndex) >= nItems {
				return errors.NotValidf("implicit item index %d of user %d", itemIndex, u)
			}
		}
	}
	if m.MinRating > m.MaxRating {
		return errors.NotValidf("rating scale [%v, %v]", m.MinRating, m.MaxRating)
	}
	return nil
}

func (m *Model) dim() int {
	if len(m.ItemFactor) > 0 {
		return len(m.ItemFactor[0])
	}
	if len(m.UserFactor) > 0 {
		return len(m.UserFactor[0])
	}
	return 0
}

func (m *Model) init() {
	if m.MinRating == 0 && m.MaxRating == 0 {
		m.MinRating, m.MaxRating = DefaultMinRating, DefaultMaxRating
	}
	m.userIndex = make(map[int64]int, len(m.UserIds))
	for i, id := range m.UserIds {
		m.userIndex[id] = i
	}
	m.itemIndex = make(map[int64]int, len(m.ItemIds))
	for i, id := range m.ItemIds {
		m.itemIndex[id] = i
	}
	// p_u + |I_u|^{-1/2} \sum_{j \in I_u} y_j
	m.userVector = make([][]float32, len(m.UserIds))
	for u := range m.UserIds {
		m.userVector[u] = make([]float32, m.dim())
		copy(m.userVector[u], m.UserFactor[u])
		if len(m.Implicit[u]) > 0 {
			scale := 1 / math32.Sqrt(float32(len(m.Implicit[u])))
			for _, j := range m.Implicit[u] {
				floats.MulConstAdd(m.ImplicitFactor[j], scale, m.userVector[u])
			}
		}
	}
	m.itemNorms = floats.RowNorms(m.ItemFactor)
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

// Prepare validates the model and builds the derived user vectors.
func (m *Model) Prepare() error {
	if err := m.Validate(); err != nil {
		return errors.Trace(err)
	}
	m.init()
	return nil
}

func (m *Model) CountItems() int {
	return len(m.ItemIds)
}

func (m *Model) ItemIndex(itemId int64) (int, bool) {
	index, ok := m.itemIndex[itemId]
	return index, ok
}

func (m *Model) ItemId(index int) int64 {
	return m.ItemIds[index]
}

// Predict the rating of a user for an item. Unknown ids fall back to the known terms.
func (m *Model) Predict(userId, itemId int64) float32 {
	ret := m.GlobalMean
	userIndex, userKnown := m.userIndex[userId]
	itemIndex, itemKnown := m.itemIndex[itemId]
	if userKnown {
		ret += m.UserBias[userIndex]
	}
	if itemKnown {
		ret += m.ItemBias[itemIndex]
	}
	if userKnown && itemKnown {
		ret += floats.Dot(m.ItemFactor[itemIndex], m.userVector[userIndex])
	}
	return min(max(ret, m.MinRating), m.MaxRating)
}

// SimilarItems returns the cosine similarity between the factors of an item and
// the factors of every item.
func (m *Model) SimilarItems(itemIndex int) []float32 {
	return floats.CosineAll(m.ItemFactor[itemIndex], m.ItemFactor, m.itemNorms)
}
