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

package cbf

import (
	"io"

	"github.com/gorse-io/recommender/base/encoding"
	"github.com/gorse-io/recommender/common/floats"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

const Name = "cbf"

// Model holds content profiles of users and items in the same feature space.
type Model struct {
	UserIds     []int64
	ItemIds     []int64
	UserProfile [][]float32
	ItemProfile [][]float32

	userIndex map[int64]int
	itemIndex map[int64]int
	itemNorms []float32
}

func (m *Model) Validate() error {
	if dup := lo.FindDuplicates(m.UserIds); len(dup) > 0 {
		return errors.NotValidf("duplicate user ids %v", dup)
	}
	if dup := lo.FindDuplicates(m.ItemIds); len(dup) > 0 {
		return errors.NotValidf("duplicate item ids %v", dup)
	}
	if len(m.UserProfile) != len(m.UserIds) {
		return errors.NotValidf("%d user profiles for %d users", len(m.UserProfile), len(m.UserIds))
	}
	if len(m.ItemProfile) != len(m.ItemIds) {
		return errors.NotValidf("%d item profiles for %d items", len(m.ItemProfile), len(m.ItemIds))
	}
	dim := -1
	for _, profiles := range [][][]float32{m.ItemProfile, m.UserProfile} {
		for _, profile := range profiles {
			if dim < 0 {
				dim = len(profile)
			} else if len(profile) != dim {
				return errors.NotValidf("profile with %d features (expect %d)", len(profile), dim)
			}
		}
	}
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

// Prepare validates the model and builds the id lookups.
func (m *Model) Prepare() error {
	if err := m.Validate(); err != nil {
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
	m.itemNorms = floats.RowNorms(m.ItemProfile)
	return nil
}

func (m *Model) CountItems() int {
	return len(m.ItemIds)
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

// UserAffinity returns the cosine similarity between a user profile and every item profile.
func (m *Model) UserAffinity(userIndex int) []float32 {
	return floats.CosineAll(m.UserProfile[userIndex], m.ItemProfile, m.itemNorms)
}

// SimilarItems returns the cosine similarity between an item profile and every item profile.
func (m *Model) SimilarItems(itemIndex int) []float32 {
	return floats.CosineAll(m.ItemProfile[itemIndex], m.ItemProfile, m.itemNorms)
}
