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

package knn

import (
	"io"

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/recommender/base/encoding"
	"github.com/gorse-io/recommender/common/heap"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

const Name = "knn"

// Model is an item-user interaction matrix. Rows are items and columns are users.
// Row i stores the user indices Rows[i] and the weights Values[i].
type Model struct {
	UserIds     []int64
	ItemIds     []int64
	Rows        [][]int32
	Values      [][]float32
	UserHistory map[int64][]int64

	userIndex map[int64]int
	itemIndex map[int64]int
	columns   []column
	norms     []float32
	history   map[int64]mapset.Set[int64]
}

// column is a user column of the interaction matrix, sorted by item index.
type column struct {
	items  []int32
	values []float32
}

// Neighbor is an item returned by KNeighbors.
type Neighbor struct {
	Index    int
	Distance float32
}

// Validate checks that ids are unique and every row refers to existing users.
func (m *Model) Validate() error {
	if len(m.Rows) != len(m.ItemIds) || len(m.Values) != len(m.ItemIds) {
		return errors.NotValidf("interaction matrix with %d items, %d rows and %d value rows",
			len(m.ItemIds), len(m.Rows), len(m.Values))
	}
	if dup := lo.FindDuplicates(m.UserIds); len(dup) > 0 {
		return errors.NotValidf("duplicate user ids %v", dup)
	}
	if dup := lo.FindDuplicates(m.ItemIds); len(dup) > 0 {
		return errors.NotValidf("duplicate item ids %v", dup)
	}
	for i, row := range m.Rows {
		if len(row) != len(m.Values[i]) {
			return errors.NotValidf("row %d with %d indices and %d values", i, len(row), len(m.Values[i]))
		}
		for _, userIndex := range row {
			if userIndex < 0 || int(userIndex) >= len(m.UserIds) {
				return errors.NotValidf("user index %d in row %d", userIndex, i)
			}
		}
	}
	return nil
}

// init builds the lookup tables, the column index and the row norms.
func (m *Model) init() {
	m.userIndex = make(map[int64]int, len(m.UserIds))
	for i, id := range m.UserIds {
		m.userIndex[id] = i
	}
	m.itemIndex = make(map[int64]int, len(m.ItemIds))
	for i, id := range m.ItemIds {
		m.itemIndex[id] = i
	}
	m.columns = make([]column, len(m.UserIds))
	m.norms = make([]float32, len(m.ItemIds))
	for i, row := range m.Rows {
		var sum float32
		for j, userIndex := range row {
			v := m.Values[i][j]
			m.columns[userIndex].items = append(m.columns[userIndex].items, int32(i))
			m.columns[userIndex].values = append(m.columns[userIndex].values, v)
			sum += v * v
		}
		m.norms[i] = math32.Sqrt(sum)
	}
	m.history = make(map[int64]mapset.Set[int64], len(m.UserHistory))
	for userId, items := range m.UserHistory {
		m.history[userId] = mapset.NewThreadUnsafeSet(items...)
	}
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
	if err := m.Validate(); err != nil {
		return errors.Trace(err)
	}
	m.init()
	return nil
}

// Prepare builds the derived index of a model constructed in memory.
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

// UserItems returns the indices of items the user interacted with in ascending order.
func (m *Model) UserItems(userIndex int) []int {
	return lo.Map(m.columns[userIndex].items, func(i int32, _ int) int { return int(i) })
}

// History returns the purchase history of a user. Unknown users have an empty history.
func (m *Model) History(userId int64) mapset.Set[int64] {
	if history, ok := m.history[userId]; ok {
		return history
	}
	return mapset.NewThreadUnsafeSet[int64]()
}

// KNeighbors returns the n nearest items of an item by cosine distance. Neighbors are
// sorted by distance ascending and ties are broken by item index. The item itself is
// included at distance 0 and items without overlap are at distance 1.
func (m *Model) KNeighbors(itemIndex, n int) []Neighbor {
	dots := make([]float32, len(m.ItemIds))
	for j, userIndex := range m.Rows[itemIndex] {
		v := m.Values[itemIndex][j]
		col := m.columns[userIndex]
		for k, other := range col.items {
			dots[other] += v * col.values[k]
		}
	}
	// weights are negative distances so that the top-k filter keeps the nearest
	filter := heap.NewTopKFilter[int, float32](n)
	for i := range m.ItemIds {
		var distance float32 = 1
		if m.norms[itemIndex] > 0 && m.norms[i] > 0 {
			if i == itemIndex {
				distance = 0
			} else {
				distance = max(0, 1-dots[i]/(m.norms[itemIndex]*m.norms[i]))
			}
		}
		filter.Push(i, -distance)
	}
	elems := filter.PopAll()
	neighbors := make([]Neighbor, len(elems))
	for i, elem := range elems {
		neighbors[i] = Neighbor{Index: elem.Value, Distance: -elem.Weight}
	}
	return neighbors
}
