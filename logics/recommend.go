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

package logics

import (
	"context"

	"github.com/bits-and-blooms/bitset"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/recommender/storage/data"
)

const (
	KNN   = "knn"
	SVDpp = "svdpp"
	NCF   = "ncf"
	CBF   = "cbf"
)

// Strategies lists the recommenders in registry order.
var Strategies = []string{KNN, SVDpp, NCF, CBF}

const (
	NoteColdStart         = "Cold Start"
	NoteNoInteractions    = "No interactions found"
	NoteNoRecommendations = "No recommendations found"
	TypePopularFallback   = "popular_fallback"
)

// Candidate is a scored item. Raw is the native score of the strategy and Score
// is the normalized score.
type Candidate struct {
	ItemId     int64
	Raw        float64
	Score      float64
	Percentage int
}

// Result is an ordered list of candidates. Note explains an empty result. Type is
// set when the recommender fell back to raw catalog records in Fallback.
type Result struct {
	Candidates []Candidate
	Note       string
	Type       string
	Fallback   []data.Item
}

// Recommender ranks catalog items for a user.
type Recommender interface {
	Name() string
	// Recommend ranks the whole catalog for a user.
	Recommend(ctx context.Context, userId int64, k int) (*Result, error)
	// RecommendWithContext ranks items related to a seed item for a user.
	RecommendWithContext(ctx context.Context, userId, itemId int64, k int) (*Result, error)
}

// Catalog is the part of the item catalog used by recommenders.
type Catalog interface {
	AllItemIds(ctx context.Context) ([]int64, error)
	RandomItems(ctx context.Context, n int) ([]data.Item, error)
}

// itemIndexer maps item ids to model indices.
type itemIndexer interface {
	ItemIndex(itemId int64) (int, bool)
	CountItems() int
}

// excludeMask marks the indices of the given items.
func excludeMask(model itemIndexer, items mapset.Set[int64]) *bitset.BitSet {
	mask := bitset.New(uint(model.CountItems()))
	items.Each(func(itemId int64) bool {
		if index, ok := model.ItemIndex(itemId); ok {
			mask.Set(uint(index))
		}
		return false
	})
	return mask
}
