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

	"github.com/gorse-io/recommender/common/heap"
	"github.com/gorse-io/recommender/config"
	"github.com/gorse-io/recommender/model/knn"
	"github.com/juju/errors"
)

// contextSlack is the number of extra neighbors retrieved in context mode to make
// room for the seed and purchased items.
const contextSlack = 5

// ItemKNN recommends neighbors of purchased items in the interaction matrix.
type ItemKNN struct {
	model        *knn.Model
	numNeighbors int
	normalizer   Normalizer
}

func NewItemKNN(model *knn.Model, cfg config.KNNConfig) *ItemKNN {
	return &ItemKNN{
		model:        model,
		numNeighbors: cfg.NumNeighbors,
		normalizer:   NewNormalizer(cfg.PercentageMode, 1),
	}
}

func (r *ItemKNN) Name() string {
	return KNN
}

// Recommend sums the similarities of the neighbors of every item the user
// interacted with. Purchased items are skipped.
func (r *ItemKNN) Recommend(_ context.Context, userId int64, k int) (*Result, error) {
	userIndex, ok := r.model.UserIndex(userId)
	if !ok {
		return &Result{Note: NoteColdStart}, nil
	}
	seen := r.model.UserItems(userIndex)
	if len(seen) == 0 {
		return &Result{Note: NoteNoInteractions}, nil
	}
	excluded := excludeMask(r.model, r.model.History(userId))
	var order []int
	sums := make(map[int]float64)
	for _, itemIndex := range seen {
		for _, neighbor := range r.model.KNeighbors(itemIndex, r.numNeighbors) {
			if excluded.Test(uint(neighbor.Index)) {
				continue
			}
			if _, exist := sums[neighbor.Index]; !exist {
				order = append(order, neighbor.Index)
			}
			sums[neighbor.Index] += 1 - float64(neighbor.Distance)
		}
	}
	filter := heap.NewTopKFilter[int, float64](k)
	for _, itemIndex := range order {
		filter.Push(itemIndex, sums[itemIndex])
	}
	result := new(Result)
	for _, elem := range filter.PopAll() {
		result.Candidates = append(result.Candidates, r.normalizer.Candidate(r.model.ItemId(elem.Value), elem.Weight))
	}
	return result, nil
}

// RecommendWithContext walks the nearest neighbors of the seed item, skipping the
// seed itself and purchased items.
func (r *ItemKNN) RecommendWithContext(_ context.Context, userId, itemId int64, k int) (*Result, error) {
	seedIndex, ok := r.model.ItemIndex(itemId)
	if !ok {
		return nil, errors.NotFoundf("item %d", itemId)
	}
	excluded := excludeMask(r.model, r.model.History(userId))
	result := new(Result)
	for _, neighbor := range r.model.KNeighbors(seedIndex, k+contextSlack) {
		if len(result.Candidates) >= k {
			break
		}
		if neighbor.Index == seedIndex || excluded.Test(uint(neighbor.Index)) {
			continue
		}
		result.Candidates = append(result.Candidates,
			r.normalizer.Candidate(r.model.ItemId(neighbor.Index), 1-float64(neighbor.Distance)))
	}
	if len(result.Candidates) == 0 {
		result.Note = NoteNoRecommendations
	}
	return result, nil
}
