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
	"github.com/gorse-io/recommender/model/cbf"
	"github.com/juju/errors"
)

// ContentBased ranks items by the cosine similarity of content profiles.
type ContentBased struct {
	model      *cbf.Model
	alpha      float64
	normalizer Normalizer
}

func NewContentBased(model *cbf.Model, cfg config.CBFConfig) *ContentBased {
	return &ContentBased{
		model:      model,
		alpha:      cfg.Alpha,
		normalizer: NewNormalizer(cfg.PercentageMode, 1),
	}
}

func (r *ContentBased) Name() string {
	return CBF
}

// Recommend returns the items closest to the user profile.
func (r *ContentBased) Recommend(_ context.Context, userId int64, k int) (*Result, error) {
	userIndex, ok := r.model.UserIndex(userId)
	if !ok {
		return &Result{Note: NoteColdStart}, nil
	}
	result := new(Result)
	for _, elem := range heap.TopK(r.model.UserAffinity(userIndex), k) {
		result.Candidates = append(result.Candidates, r.normalizer.Candidate(r.model.ItemId(elem.Value), float64(elem.Weight)))
	}
	return result, nil
}

// RecommendWithContext blends the similarity to the seed item with the affinity
// to the user profile:
//
//	score = alpha * itemSimilarity + (1 - alpha) * userAffinity
func (r *ContentBased) RecommendWithContext(_ context.Context, userId, itemId int64, k int) (*Result, error) {
	userIndex, ok := r.model.UserIndex(userId)
	if !ok {
		return nil, errors.NotFoundf("user %d", userId)
	}
	seedIndex, ok := r.model.ItemIndex(itemId)
	if !ok {
		return nil, errors.NotFoundf("item %d", itemId)
	}
	affinity := r.model.UserAffinity(userIndex)
	similarity := r.model.SimilarItems(seedIndex)
	scores := make([]float64, len(similarity))
	for i := range scores {
		scores[i] = float64(similarity[i])*r.alpha + float64(affinity[i])*(1-r.alpha)
	}
	result := new(Result)
	for _, elem := range heap.TopK(scores, k+1) {
		if len(result.Candidates) >= k {
			break
		}
		if elem.Value == seedIndex {
			continue
		}
		result.Candidates = append(result.Candidates, r.normalizer.Candidate(r.model.ItemId(elem.Value), elem.Weight))
	}
	return result, nil
}
