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
	"sync"

	"github.com/gorse-io/recommender/base/log"
	"github.com/gorse-io/recommender/common/heap"
	"github.com/gorse-io/recommender/common/parallel"
	"github.com/gorse-io/recommender/config"
	"github.com/gorse-io/recommender/model/svdpp"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// SVDppRecommender ranks items by the ratings predicted by an SVD++ model.
type SVDppRecommender struct {
	model      *svdpp.Model
	catalog    Catalog
	candidates int
	numJobs    int
	normalizer Normalizer

	// itemIds is computed once, a failed attempt is retried by the next request.
	mu      sync.Mutex
	done    bool
	itemIds []int64
}

func NewSVDpp(model *svdpp.Model, catalog Catalog, cfg config.SVDppConfig, numJobs int) *SVDppRecommender {
	r := &SVDppRecommender{
		model:      model,
		catalog:    catalog,
		candidates: cfg.Candidates,
		numJobs:    numJobs,
		normalizer: NewNormalizer(cfg.PercentageMode, cfg.RatingScale),
	}
	if len(model.ItemIds) > 0 {
		r.itemIds = model.ItemIds
		r.done = true
	}
	return r
}

func (r *SVDppRecommender) Name() string {
	return SVDpp
}

// allItemIds returns the item vocabulary of the model, or all items in the catalog
// if the model has no vocabulary.
func (r *SVDppRecommender) allItemIds(ctx context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return r.itemIds, nil
	}
	itemIds, err := r.catalog.AllItemIds(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "load item ids")
	}
	log.Logger().Info("load item ids from catalog", zap.Int("n_items", len(itemIds)))
	r.itemIds = itemIds
	r.done = true
	return r.itemIds, nil
}

// Recommend predicts the rating of every item and returns the top k.
func (r *SVDppRecommender) Recommend(ctx context.Context, userId int64, k int) (*Result, error) {
	itemIds, err := r.allItemIds(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ratings := make([]float32, len(itemIds))
	if err = parallel.For(ctx, len(itemIds), r.numJobs, func(i int) {
		ratings[i] = r.model.Predict(userId, itemIds[i])
	}); err != nil {
		return nil, errors.Trace(err)
	}
	result := new(Result)
	for _, elem := range heap.TopK(ratings, k) {
		result.Candidates = append(result.Candidates, r.normalizer.Candidate(itemIds[elem.Value], float64(elem.Weight)))
	}
	return result, nil
}

// RecommendWithContext re-ranks the items with the most similar latent factors to
// the seed item by predicted rating.
func (r *SVDppRecommender) RecommendWithContext(_ context.Context, userId, itemId int64, k int) (*Result, error) {
	seedIndex, ok := r.model.ItemIndex(itemId)
	if !ok {
		return nil, errors.NotFoundf("item %d", itemId)
	}
	pool := r.candidatePool(seedIndex)
	ratings := make([]float32, len(pool))
	for i, itemIndex := range pool {
		ratings[i] = r.model.Predict(userId, r.model.ItemId(itemIndex))
	}
	result := new(Result)
	for _, elem := range heap.TopK(ratings, k) {
		result.Candidates = append(result.Candidates, r.normalizer.Candidate(r.model.ItemId(pool[elem.Value]), float64(elem.Weight)))
	}
	return result, nil
}

// candidatePool returns the indices of the items most similar to the seed item.
func (r *SVDppRecommender) candidatePool(seedIndex int) []int {
	return similarPool(r.model.SimilarItems(seedIndex), seedIndex, r.candidates)
}

// similarPool returns the indices of the n largest similarities except the seed.
func similarPool(similarities []float32, seedIndex, n int) []int {
	filter := heap.NewTopKFilter[int, float32](n)
	for i, similarity := range similarities {
		if i != seedIndex {
			filter.Push(i, similarity)
		}
	}
	return filter.PopAllValues()
}
