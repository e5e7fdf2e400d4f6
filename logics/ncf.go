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
	"github.com/gorse-io/recommender/common/parallel"
	"github.com/gorse-io/recommender/config"
	"github.com/gorse-io/recommender/model/ncf"
	"github.com/gorse-io/recommender/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// NeuralCF ranks items by the scores of a neural collaborative filtering model.
type NeuralCF struct {
	model      *ncf.Model
	catalog    Catalog
	candidates int
	numJobs    int
	dense      []float32
	normalizer Normalizer
}

func NewNeuralCF(model *ncf.Model, catalog Catalog, cfg config.NCFConfig, numJobs int) (*NeuralCF, error) {
	dense := cfg.DenseFeatures
	if len(dense) == 0 {
		dense = make([]float32, model.CountDenseFeatures())
	}
	if len(dense) != model.CountDenseFeatures() {
		return nil, errors.NotValidf("%d dense features (expect %d)", len(dense), model.CountDenseFeatures())
	}
	return &NeuralCF{
		model:      model,
		catalog:    catalog,
		candidates: cfg.Candidates,
		numJobs:    max(1, numJobs),
		dense:      dense,
		normalizer: NewNormalizer(cfg.PercentageMode, cfg.ScoreCeiling),
	}, nil
}

func (r *NeuralCF) Name() string {
	return NCF
}

// Recommend scores every item for a known user. Unknown users get random items
// from the catalog.
func (r *NeuralCF) Recommend(ctx context.Context, userId int64, k int) (*Result, error) {
	userIndex, ok := r.model.UserIndex(userId)
	if !ok {
		if k <= 0 {
			return &Result{Type: TypePopularFallback, Fallback: []data.Item{}}, nil
		}
		items, err := r.catalog.RandomItems(ctx, k)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return &Result{Type: TypePopularFallback, Fallback: items}, nil
	}
	scores, err := r.predict(ctx, userIndex, lo.Range(r.model.CountItems()))
	if err != nil {
		return nil, errors.Trace(err)
	}
	result := new(Result)
	for _, elem := range heap.TopK(scores, k) {
		result.Candidates = append(result.Candidates, r.normalizer.Candidate(r.model.ItemId(elem.Value), float64(elem.Weight)))
	}
	return result, nil
}

// RecommendWithContext scores the items whose embeddings are the most similar to
// the seed item.
func (r *NeuralCF) RecommendWithContext(ctx context.Context, userId, itemId int64, k int) (*Result, error) {
	userIndex, ok := r.model.UserIndex(userId)
	if !ok {
		return nil, errors.NotFoundf("user %d", userId)
	}
	seedIndex, ok := r.model.ItemIndex(itemId)
	if !ok {
		return nil, errors.NotFoundf("item %d", itemId)
	}
	pool := r.candidatePool(seedIndex)
	scores, err := r.predict(ctx, userIndex, pool)
	if err != nil {
		return nil, errors.Trace(err)
	}
	result := new(Result)
	for _, elem := range heap.TopK(scores, k) {
		result.Candidates = append(result.Candidates, r.normalizer.Candidate(r.model.ItemId(pool[elem.Value]), float64(elem.Weight)))
	}
	return result, nil
}

func (r *NeuralCF) candidatePool(seedIndex int) []int {
	return similarPool(r.model.SimilarItems(seedIndex), seedIndex, r.candidates)
}

// predict scores items in batches, one contiguous batch per job.
func (r *NeuralCF) predict(ctx context.Context, userIndex int, itemIndices []int) ([]float32, error) {
	if len(itemIndices) == 0 {
		return nil, nil
	}
	scores := make([]float32, len(itemIndices))
	err := parallel.Batch(ctx, len(itemIndices), r.numJobs, func(_ context.Context, _, begin, end int) error {
		copy(scores[begin:end], r.model.Predict(userIndex, itemIndices[begin:end], r.dense))
		return nil
	})
	return scores, errors.Trace(err)
}
