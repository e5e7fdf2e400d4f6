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
	"path/filepath"
	"testing"

	"github.com/gorse-io/recommender/config"
	"github.com/gorse-io/recommender/model/ncf"
	"github.com/gorse-io/recommender/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// newNCFModel creates n items. The score of item i for user 1 is 2i+7 and item
// embeddings turn away from (1, 1) as the index grows.
func newNCFModel(t *testing.T, n int) *ncf.Model {
	m := &ncf.Model{
		UserIds:           []int64{1, 2},
		ItemIds:           lo.Map(lo.Range(n), func(i int, _ int) int64 { return int64(i + 100) }),
		Categories:        make([]int32, n),
		UserEmbedding:     [][]float32{{1}, {2}},
		ItemEmbedding:     lo.Map(lo.Range(n), func(i int, _ int) []float32 { return []float32{float32(i + 1), 1} }),
		CategoryEmbedding: [][]float32{{0}},
		Scaler:            ncf.Scaler{Kind: ncf.StandardScaler, Center: []float32{0, 0}, Scale: []float32{1, 1}},
		Dense:             ncf.Linear{Weight: [][]float32{{1, 1}}, Bias: []float32{0}},
		FC1:               ncf.Linear{Weight: [][]float32{{1, 1, 1, 1, 1}, {0, 0, 0, 0, 0}}, Bias: []float32{0, 0}},
		BN: ncf.BatchNorm{
			Weight:      []float32{1, 1},
			Bias:        []float32{0, 0},
			RunningMean: []float32{0, 0},
			RunningVar:  []float32{1, 1},
		},
		FC2:    ncf.Linear{Weight: [][]float32{{1, 1}}, Bias: []float32{0}},
		Output: ncf.Linear{Weight: [][]float32{{2}}, Bias: []float32{1}},
	}
	assert.NoError(t, m.Prepare())
	return m
}

func TestNeuralCF_Recommend(t *testing.T) {
	ctx := context.Background()
	m := newNCFModel(t, 5)
	r, err := NewNeuralCF(m, nil, config.GetDefaultConfig().NCF, 1)
	assert.NoError(t, err)
	result, err := r.Recommend(ctx, 1, 3)
	assert.NoError(t, err)
	assert.Equal(t, []int64{104, 103, 102}, candidateIds(result))
	assert.InDelta(t, 15, result.Candidates[0].Raw, 1e-5)
	assert.InDelta(t, 15/6.5, result.Candidates[0].Score, 1e-5)
	assertSorted(t, result)

	// deterministic and independent of the number of jobs
	again, err := r.Recommend(ctx, 1, 3)
	assert.NoError(t, err)
	assert.Equal(t, result, again)
	concurrent, err := NewNeuralCF(m, nil, config.GetDefaultConfig().NCF, 3)
	assert.NoError(t, err)
	again, err = concurrent.Recommend(ctx, 1, 3)
	assert.NoError(t, err)
	assert.Equal(t, result, again)

	// more than the catalog
	result, err = r.Recommend(ctx, 2, 10)
	assert.NoError(t, err)
	assert.Len(t, result.Candidates, 5)
}

func TestNeuralCF_Fallback(t *testing.T) {
	items := []data.Item{{"itemId": int64(7)}, {"itemId": int64(3)}}
	catalog := new(mockCatalog)
	catalog.On("RandomItems", mock.Anything, 2).Return(items, nil)
	r, err := NewNeuralCF(newNCFModel(t, 5), catalog, config.GetDefaultConfig().NCF, 1)
	assert.NoError(t, err)
	result, err := r.Recommend(context.Background(), 99, 2)
	assert.NoError(t, err)
	assert.Equal(t, TypePopularFallback, result.Type)
	assert.Equal(t, items, result.Fallback)
	assert.Empty(t, result.Candidates)
	catalog.AssertCalled(t, "RandomItems", mock.Anything, 2)

	catalog = new(mockCatalog)
	catalog.On("RandomItems", mock.Anything, 2).Return(nil, errors.New("database is down"))
	r, err = NewNeuralCF(newNCFModel(t, 5), catalog, config.GetDefaultConfig().NCF, 1)
	assert.NoError(t, err)
	_, err = r.Recommend(context.Background(), 99, 2)
	assert.Error(t, err)

	// nothing is drawn for k = 0
	catalog = new(mockCatalog)
	r, err = NewNeuralCF(newNCFModel(t, 5), catalog, config.GetDefaultConfig().NCF, 1)
	assert.NoError(t, err)
	result, err = r.Recommend(context.Background(), 99, 0)
	assert.NoError(t, err)
	assert.Equal(t, TypePopularFallback, result.Type)
	assert.NotNil(t, result.Fallback)
	assert.Empty(t, result.Fallback)
	catalog.AssertNotCalled(t, "RandomItems", mock.Anything, mock.Anything)
}

func TestNeuralCF_FallbackWithCatalog(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Catalog.Store = "sqlite://" + filepath.Join(t.TempDir(), "catalog.db")
	catalog, err := data.Open(cfg.Catalog)
	assert.NoError(t, err)
	defer catalog.Close()
	assert.NoError(t, catalog.DB().Exec(`CREATE TABLE items (itemId INTEGER PRIMARY KEY, title TEXT)`).Error)
	for i := 1; i <= 5; i++ {
		assert.NoError(t, catalog.DB().Exec(`INSERT INTO items (itemId, title) VALUES (?, ?)`, i, "item").Error)
	}

	r, err := NewNeuralCF(newNCFModel(t, 5), catalog, cfg.NCF, 1)
	assert.NoError(t, err)
	for k, expected := range map[int]int{0: 0, 1: 1, 3: 3, 5: 5, 10: 5} {
		result, err := r.Recommend(context.Background(), 99, k)
		assert.NoError(t, err)
		assert.Equal(t, TypePopularFallback, result.Type)
		assert.Len(t, result.Fallback, expected)
		ids := lo.Map(result.Fallback, func(item data.Item, _ int) any { return item["itemId"] })
		assert.Len(t, lo.Uniq(ids), expected)
	}
}

func TestNeuralCF_RecommendWithContext(t *testing.T) {
	ctx := context.Background()
	r, err := NewNeuralCF(newNCFModel(t, 60), nil, config.GetDefaultConfig().NCF, 1)
	assert.NoError(t, err)

	pool := r.candidatePool(0)
	assert.Equal(t, lo.RangeFrom(1, 50), pool)

	result, err := r.RecommendWithContext(ctx, 1, 100, 3)
	assert.NoError(t, err)
	assert.Equal(t, []int64{150, 149, 148}, candidateIds(result))
	assertSorted(t, result)

	// small catalog
	small, err := NewNeuralCF(newNCFModel(t, 4), nil, config.GetDefaultConfig().NCF, 2)
	assert.NoError(t, err)
	assert.Len(t, small.candidatePool(1), 3)
	result, err = small.RecommendWithContext(ctx, 2, 101, 10)
	assert.NoError(t, err)
	assert.Equal(t, []int64{103, 102, 100}, candidateIds(result))

	// unknown user or seed
	_, err = r.RecommendWithContext(ctx, 99, 100, 3)
	assert.True(t, errors.Is(err, errors.NotFound))
	_, err = r.RecommendWithContext(ctx, 1, 99, 3)
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestNewNeuralCF(t *testing.T) {
	m := newNCFModel(t, 3)
	cfg := config.GetDefaultConfig().NCF
	cfg.DenseFeatures = []float32{1}
	_, err := NewNeuralCF(m, nil, cfg, 1)
	assert.True(t, errors.Is(err, errors.NotValid))

	// missing dense features default to zeros
	cfg.DenseFeatures = nil
	r, err := NewNeuralCF(m, nil, cfg, 1)
	assert.NoError(t, err)
	assert.Equal(t, []float32{0, 0}, r.dense)
}
