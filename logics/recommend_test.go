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
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/recommender/config"
	"github.com/gorse-io/recommender/storage/data"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) AllItemIds(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	itemIds, _ := args.Get(0).([]int64)
	return itemIds, args.Error(1)
}

func (m *mockCatalog) RandomItems(ctx context.Context, n int) ([]data.Item, error) {
	args := m.Called(ctx, n)
	items, _ := args.Get(0).([]data.Item)
	return items, args.Error(1)
}

func candidateIds(result *Result) []int64 {
	return lo.Map(result.Candidates, func(c Candidate, _ int) int64 { return c.ItemId })
}

func assertSorted(t *testing.T, result *Result) {
	for i := 1; i < len(result.Candidates); i++ {
		assert.GreaterOrEqual(t, result.Candidates[i-1].Raw, result.Candidates[i].Raw)
	}
}

type testIndexer map[int64]int

func (i testIndexer) ItemIndex(itemId int64) (int, bool) {
	index, ok := i[itemId]
	return index, ok
}

func (i testIndexer) CountItems() int {
	return len(i)
}

func TestExcludeMask(t *testing.T) {
	mask := excludeMask(testIndexer{10: 0, 20: 1, 30: 2}, mapset.NewSet[int64](20, 30, 99))
	assert.False(t, mask.Test(0))
	assert.True(t, mask.Test(1))
	assert.True(t, mask.Test(2))
	assert.Equal(t, uint(2), mask.Count())
}

func TestRecommendAtMostK(t *testing.T) {
	ctx := context.Background()
	cfg := config.GetDefaultConfig()
	ncfRecommender, err := NewNeuralCF(newNCFModel(t, 5), nil, cfg.NCF, 1)
	assert.NoError(t, err)
	testCases := []struct {
		recommender Recommender
		userId      int64
		seedId      int64
	}{
		{NewItemKNN(newKNNModel(t), cfg.KNN), 3, 10},
		{NewSVDpp(newSVDppModel(t, 5), nil, cfg.SVDpp, 1), 1, 100},
		{ncfRecommender, 1, 100},
		{NewContentBased(newCBFModel(t), cfg.CBF), 1, 10},
	}
	for _, tc := range testCases {
		t.Run(tc.recommender.Name(), func(t *testing.T) {
			for _, k := range []int{0, 1, 100} {
				result, err := tc.recommender.Recommend(ctx, tc.userId, k)
				assert.NoError(t, err)
				assert.LessOrEqual(t, len(result.Candidates), k)
				assertSorted(t, result)
				if k > 0 {
					assert.NotEmpty(t, result.Candidates)
				}

				result, err = tc.recommender.RecommendWithContext(ctx, tc.userId, tc.seedId, k)
				assert.NoError(t, err)
				assert.LessOrEqual(t, len(result.Candidates), k)
				assert.NotContains(t, candidateIds(result), tc.seedId)
				assertSorted(t, result)
				if k > 0 {
					assert.NotEmpty(t, result.Candidates)
				}
			}
		})
	}
}
