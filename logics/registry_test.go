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

	"github.com/gorse-io/recommender/config"
	"github.com/gorse-io/recommender/model"
	"github.com/gorse-io/recommender/storage/blob"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestLoadRegistry(t *testing.T) {
	ctx := context.Background()
	store := blob.NewPOSIX(t.TempDir())
	cfg := config.GetDefaultConfig()
	assert.NoError(t, model.Save(ctx, store, cfg.KNN.Path, newKNNModel(t)))
	assert.NoError(t, model.Save(ctx, store, cfg.CBF.Path, newCBFModel(t)))
	assert.NoError(t, model.Save(ctx, store, cfg.NCF.Path, newNCFModel(t, 3)))
	cfg.NCF.DenseFeatures = []float32{0, 0, 0}
	cfg.CBF.Path = ""

	registry := LoadRegistry(ctx, cfg, store, new(mockCatalog))
	recommender, err := registry.Get(KNN)
	assert.NoError(t, err)
	assert.Equal(t, KNN, recommender.Name())

	// artifact not found
	_, err = registry.Get(SVDpp)
	assert.True(t, errors.Is(err, errors.NotAssigned))
	assert.Contains(t, err.Error(), "SVD++ model")
	_, err = registry.Get("svd")
	assert.True(t, errors.Is(err, errors.NotAssigned))
	// dense features do not match the model
	_, err = registry.Get(NCF)
	assert.True(t, errors.Is(err, errors.NotAssigned))
	// no artifact path
	_, err = registry.Get(CBF)
	assert.True(t, errors.Is(err, errors.NotAssigned))
	// unknown strategy
	_, err = registry.Get("random")
	assert.True(t, errors.Is(err, errors.NotFound))

	status := registry.Status()
	assert.Len(t, status, 4)
	assert.True(t, status[KNN].Loaded)
	assert.Empty(t, status[KNN].Error)
	assert.False(t, status[SVDpp].Loaded)
	assert.NotEmpty(t, status[SVDpp].Error)
	assert.False(t, status[NCF].Loaded)
	assert.NotEmpty(t, status[NCF].Error)
	assert.False(t, status[CBF].Loaded)
}

func TestRegistryAlias(t *testing.T) {
	ctx := context.Background()
	store := blob.NewPOSIX(t.TempDir())
	cfg := config.GetDefaultConfig()
	assert.NoError(t, model.Save(ctx, store, cfg.SVDpp.Path, newSVDppModel(t, 5)))
	registry := LoadRegistry(ctx, cfg, store, new(mockCatalog))
	recommender, err := registry.Get("svd")
	assert.NoError(t, err)
	assert.Equal(t, SVDpp, recommender.Name())
	_, err = registry.Get(KNN)
	assert.True(t, errors.Is(err, errors.NotAssigned))

	registry = NewRegistry(NewItemKNN(newKNNModel(t), cfg.KNN))
	recommender, err = registry.Get(KNN)
	assert.NoError(t, err)
	assert.Equal(t, KNN, recommender.Name())
	assert.Equal(t, Status{}, registry.Status()[CBF])
}
