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
	"time"

	"github.com/gorse-io/recommender/base/log"
	"github.com/gorse-io/recommender/config"
	"github.com/gorse-io/recommender/model"
	"github.com/gorse-io/recommender/model/cbf"
	"github.com/gorse-io/recommender/model/knn"
	"github.com/gorse-io/recommender/model/ncf"
	"github.com/gorse-io/recommender/model/svdpp"
	"github.com/gorse-io/recommender/storage/blob"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// aliases of strategy names accepted by Get.
var aliases = map[string]string{
	"svd": SVDpp,
}

var displayNames = map[string]string{
	KNN:   "KNN",
	SVDpp: "SVD++",
	NCF:   "NCF",
	CBF:   "CBF",
}

// Status is the load status of a strategy.
type Status struct {
	Loaded bool   `json:"loaded"`
	Error  string `json:"error,omitempty"`
}

// Registry holds the recommenders that were loaded at startup. It is not modified
// after construction.
type Registry struct {
	recommenders map[string]Recommender
	failures     map[string]error
}

func NewRegistry(recommenders ...Recommender) *Registry {
	registry := &Registry{
		recommenders: make(map[string]Recommender),
		failures:     make(map[string]error),
	}
	for _, recommender := range recommenders {
		registry.recommenders[recommender.Name()] = recommender
	}
	return registry
}

// LoadRegistry loads every artifact from the blob store. A strategy whose artifact
// fails to load is unavailable while the others keep serving.
func LoadRegistry(ctx context.Context, cfg *config.Config, store blob.Store, catalog Catalog) *Registry {
	registry := NewRegistry()

	knnModel := new(knn.Model)
	if registry.load(ctx, KNN, cfg.KNN.Path, store, knnModel) {
		registry.recommenders[KNN] = NewItemKNN(knnModel, cfg.KNN)
	}

	svdppModel := new(svdpp.Model)
	if registry.load(ctx, SVDpp, cfg.SVDpp.Path, store, svdppModel) {
		registry.recommenders[SVDpp] = NewSVDpp(svdppModel, catalog, cfg.SVDpp, cfg.Server.NumJobs)
	}

	ncfModel := new(ncf.Model)
	if registry.load(ctx, NCF, cfg.NCF.Path, store, ncfModel) {
		recommender, err := NewNeuralCF(ncfModel, catalog, cfg.NCF, cfg.Server.NumJobs)
		if err != nil {
			registry.fail(NCF, cfg.NCF.Path, err)
		} else {
			registry.recommenders[NCF] = recommender
		}
	}

	cbfModel := new(cbf.Model)
	if registry.load(ctx, CBF, cfg.CBF.Path, store, cbfModel) {
		registry.recommenders[CBF] = NewContentBased(cbfModel, cfg.CBF)
	}
	return registry
}

func (r *Registry) load(ctx context.Context, name, path string, store blob.Store, m model.Model) bool {
	if path == "" {
		r.fail(name, path, errors.NotAssignedf("artifact path"))
		return false
	}
	start := time.Now()
	if err := model.Load(ctx, store, path, m); err != nil {
		r.fail(name, path, err)
		return false
	}
	log.Logger().Info("model loaded",
		zap.String("strategy", name),
		zap.String("path", path),
		zap.Duration("elapsed", time.Since(start)))
	return true
}

func (r *Registry) fail(name, path string, err error) {
	log.Logger().Error("failed to load model",
		zap.String("strategy", name),
		zap.String("path", path),
		zap.Error(err))
	r.failures[name] = err
}

// Get returns the recommender of a strategy. It fails with NotFound for unknown
// strategies and NotAssigned for strategies whose model is not loaded.
func (r *Registry) Get(name string) (Recommender, error) {
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	displayName, ok := displayNames[name]
	if !ok {
		return nil, errors.NotFoundf("strategy %s", name)
	}
	recommender, ok := r.recommenders[name]
	if !ok {
		return nil, errors.NotAssignedf("%s model", displayName)
	}
	return recommender, nil
}

// Status returns the load status of every strategy.
func (r *Registry) Status() map[string]Status {
	status := make(map[string]Status, len(Strategies))
	for _, name := range Strategies {
		if _, ok := r.recommenders[name]; ok {
			status[name] = Status{Loaded: true}
		} else if err, ok := r.failures[name]; ok {
			status[name] = Status{Error: err.Error()}
		} else {
			status[name] = Status{}
		}
	}
	return status
}
