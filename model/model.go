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

/*
Package model provides the pretrained artifacts served by the recommenders.

Each subpackage holds one artifact type:

  - knn: item-user interaction matrix with user histories.
  - svdpp: latent factors of an SVD++ rating predictor.
  - ncf: weights of a neural collaborative filtering regressor.
  - cbf: user and item content profiles.

Artifacts are trained offline, validated when loaded and read-only afterwards.
*/
package model

import (
	"context"
	"io"

	"github.com/gorse-io/recommender/storage/blob"
	"github.com/juju/errors"
)

// Model is an artifact that can be written to and read from a byte stream.
type Model interface {
	Marshal(w io.Writer) error
	Unmarshal(r io.Reader) error
}

// Save writes a model to the blob store. A model that fails to marshal leaves the
// stored artifact untouched.
func Save(ctx context.Context, store blob.Store, name string, m Model) error {
	w, err := store.Create(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	if err = m.Marshal(w); err != nil {
		w.Abort(err)
		return errors.Trace(err)
	}
	return errors.Annotatef(w.Close(), "save %s", name)
}

// Load reads a model from the blob store.
func Load(ctx context.Context, store blob.Store, name string, m Model) error {
	r, err := store.Open(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	defer r.Close()
	return errors.Annotatef(m.Unmarshal(r), "load %s", name)
}
