// Copyright 2025 gorse Project Authors
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

package blob

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/juju/errors"
)

// POSIX stores artifacts as files under a directory.
type POSIX struct {
	dir string
}

func NewPOSIX(dir string) *POSIX {
	return &POSIX{dir: dir}
}

func (p *POSIX) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	fullPath := filepath.Join(p.dir, name)
	file, err := os.Open(fullPath)
	if os.IsNotExist(err) {
		return nil, errors.NotFoundf("blob %s", fullPath)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	return file, nil
}

// Create writes into a temporary file next to the target. Close renames it over the
// target, so readers never see a partial artifact.
func (p *POSIX) Create(ctx context.Context, name string) (Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	fullPath := filepath.Join(p.dir, name)
	if err := os.MkdirAll(filepath.Dir(fullPath), os.ModePerm); err != nil {
		return nil, errors.Trace(err)
	}
	file, err := os.CreateTemp(filepath.Dir(fullPath), "."+filepath.Base(fullPath)+".*")
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &posixWriter{file: file, path: fullPath}, nil
}

type posixWriter struct {
	file *os.File
	path string
}

func (w *posixWriter) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

func (w *posixWriter) Close() error {
	if err := w.file.Close(); err != nil {
		_ = os.Remove(w.file.Name())
		return errors.Trace(err)
	}
	if err := os.Rename(w.file.Name(), w.path); err != nil {
		_ = os.Remove(w.file.Name())
		return errors.Trace(err)
	}
	return nil
}

func (w *posixWriter) Abort(error) {
	_ = w.file.Close()
	_ = os.Remove(w.file.Name())
}
