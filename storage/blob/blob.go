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

	"github.com/gorse-io/recommender/config"
	"github.com/juju/errors"
)

// Store reads and writes named artifacts.
type Store interface {
	// Open fails with NotFound if the artifact does not exist.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Create(ctx context.Context, name string) (Writer, error)
}

// Writer streams an artifact into a store. The artifact becomes visible when Close
// returns nil. Abort discards everything written so far. Call exactly one of them.
type Writer interface {
	io.Writer
	Close() error
	Abort(err error)
}

// Open creates the blob store selected by the artifacts configuration.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Artifacts.Storage {
	case "", "posix":
		return NewPOSIX(cfg.Artifacts.Dir), nil
	case "s3":
		return NewS3(cfg.S3)
	case "gcs":
		return NewGCS(cfg.GCS)
	case "azure":
		return NewAzureBlob(cfg.Azure)
	}
	return nil, errors.NotSupportedf("artifact storage %q", cfg.Artifacts.Storage)
}

// pipeWriter feeds an upload running in a background goroutine.
type pipeWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func newPipeWriter(upload func(r io.Reader) error) *pipeWriter {
	pr, pw := io.Pipe()
	w := &pipeWriter{pw: pw, done: make(chan error, 1)}
	go func() {
		err := upload(pr)
		// pending writes fail once the upload returns
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	return w
}

func (w *pipeWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Close ends the stream and waits for the upload.
func (w *pipeWriter) Close() error {
	_ = w.pw.Close()
	return errors.Trace(<-w.done)
}

// Abort makes the upload read err so that nothing is committed.
func (w *pipeWriter) Abort(err error) {
	if err == nil {
		err = errors.New("upload aborted")
	}
	_ = w.pw.CloseWithError(err)
	<-w.done
}
