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

package storage

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	_ "modernc.org/sqlite"
)

func TestApplySQLPool(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "pool.db"))
	assert.NoError(t, err)
	defer db.Close()

	opt := NewOptions(WithMaxOpenConns(8), WithMaxIdleConns(4), WithConnMaxLifetime(time.Minute))
	assert.Equal(t, Options{MaxOpenConns: 8, MaxIdleConns: 4, ConnMaxLifetime: time.Minute}, opt)
	ApplySQLPool(db, opt)
	assert.Equal(t, 8, db.Stats().MaxOpenConnections)

	// zero values keep the current pool
	ApplySQLPool(db, NewOptions())
	assert.Equal(t, 8, db.Stats().MaxOpenConnections)
}
