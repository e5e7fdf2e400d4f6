// Copyright 2024 gorse Project Authors
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

package parallel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnlimited(t *testing.T) {
	rateLimiter := &Unlimited{}
	assert.Zero(t, rateLimiter.Take(1))
	assert.Equal(t, int64(100), rateLimiter.TakeAvailable(100))
	assert.IsType(t, &Unlimited{}, NewRateLimiter(0))
}

func TestNewRateLimiter(t *testing.T) {
	rateLimiter := NewRateLimiter(2)
	assert.Equal(t, int64(1), rateLimiter.TakeAvailable(1))
	assert.Equal(t, int64(1), rateLimiter.TakeAvailable(1))
	assert.Zero(t, rateLimiter.TakeAvailable(1))
}
