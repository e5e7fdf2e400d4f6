// Copyright 2020 gorse Project Authors
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
	"context"

	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"
)

// Batch splits the jobs [0, nJobs) into at most nWorkers contiguous ranges and runs
// worker on every range in its own goroutine. Earlier ranges are one job longer
// when nJobs is not a multiple of nWorkers. The first error cancels the context
// passed to the other ranges.
func Batch(ctx context.Context, nJobs, nWorkers int, worker func(ctx context.Context, workerId, begin, end int) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	if nJobs <= 0 {
		return nil
	}
	nWorkers = max(1, min(nWorkers, nJobs))
	if nWorkers == 1 {
		return errors.Trace(worker(ctx, 0, 0, nJobs))
	}
	group, groupCtx := errgroup.WithContext(ctx)
	size, rest := nJobs/nWorkers, nJobs%nWorkers
	begin := 0
	for workerId := range nWorkers {
		end := begin + size
		if workerId < rest {
			end++
		}
		first := begin
		group.Go(func() error {
			return worker(groupCtx, workerId, first, end)
		})
		begin = end
	}
	if err := group.Wait(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(ctx.Err())
}

// Parallel runs worker for every job id in [0, nJobs) on nWorkers goroutines. Each
// worker handles a contiguous range of jobs and stops at the first error or once
// ctx is done.
func Parallel(ctx context.Context, nJobs, nWorkers int, worker func(workerId, jobId int) error) error {
	return Batch(ctx, nJobs, nWorkers, func(ctx context.Context, workerId, begin, end int) error {
		for jobId := begin; jobId < end; jobId++ {
			if err := ctx.Err(); err != nil {
				return errors.Trace(err)
			}
			if err := worker(workerId, jobId); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	})
}

// For runs worker for every job id in [0, nJobs) on nWorkers goroutines. It stops
// handing out jobs once ctx is done and returns the context error.
func For(ctx context.Context, nJobs, nWorkers int, worker func(int)) error {
	return Parallel(ctx, nJobs, nWorkers, func(_, jobId int) error {
		worker(jobId)
		return nil
	})
}
