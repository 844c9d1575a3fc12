// Package jobs holds the scheduled batch jobs that bound cache staleness for
// users who are not triggering invalidation, plus cache maintenance.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitalspan/metrics-cache/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Summary is the outcome of one batch run
type Summary struct {
	Job         string
	Total       int
	Succeeded   int
	Failed      int
	FailedUsers []string
	Duration    time.Duration
}

// ChunkOptions controls ProcessInChunks
type ChunkOptions struct {
	ChunkSize   int
	Parallelism int
	UserTimeout time.Duration // Zero means no per-user bound
}

// ProcessInChunks runs fn for every user, one chunk at a time, with at most
// Parallelism users in flight per chunk. Every user runs to completion: a
// failure or panic is recorded and the rest continue. The only error returned
// is ctx ending between chunks.
func ProcessInChunks(ctx context.Context, userIDs []string, opts ChunkOptions, fn func(ctx context.Context, userID string) error) (Summary, error) {
	start := time.Now()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = len(userIDs)
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}

	summary := Summary{Total: len(userIDs)}
	var mu sync.Mutex

	for offset := 0; offset < len(userIDs); offset += opts.ChunkSize {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}

		chunk := userIDs[offset:min(offset+opts.ChunkSize, len(userIDs))]
		g := new(errgroup.Group)
		g.SetLimit(opts.Parallelism)

		for _, userID := range chunk {
			g.Go(func() error {
				err := runOne(ctx, userID, opts.UserTimeout, fn)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					summary.Failed++
					summary.FailedUsers = append(summary.FailedUsers, userID)
					logger.Warn("Batch item failed",
						logger.ErrorField(err),
						logger.String("user_id", userID),
					)
					return nil
				}
				summary.Succeeded++
				return nil
			})
		}
		_ = g.Wait()

		logger.Debug("Chunk complete",
			logger.Int("offset", offset),
			logger.Int("size", len(chunk)),
		)
	}

	sort.Strings(summary.FailedUsers)
	summary.Duration = time.Since(start)
	return summary, nil
}

func runOne(ctx context.Context, userID string, timeout time.Duration, fn func(ctx context.Context, userID string) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx, userID)
}
