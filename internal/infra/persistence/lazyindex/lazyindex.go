// Package lazyindex memoizes secondary-index construction for a single store
// instance. Concurrent first callers share one in-flight build.
package lazyindex

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

const buildKey = "indexes"

// BuildFunc creates the store's secondary indexes. It must be idempotent.
type BuildFunc func(ctx context.Context) error

// Initializer owns the "indexes ready" state of one store. A successful build
// is remembered for the life of the Initializer; a failed build is not, so the
// next caller retries.
type Initializer struct {
	build  BuildFunc
	group  singleflight.Group
	ready  atomic.Bool
	builds atomic.Int64
}

// New returns an Initializer that runs build on first use.
func New(build BuildFunc) *Initializer {
	return &Initializer{build: build}
}

// Ensure blocks until the indexes exist, triggering the build if this is the
// first call. The context of the caller that starts the build governs it.
func (i *Initializer) Ensure(ctx context.Context) error {
	if i.ready.Load() {
		return nil
	}
	_, err, _ := i.group.Do(buildKey, func() (any, error) {
		if i.ready.Load() {
			return nil, nil
		}
		i.builds.Add(1)
		if err := i.build(ctx); err != nil {
			return nil, err
		}
		i.ready.Store(true)
		return nil, nil
	})
	return err
}

// Ready reports whether a build has completed successfully.
func (i *Initializer) Ready() bool { return i.ready.Load() }

// Builds reports how many times the build function has been invoked.
func (i *Initializer) Builds() int64 { return i.builds.Load() }
