package manus

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// DepthPools provides a bounded worker pool per plan-tree depth. Without
// per-depth isolation a sub-plan at depth N can block waiting for a parent
// at depth N-1 that is itself waiting for a worker, deadlocking the tree.
// Depths beyond the configured maximum reuse the deepest pool.
type DepthPools struct {
	sems  []*semaphore.Weighted
	sizes []int
}

// NewDepthPools creates one pool per entry in sizes; sizes[d] is the
// worker count for depth d.
func NewDepthPools(sizes []int) (*DepthPools, error) {
	if len(sizes) == 0 {
		return nil, fmt.Errorf("depth pools: at least one pool size required")
	}
	sems := make([]*semaphore.Weighted, len(sizes))
	for i, size := range sizes {
		if size <= 0 {
			return nil, fmt.Errorf("depth pools: size for depth %d must be positive, got %d", i, size)
		}
		sems[i] = semaphore.NewWeighted(int64(size))
	}
	return &DepthPools{sems: sems, sizes: sizes}, nil
}

// MaxDepth returns the deepest depth with a dedicated pool.
func (p *DepthPools) MaxDepth() int {
	return len(p.sems) - 1
}

// poolFor maps a depth to its pool, clamping to the deepest.
func (p *DepthPools) poolFor(depth int) *semaphore.Weighted {
	if depth < 0 {
		depth = 0
	}
	if depth >= len(p.sems) {
		depth = len(p.sems) - 1
	}
	return p.sems[depth]
}

// Task is a handle to a submitted unit of work.
type Task struct {
	done chan struct{}
	err  error
}

// Wait blocks until the task finishes and returns its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Submit acquires a worker slot for the given depth and runs fn on its own
// goroutine. Acquisition blocks until a slot frees or ctx is done. Callers
// must never submit follow-up work for a deeper plan level to the same
// depth; they step to depth+1.
func (p *DepthPools) Submit(ctx context.Context, depth int, fn func() error) (*Task, error) {
	sem := p.poolFor(depth)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("depth pools: acquire worker for depth %d: %w", depth, err)
	}

	task := &Task{done: make(chan struct{})}
	go func() {
		defer sem.Release(1)
		defer close(task.done)
		task.err = fn()
	}()
	return task, nil
}

// Run submits fn at the given depth and waits for it.
func (p *DepthPools) Run(ctx context.Context, depth int, fn func() error) error {
	task, err := p.Submit(ctx, depth, fn)
	if err != nil {
		return err
	}
	return task.Wait()
}
