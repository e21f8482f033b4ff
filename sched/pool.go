// Package sched implements the fixed-size tick worker pool and the tick
// scheduler that drives one simulation step across every live organism.
//
// Modeled on a rebalance jogger fan-out: a
// WaitGroup-fanned set of goroutines, each handed a disjoint slice of work,
// with completion awaited before the caller proceeds. Dispatch here
// generalizes that one-shot jogger fan-out into a reusable, repeatedly
// invoked primitive with stable per-worker identity.
package sched

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// Body is the unit of work a Dispatch call hands to each worker: the
// worker's stable index, and the contiguous half-open range [from, to) of
// the dispatched space assigned to it.
type Body func(threadIndex, from, to int) error

// Pool is a fixed-size worker pool created once with parallelism P >= 2.
// Dispatch is not re-entrant: calling it from within a running Dispatch's
// Body panics-as-error rather than deadlocking or silently corrupting
// thread_index assignment.
type Pool struct {
	size int
	busy atomic.Bool
}

// ErrReentrantDispatch is returned when Dispatch is called while another
// Dispatch on the same Pool is already in flight.
var ErrReentrantDispatch = errors.New("sched: re-entrant Dispatch call")

// NewPool creates a pool with the given fixed parallelism. size must be at
// least 2; a pool of size 1 is just a function call and adds no value over
// calling Body directly.
func NewPool(size int) (*Pool, error) {
	if size < 2 {
		return nil, errors.Errorf("sched: pool size must be >= 2, got %d", size)
	}
	return &Pool{size: size}, nil
}

// Size returns the pool's fixed parallelism P.
func (p *Pool) Size() int { return p.size }

// Dispatch partitions [0, n) into min(activeP, P) contiguous, non-empty-count
// ranges (the first ranges absorb the remainder) and runs body(threadIndex,
// from, to) on each, returning once every worker has completed. If any
// worker's body returns an error (or panics), Dispatch returns the first
// such error once all workers have finished; other workers are not
// cancelled early, since dispatches are expected to be short (per the
// non-cancellable worker-pool policy).
func (p *Pool) Dispatch(n, activeP int, body Body) error {
	if !p.busy.CAS(false, true) {
		return ErrReentrantDispatch
	}
	defer p.busy.Store(false)

	workers := activeP
	if workers > p.size {
		workers = p.size
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n && n > 0 {
		workers = n
	}
	if n == 0 {
		workers = 0
	}

	ranges := partitionRange(n, workers)

	g := new(errgroup.Group)
	for i, r := range ranges {
		i, r := i, r
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = errors.Errorf("sched: worker %d panicked: %v", i, rec)
				}
			}()
			return body(i, r.from, r.to)
		})
	}
	return g.Wait()
}

type intRange struct{ from, to int }

// partitionRange splits [0, n) into exactly `workers` contiguous ranges,
// distributing the remainder across the first ranges so every range's
// length differs from another's by at most one.
func partitionRange(n, workers int) []intRange {
	if workers == 0 {
		return nil
	}
	ranges := make([]intRange, workers)
	base := n / workers
	rem := n % workers
	from := 0
	for i := 0; i < workers; i++ {
		count := base
		if i < rem {
			count++
		}
		ranges[i] = intRange{from: from, to: from + count}
		from += count
	}
	return ranges
}

func (r intRange) String() string { return fmt.Sprintf("[%d,%d)", r.from, r.to) }
