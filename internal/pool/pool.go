// Package pool implements the bounded worker pool shared by the driver and
// by task bodies that submit nested work (multitask). Submission is
// admission-controlled by a weighted semaphore rather than a fixed worker
// goroutine count, so a task body calling back into the same Pool from
// inside a running job can submit further jobs without deadlocking on a
// full channel: each Submit blocks only on semaphore capacity, never on a
// worker being "free" in the channel sense.
//
// A job already running under the pool occupies one of its N permits for
// as long as it runs, including while it is blocked waiting on nested work
// it submitted. If that nested work acquired its own permits from the same
// semaphore, N busy top-level jobs blocked in a multitask scope could starve
// every permit without any of their children ever being admitted — a
// reentrant deadlock. Submit avoids this by tagging the context passed to a
// running job's function: nested Submit calls made with that tagged context
// run their function on a fresh goroutine immediately, without acquiring a
// further permit, since the work is logically part of the permit its parent
// already holds.
package pool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

type reentrantKey struct{}

// Pool bounds concurrent execution to at most N simultaneous jobs. With
// N == 1 one job runs at a time: each Submit waits until the previous job
// has finished. There is no separate code path for serial mode, it falls out
// of the semaphore weight, so the job still runs on its own goroutine and
// Submit returns without waiting for it; Run is the form that waits.
type Pool struct {
	sem *semaphore.Weighted
	n   int64

	mu      sync.Mutex
	running int
}

// New returns a Pool admitting at most n concurrent jobs. n must be >= 1.
func New(n int) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(n)), n: int64(n)}
}

// Size reports the pool's configured concurrency bound.
func (p *Pool) Size() int { return int(p.n) }

// Handle represents one submitted job's future completion.
type Handle struct {
	done chan struct{}
	err  error
}

// Wait blocks until the job completes and returns the error its function
// returned (or the error a panic in it was converted to).
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Done reports whether the job has completed, without blocking.
func (h *Handle) Done() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Submit admits fn for execution as soon as a slot is available under ctx,
// running it on its own goroutine, and returns a Handle to observe
// completion. Submit itself blocks on admission (not completion): with
// n == 1 and one job already running, a second Submit blocks until the
// first finishes, then runs the second on a fresh goroutine — behaviorally
// synchronous from the caller's perspective but still structured as the
// same submit/run/release path as any other concurrency level.
//
// If ctx was itself handed to a job this Pool is currently running (i.e. it
// carries the tag Submit attaches below), fn runs on a new goroutine without
// acquiring another permit, so nested submissions from inside a running job
// can never contend with — or exhaust — the same permits their parent is
// holding.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context) error) (*Handle, error) {
	h := &Handle{done: make(chan struct{})}

	if reentrant, _ := ctx.Value(reentrantKey{}).(bool); reentrant {
		p.mu.Lock()
		p.running++
		p.mu.Unlock()
		go func() {
			defer func() {
				if r := recover(); r != nil {
					h.err = fmt.Errorf("pool: job panicked: %v", r)
				}
				p.mu.Lock()
				p.running--
				p.mu.Unlock()
				close(h.done)
			}()
			h.err = fn(ctx)
		}()
		return h, nil
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.running++
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.err = fmt.Errorf("pool: job panicked: %v", r)
			}
			p.mu.Lock()
			p.running--
			p.mu.Unlock()
			p.sem.Release(1)
			close(h.done)
		}()
		h.err = fn(context.WithValue(ctx, reentrantKey{}, true))
	}()
	return h, nil
}

// Run is a convenience wrapper that submits fn and waits for it inline. A
// task body that wants ordinary sequential semantics for a sub-step can use
// this without holding on to a Handle.
func (p *Pool) Run(ctx context.Context, fn func(context.Context) error) error {
	h, err := p.Submit(ctx, fn)
	if err != nil {
		return err
	}
	return h.Wait()
}

// Running reports the number of jobs currently executing (for diagnostics).
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
