// Package driver implements the scheduler: resolving requested task names
// against the dependency graph, dispatching ready nodes onto the shared
// worker pool, and flushing each task's output buffer to the real process
// stdout in topological order regardless of completion order.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"pake/internal/defines"
	"pake/internal/fileset"
	"pake/internal/graph"
	"pake/internal/pakeerr"
	"pake/internal/pool"
	"pake/internal/task"
	"pake/internal/taskctx"
)

// Driver ties together a built registry/graph, a worker pool, and the
// output/exports configuration for a single run (top-level or nested).
type Driver struct {
	Graph    *graph.Graph
	Registry *task.Registry
	Pool     *pool.Pool

	SyncOutput bool
	Exe        string
	BuildFile  string
	Depth      int
	Exports    defines.Map

	Stdout io.Writer // defaults to os.Stdout
	Logger *zap.Logger
}

// Result is what a completed run reports back to the CLI layer.
type Result struct {
	Order     []string // the reachable topological order that was scheduled
	Failures  *pakeerr.TaskAggregate
	Terminate *pakeerr.Terminate // set if a task body requested early termination
}

const bannerFmt = "===== Executing Task: \"%s\"\n"

// Run resolves requested against the registry/graph, dispatches every
// reachable node, and returns once the run has quiesced (every already
// in-flight node has completed, even if an earlier one failed).
func (d *Driver) Run(ctx context.Context, requested, defaults []string) (*Result, error) {
	stdout := d.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	roots := requested
	if len(roots) == 0 {
		roots = defaults
	}
	if len(roots) == 0 {
		return nil, pakeerr.NoTasksSpecified()
	}
	for _, name := range roots {
		if !d.Registry.Has(name) {
			return nil, pakeerr.UndefinedTask(name)
		}
	}

	order, err := d.Graph.TopologicalOrder(roots)
	if err != nil {
		return nil, err
	}

	// At N == 1 the pool only ever has one permit to hand out, so the order
	// every goroutine below *attempts* to acquire it in would otherwise be
	// decided by the Go scheduler, not by topological/registration order.
	// Dispatching directly on the calling goroutine, strictly in order,
	// keeps the one-task-at-a-time case deterministic (Testable Property #1)
	// without a second code path for the actual running of a task.
	if d.Pool.Size() == 1 {
		return d.runSequential(order, stdout, logger)
	}

	doneCh := make(map[string]chan struct{}, len(order))
	flushCh := make(map[string]chan []byte, len(order))
	for _, name := range order {
		doneCh[name] = make(chan struct{})
		flushCh[name] = make(chan []byte, 1)
	}

	var (
		mu         sync.Mutex
		failures   []*pakeerr.TaskFailure
		concreteOf = make(map[string][]string, len(order))
	)
	var failing atomic.Bool
	var terminate atomic.Pointer[pakeerr.Terminate]

	var wg sync.WaitGroup
	for _, name := range order {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(doneCh[name])

			depFailed := false
			var depOutputs []string
			for _, dep := range d.Graph.ImmediateDependencies(name) {
				ch, ok := doneCh[dep]
				if !ok {
					continue // dependency outside the reachable subgraph: already satisfied
				}
				<-ch
				mu.Lock()
				outs, failed := concreteOf[dep], dependencyFailed(failures, dep)
				mu.Unlock()
				depOutputs = append(depOutputs, outs...)
				if failed {
					depFailed = true
				}
			}

			if depFailed || failing.Load() {
				flushCh[name] <- nil
				return
			}

			t, _ := d.Registry.Lookup(name)
			payload, runErr := d.runOne(t, depOutputs, &concreteOf, &mu, logger)
			flushCh[name] <- payload

			if runErr != nil {
				var term *pakeerr.Terminate
				if errors.As(runErr, &term) {
					terminate.Store(term)
				}
				mu.Lock()
				failures = append(failures, &pakeerr.TaskFailure{Task: name, Err: runErr})
				mu.Unlock()
				failing.Store(true)
			}
		}()
	}

	var flushMu sync.Mutex
	for _, name := range order {
		payload := <-flushCh[name]
		if len(payload) == 0 {
			continue
		}
		flushMu.Lock()
		_, _ = stdout.Write(payload)
		flushMu.Unlock()
	}

	wg.Wait()

	result := &Result{Order: order}
	if len(failures) > 0 {
		// Failures were appended in completion order, which under N > 1 is
		// not registration order. §7 requires the reported exit code to be
		// that of the earliest-registered failing task, so reorder before
		// wrapping rather than trusting append order.
		sortByOrder(failures, d.Registry.Names())
		result.Failures = &pakeerr.TaskAggregate{Failures: failures}
	}
	if t := terminate.Load(); t != nil {
		result.Terminate = t
	}
	return result, nil
}

// sortByOrder reorders failures in place so they appear in the same
// relative order as their task names occur in order (the caller passes the
// registry's registration order).
func sortByOrder(failures []*pakeerr.TaskFailure, order []string) {
	index := make(map[string]int, len(order))
	for i, name := range order {
		index[name] = i
	}
	sort.Slice(failures, func(i, j int) bool {
		return index[failures[i].Task] < index[failures[j].Task]
	})
}

// runSequential dispatches order strictly in sequence on the calling
// goroutine. Used when the pool's bound is 1, where the concurrent
// goroutine-per-task dispatch above cannot guarantee registration-order
// execution (every ready task would otherwise race the Go scheduler for the
// pool's single permit).
func (d *Driver) runSequential(order []string, stdout io.Writer, logger *zap.Logger) (*Result, error) {
	var (
		failures   []*pakeerr.TaskFailure
		failed     = make(map[string]bool, len(order))
		concreteOf = make(map[string][]string, len(order))
		terminate  *pakeerr.Terminate
		failing    bool
	)

	var mu sync.Mutex
	for _, name := range order {
		depFailed := false
		var depOutputs []string
		for _, dep := range d.Graph.ImmediateDependencies(name) {
			outs, known := concreteOf[dep]
			if !known && !failed[dep] {
				continue // dependency outside the reachable subgraph: already satisfied
			}
			depOutputs = append(depOutputs, outs...)
			if failed[dep] {
				depFailed = true
			}
		}

		if depFailed || failing {
			continue
		}

		t, _ := d.Registry.Lookup(name)
		payload, runErr := d.runOne(t, depOutputs, &concreteOf, &mu, logger)
		if len(payload) > 0 {
			_, _ = stdout.Write(payload)
		}

		if runErr != nil {
			var term *pakeerr.Terminate
			if errors.As(runErr, &term) {
				terminate = term
			}
			failures = append(failures, &pakeerr.TaskFailure{Task: name, Err: runErr})
			failed[name] = true
			failing = true
		}
	}

	result := &Result{Order: order}
	if len(failures) > 0 {
		result.Failures = &pakeerr.TaskAggregate{Failures: failures}
	}
	if terminate != nil {
		result.Terminate = terminate
	}
	return result, nil
}

// dependencyFailed reports whether name appears among the recorded
// failures, called under mu already held by the caller.
func dependencyFailed(failures []*pakeerr.TaskFailure, name string) bool {
	for _, f := range failures {
		if f.Task == name {
			return true
		}
	}
	return false
}

// runOne classifies freshness for t, runs its body if outdated, and returns
// the bytes (banner + buffer) to flush to stdout, or nil when nothing
// should be printed (skipped, or output already streamed directly because
// synchronization is disabled).
func (d *Driver) runOne(t *task.Task, depOutputs []string, concreteOf *map[string][]string, mu *sync.Mutex, logger *zap.Logger) ([]byte, error) {
	inputPatterns := make([]fileset.Pattern, len(t.Inputs))
	for i, p := range t.Inputs {
		inputPatterns[i] = fileset.Pattern{Raw: p.Raw, Derived: p.Derived}
	}
	outputPatterns := make([]fileset.Pattern, len(t.Outputs))
	for i, p := range t.Outputs {
		outputPatterns[i] = fileset.Pattern{Raw: p.Raw, Derived: p.Derived}
	}

	classification, err := fileset.Classify(t.Name, inputPatterns, outputPatterns)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	(*concreteOf)[t.Name] = classification.ConcreteOutputs
	mu.Unlock()

	if !classification.Outdated {
		logger.Debug("skipping up to date task", zap.String("task", t.Name))
		return nil, nil
	}

	shared := &taskctx.Shared{
		Pool:       d.Pool,
		SyncOutput: d.SyncOutput,
		Exe:        d.Exe,
		BuildFile:  d.BuildFile,
		Depth:      d.Depth,
		Exports:    d.Exports,
	}
	tc := taskctx.New(t.Name, classification, depOutputs, shared)

	if !d.SyncOutput {
		fmt.Fprintf(os.Stdout, bannerFmt, t.Name)
	}

	var runErr error
	if t.Body != nil {
		err := d.Pool.Run(context.Background(), func(ctx context.Context) error {
			tc.BindExecContext(ctx)
			return t.Body(tc)
		})
		if err != nil {
			runErr = &pakeerr.TaskFailure{Task: t.Name, Err: err}
		}
	}

	buf := tc.Flush()
	if !d.SyncOutput {
		return nil, runErr
	}

	var out []byte
	out = append(out, []byte(fmt.Sprintf(bannerFmt, t.Name))...)
	out = append(out, buf...)
	return out, runErr
}
