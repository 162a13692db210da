// Package taskctx implements the public surface a running task body sees:
// read-only views of its classified inputs/outputs, the synchronized output
// buffer, subprocess and sub-build invocation, and a scoped sub-executor for
// fanning work out to the shared pool from inside a task.
package taskctx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"pake/internal/defines"
	"pake/internal/fileset"
	"pake/internal/pakeerr"
	"pake/internal/pool"
	"pake/internal/procrun"
	"pake/internal/subpake"
)

// Shared is the configuration every Context for a single run shares:
// the pool, the output-synchronization policy, and the exports/exe/depth
// needed to launch a correctly-configured sub-build.
type Shared struct {
	Pool       *pool.Pool
	SyncOutput bool

	Exe       string
	BuildFile string
	Depth     int
	Exports   defines.Map
}

// Context is the per-task facade passed to a task's Body.
type Context struct {
	name string

	classification *fileset.Classification
	dependencyOuts []string

	shared *Shared

	mu  sync.Mutex
	buf *bytes.Buffer // nil when SyncOutput is false: writes go straight to stdout

	// execCtx is the context the pool handed this task's body when it admitted
	// it, tagged so MultiTask's submissions are recognized as nested work by
	// pool.Submit (see BindExecContext).
	execCtx context.Context
}

// New builds the Context a single task execution sees.
func New(name string, classification *fileset.Classification, dependencyOutputs []string, shared *Shared) *Context {
	c := &Context{
		name:           name,
		classification: classification,
		dependencyOuts: dependencyOutputs,
		shared:         shared,
	}
	if shared.SyncOutput {
		c.buf = &bytes.Buffer{}
	}
	return c
}

// BindExecContext records the context the pool handed this task's body, so
// a later MultiTask submits its units through that same (tagged) context
// rather than a bare context.Background(). The driver calls this from inside
// the function it hands to Pool.Run, before invoking the task body.
func (c *Context) BindExecContext(ctx context.Context) {
	c.execCtx = ctx
}

// Name is the read-only task name view.
func (c *Context) Name() string { return c.name }

// Inputs is the read-only concrete input list view.
func (c *Context) Inputs() []string { return c.classification.ConcreteInputs }

// Outputs is the read-only concrete output list view.
func (c *Context) Outputs() []string { return c.classification.ConcreteOutputs }

// OutdatedInputs is the read-only outdated-input subset view.
func (c *Context) OutdatedInputs() []string { return c.classification.OutdatedInputs }

// OutdatedOutputs is the read-only outdated-output subset view.
func (c *Context) OutdatedOutputs() []string { return c.classification.OutdatedOutputs }

// OutdatedPairs is the read-only outdated (input, output) pairing view.
func (c *Context) OutdatedPairs() []fileset.Pair { return c.classification.OutdatedPairs }

// DependencyOutputs is the read-only view of every concrete output produced
// by this task's declared dependencies, in dependency order.
func (c *Context) DependencyOutputs() []string { return c.dependencyOuts }

// Define looks up key in the exports inherited from the command line,
// --stdin-defines, and any parent build (child-local -D wins over inherited,
// per the merge order established before the run started).
func (c *Context) Define(key string) (defines.Value, bool) {
	return c.shared.Exports.Lookup(key)
}

// DefineOr is Define with a fallback for an undefined key.
func (c *Context) DefineOr(key string, fallback defines.Value) defines.Value {
	return c.shared.Exports.LookupOr(key, fallback)
}

// Lock is the io_lock entry point. A no-op when output synchronization is
// disabled, matching the "acquiring it is a no-op" contract.
func (c *Context) Lock() {
	if c.buf == nil {
		return
	}
	c.mu.Lock()
}

// Unlock releases io_lock; a no-op under the same condition as Lock.
func (c *Context) Unlock() {
	if c.buf == nil {
		return
	}
	c.mu.Unlock()
}

// Write appends to the per-task output buffer, or writes directly to process
// stdout when synchronization is disabled. It does not itself acquire
// io_lock: callers that need atomicity across multiple writes must bracket
// them with Lock/Unlock.
func (c *Context) Write(p []byte) (int, error) {
	if c.buf == nil {
		return os.Stdout.Write(p)
	}
	return c.buf.Write(p)
}

// Print formats args with default formatting (space-separated, newline
// appended, matching fmt.Fprintln) under io_lock.
func (c *Context) Print(args ...any) {
	c.Lock()
	defer c.Unlock()
	fmt.Fprintln(c, args...)
}

// Printf formats and writes under io_lock, no trailing newline added beyond
// what format specifies.
func (c *Context) Printf(format string, args ...any) {
	c.Lock()
	defer c.Unlock()
	fmt.Fprintf(c, format, args...)
}

// Flush returns the accumulated buffer contents and resets it. The driver
// calls it right after the task body returns and hands the bytes to its
// ordered writer, which puts them on the real stdout in topological order.
// Returns nil when synchronization is disabled, since output already went
// straight to stdout.
func (c *Context) Flush() []byte {
	if c.buf == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]byte(nil), c.buf.Bytes()...)
	c.buf.Reset()
	return out
}

func callSite(skip int) pakeerr.CallSite {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return pakeerr.CallSite{}
	}
	fn := runtime.FuncForPC(pc)
	name := ""
	if fn != nil {
		name = fn.Name()
	}
	return pakeerr.CallSite{File: file, Function: name, Line: line}
}

// CallOptions mirrors procrun.Options minus the fields the Context itself
// supplies (task name, site, sink). PrintCmd is a pointer so the zero value
// (nil) means "use the documented default of true" rather than false.
type CallOptions struct {
	Dir           string
	Env           []string
	Silent        bool
	PrintCmd      *bool
	IgnoreErrors  bool
	CollectOutput bool
}

func flattenArgs(args []any) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case string:
			out = append(out, v)
		case []string:
			out = append(out, v...)
		default:
			out = append(out, flattenReflect(v)...)
		}
	}
	return out
}

// Call launches cmd (a flattened argument vector, see flattenArgs) and
// streams or spools its combined output per opts, returning its exit code.
// Non-zero exit raises pakeerr.SubprocessFailure unless IgnoreErrors is set.
func (c *Context) Call(opts CallOptions, cmd ...any) (int, error) {
	site := callSite(2)
	printCmd := true
	if opts.PrintCmd != nil {
		printCmd = *opts.PrintCmd
	}
	code, _, err := procrun.Run(c.name, site, c, procrun.Options{
		Dir:           opts.Dir,
		Env:           opts.Env,
		Args:          flattenArgs(cmd),
		Silent:        opts.Silent,
		PrintCmd:      printCmd,
		IgnoreErrors:  opts.IgnoreErrors,
		CollectOutput: opts.CollectOutput,
	})
	return code, err
}

// CheckCall runs cmd and returns its exit code, raising SubprocessFailure on
// a non-zero exit regardless of IgnoreErrors (the "check" variants always
// check).
func (c *Context) CheckCall(opts CallOptions, cmd ...any) (int, error) {
	// Captured here rather than via Call, so the reported site is the task
	// body's own call and not this wrapper.
	site := callSite(2)
	printCmd := true
	if opts.PrintCmd != nil {
		printCmd = *opts.PrintCmd
	}
	code, _, err := procrun.Run(c.name, site, c, procrun.Options{
		Dir:           opts.Dir,
		Env:           opts.Env,
		Args:          flattenArgs(cmd),
		Silent:        opts.Silent,
		PrintCmd:      printCmd,
		IgnoreErrors:  false,
		CollectOutput: opts.CollectOutput,
	})
	return code, err
}

// CheckOutput runs cmd and returns its captured bytes; it never streams to
// the task buffer regardless of CollectOutput.
func (c *Context) CheckOutput(opts CallOptions, cmd ...any) ([]byte, error) {
	site := callSite(2)
	opts.Silent = true
	_, output, err := procrun.Run(c.name, site, c, procrun.Options{
		Dir:          opts.Dir,
		Env:          opts.Env,
		Args:         flattenArgs(cmd),
		Silent:       true,
		PrintCmd:     false,
		IgnoreErrors: false,
	})
	return output, err
}

// SubpakeOptions mirrors subpake.Options minus what the Context supplies
// (exe, build file, depth, exports are derived from Shared unless
// overridden here).
type SubpakeOptions struct {
	BuildFile     string
	Dir           string
	SyncOverride  *bool
	CollectOutput bool
	Overrides     []string
	Targets       []string
}

// Subpake launches a nested orchestrator instance, see subpake.Run.
func (c *Context) Subpake(opts SubpakeOptions) (*subpake.Result, error) {
	site := callSite(2)
	syncOutput := c.shared.SyncOutput
	if opts.SyncOverride != nil {
		syncOutput = *opts.SyncOverride
	}
	buildFile := opts.BuildFile
	if buildFile == "" {
		buildFile = c.shared.BuildFile
	}
	return subpake.Run(c.name, site, c, subpake.Options{
		Exe:           c.shared.Exe,
		BuildFile:     buildFile,
		Dir:           opts.Dir,
		Depth:         c.shared.Depth + 1,
		Exports:       c.shared.Exports,
		Overrides:     opts.Overrides,
		SyncOutput:    syncOutput,
		CollectOutput: opts.CollectOutput,
		Targets:       opts.Targets,
	})
}

// Terminate requests an early, explicit process exit with code, surfaced to
// the driver as a pakeerr.Terminate.
func (c *Context) Terminate(code int) error {
	return &pakeerr.Terminate{Code: code}
}

// Scope is the handle returned by MultiTask: a view onto the shared pool
// bounded to this task's submissions, so the scope's end can wait for
// exactly the units it submitted and propagate the first failure in
// submission order.
type Scope struct {
	pool    *pool.Pool
	ctx     context.Context
	mu      sync.Mutex
	handles []*pool.Handle
}

// MultiTask returns a scoped sub-executor delegating to the same shared
// pool as the rest of the run. Units submitted through it carry this task's
// own execution context, so the pool recognizes them as nested work (see
// pool.Submit) and starts each on its own goroutine without taking a permit:
// they are not counted against the pool's bound N, and all of a scope's
// units may run at once.
func (c *Context) MultiTask() *Scope {
	ctx := c.execCtx
	if ctx == nil {
		ctx = context.Background()
	}
	return &Scope{pool: c.shared.Pool, ctx: ctx}
}

// Go submits fn to the shared pool from within the scope.
func (s *Scope) Go(fn func() error) error {
	h, err := s.pool.Submit(s.ctx, func(context.Context) error { return fn() })
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	return nil
}

// Wait blocks for every unit submitted through this scope and returns the
// first failure in submission order. Later units are not cancelled; their
// results, if also errors, are discarded per the "first exception wins"
// contract.
func (s *Scope) Wait() error {
	s.mu.Lock()
	handles := append([]*pool.Handle(nil), s.handles...)
	s.mu.Unlock()

	var first error
	for _, h := range handles {
		if err := h.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var _ io.Writer = (*Context)(nil)
