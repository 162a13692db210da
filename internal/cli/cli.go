// Package cli wires the flag surface a build file's own main() uses to turn
// a populated task.Registry/graph.Graph into a runnable process: defines,
// concurrency, dry-run listing, directory change, and sync-output policy.
// None of this is part of the core orchestrator; it is the ambient surface
// the core's driver is consumed through.
package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pake/internal/defines"
	"pake/internal/driver"
	"pake/internal/graph"
	"pake/internal/pakeerr"
	"pake/internal/plog"
	"pake/internal/pool"
	"pake/internal/task"
)

// Config describes the fixed, build-file-supplied part of a run: the
// registered tasks, their graph, and which tasks run when none are named on
// the command line.
type Config struct {
	Registry     *task.Registry
	Graph        *graph.Graph
	DefaultTasks []string

	// Exe is the path used to re-invoke this same process for sub-builds;
	// empty means os.Args[0].
	Exe string
}

const envSyncOutput = "PAKE_SYNC_OUTPUT"

// Execute builds and runs the root command against osArgs (normally
// os.Args[1:]), returning the error that should determine the process exit
// code via pakeerr.ExitCode.
func Execute(cfg Config, osArgs []string) error {
	root := NewRootCommand(cfg)
	root.SetArgs(osArgs)
	return root.Execute()
}

// NewRootCommand builds the cobra command wired to cfg without running it,
// so callers (tests, or a build file wanting to compose pake's CLI with its
// own subcommands) can redirect output via SetOut before Execute().
func NewRootCommand(cfg Config) *cobra.Command {
	var (
		defineArgs  []string
		stdinDef    bool
		jobs        int
		dryRun      bool
		chdir       string
		listTasks   bool
		listTasksDoc bool
		syncOutput  string
		files       []string
		depth       int
		verbose     bool
	)

	root := &cobra.Command{
		Use:           "pake [tasks...]",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, cfg, runFlags{
				defineArgs:   defineArgs,
				stdinDefines: stdinDef,
				jobs:         jobs,
				dryRun:       dryRun,
				chdir:        chdir,
				listTasks:    listTasks,
				listTasksDoc: listTasksDoc,
				syncOutput:   syncOutput,
				files:        files,
				depth:        depth,
				verbose:      verbose,
			})
		},
	}

	flags := root.Flags()
	flags.StringArrayVarP(&defineArgs, "define", "D", nil, `define KEY=VALUE (repeatable)`)
	flags.BoolVar(&stdinDef, "stdin-defines", false, "read a literal mapping of defines from stdin")
	flags.IntVarP(&jobs, "jobs", "j", 1, "concurrency bound (>= 1)")
	flags.BoolVarP(&dryRun, "dry-run", "n", false, "list the tasks that would run, in order, without running them")
	flags.StringVarP(&chdir, "directory", "C", "", "change to DIR before discovering/running the build file")
	flags.BoolVarP(&listTasks, "list-tasks", "t", false, "list all task names")
	flags.BoolVarP(&listTasksDoc, "list-tasks-doc", "i", false, "list all task names with their documentation (use with -t)")
	flags.StringVar(&syncOutput, "sync-output", "", "override output-synchronization {true,false,1,0}")
	flags.StringArrayVarP(&files, "file", "f", nil, "build file that must exist (repeatable); the first is passed on to sub-builds, none is loaded or run")
	flags.IntVar(&depth, "depth", 0, "sub-build depth (set by the parent, not normally passed by hand)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug-level diagnostic logging")
	_ = flags.MarkHidden("depth")

	return root
}

type runFlags struct {
	defineArgs   []string
	stdinDefines bool
	jobs         int
	dryRun       bool
	chdir        string
	listTasks    bool
	listTasksDoc bool
	syncOutput   string
	files        []string
	depth        int
	verbose      bool
}

func run(cmd *cobra.Command, args []string, cfg Config, f runFlags) error {
	logger, err := newLogger(f.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if f.jobs < 1 {
		return pakeerr.BadArguments("-j must be >= 1, got %d", f.jobs)
	}

	if f.chdir != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "pake[%d]: Entering Directory %q\n", f.depth, f.chdir)
		if err := os.Chdir(f.chdir); err != nil {
			return pakeerr.BadArguments("cannot change directory to %q: %v", f.chdir, err)
		}
		defer fmt.Fprintf(cmd.OutOrStdout(), "pake[%d]: Exiting Directory %q\n", f.depth, f.chdir)
	}

	for _, file := range f.files {
		if _, statErr := os.Stat(file); statErr != nil {
			return pakeerr.BuildFileNotFound(file)
		}
	}
	buildFile := ""
	if len(f.files) > 0 {
		buildFile = f.files[0]
	}

	exports, err := resolveDefines(cmd.InOrStdin(), f.stdinDefines, f.defineArgs)
	if err != nil {
		return err
	}

	if f.listTasks || f.listTasksDoc {
		listTaskNames(cmd.OutOrStdout(), cfg.Registry, f.listTasksDoc)
		return nil
	}

	if cfg.Registry.Len() == 0 {
		return pakeerr.NoTasksDefined()
	}
	if err := cfg.Registry.Err(); err != nil {
		return err
	}

	sync, err := resolveSyncOutput(f.syncOutput)
	if err != nil {
		return err
	}

	if f.dryRun {
		return listDryRun(cmd.OutOrStdout(), cfg.Graph, args, cfg.DefaultTasks)
	}

	exe := cfg.Exe
	if exe == "" {
		exe = os.Args[0]
	}

	d := &driver.Driver{
		Graph:      cfg.Graph,
		Registry:   cfg.Registry,
		Pool:       pool.New(f.jobs),
		SyncOutput: sync,
		Exe:        exe,
		BuildFile:  buildFile,
		Depth:      f.depth,
		Exports:    exports,
		Stdout:     cmd.OutOrStdout(),
		Logger:     logger,
	}

	result, err := d.Run(cmd.Context(), args, cfg.DefaultTasks)
	if err != nil {
		return err
	}
	if result.Failures != nil {
		return result.Failures
	}
	if result.Terminate != nil {
		return result.Terminate
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if !verbose {
		return plog.NewNop(), nil
	}
	return plog.New(true)
}

func resolveDefines(stdin io.Reader, readStdin bool, literalArgs []string) (defines.Map, error) {
	base := defines.Map{}
	if readStdin {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading --stdin-defines: %w", err)
		}
		decoded, err := defines.DecodeYAML(data)
		if err != nil {
			return nil, err
		}
		base = decoded
	}
	overrides, err := defines.FromLiterals(literalArgs)
	if err != nil {
		return nil, err
	}
	return defines.Merge(base, overrides), nil
}

func resolveSyncOutput(flagValue string) (bool, error) {
	raw := flagValue
	if raw == "" {
		raw = os.Getenv(envSyncOutput)
	}
	if raw == "" {
		return true, nil
	}
	switch strings.ToLower(raw) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, pakeerr.BadArguments("--sync-output: invalid value %q", flagValue)
	}
}

func listTaskNames(w io.Writer, reg *task.Registry, withDoc bool) {
	names := reg.Names()
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	for _, name := range sorted {
		t, _ := reg.Lookup(name)
		if withDoc && t.Doc != "" {
			fmt.Fprintf(w, "%s\t%s\n", name, t.Doc)
			continue
		}
		fmt.Fprintln(w, name)
	}
}

func listDryRun(w io.Writer, g *graph.Graph, requested, defaults []string) error {
	roots := requested
	if len(roots) == 0 {
		roots = defaults
	}
	if len(roots) == 0 {
		return pakeerr.NoTasksSpecified()
	}
	for _, name := range roots {
		if !g.Has(name) {
			return pakeerr.UndefinedTask(name)
		}
	}
	order, err := g.TopologicalOrder(roots)
	if err != nil {
		return err
	}
	for _, name := range order {
		fmt.Fprintln(w, name)
	}
	return nil
}

