// Package subpake launches a nested instance of the orchestrator as a child
// process, exchanging exports over the child's standard input and relaying
// or spooling its output under the parent task's output discipline.
package subpake

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/google/uuid"

	"pake/internal/defines"
	"pake/internal/pakeerr"
)

// Sink mirrors procrun.Sink: an io.Writer guarded by a lock that may be a
// no-op. Defined independently so this package never imports procrun or
// taskctx.
type Sink interface {
	io.Writer
	Lock()
	Unlock()
}

// Options describes one nested invocation.
type Options struct {
	Exe       string // path to the orchestrator binary, os.Args[0] by convention
	BuildFile string // "-f" override, empty means the child's default discovery
	Dir       string // working directory override, empty means inherit

	Depth      int // the child's depth, parent depth + 1
	Exports    defines.Map
	Overrides  []string // "-D KEY=VALUE" arguments applied after exports on the child's command line
	SyncOutput bool     // inherited unless explicitly overridden by the caller

	CollectOutput bool
	Targets       []string // task names requested of the child, empty means its defaults
}

// Result is what the parent task observes after the child exits
// successfully (a non-zero exit instead raises pakeerr.SubBuildFailure).
type Result struct {
	ExitCode int
	Output   []byte
}

const bannerEnter = "*** enter subpake[%d]:\n"
const bannerExit = "*** exit subpake[%d]:\n"

// Run launches the child, writing the banner pair around its output.
func Run(task string, site pakeerr.CallSite, sink Sink, opts Options) (*Result, error) {
	exe := opts.Exe
	if exe == "" {
		exe = os.Args[0]
	}

	args := []string{"--depth", strconv.Itoa(opts.Depth), "--stdin-defines"}
	if opts.BuildFile != "" {
		args = append(args, "-f", opts.BuildFile)
	}
	args = append(args, "--sync-output="+strconv.FormatBool(opts.SyncOutput))
	args = append(args, opts.Overrides...)
	args = append(args, opts.Targets...)

	cmd := exec.Command(exe, args...)
	cmd.Dir = opts.Dir

	stdin, err := defines.EncodeYAML(opts.Exports)
	if err != nil {
		return nil, fmt.Errorf("subpake: encoding exports: %w", err)
	}
	cmd.Stdin = bytes.NewReader(stdin)

	if sink != nil {
		sink.Lock()
		fmt.Fprintf(sink, bannerEnter, opts.Depth)
		sink.Unlock()
	}

	var exitCode int
	var output []byte

	if opts.CollectOutput {
		spool, serr := os.CreateTemp("", "pake-subpake-"+uuid.NewString()+"-*.out")
		if serr != nil {
			return nil, fmt.Errorf("subpake: spool file: %w", serr)
		}
		defer os.Remove(spool.Name())
		defer spool.Close()
		cmd.Stdout = spool
		cmd.Stderr = spool

		runErr := cmd.Run()
		exitCode, err = exitCodeOf(runErr)
		if err != nil {
			return nil, err
		}

		if _, serr := spool.Seek(0, io.SeekStart); serr != nil {
			return nil, fmt.Errorf("subpake: rewind spool: %w", serr)
		}
		buf, rerr := io.ReadAll(spool)
		if rerr != nil {
			return nil, fmt.Errorf("subpake: read spool: %w", rerr)
		}
		output = buf
		if sink != nil {
			sink.Lock()
			_, werr := sink.Write(buf)
			sink.Unlock()
			if werr != nil {
				return nil, werr
			}
		}
	} else {
		var captured bytes.Buffer
		if sink != nil {
			cmd.Stdout = io.MultiWriter(&captured, lockedWriter{sink})
		} else {
			cmd.Stdout = &captured
		}
		cmd.Stderr = cmd.Stdout

		runErr := cmd.Run()
		exitCode, err = exitCodeOf(runErr)
		if err != nil {
			return nil, err
		}
		output = captured.Bytes()
	}

	if sink != nil {
		sink.Lock()
		fmt.Fprintf(sink, bannerExit, opts.Depth)
		sink.Unlock()
	}

	if exitCode != 0 {
		return nil, &pakeerr.SubBuildFailure{
			Task:     task,
			Site:     site,
			Command:  cmd.Args,
			ExitCode: exitCode,
			Output:   output,
		}
	}
	return &Result{ExitCode: exitCode, Output: output}, nil
}

func exitCodeOf(runErr error) (int, error) {
	if runErr == nil {
		return 0, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return 0, fmt.Errorf("subpake: %w", runErr)
}

type lockedWriter struct{ s Sink }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.s.Lock()
	defer w.s.Unlock()
	return w.s.Write(p)
}
