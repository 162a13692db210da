// Package procrun launches subprocesses on behalf of a running task body,
// relaying or spooling their combined output under the task's output
// discipline and translating a non-zero exit into pakeerr.SubprocessFailure.
package procrun

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/google/uuid"

	"pake/internal/pakeerr"
)

// Sink is the task-owned output destination: an io.Writer guarded by a lock
// that may be a no-op when output synchronization is disabled. taskctx.Context
// satisfies this interface without either package importing the other.
type Sink interface {
	io.Writer
	Lock()
	Unlock()
}

// Options controls one invocation.
type Options struct {
	Dir  string
	Env  []string // nil means inherit os.Environ()
	Args []string // flattened argument vector, Args[0] is the program

	Silent        bool // suppress relaying to Sink; spooled output is still kept for error reporting
	PrintCmd      bool // emit the command line to Sink before running; defaults true by caller convention
	IgnoreErrors  bool // a non-zero exit returns the code instead of an error
	CollectOutput bool // spool to a temp file, then copy into Sink in bounded chunks under the lock
}

const copyChunkSize = 32 * 1024

// Run launches Options.Args, returning the exit code and (when collect/check
// modes need it) the captured combined output. task and site identify the
// caller for SubprocessFailure reporting.
func Run(task string, site pakeerr.CallSite, sink Sink, opts Options) (exitCode int, output []byte, err error) {
	if len(opts.Args) == 0 {
		return 0, nil, fmt.Errorf("procrun: empty command")
	}

	printCmd := opts.PrintCmd
	if printCmd && sink != nil {
		sink.Lock()
		fmt.Fprintln(sink, "+", joinArgs(opts.Args))
		sink.Unlock()
	}

	cmd := exec.Command(opts.Args[0], opts.Args[1:]...)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}

	var captured *bytes.Buffer
	var spool *os.File

	switch {
	case opts.CollectOutput:
		spool, err = os.CreateTemp("", "pake-"+uuid.NewString()+"-*.out")
		if err != nil {
			return 0, nil, fmt.Errorf("procrun: spool file: %w", err)
		}
		defer os.Remove(spool.Name())
		defer spool.Close()
		cmd.Stdout = spool
		cmd.Stderr = spool
	case opts.Silent:
		captured = &bytes.Buffer{}
		cmd.Stdout = captured
		cmd.Stderr = captured
	default:
		captured = &bytes.Buffer{}
		if sink != nil {
			cmd.Stdout = io.MultiWriter(captured, lockedWriter{sink})
			cmd.Stderr = cmd.Stdout
		} else {
			cmd.Stdout = captured
			cmd.Stderr = captured
		}
	}

	runErr := cmd.Run()
	code := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			return 0, nil, fmt.Errorf("procrun: %w", runErr)
		}
	}

	if spool != nil {
		if _, serr := spool.Seek(0, io.SeekStart); serr != nil {
			return code, nil, fmt.Errorf("procrun: rewind spool: %w", serr)
		}
		buf, rerr := io.ReadAll(spool)
		if rerr != nil {
			return code, nil, fmt.Errorf("procrun: read spool: %w", rerr)
		}
		output = buf
		if !opts.Silent && sink != nil {
			if err := copyLocked(sink, buf); err != nil {
				return code, output, err
			}
		}
	} else if captured != nil {
		output = captured.Bytes()
	}

	if code != 0 && !opts.IgnoreErrors {
		return code, output, &pakeerr.SubprocessFailure{
			Task:     task,
			Site:     site,
			Command:  opts.Args,
			ExitCode: code,
			Output:   output,
		}
	}
	return code, output, nil
}

// copyLocked copies buf into sink in bounded chunks under a single lock
// acquisition, decoupling the lock hold time from process runtime: the
// process has already exited by the time this runs.
func copyLocked(sink Sink, buf []byte) error {
	sink.Lock()
	defer sink.Unlock()
	for len(buf) > 0 {
		n := copyChunkSize
		if n > len(buf) {
			n = len(buf)
		}
		if _, err := sink.Write(buf[:n]); err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// lockedWriter adapts a Sink so it can sit behind io.MultiWriter: each Write
// call acquires and releases the lock around itself, which keeps streaming
// output line-by-line without serializing the whole process under one hold.
type lockedWriter struct{ s Sink }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.s.Lock()
	defer w.s.Unlock()
	return w.s.Write(p)
}

func joinArgs(args []string) string {
	var b bytes.Buffer
	for i, a := range args {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(a)
	}
	return b.String()
}
