// Command pake is both the orchestrator's own build driver and, in its
// library form, the pattern any build file follows: construct a
// task.Registry and graph.Graph in plain Go, then hand them to cli.Execute.
//
// This build file is for the orchestrator's own module: gofmt/vet/test/build
// as a small dependency chain, demonstrating the pattern end to end rather
// than loading some other file at runtime.
package main

import (
	"fmt"
	"os"

	"pake/internal/cli"
	"pake/internal/graph"
	"pake/internal/pakeerr"
	"pake/internal/task"
	"pake/internal/taskctx"
)

func main() {
	reg := task.NewRegistry()
	g := graph.New()

	register := func(t task.Task) {
		g.AddNode(t.Name, t.Dependencies)
		if err := reg.Add(t); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(pakeerr.ExitCode(err))
		}
	}

	register(task.Task{
		Name: "fmt",
		Doc:  "gofmt every tracked package",
		Body: func(ctx *taskctx.Context) error {
			_, err := ctx.CheckCall(taskctx.CallOptions{}, "gofmt", "-l", "-w", ".")
			return err
		},
	})

	register(task.Task{
		Name:         "vet",
		Doc:          "go vet the module",
		Dependencies: []string{"fmt"},
		Body: func(ctx *taskctx.Context) error {
			_, err := ctx.CheckCall(taskctx.CallOptions{}, "go", "vet", "./...")
			return err
		},
	})

	register(task.Task{
		Name:         "test",
		Doc:          "run the module's test suite",
		Dependencies: []string{"vet"},
		Body: func(ctx *taskctx.Context) error {
			_, err := ctx.CheckCall(taskctx.CallOptions{}, "go", "test", "./...")
			return err
		},
	})

	register(task.Task{
		Name:         "build",
		Doc:          "build the pake binary",
		Dependencies: []string{"vet"},
		Inputs:       []task.Pattern{task.Lit("go.mod"), task.Lit("cmd"), task.Lit("internal")},
		Outputs:      []task.Pattern{task.Lit("pake")},
		Body: func(ctx *taskctx.Context) error {
			_, err := ctx.CheckCall(taskctx.CallOptions{}, "go", "build", "-o", "pake", "./cmd/pake")
			return err
		},
	})

	register(task.Task{
		Name:         "all",
		Doc:          "test and build",
		Dependencies: []string{"test", "build"},
		Body:         func(ctx *taskctx.Context) error { return nil },
	})

	cfg := cli.Config{
		Registry:     reg,
		Graph:        g,
		DefaultTasks: []string{"all"},
	}

	err := cli.Execute(cfg, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(pakeerr.ExitCode(err))
}
