package matrix

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Invocation describes a single compiler run.
type Invocation struct {
	Job string
	// Dir is the working directory, usually the workspace root.
	Dir string
	// Env is the complete environment of the process in KEY=value form.
	Env []string
	// Argv[0] is the program; it is looked up on Env's PATH unless it's an absolute path.
	Argv []string
	// Output receives stdout and stderr unmodified.
	Output io.Writer
}

// CommandLine renders the invocation as a shell command line.
func (i Invocation) CommandLine() string {
	buffer := strings.Builder{}
	printer := syntax.NewPrinter(syntax.Minify(true))
	err := printer.Print(&buffer, callStmt(i.Argv))
	if err != nil {
		return strings.Join(i.Argv, " ")
	}

	return buffer.String()
}

// Executor runs invocations. It returns the process' exit code; a non-nil error means
// the process could not be run at all or was interrupted.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) (int, error)
}

// ShellExecutor runs invocations through the embedded shell interpreter. Processes that
// are still running when the context is cancelled get KillTimeout to exit after being
// interrupted.
type ShellExecutor struct {
	KillTimeout time.Duration
}

func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{KillTimeout: 5 * time.Second}
}

func (e *ShellExecutor) Execute(ctx context.Context, inv Invocation) (int, error) {
	if len(inv.Argv) == 0 {
		return 0, eris.New("empty command")
	}

	output := inv.Output
	if output == nil {
		output = io.Discard
	}

	runner, err := interp.New(
		interp.Dir(inv.Dir),
		interp.Env(expand.ListEnviron(inv.Env...)),
		interp.ExecHandler(interp.DefaultExecHandler(e.KillTimeout)),
		interp.StdIO(nil, output, output),
	)
	if err != nil {
		return 0, eris.Wrap(err, "failed to initialize runner")
	}

	err = runner.Run(ctx, callStmt(inv.Argv))
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	if err != nil {
		if status, ok := interp.IsExitStatus(err); ok {
			return int(status), nil
		}
		return 0, eris.Wrapf(err, "failed to run %s", inv.Argv[0])
	}

	return 0, nil
}

// callStmt builds a simple command from argv. Every argument is a single quoted word so
// nothing is expanded.
func callStmt(argv []string) *syntax.Stmt {
	call := &syntax.CallExpr{}
	for _, arg := range argv {
		call.Args = append(call.Args, &syntax.Word{
			Parts: []syntax.WordPart{&syntax.SglQuoted{Value: arg}},
		})
	}

	return &syntax.Stmt{Cmd: call}
}
