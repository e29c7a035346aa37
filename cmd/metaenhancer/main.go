package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/metaenhancer/metaenhancer/internal/app"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/redact"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// exitError carries the process exit code: 2 for configuration problems,
// 1 for failed runs.
type exitError struct {
	code   int
	prefix string
	err    error
}

func (e *exitError) Error() string { return e.prefix + ": " + e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func configError(err error) error { return &exitError{code: 2, prefix: "config error", err: err} }

func runError(err error) error {
	if errors.Is(err, app.ErrConfig) {
		return configError(err)
	}
	return &exitError{code: 1, prefix: "run failed", err: err}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		_, _ = fmt.Fprintln(stderr, redact.Secrets(ee.Error()))
		return ee.code
	}
	// flag and argument errors from cobra
	_, _ = fmt.Fprintf(stderr, "%s\nRun 'metaenhancer --help' for usage.\n", redact.Secrets(err.Error()))
	return 2
}
