// Package gitcmd runs the git binary as an external process.
// Every invocation is bound to a context: cancellation or an expired deadline kills the process.
package gitcmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/jmgilman/go/exec"
)

// ExecError describes a failed git invocation.
type ExecError struct {
	Args     []string // arguments passed to the binary, without the binary itself
	Dir      string
	ExitCode int // -1 when the process did not exit normally
	Stderr   string
	Err      error
}

// Error implements error.
func (e *ExecError) Error() string {
	msg := fmt.Sprintf("git %s failed with exit code %d", strings.Join(e.Args, " "), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error. For killed processes this is the context error.
func (e *ExecError) Unwrap() error { return e.Err }

// StderrContains reports whether err is an *ExecError whose stderr contains any of substrs.
func StderrContains(err error, substrs ...string) bool {
	var ee *ExecError
	if !errors.As(err, &ee) {
		return false
	}
	for _, s := range substrs {
		if strings.Contains(ee.Stderr, s) {
			return true
		}
	}
	return false
}

// Runner invokes git. The zero value is not usable; use New.
type Runner struct {
	wrapper *exec.CommandWrapper
	logger  *slog.Logger
}

type settings struct {
	binary string
	env    map[string]string
	logger *slog.Logger
}

// Option configures a Runner.
type Option func(*settings)

// WithBinary sets the executable name or path (default "git").
func WithBinary(name string) Option {
	return func(s *settings) {
		s.binary = name
	}
}

// WithEnv adds KEY=VALUE entries to the process environment.
func WithEnv(kv ...string) Option {
	return func(s *settings) {
		for _, e := range kv {
			k, v, _ := strings.Cut(e, "=")
			s.env[k] = v
		}
	}
}

// WithLogger sets the logger for command tracing (debug level).
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// New returns a Runner.
func New(opts ...Option) *Runner {
	s := &settings{
		binary: "git",
		env:    map[string]string{"GIT_TERMINAL_PROMPT": "0", "LC_ALL": "C"},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	base := exec.New(exec.WithInheritEnv(), exec.WithEnv(maps.Clone(s.env)))
	return &Runner{
		wrapper: exec.NewWrapper(base, s.binary),
		logger:  s.logger,
	}
}

// Run executes the binary with args in dir and returns trimmed stdout.
// A non-zero exit yields *ExecError with captured stderr.
func (r *Runner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := r.RunRaw(ctx, dir, args...)
	return strings.TrimRight(string(out), "\r\n"), err
}

// RunRaw is like Run but returns stdout unmodified.
func (r *Runner) RunRaw(ctx context.Context, dir string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ExecError{Args: args, Dir: dir, ExitCode: -1, Err: err}
	}
	// Clone per call: a Command resets its local settings after Run and is not shared safely.
	start := time.Now()
	res, err := r.wrapper.Clone().WithContext(ctx).WithDir(dir).Run(args...)
	r.logger.Debug("git", "args", args, "dir", dir, "duration", time.Since(start), "err", err)
	if err == nil {
		return []byte(res.Stdout), nil
	}
	ee := &ExecError{Args: args, Dir: dir, ExitCode: -1, Err: err}
	var xe *exec.ExecError
	if errors.As(err, &xe) {
		ee.ExitCode = xe.ExitCode
		ee.Stderr = xe.Stderr
		ee.Err = xe.Err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		ee.Err = ctxErr
	}
	var stdout []byte
	if res != nil {
		stdout = []byte(res.Stdout)
	}
	return stdout, ee
}
