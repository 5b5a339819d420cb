// Package gitexec runs the external git binary as a subprocess. Callers get
// the exit code and both output streams back as data; a non-zero exit is a
// result, not an error, so expected-failure paths (merge conflicts) stay on
// the happy path. Spawn failures are the only errors.
package gitexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Result holds the outcome of one git invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Ok returns true for a zero exit code.
func (r Result) Ok() bool {
	return r.ExitCode == 0
}

// Combined returns stdout and stderr joined, for output scanning.
func (r Result) Combined() string {
	if r.Stdout == "" {
		return r.Stderr
	}
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner executes git commands. Inject this instead of calling exec directly;
// tests use FakeRunner.
type Runner interface {
	// Run executes git with the given args in dir.
	Run(ctx context.Context, dir string, args ...string) (Result, error)

	// RunEnv executes git with additional environment variables appended to
	// the inherited environment ("KEY=VALUE" entries).
	RunEnv(ctx context.Context, dir string, env []string, args ...string) (Result, error)

	// RunStdin executes git with the given stdin.
	RunStdin(ctx context.Context, dir string, stdin io.Reader, args ...string) (Result, error)
}

// CommandError reports a git command that was declared must-succeed but
// exited non-zero.
type CommandError struct {
	Args   []string
	Result Result
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("git %s exited %d: %s",
		strings.Join(e.Args, " "), e.Result.ExitCode, strings.TrimSpace(e.Result.Combined()))
}

// MustRun runs a command and converts a non-zero exit into a *CommandError.
func MustRun(ctx context.Context, r Runner, dir string, args ...string) (Result, error) {
	res, err := r.Run(ctx, dir, args...)
	if err != nil {
		return res, err
	}
	if !res.Ok() {
		return res, &CommandError{Args: args, Result: res}
	}
	return res, nil
}

// Git is the production Runner backed by os/exec.
type Git struct {
	// Bin is the git binary to invoke. Defaults to "git".
	Bin string
}

// NewGit creates a Runner that shells out to the system git.
func NewGit() *Git {
	return &Git{Bin: "git"}
}

func (g *Git) bin() string {
	if g.Bin == "" {
		return "git"
	}
	return g.Bin
}

func (g *Git) Run(ctx context.Context, dir string, args ...string) (Result, error) {
	return g.run(ctx, dir, nil, nil, args)
}

func (g *Git) RunEnv(ctx context.Context, dir string, env []string, args ...string) (Result, error) {
	return g.run(ctx, dir, env, nil, args)
}

func (g *Git) RunStdin(ctx context.Context, dir string, stdin io.Reader, args ...string) (Result, error) {
	return g.run(ctx, dir, nil, stdin, args)
}

func (g *Git) run(ctx context.Context, dir string, env []string, stdin io.Reader, args []string) (Result, error) {
	cmd := exec.CommandContext(ctx, g.bin(), args...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = append(cmd.Environ(), env...)
	}
	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("failed to run git %s: %w", strings.Join(args, " "), err)
	}
	return res, nil
}
