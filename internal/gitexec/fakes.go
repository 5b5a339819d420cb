package gitexec

import (
	"context"
	"io"
	"strings"
	"sync"
)

// FakeRunner is a test double for Runner. Responses are scripted by matching
// a space-joined prefix of the git arguments; unmatched commands succeed with
// empty output. All calls are recorded.
type FakeRunner struct {
	mu sync.Mutex

	// Responses maps an argument prefix ("merge-tree --write-tree") to the
	// result returned for any command starting with it. Longest prefix wins.
	Responses map[string]Result

	// Errs maps an argument prefix to a spawn error.
	Errs map[string]error

	// Calls records every invocation as the space-joined argument list.
	Calls []string

	// Dirs records the working directory of every invocation.
	Dirs []string
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		Responses: make(map[string]Result),
		Errs:      make(map[string]error),
	}
}

// Respond scripts a response for commands matching the given prefix.
func (f *FakeRunner) Respond(prefix string, res Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses[prefix] = res
}

// Fail scripts a spawn error for commands matching the given prefix.
func (f *FakeRunner) Fail(prefix string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errs[prefix] = err
}

// CallCount returns how many recorded calls start with the given prefix.
func (f *FakeRunner) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *FakeRunner) Run(ctx context.Context, dir string, args ...string) (Result, error) {
	return f.dispatch(dir, args)
}

func (f *FakeRunner) RunEnv(ctx context.Context, dir string, env []string, args ...string) (Result, error) {
	return f.dispatch(dir, args)
}

func (f *FakeRunner) RunStdin(ctx context.Context, dir string, stdin io.Reader, args ...string) (Result, error) {
	return f.dispatch(dir, args)
}

func (f *FakeRunner) dispatch(dir string, args []string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := strings.Join(args, " ")
	f.Calls = append(f.Calls, call)
	f.Dirs = append(f.Dirs, dir)

	var bestPrefix string
	for prefix := range f.Errs {
		if strings.HasPrefix(call, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
		}
	}
	if bestPrefix != "" {
		return Result{}, f.Errs[bestPrefix]
	}

	bestPrefix = ""
	for prefix := range f.Responses {
		if strings.HasPrefix(call, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
		}
	}
	if bestPrefix != "" {
		return f.Responses[bestPrefix], nil
	}
	return Result{}, nil
}
