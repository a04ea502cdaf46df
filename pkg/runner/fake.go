package runner

import (
	"context"
	"strings"
	"sync"
)

// Fake is a scripted Runner for tests. Results are keyed by the full
// command line ("netplan generate"); unscripted commands succeed with
// empty output.
type Fake struct {
	mu      sync.Mutex
	results map[string]fakeResult
	hooks   map[string]func()
	calls   []string
}

type fakeResult struct {
	output string
	code   int
	err    error
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		results: make(map[string]fakeResult),
		hooks:   make(map[string]func()),
	}
}

// Set scripts the output and exit code for a command line. A non-zero code
// makes Run return an *ExitError.
func (f *Fake) Set(command, output string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[command] = fakeResult{output: output, code: code}
}

// Fail makes command fail to start with err, as when the binary is
// missing.
func (f *Fake) Fail(command string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[command] = fakeResult{err: err}
}

// OnRun registers fn to be called whenever command runs, before its
// scripted result is returned.
func (f *Fake) OnRun(command string, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[command] = fn
}

// Run implements Runner.
func (f *Fake) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	command := strings.TrimSpace(name + " " + strings.Join(args, " "))

	f.mu.Lock()
	f.calls = append(f.calls, command)
	res, ok := f.results[command]
	hook := f.hooks[command]
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if !ok {
		return nil, nil
	}
	if res.err != nil {
		return nil, res.err
	}
	if res.code != 0 {
		return []byte(res.output), &ExitError{Command: command, Code: res.code, Output: res.output}
	}
	return []byte(res.output), nil
}

// Calls returns every command line run so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// Ran reports whether command was run at least once.
func (f *Fake) Ran(command string) bool {
	for _, c := range f.Calls() {
		if c == command {
			return true
		}
	}
	return false
}

var _ Runner = (*Fake)(nil)
