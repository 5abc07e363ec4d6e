// Package runtest provides a scripted [run.Runner] for tests.
package runtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/splax/kubehost/internal/run"
)

// Response is returned when a command matches a scripted prefix.
type Response struct {
	Output string
	Err    error
}

// Fake answers commands by longest matching prefix of their rendered command line
// and records every call.
type Fake struct {
	mu        sync.Mutex
	responses map[string][]Response
	calls     []run.Command
}

// New returns an empty Fake. Unscripted commands succeed with no output.
func New() *Fake {
	return &Fake{responses: make(map[string][]Response)}
}

// On queues a response for commands starting with prefix. When several responses
// are queued they are consumed in order and the last one repeats.
func (f *Fake) On(prefix, output string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = append(f.responses[prefix], Response{Output: output, Err: err})
	return f
}

// Fail is shorthand for a failing command that printed output.
func (f *Fake) Fail(prefix, output string) *Fake {
	return f.On(prefix, output, &run.Error{Command: prefix, Output: output, Err: errors.New("exit status 1")})
}

// Run implements run.Runner.
func (f *Fake) Run(_ context.Context, cmd run.Command) (string, error) {
	line := cmd.String()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	best := ""
	for prefix := range f.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return "", nil
	}
	queue := f.responses[best]
	resp := queue[0]
	if len(queue) > 1 {
		f.responses[best] = queue[1:]
	}
	return resp.Output, resp.Err
}

// Calls returns the rendered command lines in call order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.String())
	}
	return out
}

// Called reports whether any call started with prefix.
func (f *Fake) Called(prefix string) bool {
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// Last returns the most recent command starting with prefix.
func (f *Fake) Last(prefix string) (run.Command, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if strings.HasPrefix(f.calls[i].String(), prefix) {
			return f.calls[i], true
		}
	}
	return run.Command{}, false
}
