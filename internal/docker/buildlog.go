package docker

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultBuildLogSize is the number of lines a BuildLog retains.
const DefaultBuildLogSize = 200

// BuildLog collects build output. Consecutive duplicate lines collapse into a
// single "(repeated N more times)" entry and only the newest size lines are kept.
type BuildLog struct {
	mu      sync.Mutex
	forward func(string)
	size    int
	last    string
	repeats int
	lines   []string
}

// NewBuildLog returns a BuildLog that also forwards each emitted line; forward may be nil.
func NewBuildLog(size int, forward func(string)) *BuildLog {
	if size <= 0 {
		size = DefaultBuildLogSize
	}
	return &BuildLog{size: size, forward: forward}
}

// Add records one line of output.
func (l *BuildLog) Add(line string) {
	if l == nil || strings.TrimSpace(line) == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if line == l.last {
		l.repeats++
		return
	}
	l.flushLocked()
	l.last = line
	l.emitLocked(line)
}

// Lines returns the retained output after flushing pending repeats.
func (l *BuildLog) Lines() []string {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushLocked()
	return append([]string(nil), l.lines...)
}

// String joins the retained output with newlines.
func (l *BuildLog) String() string {
	return strings.Join(l.Lines(), "\n")
}

func (l *BuildLog) flushLocked() {
	if l.repeats == 0 {
		return
	}
	msg := fmt.Sprintf("%s (repeated %d more times)", l.last, l.repeats)
	l.repeats = 0
	l.emitLocked(msg)
}

func (l *BuildLog) emitLocked(line string) {
	if l.forward != nil {
		l.forward(line)
	}
	if len(l.lines) < l.size {
		l.lines = append(l.lines, line)
		return
	}
	l.lines = append(l.lines[1:], line)
}
