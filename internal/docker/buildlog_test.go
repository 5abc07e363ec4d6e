package docker

import "testing"

func TestBuildLogCollapsesRepeats(t *testing.T) {
	var forwarded []string
	log := NewBuildLog(10, func(line string) { forwarded = append(forwarded, line) })
	log.Add("waiting")
	log.Add("waiting")
	log.Add("waiting")
	log.Add("done")
	log.Add("")

	lines := log.Lines()
	want := []string{"waiting", "waiting (repeated 2 more times)", "done"}
	if len(lines) != len(want) {
		t.Fatalf("expected %#v, got %#v", want, lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}
	if len(forwarded) != len(want) {
		t.Fatalf("expected forwarded lines to match, got %#v", forwarded)
	}
}

func TestBuildLogKeepsNewest(t *testing.T) {
	log := NewBuildLog(2, nil)
	log.Add("one")
	log.Add("two")
	log.Add("three")
	if got := log.String(); got != "two\nthree" {
		t.Fatalf("unexpected tail %q", got)
	}
}

func TestBuildLogFlushesTrailingRepeats(t *testing.T) {
	log := NewBuildLog(5, nil)
	log.Add("x")
	log.Add("x")
	lines := log.Lines()
	if len(lines) != 2 || lines[1] != "x (repeated 1 more times)" {
		t.Fatalf("unexpected lines %#v", lines)
	}
}
