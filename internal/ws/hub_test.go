package ws

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	got    []string
	fail   bool
	closed bool
}

func (r *recorder) Send(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("broken pipe")
	}
	r.got = append(r.got, string(p))
	return nil
}

func (r *recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func (r *recorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met")
}

func TestHubBroadcastPerApp(t *testing.T) {
	h := NewHub(0)
	defer h.Close()
	a, b := &recorder{}, &recorder{}
	h.Register("alpha", a)
	h.Register("beta", b)

	h.Broadcast("alpha", []byte("one"))
	h.Broadcast("beta", []byte("two"))
	// A register round-trip orders after the broadcasts.
	h.Register("gamma", &recorder{})

	if got := a.messages(); len(got) != 1 || got[0] != "one" {
		t.Fatalf("alpha got %v", got)
	}
	if got := b.messages(); len(got) != 1 || got[0] != "two" {
		t.Fatalf("beta got %v", got)
	}
}

func TestHubReplaysHistory(t *testing.T) {
	h := NewHub(2)
	defer h.Close()
	for _, p := range []string{"queued", "build", "rollout"} {
		h.Broadcast("demo", []byte(p))
	}
	late := &recorder{}
	h.Register("demo", late)
	h.Broadcast("demo", []byte("ready"))
	h.Register("other", &recorder{})

	got := late.messages()
	want := []string{"build", "rollout", "ready"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestHubDropsFailingSubscriber(t *testing.T) {
	h := NewHub(0)
	defer h.Close()
	bad := &recorder{fail: true}
	h.Register("demo", bad)
	h.Broadcast("demo", []byte("x"))
	eventually(t, bad.isClosed)
}

func TestHubBroadcastJSONAndClose(t *testing.T) {
	h := NewHub(0)
	r := &recorder{}
	h.Register("demo", r)
	if err := h.BroadcastJSON("demo", map[string]string{"stage": "ready"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	h.Unregister("other", r)
	if got := r.messages(); len(got) != 1 || got[0] != `{"stage":"ready"}` {
		t.Fatalf("got %v", got)
	}
	h.Close()
	eventually(t, r.isClosed)
	// Calls after Close do not block.
	h.Broadcast("demo", []byte("late"))
	h.Close()
}
