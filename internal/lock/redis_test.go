package lock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// fakeRedis implements SETNX and the release and renew scripts over a map.
type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	setErr error
	sets   int
	renews int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string)}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) compareAndExpire(keys []string, args []interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[keys[0]] == fmt.Sprint(args[0]) {
		f.renews++
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (f *fakeRedis) renewals() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renews
}

func (f *fakeRedis) compareAndDelete(keys []string, args []interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[keys[0]] == fmt.Sprint(args[0]) {
		delete(f.values, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

// steal simulates the TTL lapsing and another process taking the key.
func (f *fakeRedis) steal(key, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = token
}

func (f *fakeRedis) Eval(_ context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	if strings.Contains(script, "PEXPIRE") {
		return f.compareAndExpire(keys, args)
	}
	return f.compareAndDelete(keys, args)
}

func (f *fakeRedis) EvalSha(_ context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
	if sha == renewScript.Hash() {
		return f.compareAndExpire(keys, args)
	}
	return f.compareAndDelete(keys, args)
}

func (f *fakeRedis) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeRedis) EvalShaRO(ctx context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
	return f.EvalSha(ctx, sha, keys, args...)
}

func (f *fakeRedis) ScriptExists(_ context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (f *fakeRedis) ScriptLoad(_ context.Context, _ string) *redis.StringCmd {
	return redis.NewStringResult("sha", nil)
}

func newTestRedis(f *fakeRedis) *Redis {
	r := newRedis(f, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.retry = time.Millisecond
	return r
}

func TestRedisLockAcquireRelease(t *testing.T) {
	f := newFakeRedis()
	r := newTestRedis(f)

	release, err := r.Lock(context.Background(), "demo")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, ok := f.values["kubehost:deploy-lock:demo"]; !ok {
		t.Fatalf("expected lock key set, got %v", f.values)
	}
	release()
	if len(f.values) != 0 {
		t.Fatalf("expected key released, got %v", f.values)
	}
}

func TestRedisLockWaitsForHolder(t *testing.T) {
	f := newFakeRedis()
	r := newTestRedis(f)
	first, err := r.Lock(context.Background(), "demo")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	acquired := make(chan func())
	go func() {
		release, err := r.Lock(context.Background(), "demo")
		if err == nil {
			acquired <- release
		}
	}()
	select {
	case <-acquired:
		t.Fatalf("second lock acquired while first held")
	case <-time.After(20 * time.Millisecond):
	}
	first()
	select {
	case release := <-acquired:
		release()
	case <-time.After(time.Second):
		t.Fatalf("second lock never acquired")
	}
}

func TestRedisLockHonoursContext(t *testing.T) {
	f := newFakeRedis()
	r := newTestRedis(f)
	release, err := r.Lock(context.Background(), "demo")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := r.Lock(ctx, "demo"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRedisReleaseLeavesForeignToken(t *testing.T) {
	f := newFakeRedis()
	r := newTestRedis(f)
	release, err := r.Lock(context.Background(), "demo")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	f.steal("kubehost:deploy-lock:demo", "someone-else")
	release()
	if f.values["kubehost:deploy-lock:demo"] != "someone-else" {
		t.Fatalf("expected foreign lock untouched, got %v", f.values)
	}
}

func TestRedisLockSurfacesErrors(t *testing.T) {
	f := newFakeRedis()
	f.setErr = errors.New("connection refused")
	r := newTestRedis(f)
	if _, err := r.Lock(context.Background(), "demo"); err == nil {
		t.Fatalf("expected error")
	}
	if f.sets != 1 {
		t.Fatalf("expected a single attempt on transport error, got %d", f.sets)
	}
}

func TestRedisLockRenewsWhileHeld(t *testing.T) {
	f := newFakeRedis()
	r := newTestRedis(f)
	r.renew = 2 * time.Millisecond

	release, err := r.Lock(context.Background(), "demo")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for f.renewals() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected the held lock to be renewed, got %d renewals", f.renewals())
		}
		time.Sleep(time.Millisecond)
	}
	release()

	after := f.renewals()
	time.Sleep(10 * time.Millisecond)
	if got := f.renewals(); got != after {
		t.Fatalf("expected renewals to stop after release, got %d then %d", after, got)
	}
}

func TestRedisRenewalStopsWhenLockLost(t *testing.T) {
	f := newFakeRedis()
	r := newTestRedis(f)
	r.renew = time.Millisecond

	release, err := r.Lock(context.Background(), "demo")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	f.steal("kubehost:deploy-lock:demo", "someone-else")
	time.Sleep(10 * time.Millisecond)
	release()
	if f.values["kubehost:deploy-lock:demo"] != "someone-else" {
		t.Fatalf("expected foreign lock untouched, got %v", f.values)
	}
}

func TestNewRedisDerivesRenewInterval(t *testing.T) {
	r := newRedis(newFakeRedis(), 0, nil)
	if r.ttl != 15*time.Minute || r.renew != 5*time.Minute {
		t.Fatalf("unexpected ttl %s renew %s", r.ttl, r.renew)
	}
}
