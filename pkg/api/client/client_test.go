package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewDefaultsAndScheme(t *testing.T) {
	cli, err := New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if cli.BaseURL() != DefaultBaseURL {
		t.Fatalf("expected default base url, got %s", cli.BaseURL())
	}
	cli, err = New("localhost:9000/")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if cli.BaseURL() != "http://localhost:9000" {
		t.Fatalf("unexpected base url %s", cli.BaseURL())
	}
}

func TestDeploySendsRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/apps" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var in DeployInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(App{Name: "shop", SourceName: in.AppName, Status: "pending", AttemptID: "a-1"})
	}))
	defer server.Close()

	cli, _ := New(server.URL)
	app, err := cli.Deploy(context.Background(), DeployInput{AppName: "Shop", SourceRef: "https://example.com/shop.git"})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if app.SourceName != "Shop" || app.AttemptID != "a-1" {
		t.Fatalf("unexpected app %+v", app)
	}
}

func TestAPIErrorCarriesMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"name conflict: shop"}`))
	}))
	defer server.Close()

	cli, _ := New(server.URL)
	_, err := cli.GetApp(context.Background(), "shop")
	apiErr, ok := err.(APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T %v", err, err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Message != "name conflict: shop" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if IsNotFound(err) {
		t.Fatalf("409 is not a 404")
	}
}

func TestManifestsQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/apps/shop/manifests" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("type") != "python" || r.URL.Query().Get("image") != "shop:dev" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte("kind: Namespace\n"))
	}))
	defer server.Close()

	cli, _ := New(server.URL)
	out, err := cli.Manifests(context.Background(), "shop", "python", "shop:dev")
	if err != nil {
		t.Fatalf("manifests: %v", err)
	}
	if out != "kind: Namespace\n" {
		t.Fatalf("unexpected body %q", out)
	}
}

func TestWaitForIgnoresEarlierAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		switch {
		case n == 1:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
		case n == 2:
			_ = json.NewEncoder(w).Encode(App{Name: "shop", Status: "ready", AttemptID: "old"})
		case n == 3:
			_ = json.NewEncoder(w).Encode(App{Name: "shop", Status: "building", AttemptID: "new"})
		default:
			_ = json.NewEncoder(w).Encode(App{Name: "shop", Status: "ready", AttemptID: "new", URL: "http://shop.localhost"})
		}
	}))
	defer server.Close()

	cli, _ := New(server.URL)
	var seen []string
	app, err := cli.WaitFor(context.Background(), "shop", "new", time.Millisecond, func(a App) {
		seen = append(seen, a.AttemptID+":"+a.Status)
	})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if app.URL != "http://shop.localhost" {
		t.Fatalf("unexpected final app %+v", app)
	}
	if len(seen) != 3 || seen[0] != "old:ready" {
		t.Fatalf("unexpected updates %v", seen)
	}
}

func TestWaitForHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(App{Name: "shop", Status: "building", AttemptID: "a"})
	}))
	defer server.Close()

	cli, _ := New(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := cli.WaitFor(ctx, "shop", "a", 5*time.Millisecond, nil); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestHealthDecodesDegradedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"degraded","components":{"docker":{"status":"down","error":"no daemon"}}}`))
	}))
	defer server.Close()

	cli, _ := New(server.URL)
	health, err := cli.Health(context.Background())
	if err == nil {
		t.Fatalf("expected error for degraded server")
	}
	if health.Status != "degraded" || health.Components["docker"]["error"] != "no daemon" {
		t.Fatalf("unexpected health %+v", health)
	}
}
