package docker

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeBuildStream(t *testing.T) {
	stream := `{"stream":"Step 1/2 : FROM node:20\n"}
{"status":"Pulling fs layer","id":"abc123"}
{"status":"Downloading","id":"abc123","progressDetail":{"current":5,"total":10}}
{"aux":{"ID":"sha256:deadbeef"}}
{"stream":"Successfully tagged gitdeploy/demo:latest\n"}
`
	var lines []string
	if err := decodeBuildStream(strings.NewReader(stream), func(line string) { lines = append(lines, line) }); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{
		"Step 1/2 : FROM node:20",
		"abc123 Pulling fs layer",
		"abc123 Downloading 5/10",
		"image id: sha256:deadbeef",
		"Successfully tagged gitdeploy/demo:latest",
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %#v", len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}
}

func TestDecodeBuildStreamError(t *testing.T) {
	stream := `{"stream":"Step 3/5 : RUN npm ci\n"}
{"errorDetail":{"message":"The command '/bin/sh -c npm ci' returned a non-zero code: 1"},"error":"The command '/bin/sh -c npm ci' returned a non-zero code: 1"}
`
	err := decodeBuildStream(strings.NewReader(stream), nil)
	if !errors.Is(err, ErrBuildStep) {
		t.Fatalf("expected ErrBuildStep, got %v", err)
	}
	if !strings.Contains(err.Error(), "npm ci") {
		t.Fatalf("expected daemon message in error, got %v", err)
	}
}

func TestNewFromEnvRequiresHost(t *testing.T) {
	if _, err := NewFromEnv(map[string]string{"DOCKER_TLS_VERIFY": "1"}); err == nil {
		t.Fatalf("expected error without DOCKER_HOST")
	}
}

func TestNewFromEnvPlainTCP(t *testing.T) {
	cli, err := NewFromEnv(map[string]string{"DOCKER_HOST": "tcp://192.168.49.2:2375"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer cli.Close()
	if cli.Host() != "tcp://192.168.49.2:2375" {
		t.Fatalf("unexpected host %s", cli.Host())
	}
}

func TestTLSEnabled(t *testing.T) {
	for raw, want := range map[string]bool{"": false, "0": false, "false": false, "1": true, "yes": true} {
		if got := tlsEnabled(raw); got != want {
			t.Fatalf("tlsEnabled(%q) = %v", raw, got)
		}
	}
}
