package docker

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
)

// Client wraps the Docker SDK client.
type Client struct {
	inner *client.Client
	host  string
}

// New creates a Docker client using environment defaults, optionally pinned to host.
func New(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	return newClient(host, opts...)
}

// NewFromEnv connects to the daemon described by DOCKER_HOST, DOCKER_TLS_VERIFY and
// DOCKER_CERT_PATH in env, the variables printed by `minikube docker-env`.
// The process environment is not consulted.
func NewFromEnv(env map[string]string) (*Client, error) {
	host := strings.TrimSpace(env["DOCKER_HOST"])
	if host == "" {
		return nil, fmt.Errorf("docker env: DOCKER_HOST is not set")
	}
	opts := []client.Opt{client.WithHost(host), client.WithAPIVersionNegotiation()}
	if certPath := strings.TrimSpace(env["DOCKER_CERT_PATH"]); certPath != "" && tlsEnabled(env["DOCKER_TLS_VERIFY"]) {
		opts = append(opts, client.WithTLSClientConfig(
			filepath.Join(certPath, "ca.pem"),
			filepath.Join(certPath, "cert.pem"),
			filepath.Join(certPath, "key.pem"),
		))
	}
	return newClient(host, opts...)
}

func newClient(host string, opts ...client.Opt) (*Client, error) {
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if host == "" {
		host = inner.DaemonHost()
	}
	return &Client{inner: inner, host: host}, nil
}

func tlsEnabled(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "0", "false", "no":
		return false
	default:
		return true
	}
}

// Host reports the daemon address the client talks to.
func (c *Client) Host() string {
	if c == nil {
		return ""
	}
	return c.host
}

// Ping validates connectivity to the Docker daemon.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	var ping types.Ping
	ping, err := c.inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: docker ping %s: %v", ErrDaemonUnavailable, c.host, err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("%w: docker ping returned empty API version", ErrDaemonUnavailable)
	}
	return nil
}

// Close releases resources held by the Docker client.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
