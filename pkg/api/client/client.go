package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is where kubehostd listens unless configured otherwise.
const DefaultBaseURL = "http://localhost:7070"

// Client provides typed access to the kubehost API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// BaseURL returns the API address in use.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) text(ctx context.Context, path string) (string, error) {
	resp, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(data), nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// EnvVar is one recorded environment entry.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// App reflects a registry record.
type App struct {
	Name         string    `json:"name"`
	SourceName   string    `json:"source_name"`
	SourceRef    string    `json:"source_ref"`
	Branch       string    `json:"branch,omitempty"`
	DetectedType string    `json:"detected_type"`
	ImageTag     string    `json:"image_tag,omitempty"`
	Namespace    string    `json:"namespace"`
	Status       string    `json:"status"`
	URL          string    `json:"url,omitempty"`
	Env          []EnvVar  `json:"environment_variables,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	AttemptID    string    `json:"attempt_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Terminal reports whether the deploy has finished.
func (a App) Terminal() bool {
	return a.Status == "ready" || a.Status == "failed"
}

// DeployInput is the deploy request body.
type DeployInput struct {
	AppName   string `json:"app_name"`
	SourceRef string `json:"source_ref,omitempty"`
	Branch    string `json:"branch,omitempty"`
	AppPath   string `json:"app_path,omitempty"`
	AppType   string `json:"app_type,omitempty"`
	EnvVars   string `json:"env_vars,omitempty"`
}

// ClusterApp is an app namespace found in the cluster.
type ClusterApp struct {
	Name       string    `json:"name"`
	Namespace  string    `json:"namespace"`
	SourceName string    `json:"source_name,omitempty"`
	Phase      string    `json:"phase"`
	CreatedAt  time.Time `json:"created_at"`
}

// ResourceGroup lists the objects of one kind in an app namespace.
type ResourceGroup struct {
	Kind  string           `json:"kind"`
	Items []map[string]any `json:"items"`
	Error string           `json:"error,omitempty"`
}

// Snapshot is the observed state of an app namespace.
type Snapshot struct {
	App            string          `json:"app"`
	Namespace      string          `json:"namespace"`
	NamespacePhase string          `json:"namespace_phase"`
	Resources      []ResourceGroup `json:"resources"`
}

// ScaleResult reports a replica change.
type ScaleResult struct {
	App               string `json:"app"`
	Previous          int32  `json:"previous"`
	Replicas          int32  `json:"replicas"`
	AutoscalerManaged bool   `json:"autoscaler_managed"`
	AutoscalerMin     int32  `json:"autoscaler_min,omitempty"`
	AutoscalerMax     int32  `json:"autoscaler_max,omitempty"`
	Warning           string `json:"warning,omitempty"`
}

// Health is the /healthz payload.
type Health struct {
	Status     string                       `json:"status"`
	Components map[string]map[string]string `json:"components"`
}

// Deploy submits a deploy and returns the pending record.
func (c *Client) Deploy(ctx context.Context, input DeployInput) (App, error) {
	var app App
	if err := c.do(ctx, http.MethodPost, "/api/v1/apps", input, &app); err != nil {
		return App{}, err
	}
	return app, nil
}

// ListApps returns every registry record.
func (c *Client) ListApps(ctx context.Context) ([]App, error) {
	var apps []App
	if err := c.do(ctx, http.MethodGet, "/api/v1/apps", nil, &apps); err != nil {
		return nil, err
	}
	return apps, nil
}

// GetApp returns one registry record.
func (c *Client) GetApp(ctx context.Context, name string) (App, error) {
	var app App
	if err := c.do(ctx, http.MethodGet, appPath(name, ""), nil, &app); err != nil {
		return App{}, err
	}
	return app, nil
}

// DeleteApp removes the app namespace and record.
func (c *Client) DeleteApp(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, appPath(name, ""), nil, nil)
}

// Status returns the namespace snapshot.
func (c *Client) Status(ctx context.Context, name string) (Snapshot, error) {
	var snap Snapshot
	if err := c.do(ctx, http.MethodGet, appPath(name, "/status"), nil, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// StatusYAML returns the namespace snapshot as a YAML stream.
func (c *Client) StatusYAML(ctx context.Context, name string) (string, error) {
	return c.text(ctx, appPath(name, "/status")+"?format=yaml")
}

// Scale sets the replica count.
func (c *Client) Scale(ctx context.Context, name string, replicas int32) (ScaleResult, error) {
	var res ScaleResult
	body := map[string]int32{"replicas": replicas}
	if err := c.do(ctx, http.MethodPost, appPath(name, "/scale"), body, &res); err != nil {
		return ScaleResult{}, err
	}
	return res, nil
}

// Manifests renders the manifests a deploy would apply.
func (c *Client) Manifests(ctx context.Context, name, appType, image string) (string, error) {
	query := url.Values{}
	if appType != "" {
		query.Set("type", appType)
	}
	if image != "" {
		query.Set("image", image)
	}
	path := appPath(name, "/manifests")
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return c.text(ctx, path)
}

// ClusterApps lists app namespaces present in the cluster.
func (c *Client) ClusterApps(ctx context.Context) ([]ClusterApp, error) {
	var apps []ClusterApp
	if err := c.do(ctx, http.MethodGet, "/api/v1/cluster/apps", nil, &apps); err != nil {
		return nil, err
	}
	return apps, nil
}

// Health fetches component health. A degraded server answers 503; the
// components are still decoded and an APIError is returned alongside them.
func (c *Client) Health(ctx context.Context) (Health, error) {
	if c == nil {
		return Health{}, fmt.Errorf("client is nil")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return Health{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	var health Health
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return Health{}, APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return Health{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		return health, APIError{Status: resp.StatusCode, Message: "server " + health.Status}
	}
	return health, nil
}

// WaitFor polls the record until the given attempt is ready or failed,
// calling onUpdate with each observed record. Records of earlier attempts
// are reported but never end the wait.
func (c *Client) WaitFor(ctx context.Context, name, attemptID string, interval time.Duration, onUpdate func(App)) (App, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		app, err := c.GetApp(ctx, name)
		if err != nil && !IsNotFound(err) {
			return App{}, err
		}
		if err == nil {
			if onUpdate != nil {
				onUpdate(app)
			}
			if app.Terminal() && (attemptID == "" || app.AttemptID == attemptID) {
				return app, nil
			}
		}
		select {
		case <-ctx.Done():
			return App{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func appPath(name, suffix string) string {
	return "/api/v1/apps/" + url.PathEscape(name) + suffix
}
