package dockerfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/splax/kubehost/internal/domain"
)

const (
	defaultLLMBaseURL = "https://api.groq.com/openai/v1"
	defaultLLMModel   = "llama-3.3-70b-versatile"
	defaultLLMTimeout = 60 * time.Second
	maxManifestBytes  = 32 * 1024
	maxErrorBodySize  = 4096

	systemPrompt = "You are a Dockerfile expert. Generate ONLY a production-ready multistage Dockerfile. " +
		"Return ONLY the Dockerfile content with no explanations, no markdown code blocks, no extra text."
)

// ErrInvalidResponse indicates the completion service returned no usable Dockerfile.
var ErrInvalidResponse = errors.New("dockerfile: invalid completion response")

// LLM asks an OpenAI-compatible chat-completions endpoint for a Dockerfile.
type LLM struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewLLM creates a generator. Empty baseURL and model select Groq defaults.
func NewLLM(baseURL, apiKey, model string, client *http.Client) (*LLM, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, fmt.Errorf("%w: llm dockerfile generator requires an api key", domain.ErrInvalidArgument)
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultLLMBaseURL
	}
	if strings.TrimSpace(model) == "" {
		model = defaultLLMModel
	}
	if client == nil {
		client = &http.Client{Timeout: defaultLLMTimeout}
	}
	return &LLM{baseURL: base, apiKey: key, model: model, client: client}, nil
}

func (l *LLM) Name() string { return "llm" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (l *LLM) Generate(ctx context.Context, in Input) (string, error) {
	prompt, err := buildPrompt(in)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(chatRequest{
		Model: l.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send completion request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		summary := strings.TrimSpace(string(buf))
		if summary == "" {
			summary = resp.Status
		}
		return "", fmt.Errorf("completion request failed (%d): %s", resp.StatusCode, summary)
	}
	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrInvalidResponse)
	}
	content := stripFences(parsed.Choices[0].Message.Content)
	if !hasFrom(content) {
		return "", fmt.Errorf("%w: no FROM instruction", ErrInvalidResponse)
	}
	return content, nil
}

// buildPrompt embeds the dependency manifest and any port hints.
func buildPrompt(in Input) (string, error) {
	var manifestFile string
	switch in.AppType {
	case domain.AppTypeNodeJS, domain.AppTypeNextJS:
		manifestFile = "package.json"
	case domain.AppTypePython:
		manifestFile = "requirements.txt"
		if !fileExists(filepath.Join(in.Dir, manifestFile)) {
			manifestFile = "pyproject.toml"
		}
	case domain.AppTypeStatic:
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, in.AppType)
	}

	content := "static html"
	if manifestFile != "" {
		data, err := os.ReadFile(filepath.Join(in.Dir, manifestFile))
		if err != nil {
			return "", fmt.Errorf("read %s: %w", manifestFile, err)
		}
		if len(data) > maxManifestBytes {
			data = data[:maxManifestBytes]
		}
		content = string(data)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Create a multistage Dockerfile for %s:\n\n%s", in.AppType, content)
	keys := make([]string, 0, len(in.PortHints))
	for k := range in.PortHints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n\nIMPORTANT: The user has set %s=%s in their environment variables. The container must listen on that port.", k, in.PortHints[k])
	}
	return b.String(), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s + "\n"
	}
	lines := strings.Split(s, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}

func hasFrom(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 1 && strings.EqualFold(fields[0], "FROM") {
			return true
		}
	}
	return false
}
