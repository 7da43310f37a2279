package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGenerateBase  = "http://localhost:11434"
	defaultGenerateModel = "llama3"
	defaultTimeout       = 30 * time.Second
)

// GenerateConfig configures a GenerateClient.
type GenerateConfig struct {
	// BaseURL is the server root; "/api/generate" is appended.
	BaseURL string
	// Model defaults to llama3.
	Model string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Timeout bounds each HTTP call. Defaults to 30s.
	Timeout time.Duration
	// Stream requests NDJSON streaming; Complete joins the fragments.
	Stream bool
}

// GenerateClient implements Completer against an Ollama-style
// POST /api/generate endpoint.
type GenerateClient struct {
	cfg    GenerateConfig
	client *http.Client
}

var _ Completer = (*GenerateClient)(nil)

// NewGenerateClient returns a client with defaults applied.
func NewGenerateClient(cfg GenerateConfig) *GenerateClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGenerateBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultGenerateModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &GenerateClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// --- wire types ---

// generateRequest carries the sampling settings twice: at the top level
// for gateways that read them there, and under options where Ollama reads
// them.
type generateRequest struct {
	Model           string          `json:"model"`
	Prompt          string          `json:"prompt"`
	Temperature     float64         `json:"temperature"`
	MaxOutputTokens int             `json:"max_output_tokens,omitempty"`
	Stream          bool            `json:"stream"`
	Options         generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Complete sends a generate call. The system prompt and the prompt are
// joined into one text, separated by a blank line.
func (c *GenerateClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.cfg.Stream {
		return c.stream(ctx, req)
	}
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response body: %w", err)
	}
	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("llm: backend error: %s", out.Error)
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", ErrEmptyResponse
	}
	return out.Response, nil
}

// stream reads NDJSON lines, each carrying a "response" fragment, until a
// line reports done or the body ends.
func (c *GenerateClient) stream(ctx context.Context, req Request) (string, error) {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk generateResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("llm: decode stream line: %w", err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("llm: backend error: %s", chunk.Error)
		}
		sb.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("llm: read stream: %w", err)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

func (c *GenerateClient) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + req.Prompt
	}
	data, err := json.Marshal(generateRequest{
		Model:           c.cfg.Model,
		Prompt:          prompt,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
		Stream:          stream,
		Options:         generateOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("llm: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: http request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}
