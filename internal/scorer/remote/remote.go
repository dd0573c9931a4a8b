// Package remote is a scorer adapter for a language model served over HTTP.
//
// The server exposes:
//
//	GET  /v1/model    -> {"stateful":bool,"incremental":bool,"depth":int,"initial_state":[[...]]}
//	POST /v1/predict  {"symbols":[...],"states":[[[...]]]} -> {"distributions":[[...]],"states":[[[...]]]}
//	POST /v1/stream   {"text":"<base64>"} -> {"probabilities":[...]}
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dgallion1/lmrate/internal/scorer"
)

// Client calls a remote model server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	props   scorer.Properties
	initial scorer.State
}

type modelResponse struct {
	scorer.Properties
	InitialState scorer.State `json:"initial_state"`
}

type predictRequest struct {
	Symbols []int          `json:"symbols"`
	States  []scorer.State `json:"states"`
}

type predictResponse struct {
	Distributions []scorer.Distribution `json:"distributions"`
	States        []scorer.State        `json:"states"`
}

type streamRequest struct {
	Text []byte `json:"text"`
}

type streamResponse struct {
	Probabilities []float64 `json:"probabilities"`
}

// RetryableError indicates a transient server failure (429 or 5xx).
// The decoder does not retry; callers that own a whole document may.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// Dial connects to the model server and fetches its properties.
func Dial(ctx context.Context, baseURL, apiKey string) (*Client, error) {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	var info modelResponse
	if err := c.do(ctx, http.MethodGet, "/v1/model", nil, &info); err != nil {
		return nil, fmt.Errorf("fetch model info: %w", err)
	}
	if info.Depth < 0 {
		return nil, fmt.Errorf("model server reports negative depth %d", info.Depth)
	}
	c.props = info.Properties
	c.initial = info.InitialState
	return c, nil
}

func (c *Client) Properties() scorer.Properties { return c.props }

func (c *Client) InitialState() scorer.State { return c.initial.Clone() }

func (c *Client) PredictIncremental(ctx context.Context, symbols []byte, states []scorer.State) ([]scorer.Distribution, []scorer.State, error) {
	if err := scorer.CheckBatch(symbols, states); err != nil {
		return nil, nil, err
	}
	req := predictRequest{Symbols: make([]int, len(symbols)), States: states}
	for i, s := range symbols {
		req.Symbols[i] = int(s)
	}
	var resp predictResponse
	if err := c.do(ctx, http.MethodPost, "/v1/predict", req, &resp); err != nil {
		return nil, nil, err
	}
	if len(resp.Distributions) != len(symbols) || len(resp.States) != len(symbols) {
		return nil, nil, fmt.Errorf("model server returned %d distributions and %d states for %d symbols",
			len(resp.Distributions), len(resp.States), len(symbols))
	}
	return resp.Distributions, resp.States, nil
}

func (c *Client) PredictStream(ctx context.Context, text []byte) ([]float64, error) {
	var resp streamResponse
	if err := c.do(ctx, http.MethodPost, "/v1/stream", streamRequest{Text: text}, &resp); err != nil {
		return nil, err
	}
	return resp.Probabilities, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("model server: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &RetryableError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model server %s %s: status %d: %s", method, path, resp.StatusCode, truncate(string(respBody), 200))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
