// Package chatgateway implements the outbound chat gateway contract: a
// single POST-based send endpoint fronting the tenant's chat platform
// instance.
package chatgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"
)

const defaultUserAgent = "agenda-core-chatgateway/0.1"

// Config controls how the Client behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	Instance   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
}

// Client sends outbound chat messages through the gateway's sendText route.
type Client struct {
	baseURL    string
	apiKey     string
	instance   string
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
}

// New builds a configured Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("chatgateway: base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("chatgateway: API key is required")
	}
	if strings.TrimSpace(cfg.Instance) == "" {
		return nil, errors.New("chatgateway: instance is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		instance:   cfg.Instance,
		httpClient: httpClient,
		logger:     logger,
		userAgent:  userAgent,
	}, nil
}

// SendTextRequest is the outbound send body.
type SendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
	Delay  int    `json:"delay,omitempty"`
}

// SendTextResponse is the minimal shape the core relies on from a send.
type SendTextResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// SendText transmits a message through the outbound gateway. A 2xx status
// is the only success signal; everything else surfaces as *StatusError so
// retrypolicy.Retryable can classify it.
func (c *Client) SendText(ctx context.Context, number, text string, delay time.Duration) (*SendTextResponse, error) {
	if strings.TrimSpace(number) == "" {
		return nil, errors.New("chatgateway: recipient number required")
	}
	body, err := json.Marshal(SendTextRequest{
		Number: number,
		Text:   text,
		Delay:  int(delay / time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("chatgateway: marshal send body: %w", err)
	}

	url := fmt.Sprintf("%s/message/sendText/%s", c.baseURL, c.instance)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("chatgateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return nil, fmt.Errorf("chatgateway: send text: %w", netErr)
		}
		return nil, fmt.Errorf("chatgateway: send text: %w", err)
	}
	defer resp.Body.Close()
	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("chatgateway: read response: %w", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeStatusError(resp.StatusCode, data)
	}
	var out SendTextResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("chatgateway: decode response: %w", err)
		}
	}
	return &out, nil
}

// StatusError carries the HTTP status of a non-2xx response, satisfying the
// interface retrypolicy.Retryable uses to classify gateway failures.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chatgateway: http status %d: %s", e.Status, e.Body)
}

// StatusCode implements the httpStatusError interface retrypolicy.Retryable
// type-asserts against.
func (e *StatusError) StatusCode() int { return e.Status }

func decodeStatusError(status int, body []byte) error {
	return &StatusError{Status: status, Body: string(body)}
}
