// Package upstash implements catalog.Store against an Upstash-compatible
// Redis REST endpoint: one command per POST, JSON array body, bearer auth.
package upstash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/movieapp/moviecache-crawler/internal/catalog"
	"github.com/movieapp/moviecache-crawler/internal/metrics"
)

// Config captures the parameters required to reach the REST endpoint.
type Config struct {
	RestURL string
	Token   string
	Timeout time.Duration
}

// Client issues Redis commands over REST.
type Client struct {
	restURL string
	token   string
	httpc   *http.Client
	logger  *zap.Logger
}

// response is the REST envelope for a single command.
type response struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// New creates a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.RestURL == "" {
		return nil, fmt.Errorf("rest url is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("token is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		restURL: strings.TrimRight(cfg.RestURL, "/"),
		token:   cfg.Token,
		httpc:   &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}, nil
}

// Get returns the value stored under key, with found=false for a null result.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	raw, err := c.command(ctx, "GET", key)
	if err != nil {
		return "", false, err
	}
	if isNull(raw) {
		return "", false, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false, catalog.NewStoreError("GET", fmt.Errorf("decode result: %w", err))
	}
	return value, true, nil
}

// Set writes value under key.
func (c *Client) Set(ctx context.Context, key, value string) error {
	_, err := c.command(ctx, "SET", key, value)
	return err
}

// SetEx writes value under key with a time-to-live.
func (c *Client) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	seconds := int(ttl / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	_, err := c.command(ctx, "SET", key, value, "EX", seconds)
	return err
}

// Del removes the given keys and returns how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	args := append([]any{"DEL"}, toAny(keys)...)
	raw, err := c.command(ctx, args...)
	if err != nil {
		return 0, err
	}
	return decodeInt(raw, "DEL")
}

// SAdd adds members to the set under key and returns how many were new.
func (c *Client) SAdd(ctx context.Context, key string, members ...string) (int, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := append([]any{"SADD", key}, toAny(members)...)
	raw, err := c.command(ctx, args...)
	if err != nil {
		return 0, err
	}
	return decodeInt(raw, "SADD")
}

// SMembers returns all members of the set under key.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	raw, err := c.command(ctx, "SMEMBERS", key)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	var members []string
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, catalog.NewStoreError("SMEMBERS", fmt.Errorf("decode result: %w", err))
	}
	return members, nil
}

func (c *Client) command(ctx context.Context, args ...any) (json.RawMessage, error) {
	name, _ := args[0].(string)

	body, err := json.Marshal(args)
	if err != nil {
		return nil, catalog.NewStoreError(name, fmt.Errorf("encode command: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.restURL, bytes.NewReader(body))
	if err != nil {
		return nil, catalog.NewStoreError(name, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		metrics.ObserveStoreCommand(name, "error")
		return nil, catalog.NewStoreError(name, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read side only

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		metrics.ObserveStoreCommand(name, "error")
		return nil, catalog.NewStoreError(name, fmt.Errorf("read response: %w", err))
	}

	var decoded response
	if err := json.Unmarshal(payload, &decoded); err != nil {
		metrics.ObserveStoreCommand(name, "error")
		return nil, catalog.NewStoreError(name,
			fmt.Errorf("decode response (http %d): %w", resp.StatusCode, err))
	}
	if decoded.Error != "" {
		metrics.ObserveStoreCommand(name, "error")
		return nil, catalog.NewStoreError(name, fmt.Errorf("%s", decoded.Error))
	}
	if resp.StatusCode != http.StatusOK {
		metrics.ObserveStoreCommand(name, "error")
		return nil, catalog.NewStoreError(name, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	metrics.ObserveStoreCommand(name, "ok")
	return decoded.Result, nil
}

func decodeInt(raw json.RawMessage, command string) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, catalog.NewStoreError(command, fmt.Errorf("decode result: %w", err))
	}
	return n, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
