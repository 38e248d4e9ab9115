package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultFetchCacheSize bounds the number of cached responses.
	DefaultFetchCacheSize = 128
	// DefaultFetchCacheTTL expires cached responses.
	DefaultFetchCacheTTL = 5 * time.Minute
	// DefaultFetchMaxBytes caps the body read from a single URL.
	DefaultFetchMaxBytes = 1 << 20
)

// WebFetchTool retrieves URLs over HTTP with a TTL-bounded LRU cache so
// repeated fetches of the same page within a turn hit the network once.
type WebFetchTool struct {
	client   *http.Client
	cache    *expirable.LRU[string, string]
	maxBytes int64
}

// WebFetchOptions configures the fetch tool.
type WebFetchOptions struct {
	Client    *http.Client
	CacheSize int
	CacheTTL  time.Duration
	MaxBytes  int64
}

// NewWebFetchTool constructs the tool with optional overrides.
func NewWebFetchTool(optFns ...func(o *WebFetchOptions)) *WebFetchTool {
	opts := WebFetchOptions{
		Client:    &http.Client{Timeout: 30 * time.Second},
		CacheSize: DefaultFetchCacheSize,
		CacheTTL:  DefaultFetchCacheTTL,
		MaxBytes:  DefaultFetchMaxBytes,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &WebFetchTool{
		client:   opts.Client,
		cache:    expirable.NewLRU[string, string](opts.CacheSize, nil, opts.CacheTTL),
		maxBytes: opts.MaxBytes,
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch the contents of a URL over HTTP."
}

func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to fetch",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Call(ctx context.Context, inv Invocation) (string, error) {
	url := inv.StringArg("url", "")
	if url == "" {
		return "", fmt.Errorf("url must not be empty")
	}

	if body, ok := t.cache.Get(url); ok {
		return body, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	out := string(body)
	t.cache.Add(url, out)
	return out, nil
}
