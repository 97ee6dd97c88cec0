package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/browserflow/browserflow/pkg/llms"
)

// WebServerName is the built-in URL fetch server name.
const WebServerName = "web"

const (
	webMaxResponseSize = 10 << 20
	webMaxRedirects    = 10
	webUserAgent       = "BrowserFlow/1.0"
)

// WebServer exposes a URL fetch tool, used by the ingestion pipeline to
// pull page content for URL-bearing requests.
type WebServer struct {
	client *http.Client
}

func NewWebServer() *WebServer {
	return &WebServer{
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= webMaxRedirects {
					return fmt.Errorf("stopped after %d redirects", webMaxRedirects)
				}
				return nil
			},
		},
	}
}

func (s *WebServer) Name() string {
	return WebServerName
}

func (s *WebServer) Tools(ctx context.Context) ([]llms.ToolDef, error) {
	return []llms.ToolDef{
		{
			Name:        "fetch_url",
			Description: "Fetch the content of a URL with an HTTP GET request.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"url": map[string]interface{}{"type": "string"},
				},
				"required": []string{"url"},
			},
		},
	}, nil
}

func (s *WebServer) Call(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	if tool != "fetch_url" {
		return "", fmt.Errorf("unknown tool: %s", tool)
	}

	rawURL, _ := args["url"].(string)
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme: %q", parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, webMaxResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read response from %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s returned status %d", rawURL, resp.StatusCode)
	}

	return marshalResult(map[string]interface{}{
		"url":          rawURL,
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"content":      strings.ToValidUTF8(string(body), ""),
	})
}
