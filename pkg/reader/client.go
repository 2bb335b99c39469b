// Package reader provides a client for the content-fetch capability: a
// reader service that renders a page (headless browser or plain fetch)
// and returns its content as markdown.
package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the content-fetch operations used by the web adapter.
type Client interface {
	// Fetch renders a URL and returns its content.
	Fetch(ctx context.Context, targetURL string, opts ...FetchOption) (*Page, error)
}

// Page is the rendered content of one URL.
type Page struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	StatusCode int    `json:"status_code"`
}

type readResponse struct {
	Code int `json:"code"`
	Data struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"data"`
}

// StatusError is returned when the reader answers with a terminal non-200
// status, so callers can distinguish blocked/auth responses from transient
// failures.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("reader: unexpected status %d: %s", e.Code, e.Body)
}

// FetchOption configures a fetch request.
type FetchOption func(*fetchOpts)

type fetchOpts struct {
	scrollToBottom bool
	waitSelector   string
}

// WithScroll asks the reader to scroll the page before capture, loading
// lazy content.
func WithScroll() FetchOption {
	return func(o *fetchOpts) { o.scrollToBottom = true }
}

// WithWaitSelector delays capture until the selector is present.
func WithWaitSelector(sel string) FetchOption {
	return func(o *fetchOpts) { o.waitSelector = sel }
}

// Option configures the reader client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a reader client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://r.jina.ai",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes a request with exponential backoff on transient status
// codes. Returns body and status code, or the last error.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryReq := req.Clone(ctx)

		resp, err := c.http.Do(retryReq)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "reader: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("reader: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) Fetch(ctx context.Context, targetURL string, opts ...FetchOption) (*Page, error) {
	fo := &fetchOpts{}
	for _, opt := range opts {
		opt(fo)
	}

	reqURL := fmt.Sprintf("%s/%s", c.baseURL, targetURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "reader: create request")
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Return-Format", "markdown")
	if fo.scrollToBottom {
		req.Header.Set("X-Scroll", "bottom")
	}
	if fo.waitSelector != "" {
		req.Header.Set("X-Wait-For-Selector", fo.waitSelector)
	}

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "reader: request failed")
	}

	if statusCode != http.StatusOK {
		return nil, &StatusError{Code: statusCode, Body: string(body)}
	}

	var result readResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "reader: unmarshal response")
	}

	return &Page{
		URL:        result.Data.URL,
		Title:      result.Data.Title,
		Content:    result.Data.Content,
		StatusCode: statusCode,
	}, nil
}
