package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nao1215/finwatch/internal/model"
	"github.com/nao1215/finwatch/internal/strategy"
)

const (
	defaultTimeout = 60 * time.Second
	maxResponse    = 10 * 1024 * 1024
)

type clientConfig struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// Option configures a source client.
type Option func(*clientConfig)

// WithBaseURL overrides the API endpoint root.
func WithBaseURL(u string) Option {
	return func(c *clientConfig) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithUserAgent sets the User-Agent header sent to the API.
func WithUserAgent(ua string) Option {
	return func(c *clientConfig) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

func newClientConfig(baseURL string, opts []Option) clientConfig {
	c := clientConfig{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  "finwatch/1.0",
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// do sends a request with an optional JSON body and decodes a JSON
// response into out. Failures are *model.FetchError values.
func (c clientConfig) do(ctx context.Context, method, endpoint string, headers map[string]string, body, out any) (int, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		reason := model.ReasonOf(err)
		if reason == model.ReasonUnknown {
			reason = model.ReasonNetwork
		}
		return 0, &model.FetchError{URL: endpoint, Reason: reason, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return resp.StatusCode, &model.FetchError{
			URL:        endpoint,
			Reason:     model.ReasonForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponse)).Decode(out); err != nil {
		return resp.StatusCode, &model.FetchError{
			URL:        endpoint,
			Reason:     model.ReasonParseError,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}
	return resp.StatusCode, nil
}

// failedReport fills the status and block fields of a report from err.
func failedReport(report strategy.Report, status int, err error) (strategy.Report, error) {
	report.StatusCode = status
	var fe *model.FetchError
	if errors.As(err, &fe) {
		report.Blocked = fe.Blocked()
	}
	return report, err
}

// pdfOnly appends the PDF URLs of urls to found, skipping blanks.
func pdfOnly(found []strategy.Found, urls ...string) []strategy.Found {
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u != "" && model.IsPDFURL(u) {
			found = append(found, strategy.Found{URL: u})
		}
	}
	return found
}
