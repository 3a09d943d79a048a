package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nao1215/finwatch/internal/model"
	"github.com/nao1215/finwatch/internal/throttle"
)

// Fetch limits.
const (
	// DefaultMaxBodySize caps HTML responses.
	DefaultMaxBodySize = 5 * 1024 * 1024
	// DefaultMaxDocumentSize caps document downloads.
	DefaultMaxDocumentSize = 50 * 1024 * 1024
	// DefaultUserAgent identifies the crawler.
	DefaultUserAgent = "Mozilla/5.0 (compatible; finwatch/1.0; +https://github.com/nao1215/finwatch)"

	// blockScanLimit bounds how much of a body is scanned for block pages.
	blockScanLimit = 3000
	// signatureScanLimit bounds where the PDF header may start.
	signatureScanLimit = 1024
	// interstitialMaxSize bounds successful responses treated as block pages.
	interstitialMaxSize = 32 * 1024
)

// pdfSignature starts every PDF file.
var pdfSignature = []byte("%PDF-")

// blockPatterns mark bot-protection interstitials served with any status.
var blockPatterns = []string{
	"captcha",
	"access denied",
	"cloudflare",
	"bot detection",
	"verify you are human",
	"are you a robot",
}

// retryableStatus lists statuses worth retrying within one fetch.
var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusGatewayTimeout:      true,
}

// Fetcher performs classified HTTP GETs. Every failure is a
// *model.FetchError carrying a reason code.
type Fetcher struct {
	client          *http.Client
	throttle        *throttle.Throttle
	logger          *slog.Logger
	userAgent       string
	maxBodySize     int64
	maxDocumentSize int64
	maxRetries      int
	backoffBase     time.Duration
	backoffCap      time.Duration
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithThrottle paces requests per domain and records block signals.
func WithThrottle(t *throttle.Throttle) FetcherOption {
	return func(f *Fetcher) {
		f.throttle = t
	}
}

// WithFetcherLogger sets the logger.
func WithFetcherLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithMaxBodySize caps HTML response bodies.
func WithMaxBodySize(n int64) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBodySize = n
		}
	}
}

// WithMaxDocumentSize caps document downloads.
func WithMaxDocumentSize(n int64) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxDocumentSize = n
		}
	}
}

// WithRetries sets how many times a retryable response is retried, and
// the exponential backoff between attempts.
func WithRetries(n int, base, maxDelay time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if n >= 0 {
			f.maxRetries = n
		}
		if base > 0 {
			f.backoffBase = base
		}
		if maxDelay > 0 {
			f.backoffCap = maxDelay
		}
	}
}

// NewFetcher creates a Fetcher using client.
func NewFetcher(client *http.Client, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:          client,
		userAgent:       DefaultUserAgent,
		maxBodySize:     DefaultMaxBodySize,
		maxDocumentSize: DefaultMaxDocumentSize,
		maxRetries:      2,
		backoffBase:     500 * time.Millisecond,
		backoffCap:      8 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = http.DefaultClient
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// FetchPage fetches an HTML page.
func (f *Fetcher) FetchPage(ctx context.Context, pageURL string) (*model.Payload, error) {
	return f.get(ctx, pageURL, "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8", f.maxBodySize)
}

// FetchDocument downloads a document and checks that it is a PDF: the
// content type or URL must say so, and the body must carry the %PDF-
// signature near its start.
func (f *Fetcher) FetchDocument(ctx context.Context, docURL string) (*model.Payload, error) {
	payload, err := f.get(ctx, docURL, "application/pdf,*/*;q=0.8", f.maxDocumentSize)
	if err != nil {
		return nil, err
	}

	ct := strings.ToLower(payload.ContentType)
	if !strings.Contains(ct, "pdf") && !strings.Contains(ct, "octet-stream") && !model.IsPDFURL(docURL) {
		return nil, &model.FetchError{
			URL:        docURL,
			Reason:     model.ReasonInvalidContentType,
			StatusCode: payload.StatusCode,
			Err:        fmt.Errorf("content type %q", payload.ContentType),
		}
	}

	head := payload.Body
	if len(head) > signatureScanLimit {
		head = head[:signatureScanLimit]
	}
	if !bytes.Contains(head, pdfSignature) {
		return nil, &model.FetchError{
			URL:        docURL,
			Reason:     model.ReasonInvalidPDFSignature,
			StatusCode: payload.StatusCode,
			Err:        errors.New("missing %PDF- signature"),
		}
	}
	return payload, nil
}

// get performs a GET with pacing, bounded retries and classification.
func (f *Fetcher) get(ctx context.Context, rawURL, accept string, limit int64) (*model.Payload, error) {
	domain := model.DomainOf(rawURL)

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, f.backoff(attempt-1)); err != nil {
				return nil, classifyTransportError(rawURL, err)
			}
		}

		if f.throttle != nil {
			if err := f.throttle.Wait(ctx, domain); err != nil {
				if errors.Is(err, throttle.ErrCoolingDown) {
					// A retry cut short by a new cooldown still reports the real failure.
					if lastErr != nil {
						return nil, lastErr
					}
					return nil, &model.FetchError{URL: rawURL, Reason: model.ReasonBlocked, Err: err}
				}
				return nil, classifyTransportError(rawURL, err)
			}
		}

		payload, retryable, err := f.do(ctx, rawURL, accept, limit)
		if err == nil {
			payload.Retries = attempt
			return payload, nil
		}
		lastErr = err

		var fe *model.FetchError
		if errors.As(err, &fe) && fe.Blocked() {
			f.recordBlock(domain, fe)
			return nil, err
		}
		if !retryable || ctx.Err() != nil {
			return nil, err
		}
		f.logger.Debug("retrying fetch", "url", rawURL, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// do performs one request. The bool reports whether the failure is
// worth retrying.
func (f *Fetcher) do(ctx context.Context, rawURL, accept string, limit int64) (*model.Payload, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, &model.FetchError{URL: rawURL, Reason: model.ReasonParseError, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		fe := classifyTransportError(rawURL, err)
		return nil, fe.Reason == model.ReasonNetwork || fe.Reason == model.ReasonTimeout, fe
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		fe := classifyTransportError(rawURL, err)
		return nil, true, fe
	}
	if int64(len(body)) > limit {
		return nil, false, &model.FetchError{
			URL:        rawURL,
			Reason:     model.ReasonFileTooLarge,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("body exceeds %d bytes", limit),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if reason, blocked := detectBlock(resp.StatusCode, contentType, body); blocked {
		return nil, false, &model.FetchError{
			URL:        rawURL,
			Reason:     reason,
			StatusCode: resp.StatusCode,
			Err:        errors.New("request blocked by bot protection"),
		}
	}

	if resp.StatusCode >= 400 {
		return nil, retryableStatus[resp.StatusCode], &model.FetchError{
			URL:        rawURL,
			Reason:     model.ReasonForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &model.Payload{
		URL:         rawURL,
		FinalURL:    finalURL,
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
	}, false, nil
}

func (f *Fetcher) recordBlock(domain string, fe *model.FetchError) {
	if f.throttle == nil || domain == "" {
		return
	}
	f.throttle.Block(domain, 0)
	f.logger.Warn("block signal", "domain", domain, "status", fe.StatusCode, "url", fe.URL)
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	d := f.backoffBase << attempt
	if d <= 0 || d > f.backoffCap {
		return f.backoffCap
	}
	return d
}

// detectBlock recognizes block responses: 401, 403 and 429 always, and
// HTML responses whose opening text looks like a bot interstitial. A
// successful response only counts when it is small enough to be one.
func detectBlock(status int, contentType string, body []byte) (model.ReasonCode, bool) {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return model.ReasonBlocked, true
	}
	if !strings.Contains(strings.ToLower(contentType), "html") {
		return "", false
	}
	if status < 400 && len(body) > interstitialMaxSize {
		return "", false
	}
	head := body
	if len(head) > blockScanLimit {
		head = head[:blockScanLimit]
	}
	lower := strings.ToLower(string(head))
	for _, p := range blockPatterns {
		if strings.Contains(lower, p) {
			return model.ReasonBlocked, true
		}
	}
	return "", false
}

// classifyTransportError maps client errors to a FetchError.
func classifyTransportError(rawURL string, err error) *model.FetchError {
	var fe *model.FetchError
	if errors.As(err, &fe) {
		return fe
	}
	reason := model.ReasonOf(err)
	if reason == model.ReasonUnknown {
		reason = model.ReasonNetwork
	}
	if errors.Is(err, context.Canceled) {
		reason = model.ReasonTimeout
	}
	return &model.FetchError{URL: rawURL, Reason: reason, Err: err}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
