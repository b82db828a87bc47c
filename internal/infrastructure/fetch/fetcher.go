// Package fetch retrieves novel pages from the upstream site.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"SleeperScout/internal/domain"
	"SleeperScout/internal/ports"
)

const maxRedirects = 5

var errTooManyRedirects = errors.New("too many redirects")

// Config configures the fetcher.
type Config struct {
	BaseURL        string
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration // Default: 12s.
	MaxBytes       int64         // Default: 4MB.
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 12 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 4 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (compatible; SleeperScout/1.0)"
	}
	if !strings.HasSuffix(c.BaseURL, "/") {
		c.BaseURL += "/"
	}
}

// TransportError is a fetch that never produced a usable response.
type TransportError struct {
	Kind string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Detail is the short form used in outcome lines.
func (e *TransportError) Detail() string {
	return e.Kind
}

// HTTPFetcher issues one GET per novel ID against the canonical page address.
type HTTPFetcher struct {
	client *http.Client
	config Config
	logger *slog.Logger
}

var _ ports.PageFetcher = (*HTTPFetcher)(nil)

// New creates an HTTPFetcher. The given client is copied, never modified;
// the copy gets the configured timeout when it has none and a redirect limit
// when it has no redirect policy.
func New(cfg Config, client *http.Client, log *slog.Logger) *HTTPFetcher {
	cfg.defaults()
	if client == nil {
		client = &http.Client{}
	}
	own := *client
	client = &own
	if client.Timeout <= 0 {
		client.Timeout = cfg.Timeout
	}
	if client.CheckRedirect == nil {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("%w (%d)", errTooManyRedirects, len(via))
			}
			return nil
		}
	}
	return &HTTPFetcher{client: client, config: cfg, logger: log}
}

// PageURL is the canonical address for id.
func (f *HTTPFetcher) PageURL(id int64) string {
	return f.config.BaseURL + strconv.FormatInt(id, 10)
}

// Fetch returns every HTTP response as a page, whatever its status.
// Only transport failures are errors, always as *TransportError.
func (f *HTTPFetcher) Fetch(ctx context.Context, id int64) (domain.Page, error) {
	pageURL := f.PageURL(id)
	page := domain.Page{ID: id, URL: pageURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return page, &TransportError{Kind: "request", Err: err}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if f.config.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", f.config.AcceptLanguage)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return page, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes))
	if err != nil {
		return page, classifyTransport(ctx, fmt.Errorf("read body: %w", err))
	}

	page.StatusCode = resp.StatusCode
	page.Body = body
	page.FinalURL = resp.Request.URL.String()

	f.debug("fetched page",
		"id", id,
		"status", resp.StatusCode,
		"bytes", len(body),
		"final_url", page.FinalURL,
		"elapsed", time.Since(start),
	)
	return page, nil
}

func classifyTransport(ctx context.Context, err error) *TransportError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return &TransportError{Kind: "canceled", Err: err}
	case errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()):
		return &TransportError{Kind: "timeout", Err: err}
	case errors.Is(err, errTooManyRedirects):
		return &TransportError{Kind: "redirect", Err: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &TransportError{Kind: "connection", Err: err}
	}
	return &TransportError{Kind: "transport", Err: err}
}

func (f *HTTPFetcher) debug(msg string, args ...interface{}) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}
