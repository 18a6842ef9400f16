package downloader

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"mangago/cf"
	"mangago/config"
)

// BrowserFetchFunc fetches a rendered page with a browser.
type BrowserFetchFunc func(ctx context.Context, url string) (string, error)

// RequestExecutor fetches chapter documents over HTTP and, when enabled,
// falls back to a browser on a non-Cloudflare failure.
type RequestExecutor struct {
	httpClient      *HTTPClient
	browserFallback bool
	browserFetch    BrowserFetchFunc
	log             *zap.Logger
}

// NewRequestExecutor creates a new request executor
func NewRequestExecutor(client *HTTPClient, site config.SiteConfig, httpCfg config.HTTPConfig, log *zap.Logger) *RequestExecutor {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("executor")

	return &RequestExecutor{
		httpClient:      client,
		browserFallback: httpCfg.BrowserFallback,
		browserFetch: func(ctx context.Context, url string) (string, error) {
			return FetchHTMLWithBrowser(ctx, site, url, log)
		},
		log: log,
	}
}

// WithBrowserFetch replaces the browser used for the fallback.
func (e *RequestExecutor) WithBrowserFetch(fetch BrowserFetchFunc) *RequestExecutor {
	e.browserFetch = fetch
	e.browserFallback = fetch != nil
	return e
}

// FetchHTML fetches HTML with automatic HTTP→Browser fallback
func (e *RequestExecutor) FetchHTML(ctx context.Context, targetURL string) (string, error) {
	e.log.Debug("Fetching", zap.String("url", targetURL))

	html, err := e.httpClient.FetchHTML(ctx, targetURL)
	if err == nil {
		return html, nil
	}

	// a challenge needs a manual solve, the browser would hit it too
	if _, isCfErr := cf.IsChallenge(err); isCfErr {
		return "", err
	}
	if ctx.Err() != nil || !e.browserFallback || e.browserFetch == nil {
		return "", err
	}

	e.log.Warn("⚠️ HTTP failed, trying browser fallback", zap.String("url", targetURL), zap.Error(err))

	html, browserErr := e.browserFetch(ctx, targetURL)
	if browserErr != nil {
		return "", fmt.Errorf("browser fallback failed: %w (http: %v)", browserErr, err)
	}

	e.log.Info("✓ Browser fetch successful", zap.String("url", targetURL))
	return html, nil
}

// FetchDocument fetches and parses a page.
func (e *RequestExecutor) FetchDocument(ctx context.Context, targetURL string) (*goquery.Document, error) {
	html, err := e.FetchHTML(ctx, targetURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", targetURL, err)
	}
	return doc, nil
}
