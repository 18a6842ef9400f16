package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gocolly/colly"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"mangago/cf"
	"mangago/config"
)

// HTTPError is returned for a response with an unexpected status code.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status code %d for %s", e.StatusCode, e.URL)
}

// NewSharedTransport returns the connection pool shared by every client,
// collector and interceptor of the process.
func NewSharedTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// HTTPClient fetches the site documents and images. All requests carry the
// site Referer and cookies. There are no retries: a failure is reported once.
type HTTPClient struct {
	baseURL      string
	userAgent    string
	cookieHeader string
	timeout      time.Duration
	transport    http.RoundTripper
	jar          *cookiejar.Jar
	httpClient   *http.Client
	imageClient  *http.Client
	log          *zap.Logger
}

// NewHTTPClient creates the client for one site. transport is the shared
// connection pool; nil uses a fresh one.
func NewHTTPClient(site config.SiteConfig, httpCfg config.HTTPConfig, transport http.RoundTripper, log *zap.Logger) (*HTTPClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if transport == nil {
		transport = NewSharedTransport()
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	c := &HTTPClient{
		baseURL:      strings.TrimRight(site.BaseURL, "/"),
		userAgent:    site.UserAgent,
		cookieHeader: CookieHeader(site.Cookies),
		timeout:      httpCfg.Timeout,
		transport:    transport,
		jar:          jar,
		log:          log.Named("http"),
	}

	c.httpClient = &http.Client{Transport: transport, Jar: jar, Timeout: c.timeout}
	c.imageClient = &http.Client{
		Transport: &DescrambleTransport{Base: transport, Log: c.log},
		Jar:       jar,
		Timeout:   c.timeout,
	}

	return c, nil
}

// CookieHeader builds a Cookie header value from name/value pairs, sorted
// by name with URL-encoded values.
func CookieHeader(cookies map[string]string) string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+url.QueryEscape(cookies[name]))
	}
	return strings.Join(parts, "; ")
}

// applySiteHeaders sets Referer and the site cookies on a request header.
func (c *HTTPClient) applySiteHeaders(h http.Header) {
	h.Set("Referer", c.baseURL+"/")
	if c.cookieHeader != "" {
		h.Set("Cookie", c.cookieHeader)
	}
}

// Get fetches a text document (page, script) and returns the decompressed
// body. A Cloudflare challenge is returned as *cf.CfChallengeError, any
// other non-200 status as *HTTPError.
func (c *HTTPClient) Get(ctx context.Context, targetURL string, headers http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	cf.ApplyBrowserHeaders(req.Header, c.userAgent)
	c.applySiteHeaders(req.Header)
	for name, values := range headers {
		req.Header[name] = values
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	decompressed, wasCompressed, err := cf.DecompressBody(bodyBytes, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress response: %w", err)
	}
	if wasCompressed {
		c.log.Debug("✓ Decompressed response",
			zap.Int("compressed", len(bodyBytes)), zap.Int("size", len(decompressed)))
		bodyBytes = decompressed
	}

	if isCF, info := cf.DetectBody(resp.StatusCode, resp.Header, bodyBytes); isCF {
		c.log.Warn("⚠️ Cloudflare challenge detected", zap.String("url", targetURL), zap.Strings("indicators", info.Indicators))
		return nil, cf.ChallengeError(targetURL, info)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{URL: targetURL, StatusCode: resp.StatusCode}
	}

	return bodyBytes, nil
}

// GetImage downloads one page image through the descrambling transport, so
// the returned bytes are already reconstructed.
func (c *HTTPClient) GetImage(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/png,image/jpeg,*/*;q=0.8")
	c.applySiteHeaders(req.Header)

	resp, err := c.imageClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{URL: imageURL, StatusCode: resp.StatusCode}
	}

	return io.ReadAll(resp.Body)
}

// CreateCollyCollector creates a Colly collector on the shared transport,
// bound to ctx, with the site headers applied and automatic decompression.
func (c *HTTPClient) CreateCollyCollector(ctx context.Context) *colly.Collector {
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.UserAgent(c.userAgent),
	)

	collector.WithTransport(&contextTransport{ctx: ctx, base: c.transport})
	collector.SetCookieJar(c.jar)
	if c.timeout > 0 {
		collector.SetRequestTimeout(c.timeout)
	}
	// status handling is done by the callers
	collector.ParseHTTPErrorResponse = true

	collector.OnRequest(func(r *colly.Request) {
		cf.ApplyBrowserHeaders(*r.Headers, c.userAgent)
		c.applySiteHeaders(*r.Headers)
	})

	collector.OnResponse(func(r *colly.Response) {
		if _, err := cf.DecompressResponse(r); err != nil {
			c.log.Warn("Failed to decompress", zap.Error(err))
		}
	})

	return collector
}

// FetchHTML fetches a page with a fresh collector and returns its HTML.
func (c *HTTPClient) FetchHTML(ctx context.Context, targetURL string) (string, error) {
	collector := c.CreateCollyCollector(ctx)

	var (
		html     string
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		if isCF, info := cf.DetectFromColly(r); isCF {
			fetchErr = cf.ChallengeError(targetURL, info)
			return
		}
		if r.StatusCode != http.StatusOK {
			fetchErr = &HTTPError{URL: targetURL, StatusCode: r.StatusCode}
			return
		}
		html = string(r.Body)
	})

	if err := collector.Visit(targetURL); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", err
	}
	if fetchErr != nil {
		return "", fetchErr
	}
	if html == "" {
		return "", errors.New("empty response for " + targetURL)
	}
	return html, nil
}

// contextTransport binds requests made by a colly collector to ctx.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}
