package downloader

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"mangago/cf"
	"mangago/config"
)

// BrowserSession manages a headless chromedp browser used when the plain
// HTTP fetch of a chapter page fails.
type BrowserSession struct {
	ctx     context.Context
	cancel  context.CancelFunc
	baseURL string
	cookies []*network.CookieParam
	log     *zap.Logger
}

// NewBrowserSession starts a headless browser with the site user agent.
// The site cookies are injected before every navigation.
func NewBrowserSession(ctx context.Context, site config.SiteConfig, log *zap.Logger) (*BrowserSession, error) {
	if log == nil {
		log = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(site.UserAgent),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-gpu", true),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	session := &BrowserSession{
		ctx:     browserCtx,
		cancel:  func() { cancelBrowser(); cancelAlloc() },
		baseURL: site.BaseURL,
		cookies: cookieParams(site.BaseURL, site.Cookies),
		log:     log.Named("browser"),
	}
	return session, nil
}

func cookieParams(baseURL string, cookies map[string]string) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for name, value := range cookies {
		params = append(params, &network.CookieParam{
			Name:  name,
			Value: value,
			URL:   baseURL,
			Path:  "/",
		})
	}
	return params
}

// Navigate navigates to a URL and waits for page load. A Cloudflare
// challenge page is reported as *cf.CfChallengeError.
func (bs *BrowserSession) Navigate(url string) error {
	timeout := 30 * time.Second
	ctx, cancel := context.WithTimeout(bs.ctx, timeout)
	defer cancel()

	var tasks []chromedp.Action

	if len(bs.cookies) > 0 {
		cookies := bs.cookies
		tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCookies(cookies).Do(ctx)
		}))
	}

	tasks = append(tasks,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Referer": bs.baseURL + "/"}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	)

	if err := chromedp.Run(ctx, tasks...); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}

	html, err := bs.GetHTML()
	if err != nil {
		bs.log.Warn("Could not get HTML for CF detection", zap.Error(err))
		return nil
	}

	// chromedp gives no status code, assume 200
	if isCF, info := cf.DetectBody(http.StatusOK, http.Header{}, []byte(html)); isCF {
		bs.log.Warn("⚠️ Cloudflare challenge detected in page", zap.String("url", url))
		return cf.ChallengeError(url, info)
	}

	bs.log.Debug("✓ Navigation successful", zap.String("url", url))
	return nil
}

// GetHTML returns the page HTML
func (bs *BrowserSession) GetHTML() (string, error) {
	timeout := 10 * time.Second
	ctx, cancel := context.WithTimeout(bs.ctx, timeout)
	defer cancel()

	var html string
	err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html))
	return html, err
}

// Close closes the browser session
func (bs *BrowserSession) Close() {
	if bs.cancel != nil {
		bs.cancel()
	}
}

// FetchHTMLWithBrowser fetches a URL in a fresh browser session and
// returns the rendered HTML.
func FetchHTMLWithBrowser(ctx context.Context, site config.SiteConfig, url string, log *zap.Logger) (string, error) {
	session, err := NewBrowserSession(ctx, site, log)
	if err != nil {
		return "", fmt.Errorf("failed to create browser session: %w", err)
	}
	defer session.Close()

	if err := session.Navigate(url); err != nil {
		return "", err
	}

	html, err := session.GetHTML()
	if err != nil {
		return "", fmt.Errorf("failed to get HTML: %w", err)
	}
	return html, nil
}
