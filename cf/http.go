package cf

import (
	"net/http"
	"strings"
)

// ApplyBrowserHeaders sets the navigation headers a desktop browser sends,
// so plain HTTP requests look like the ones Cloudflare expects.
// It works on both http.Request.Header and colly's *http.Header.
func ApplyBrowserHeaders(h http.Header, userAgent string) {
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, br")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")

	if strings.Contains(userAgent, "Chrome") {
		h.Set("sec-ch-ua", `"Chromium";v="142", "Not_A Brand";v="99"`)
		h.Set("sec-ch-ua-mobile", "?0")
	}
}
