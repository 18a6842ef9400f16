package cf

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gocolly/colly"
)

// Info describes why a response was classified as a challenge.
type Info struct {
	StatusCode int
	Indicators []string

	RayID        string
	ServerHeader string
}

// strong indicators, each one alone means a challenge page
var strongChecks = map[string]string{
	"cloudflare-browser-verification": "JS browser verification challenge",
	"challenge-form":                  "Cloudflare challenge form",
	"cf-chl-":                         "Cloudflare challenge token",
	"attention required":              "Cloudflare BIC",
	"checking your browser":           "Cloudflare browser check",
	"verify you are human":            "Cloudflare human verification",
}

var (
	// "just a moment" only counts inside <title>, chapter comments can contain it
	justAMomentRe = regexp.MustCompile(`(?i)<title[^>]*>[^<]*just a moment[^<]*</title>`)
)

// DetectBody inspects a response and reports whether Cloudflare served a
// challenge instead of the requested document.
func DetectBody(statusCode int, header http.Header, bodyBytes []byte) (bool, *Info) {
	body := strings.ToLower(string(bodyBytes))

	info := &Info{
		StatusCode:   statusCode,
		Indicators:   []string{},
		ServerHeader: header.Get("Server"),
		RayID:        header.Get("CF-Ray"),
	}

	match := false

	switch statusCode {
	case http.StatusForbidden:
		info.Indicators = append(info.Indicators, "403 Forbidden")
		match = true
	case http.StatusServiceUnavailable:
		info.Indicators = append(info.Indicators, "503 Service Unavailable")
		match = true
	case http.StatusTooManyRequests:
		info.Indicators = append(info.Indicators, "429 Rate limit")
	}

	for _, cookie := range header.Values("Set-Cookie") {
		if strings.Contains(cookie, "cf_clearance") {
			info.Indicators = append(info.Indicators, "New cf_clearance cookie in response")
			match = true
		}
	}

	for substr, reason := range strongChecks {
		if strings.Contains(body, substr) {
			info.Indicators = append(info.Indicators, reason)
			match = true
		}
	}

	if justAMomentRe.MatchString(body) {
		info.Indicators = append(info.Indicators, "Cloudflare challenge page")
		match = true
	}

	if strings.Contains(body, "cf-turnstile") {
		info.Indicators = append(info.Indicators, "Turnstile CAPTCHA")
		match = true
	}

	// a 403/503 from a server that is not Cloudflare is a plain HTTP failure
	if match && len(info.Indicators) == 1 && statusCode >= 400 &&
		!strings.Contains(strings.ToLower(info.ServerHeader), "cloudflare") && info.RayID == "" {
		return false, nil
	}

	if match {
		return true, info
	}
	return false, nil
}

// DetectFromColly wraps DetectBody so it can be used directly with Colly scrapers
func DetectFromColly(r *colly.Response) (bool, *Info) {
	if r == nil {
		return false, nil
	}

	header := http.Header{}
	if r.Headers != nil {
		header = *r.Headers
	}
	return DetectBody(r.StatusCode, header, r.Body)
}

// ChallengeError builds the error returned to callers for a detected challenge.
func ChallengeError(url string, info *Info) *CfChallengeError {
	if info == nil {
		return &CfChallengeError{URL: url}
	}
	return &CfChallengeError{URL: url, StatusCode: info.StatusCode, RayID: info.RayID, Indicators: info.Indicators}
}
