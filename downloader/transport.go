package downloader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"mangago/parser"
)

const (
	descKeyParam = "desckey"
	colsParam    = "cols"
)

// DescrambleParams returns the tile key and column count carried by an
// image URL. An empty key with a nil error means the URL carries no
// desckey. A desckey without a usable cols is an error.
func DescrambleParams(u *url.URL) (key string, cols int, err error) {
	if u == nil {
		return "", 0, nil
	}
	q := u.Query()
	if !q.Has(descKeyParam) {
		return "", 0, nil
	}
	key = q.Get(descKeyParam)
	if key == "" {
		return "", 0, errors.New("empty desckey")
	}
	cols, err = strconv.Atoi(q.Get(colsParam))
	if err != nil {
		return "", 0, fmt.Errorf("desckey without integer cols: %w", err)
	}
	if cols < 1 || cols > parser.MaxTileColumns {
		return "", 0, fmt.Errorf("cols %d out of range 1..%d", cols, parser.MaxTileColumns)
	}
	return key, cols, nil
}

// AnnotateDescramble appends the desckey and cols parameters to an image
// URL, leaving its existing query as is.
func AnnotateDescramble(imageURL, key string, cols int) (string, error) {
	u, err := url.Parse(imageURL)
	if err != nil {
		return "", fmt.Errorf("invalid image url %q: %w", imageURL, err)
	}
	params := descKeyParam + "=" + url.QueryEscape(key) + "&" + colsParam + "=" + strconv.Itoa(cols)
	if u.RawQuery != "" {
		u.RawQuery += "&" + params
	} else {
		u.RawQuery = params
	}
	return u.String(), nil
}

// DescrambleTransport is an http.RoundTripper that reconstructs scrambled
// page images. Responses to requests without desckey pass through
// untouched.
type DescrambleTransport struct {
	Base http.RoundTripper
	Log  *zap.Logger
}

func (t *DescrambleTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *DescrambleTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	key, cols, err := DescrambleParams(req.URL)
	if err != nil {
		return nil, fmt.Errorf("descramble %s: %w", req.URL.Redacted(), err)
	}

	resp, err := t.base().RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if key == "" || resp.StatusCode != http.StatusOK {
		return resp, nil
	}

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read scrambled image %s: %w", req.URL.Redacted(), err)
	}

	img, err := parser.UnscrambleImage(data, key, cols)
	if err != nil {
		return nil, fmt.Errorf("descramble %s: %w", req.URL.Redacted(), err)
	}

	if t.Log != nil {
		t.Log.Debug("✓ Descrambled image", zap.String("url", req.URL.Redacted()), zap.Int("cols", cols))
	}

	resp.Body = io.NopCloser(bytes.NewReader(img))
	resp.ContentLength = int64(len(img))
	resp.Header.Set("Content-Type", "image/jpeg")
	resp.Header.Set("Content-Length", strconv.Itoa(len(img)))
	resp.Header.Del("Content-Encoding")
	return resp, nil
}
