package cf

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectChallengePage(t *testing.T) {
	header := http.Header{}
	header.Set("Server", "cloudflare")
	header.Set("CF-Ray", "8a1b2c3d4e5f-AMS")

	body := []byte(`<html><head><title>Just a moment...</title></head></html>`)

	found, info := DetectBody(http.StatusForbidden, header, body)
	require.True(t, found)
	assert.Equal(t, "8a1b2c3d4e5f-AMS", info.RayID)
	assert.Contains(t, info.Indicators, "403 Forbidden")
	assert.Contains(t, info.Indicators, "Cloudflare challenge page")

	cfErr := ChallengeError("https://www.mangago.me/read-manga/x/", info)
	assert.Equal(t, "8a1b2c3d4e5f-AMS", cfErr.RayID)
	assert.Equal(t, http.StatusForbidden, cfErr.StatusCode)
}

func TestDetectBodyNormalPage(t *testing.T) {
	body := []byte(`<html><head><title>Chapter 1</title></head><body>i was here just a moment ago</body></html>`)

	found, info := DetectBody(http.StatusOK, http.Header{}, body)
	assert.False(t, found)
	assert.Nil(t, info)
}

func TestDetectBodyPlainForbidden(t *testing.T) {
	header := http.Header{}
	header.Set("Server", "nginx")

	found, _ := DetectBody(http.StatusForbidden, header, []byte("forbidden"))
	assert.False(t, found)
}

func TestDetectBodyTurnstile(t *testing.T) {
	found, info := DetectBody(http.StatusOK, http.Header{}, []byte(`<div class="cf-turnstile"></div>`))
	require.True(t, found)
	assert.Contains(t, info.Indicators, "Turnstile CAPTCHA")
}

func TestIsChallenge(t *testing.T) {
	err := fmt.Errorf("fetch chapter: %w", ChallengeError("https://example.org", &Info{StatusCode: 503}))

	cfErr, ok := IsChallenge(err)
	require.True(t, ok)
	assert.Equal(t, 503, cfErr.StatusCode)

	_, ok = IsChallenge(io.EOF)
	assert.False(t, ok)
}

func TestDecompressBody(t *testing.T) {
	plain := []byte(strings.Repeat("var imgsrcs = 'abc';", 20))

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, err := gw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, err = bw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, bw.Close())

	tests := map[string]struct {
		body     []byte
		encoding string
		changed  bool
	}{
		"gzip":   {gz.Bytes(), "", true},
		"brotli": {br.Bytes(), "br", true},
		"plain":  {plain, "", false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			out, changed, err := DecompressBody(tt.body, tt.encoding)
			require.NoError(t, err)
			assert.Equal(t, tt.changed, changed)
			assert.Equal(t, plain, out)
		})
	}
}
