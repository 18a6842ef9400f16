package downloader

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangago/cf"
	"mangago/config"
	"mangago/models"
	"mangago/parser"
)

func testPNG(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 6), uint8(y * 6), 90, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestClient(t *testing.T, baseURL string) *HTTPClient {
	cfg := config.Default()
	cfg.Site.BaseURL = baseURL
	cfg.HTTP.Timeout = 5 * time.Second

	client, err := NewHTTPClient(cfg.Site, cfg.HTTP, NewSharedTransport(), nil)
	require.NoError(t, err)
	return client
}

func TestDescrambleParams(t *testing.T) {
	tests := map[string]struct {
		raw     string
		key     string
		cols    int
		wantErr bool
	}{
		"both":         {"https://x/a.jpg?desckey=2a0a3a1&cols=2", "2a0a3a1", 2, false},
		"no key":       {"https://x/a.jpg?cols=2", "", 0, false},
		"plain":        {"https://x/a.jpg", "", 0, false},
		"no cols":      {"https://x/a.jpg?desckey=1a0", "", 0, true},
		"cols not int": {"https://x/a.jpg?desckey=1a0&cols=two", "", 0, true},
		"empty key":    {"https://x/a.jpg?desckey=&cols=2", "", 0, true},
		"zero cols":    {"https://x/a.jpg?desckey=0&cols=0", "", 0, true},
		"huge cols":    {"https://x/a.jpg?desckey=0a1a2a3&cols=3037000500", "", 0, true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			u, err := url.Parse(tt.raw)
			require.NoError(t, err)

			key, cols, err := DescrambleParams(u)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.key, key)
			assert.Equal(t, tt.cols, cols)
		})
	}
}

func TestAnnotateDescramble(t *testing.T) {
	got, err := AnnotateDescramble("https://iweb.example.com/cspiclink/001.jpg", "2a0a3a1", 4)
	require.NoError(t, err)
	assert.Equal(t, "https://iweb.example.com/cspiclink/001.jpg?desckey=2a0a3a1&cols=4", got)

	u, err := url.Parse(got)
	require.NoError(t, err)
	key, cols, err := DescrambleParams(u)
	require.NoError(t, err)
	assert.Equal(t, "2a0a3a1", key)
	assert.Equal(t, 4, cols)
}

func TestAnnotateDescrambleKeepsExistingQuery(t *testing.T) {
	got, err := AnnotateDescramble("https://iweb.example.com/x.jpg?z=1&a=b%2Bc+d", "2a0a3a1", 2)
	require.NoError(t, err)
	assert.Equal(t, "https://iweb.example.com/x.jpg?z=1&a=b%2Bc+d&desckey=2a0a3a1&cols=2", got)
}

func TestDescrambleTransport(t *testing.T) {
	original := testPNG(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(original)
	}))
	defer server.Close()

	client := &http.Client{Transport: &DescrambleTransport{}}

	t.Run("passes plain images through", func(t *testing.T) {
		resp, err := client.Get(server.URL + "/plain.png")
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, original, body)
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	})

	t.Run("reconstructs scrambled images", func(t *testing.T) {
		resp, err := client.Get(server.URL + "/cspiclink/001.jpg?desckey=3a2a1a0&cols=2")
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
		assert.Equal(t, int64(len(body)), resp.ContentLength)

		img, err := imaging.Decode(bytes.NewReader(body))
		require.NoError(t, err)
		assert.Equal(t, 40, img.Bounds().Dx())
		assert.Equal(t, 40, img.Bounds().Dy())
	})

	t.Run("rejects an oversized grid without panicking", func(t *testing.T) {
		annotated, err := AnnotateDescramble(server.URL+"/cspiclink/001.jpg", "0a1a2a3", 3037000500)
		require.NoError(t, err)

		assert.NotPanics(t, func() {
			_, err = client.Get(annotated)
		})
		assert.Error(t, err)
	})

	t.Run("rejects a desckey without integer cols", func(t *testing.T) {
		_, err := client.Get(server.URL + "/cspiclink/001.jpg?desckey=3a2a1a0&cols=x")
		assert.Error(t, err)
	})

	t.Run("fails closed on a bad key", func(t *testing.T) {
		_, err := client.Get(server.URL + "/cspiclink/001.jpg?desckey=0a1&cols=2")
		require.Error(t, err)

		var tileErr *parser.TileError
		assert.True(t, errors.As(err, &tileErr), "got %v", err)
	})
}

func TestHTTPClientGet(t *testing.T) {
	headers := make(chan http.Header, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()

		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		gw.Write([]byte("var imgsrcs = 'abc';"))
		gw.Close()

		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	client := newTestClient(t, server.URL+"/")

	body, err := client.Get(context.Background(), server.URL+"/chapter.js", http.Header{"X-Test": {"1"}})
	require.NoError(t, err)
	assert.Equal(t, "var imgsrcs = 'abc';", string(body))

	seen := <-headers
	assert.Equal(t, server.URL+"/", seen.Get("Referer"))
	assert.Equal(t, "_m_superu=1", seen.Get("Cookie"))
	assert.Equal(t, "1", seen.Get("X-Test"))
	assert.NotEmpty(t, seen.Get("User-Agent"))
}

func TestHTTPClientGetChallenge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`<html><title>Just a moment...</title></html>`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Get(context.Background(), server.URL, nil)
	cfErr, ok := cf.IsChallenge(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, http.StatusForbidden, cfErr.StatusCode)

	// the executor does not fall back to the browser on a challenge
	executor := NewRequestExecutor(client, config.SiteConfig{}, config.HTTPConfig{}, nil).
		WithBrowserFetch(func(context.Context, string) (string, error) {
			t.Fatal("browser must not be used for a challenge")
			return "", nil
		})
	_, err = executor.FetchHTML(context.Background(), server.URL)
	_, ok = cf.IsChallenge(err)
	assert.True(t, ok)
}

func TestHTTPClientGetStatus(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Get(context.Background(), server.URL+"/nothing", nil)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
}

func TestRequestExecutorBrowserFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	var browserCalls int
	executor := NewRequestExecutor(client, config.SiteConfig{}, config.HTTPConfig{}, nil).
		WithBrowserFetch(func(_ context.Context, url string) (string, error) {
			browserCalls++
			return `<html><body><p id="x">rendered</p></body></html>`, nil
		})

	doc, err := executor.FetchDocument(context.Background(), server.URL+"/chapter/")
	require.NoError(t, err)
	assert.Equal(t, 1, browserCalls)
	assert.Equal(t, "rendered", doc.Find("#x").Text())

	// without a fallback the HTTP error is returned as is
	executor = NewRequestExecutor(client, config.SiteConfig{}, config.HTTPConfig{}, nil)
	_, err = executor.FetchHTML(context.Background(), server.URL+"/chapter/")
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
}

func TestFetchHTMLCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchHTML(ctx, server.URL)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCookieHeader(t *testing.T) {
	assert.Equal(t, "", CookieHeader(nil))
	assert.Equal(t, "_m_superu=1; lang=en+us", CookieHeader(map[string]string{"lang": "en us", "_m_superu": "1"}))
}

type stubSite struct{ domain string }

func (s *stubSite) GetSiteName() string { return "stub" }
func (s *stubSite) GetDomain() string   { return s.domain }
func (s *stubSite) NeedsCFBypass() bool { return false }
func (s *stubSite) PageList(context.Context, string) ([]models.Page, error) {
	return nil, nil
}
func (s *stubSite) NormalizeChapterFilename(string) string { return "stub.cbz" }

func TestLookupSite(t *testing.T) {
	RegisterSite("stub.example", func(SiteDeps) SitePlugin { return &stubSite{domain: "stub.example"} })

	site, err := LookupSite("https://www.stub.example/read/1", SiteDeps{})
	require.NoError(t, err)
	assert.Equal(t, "stub.example", site.GetDomain())

	_, err = LookupSite("https://notstub.example/read/1", SiteDeps{})
	assert.Error(t, err)

	assert.Contains(t, RegisteredDomains(), "stub.example")
}

type listSite struct {
	stubSite
	pages []models.Page
}

func (s *listSite) PageList(context.Context, string) ([]models.Page, error) {
	return s.pages, nil
}

func newListManager(t *testing.T, serverURL, workDir string, pages ...models.Page) *Manager {
	return NewManager(&DownloadConfig{
		Site:     &listSite{stubSite: stubSite{domain: "stub.example"}, pages: pages},
		Client:   newTestClient(t, serverURL),
		Download: config.DownloadConfig{Workers: 2, JPEGQuality: 90},
		WorkDir:  workDir,
	})
}

func TestManagerResumesInterruptedDownload(t *testing.T) {
	imgData := testPNG(t)
	requested := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested <- r.URL.Path
		if r.URL.Path != "/001.png" {
			http.NotFound(w, r)
			return
		}
		w.Write(imgData)
	}))
	defer server.Close()

	workDir := t.TempDir()
	chapterDir := filepath.Join(workDir, "stub", "stub")
	require.NoError(t, os.MkdirAll(chapterDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(chapterDir, "002.jpg"), []byte("complete"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(chapterDir, "001.jpg"+parser.TempSuffix), []byte("half"), 0644))

	manager := newListManager(t, server.URL, workDir,
		models.Page{Index: 0, ImageURL: server.URL + "/001.png"},
		models.Page{Index: 1, ImageURL: server.URL + "/002.png"},
	)

	result, err := manager.Download(context.Background(), server.URL+"/chapter/", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Downloaded)
	assert.Equal(t, 0, result.Failed)

	close(requested)
	var paths []string
	for p := range requested {
		paths = append(paths, p)
	}
	assert.Equal(t, []string{"/001.png"}, paths)

	zr, err := zip.OpenReader(result.CBZPath)
	require.NoError(t, err)
	defer zr.Close()
	require.Len(t, zr.File, 2)
	assert.Equal(t, "001.jpg", zr.File[0].Name)
	assert.Equal(t, "002.jpg", zr.File[1].Name)

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	first, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	_, err = imaging.Decode(bytes.NewReader(first))
	assert.NoError(t, err, "partial file from the previous run must not be packed")

	assert.NoDirExists(t, chapterDir)
}

func TestManagerKeepsPagesWhenPackingFails(t *testing.T) {
	imgData := testPNG(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(imgData)
	}))
	defer server.Close()

	workDir := t.TempDir()
	manager := newListManager(t, server.URL, workDir, models.Page{Index: 0, ImageURL: server.URL + "/001.png"})

	// a regular file where the output directory should be
	outDir := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(outDir, nil, 0644))

	_, err := manager.Download(context.Background(), server.URL+"/chapter/", outDir)
	require.Error(t, err)

	assert.FileExists(t, filepath.Join(workDir, "stub", "stub", "001.jpg"))
}
