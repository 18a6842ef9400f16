package sites

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mangago/config"
	"mangago/decoder"
	"mangago/downloader"
	"mangago/models"
	"mangago/parser"
	"mangago/sandbox"
)

// ErrPageListUnavailable wraps every failure that leaves a chapter without
// a page list: fetch, extraction, decryption or a missing column count.
var ErrPageListUnavailable = errors.New("page list unavailable")

// scrambledMarker identifies image locations served as shuffled tiles
const scrambledMarker = "cspiclink"

var (
	colsRe       = regexp.MustCompile(`var\s+widthnum\s*=\s*heightnum\s*=\s*(\d+)\s*;`)
	chapterNumRe = regexp.MustCompile(`^c(\d+)(?:\.(\d+))?$`)
	unsafeNameRe = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)
)

// MangagoSite implements the SitePlugin interface for mangago.me
type MangagoSite struct {
	baseURL      string
	client       *downloader.HTTPClient
	executor     *downloader.RequestExecutor
	evaluator    *sandbox.Evaluator
	deobfuscator decoder.Deobfuscator
	workers      int
	log          *zap.Logger
}

// Ensure MangagoSite implements SitePlugin
var _ downloader.SitePlugin = (*MangagoSite)(nil)

// NewMangago wires the site on top of the shared HTTP client.
func NewMangago(cfg *config.Config, client *downloader.HTTPClient, log *zap.Logger) *MangagoSite {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("mangago")

	m := &MangagoSite{
		baseURL:      strings.TrimRight(cfg.Site.BaseURL, "/"),
		client:       client,
		evaluator:    sandbox.NewEvaluator(cfg.Sandbox.Timeout, log),
		deobfuscator: decoder.SoJSONv4{},
		workers:      cfg.Download.Workers,
		log:          log,
	}

	// the browser is only worth launching for sites behind Cloudflare
	httpCfg := cfg.HTTP
	httpCfg.BrowserFallback = httpCfg.BrowserFallback && m.NeedsCFBypass()
	m.executor = downloader.NewRequestExecutor(client, cfg.Site, httpCfg, log)

	return m
}

// GetSiteName returns the site identifier
func (m *MangagoSite) GetSiteName() string {
	return "mangago"
}

// GetDomain returns the site domain
func (m *MangagoSite) GetDomain() string {
	if u, err := url.Parse(m.baseURL); err == nil && u.Hostname() != "" {
		return strings.TrimPrefix(u.Hostname(), "www.")
	}
	return "mangago.me"
}

// NeedsCFBypass returns whether this site needs Cloudflare bypass
func (m *MangagoSite) NeedsCFBypass() bool {
	return true
}

// NormalizeChapterFilename converts a reader url such as
// /read-manga/some_title/mf/v01/c012.5/ into "some_title-ch012.5.cbz".
func (m *MangagoSite) NormalizeChapterFilename(chapterURL string) string {
	u, err := url.Parse(chapterURL)
	if err != nil {
		return "chapter.cbz"
	}

	var segments []string
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}

	title := ""
	if len(segments) > 1 && segments[0] == "read-manga" {
		title = segments[1]
	}

	for i := len(segments) - 1; i >= 0; i-- {
		match := chapterNumRe.FindStringSubmatch(segments[i])
		if match == nil {
			continue
		}
		num, _ := strconv.Atoi(match[1])
		name := fmt.Sprintf("ch%03d", num)
		if match[2] != "" {
			name += "." + match[2]
		}
		if title != "" {
			name = title + "-" + name
		}
		return unsafeNameRe.ReplaceAllString(name, "_") + ".cbz"
	}

	m.log.Warn("⚠️ Could not parse chapter number", zap.String("url", chapterURL))
	name := strings.Trim(unsafeNameRe.ReplaceAllString(strings.Join(segments, "-"), "_"), "_-")
	if name == "" {
		name = "chapter"
	}
	return name + ".cbz"
}

// PageList fetches the chapter reader page and resolves its pages.
func (m *MangagoSite) PageList(ctx context.Context, chapterURL string) ([]models.Page, error) {
	doc, err := m.executor.FetchDocument(ctx, chapterURL)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch chapter page: %w", ErrPageListUnavailable, err)
	}
	return m.ParsePageList(ctx, doc, chapterURL)
}

// ParsePageList runs the decode pipeline on an already fetched reader page:
// chapter script, deobfuscation, list decryption, unscrambling and per page
// key derivation for scrambled images.
func (m *MangagoSite) ParsePageList(ctx context.Context, doc *goquery.Document, pageURL string) ([]models.Page, error) {
	chapterDoc, err := parseChapterDocument(doc, pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPageListUnavailable, err)
	}

	obfuscated, err := m.client.Get(ctx, chapterDoc.ChapterJS, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch chapter script: %w", ErrPageListUnavailable, err)
	}

	script, err := m.deobfuscator.Deobfuscate(string(obfuscated))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPageListUnavailable, err)
	}

	material, err := decoder.ExtractCipherMaterial(script)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPageListUnavailable, err)
	}

	imageList, err := decoder.DecryptList(chapterDoc.ImgSrcs, material.Key, material.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPageListUnavailable, err)
	}

	imageList, unscrambled := decoder.UnscrambleList(imageList, decoder.KeyLocations(script))
	if !unscrambled {
		m.log.Debug("Image list is already in order", zap.String("chapter", pageURL))
	}

	var pages []models.Page
	needsKey := false
	for _, entry := range strings.Split(imageList, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		pages = append(pages, models.Page{Index: len(pages), ImageURL: entry})
		if strings.Contains(entry, scrambledMarker) {
			needsKey = true
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: decrypted list is empty", ErrPageListUnavailable)
	}

	if needsKey {
		cols, err := columnCount(script)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPageListUnavailable, err)
		}
		if err := m.deriveKeys(ctx, script, pages, cols); err != nil {
			return nil, err
		}
	}

	m.log.Info("✓ Resolved page list", zap.String("chapter", pageURL), zap.Int("pages", len(pages)))
	return pages, nil
}

// deriveKeys annotates every scrambled page with its descrambling key.
// A failed derivation marks that page only.
func (m *MangagoSite) deriveKeys(ctx context.Context, script string, pages []models.Page, cols int) error {
	workers := m.workers
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range pages {
		if !strings.Contains(pages[i].ImageURL, scrambledMarker) {
			continue
		}

		g.Go(func() error {
			page := &pages[i]

			key, err := m.evaluator.DeriveKey(gctx, script, page.ImageURL)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				page.Err = err
				return nil
			}

			annotated, err := downloader.AnnotateDescramble(page.ImageURL, key, cols)
			if err != nil {
				page.Err = err
				return nil
			}
			page.ImageURL = annotated
			return nil
		})
	}

	return g.Wait()
}

func columnCount(script string) (int, error) {
	m := colsRe.FindStringSubmatch(script)
	if m == nil {
		return 0, &decoder.ExtractionError{What: "widthnum", Hint: "column count of scrambled images"}
	}
	cols, err := strconv.Atoi(m[1])
	if err != nil || cols < 1 || cols > parser.MaxTileColumns {
		return 0, fmt.Errorf("invalid column count %q", m[1])
	}
	return cols, nil
}
