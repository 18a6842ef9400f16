package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mangago/models"
	"mangago/parser"
)

// PageResult is the outcome of one page download.
type PageResult struct {
	Page models.Page
	File string // local file, empty on failure
	Err  error
}

// Result summarizes a chapter download.
type Result struct {
	ChapterURL string
	CBZPath    string
	Pages      []PageResult
	Downloaded int
	Failed     int
}

// Manager orchestrates the download of one chapter
type Manager struct {
	config *DownloadConfig
	log    *zap.Logger

	progressMu sync.Mutex
}

// NewManager creates a new download manager
func NewManager(cfg *DownloadConfig) *Manager {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		config: cfg,
		log:    log.Named("downloader"),
	}
}

func (m *Manager) report(status string, progress float64, done, total int) {
	if m.config.ProgressCallback == nil {
		return
	}
	m.progressMu.Lock()
	defer m.progressMu.Unlock()
	m.config.ProgressCallback(status, progress, done, total)
}

// Download resolves the page list of chapterURL, downloads every resolved
// page through the descrambling client and packs them into a CBZ in outDir.
// Single page failures are reported in the result; the error return is for
// chapter-fatal failures and cancellation.
func (m *Manager) Download(ctx context.Context, chapterURL, outDir string) (*Result, error) {
	site := m.config.Site
	log := m.log.With(zap.String("site", site.GetDomain()), zap.String("chapter", chapterURL))

	m.report("Fetching page list...", 0, 0, 0)

	pages, err := site.PageList(ctx, chapterURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get page list: %w", err)
	}
	if len(pages) == 0 {
		return nil, errors.New("no pages found")
	}

	chapter := models.Chapter{URL: chapterURL, Pages: pages}
	log.Info("Found pages", zap.Int("pages", len(pages)), zap.Int("unresolved", len(chapter.Unresolved())))

	workDir := m.config.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}

	cbzName := site.NormalizeChapterFilename(chapterURL)
	chapterDir := filepath.Join(workDir, site.GetSiteName(), strings.TrimSuffix(cbzName, ".cbz"))
	if err := os.MkdirAll(chapterDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	// complete pages left over from an interrupted run; partial writes
	// never reach their final name
	existing, err := parser.LocalPageList(chapterDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list local pages: %w", err)
	}
	present := make(map[string]bool, len(existing))
	for _, name := range existing {
		present[name] = true
	}

	rateLimiter := parser.NewRateLimiter(m.config.Download.Interval)
	defer rateLimiter.Stop()

	workers := m.config.Download.Workers
	if workers < 1 {
		workers = 1
	}

	result := &Result{ChapterURL: chapterURL, Pages: make([]PageResult, len(pages))}

	var (
		doneMu sync.Mutex
		done   int
	)
	pageDone := func() {
		doneMu.Lock()
		done++
		n := done
		doneMu.Unlock()
		m.report(fmt.Sprintf("Downloading page %d/%d", n, len(pages)), float64(n)/float64(len(pages)), n, len(pages))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, page := range pages {
		result.Pages[i].Page = page

		if !page.Resolved() {
			result.Pages[i].Err = page.Err
			if result.Pages[i].Err == nil {
				result.Pages[i].Err = errors.New("page has no image url")
			}
			log.Warn("⚠️ Skipping unresolved page", zap.Int("page", page.Index+1), zap.Error(result.Pages[i].Err))
			pageDone()
			continue
		}

		filename := parser.PageFileName(page.Index)
		target := filepath.Join(chapterDir, filename)
		if present[filename] {
			result.Pages[i].File = target
			pageDone()
			continue
		}

		g.Go(func() error {
			if err := rateLimiter.Wait(gctx); err != nil {
				return err
			}

			if err := m.downloadPage(gctx, page.ImageURL, target); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				result.Pages[i].Err = err
				log.Warn("⚠️ Failed to download page", zap.Int("page", page.Index+1), zap.Error(err))
			} else {
				result.Pages[i].File = target
			}
			pageDone()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, pr := range result.Pages {
		if pr.Err != nil {
			result.Failed++
		} else {
			result.Downloaded++
		}
	}

	log.Info("Downloaded pages", zap.Int("downloaded", result.Downloaded), zap.Int("failed", result.Failed))

	if result.Downloaded == 0 {
		return result, errors.New("no images downloaded successfully")
	}

	m.report("Creating CBZ file...", 1.0, len(pages), len(pages))

	result.CBZPath = filepath.Join(outDir, cbzName)
	if err := parser.CreateCbzFromDir(chapterDir, result.CBZPath); err != nil {
		return result, fmt.Errorf("failed to create CBZ: %w", err)
	}

	log.Info("✓ Created CBZ", zap.String("file", result.CBZPath), zap.Int("images", result.Downloaded))

	// kept on failure so the next run resumes
	if err := os.RemoveAll(chapterDir); err != nil {
		log.Warn("⚠️ Failed to remove temp directory", zap.String("dir", chapterDir), zap.Error(err))
	}
	return result, nil
}

// downloadPage fetches one image and stores it as JPEG.
func (m *Manager) downloadPage(ctx context.Context, imageURL, target string) error {
	data, err := m.config.Client.GetImage(ctx, imageURL)
	if err != nil {
		return err
	}
	return parser.ConvertImageToJPEG(data, target, m.config.Download.JPEGQuality)
}
