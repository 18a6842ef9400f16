package downloader

import (
	"context"

	"go.uber.org/zap"

	"mangago/config"
	"mangago/models"
)

// SitePlugin defines the interface that every supported site implements.
// Sites only resolve page lists; the downloader handles fetching, conversion
// and packing.
type SitePlugin interface {
	// GetSiteName returns the site identifier (e.g., "mangago")
	GetSiteName() string

	// GetDomain returns the site domain (e.g., "mangago.me")
	GetDomain() string

	// NeedsCFBypass returns true if this site sits behind Cloudflare
	NeedsCFBypass() bool

	// PageList resolves the ordered pages of a chapter. Pages that could
	// not be resolved carry Page.Err; a chapter-fatal failure is an error.
	PageList(ctx context.Context, chapterURL string) ([]models.Page, error)

	// NormalizeChapterFilename converts a chapter URL to the CBZ file name
	// e.g., ".../c072/" -> "title-ch072.cbz"
	NormalizeChapterFilename(chapterURL string) string
}

// ProgressCallback is called during download to report progress
// Parameters: status message, progress (0.0-1.0), pages done, total pages
type ProgressCallback func(string, float64, int, int)

// DownloadConfig holds configuration for a download session
type DownloadConfig struct {
	Site             SitePlugin
	Client           *HTTPClient
	Download         config.DownloadConfig
	ProgressCallback ProgressCallback
	Log              *zap.Logger

	// WorkDir holds the per-chapter page directories until the CBZ is
	// written. Empty means os.TempDir().
	WorkDir string
}
