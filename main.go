package main

// mangago resolves and downloads mangago chapters.
//
// Package structure:
// - decoder/    : chapter script deobfuscation, key material, list cipher, list unscrambling
// - sandbox/    : isolated goja evaluation of the descrambling key fragment
// - parser/     : image tile reconstruction, image conversion, CBZ packing, rate limiting
// - sites/      : the mangago page list resolver
// - downloader/ : HTTP client, descrambling transport, browser fallback, chapter download
// - cf/         : Cloudflare challenge detection and response decompression
// - config/     : TOML/YAML configuration
// - logger/     : zap logger with rotating file output
// - validation/ : input and config checks

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mangago/cf"
	"mangago/config"
	"mangago/downloader"
	"mangago/logger"
	"mangago/models"
	"mangago/parser"
	"mangago/sites"
	"mangago/validation"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a .toml or .yaml config file")
	outDir := flag.String("out", ".", "directory the CBZ file is written to")
	listOnly := flag.Bool("list", false, "print the resolved page list instead of downloading")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: mangago [-config f] [-out dir] [-list] <chapter-url>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(config.VersionString())
		return 0
	}

	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}
	chapterURL := flag.Arg(0)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		cfg = loaded
	}
	if err := validation.ValidateConfig(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		return 1
	}
	if err := validation.ValidateChapterURL(chapterURL, downloader.RegisteredDomains()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	log := logger.Must(cfg.Logging)
	defer log.Sync()

	log.Info("Starting", zap.String("version", config.Version), zap.String("commit", config.GitCommit))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := downloader.NewHTTPClient(cfg.Site, cfg.HTTP, downloader.NewSharedTransport(), log)
	if err != nil {
		log.Error("Failed to create HTTP client", zap.Error(err))
		return 1
	}

	site, err := downloader.LookupSite(chapterURL, downloader.SiteDeps{Config: cfg, Client: client, Log: log})
	if err != nil {
		log.Error("No site for chapter", zap.Error(err))
		return 1
	}

	if *listOnly {
		return listPages(ctx, log, site, chapterURL)
	}

	outPath, err := parser.ExpandPath(*outDir)
	if err != nil {
		log.Error("Invalid output directory", zap.Error(err))
		return 1
	}

	manager := downloader.NewManager(&downloader.DownloadConfig{
		Site:     site,
		Client:   client,
		Download: cfg.Download,
		Log:      log,
		ProgressCallback: func(status string, progress float64, done, total int) {
			log.Debug(status, zap.Float64("progress", progress), zap.Int("done", done), zap.Int("total", total))
		},
	})

	result, err := manager.Download(ctx, chapterURL, outPath)
	if err != nil {
		reportError(log, err)
		return 1
	}

	for _, page := range result.Pages {
		if page.Err != nil {
			log.Warn("⚠️ Page missing from archive", zap.Int("page", page.Page.Index+1), zap.Error(page.Err))
		}
	}

	fmt.Println(result.CBZPath)
	log.Info("✓ Done", zap.Int("pages", result.Downloaded), zap.Int("failed", result.Failed))
	return 0
}

func listPages(ctx context.Context, log *zap.Logger, site downloader.SitePlugin, chapterURL string) int {
	pages, err := site.PageList(ctx, chapterURL)
	if err != nil {
		reportError(log, err)
		return 1
	}

	chapter := models.Chapter{URL: chapterURL, Pages: pages}
	for _, page := range chapter.Pages {
		if page.Err != nil {
			fmt.Printf("%03d\tERROR\t%v\n", page.Index+1, page.Err)
			continue
		}
		fmt.Printf("%03d\t%s\n", page.Index+1, page.ImageURL)
	}

	if unresolved := chapter.Unresolved(); len(unresolved) > 0 {
		log.Warn("⚠️ Unresolved pages", zap.Int("pages", len(unresolved)), zap.Int("total", len(chapter.Pages)))
		return 1
	}
	return 0
}

func reportError(log *zap.Logger, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		log.Warn("Cancelled")
	case errors.Is(err, sites.ErrPageListUnavailable):
		if cfErr, ok := cf.IsChallenge(err); ok {
			log.Error("Cloudflare challenge, open the chapter in a browser and retry",
				zap.String("url", cfErr.URL), zap.String("ray_id", cfErr.RayID), zap.Strings("indicators", cfErr.Indicators))
			return
		}
		log.Error("Page list unavailable", zap.Error(err))
	default:
		log.Error("Download failed", zap.Error(err))
	}
}
