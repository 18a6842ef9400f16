package sites

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"mangago/decoder"
)

var imgSrcsRe = regexp.MustCompile(`var imgsrcs\s*=\s*['"]([a-zA-Z0-9+=/]+)['"]`)

// chapterDocument holds what the page list needs from the reader page.
type chapterDocument struct {
	ImgSrcs   []byte // encrypted page list
	ChapterJS string // absolute url of chapter.js
}

// parseChapterDocument extracts the encrypted list and the chapter script
// location from a chapter reader page.
func parseChapterDocument(doc *goquery.Document, pageURL string) (*chapterDocument, error) {
	var imgsrcsScript string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if _, hasSrc := s.Attr("src"); hasSrc {
			return true
		}
		if text := s.Text(); strings.Contains(text, "imgsrcs") {
			imgsrcsScript = text
			return false
		}
		return true
	})
	if imgsrcsScript == "" {
		return nil, &decoder.ExtractionError{What: "imgsrcs", Hint: "no script defines imgsrcs"}
	}

	m := imgSrcsRe.FindStringSubmatch(imgsrcsScript)
	if m == nil {
		return nil, &decoder.ExtractionError{What: "imgsrcs", Hint: "could not extract imgsrcs"}
	}

	imgsrcs, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return nil, fmt.Errorf("imgsrcs is not valid base64: %w", err)
	}

	var chapterJS string
	doc.Find("script[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if strings.Contains(strings.ToLower(src), "chapter.js") {
			chapterJS = src
			return false
		}
		return true
	})
	if chapterJS == "" {
		return nil, &decoder.ExtractionError{What: "chapter.js", Hint: "no script src contains chapter.js"}
	}

	abs, err := resolveURL(pageURL, chapterJS)
	if err != nil {
		return nil, err
	}

	return &chapterDocument{ImgSrcs: imgsrcs, ChapterJS: abs}, nil
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid page url %q: %w", base, err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("invalid script url %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}
