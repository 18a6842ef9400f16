package models

// Page is one entry of a resolved chapter page list.
// ImageURL already carries the desckey and cols query parameters when the
// image has to be descrambled after download.
type Page struct {
	Index    int    `json:"index"`     // Zero based position in the chapter
	ImageURL string `json:"image_url"` // Absolute image location
	Err      error  `json:"-"`         // Set when the page could not be resolved
}

// Resolved reports whether the page can be downloaded.
func (p Page) Resolved() bool {
	return p.Err == nil && p.ImageURL != ""
}

// Chapter is a resolved chapter ready for download.
type Chapter struct {
	URL   string `json:"url"`   // Chapter reader page
	Pages []Page `json:"pages"` // Pages in reading order
}

// Unresolved returns the pages that carry an error.
func (c *Chapter) Unresolved() []Page {
	var out []Page
	for _, p := range c.Pages {
		if !p.Resolved() {
			out = append(out, p)
		}
	}
	return out
}
