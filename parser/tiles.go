package parser

import (
	"bytes"
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

const (
	// TileKeySeparator separates tile indices in a descrambling key.
	TileKeySeparator = "a"
	// MaxTileColumns bounds the grid size accepted from the site.
	MaxTileColumns = 64
)

// TileError is returned when a scrambled image cannot be rebuilt. No
// partially drawn image is ever returned alongside it.
type TileError struct {
	Reason string
}

func (e *TileError) Error() string {
	return "tile reconstruction failed: " + e.Reason
}

// ParseTileKey splits a descrambling key into cols*cols source tile indices.
// Empty entries count as tile 0; entries past cols*cols are ignored.
func ParseTileKey(key string, cols int) ([]int, error) {
	if cols < 1 || cols > MaxTileColumns {
		return nil, &TileError{Reason: fmt.Sprintf("invalid column count %d", cols)}
	}

	parts := strings.Split(key, TileKeySeparator)
	if cols > len(parts) {
		return nil, &TileError{Reason: fmt.Sprintf("key has %d entries, need %d", len(parts), cols*cols)}
	}
	tiles := cols * cols
	if len(parts) < tiles {
		return nil, &TileError{Reason: fmt.Sprintf("key has %d entries, need %d", len(parts), tiles)}
	}

	out := make([]int, tiles)
	for idx := 0; idx < tiles; idx++ {
		if parts[idx] == "" {
			continue
		}
		n, err := strconv.Atoi(parts[idx])
		if err != nil {
			return nil, &TileError{Reason: fmt.Sprintf("key entry %d is not a number: %q", idx, parts[idx])}
		}
		if n < 0 || n >= tiles {
			return nil, &TileError{Reason: fmt.Sprintf("key entry %d points outside the %dx%d grid: %d", idx, cols, cols, n)}
		}
		out[idx] = n
	}

	return out, nil
}

// ReconstructImage rebuilds a scrambled page. The image is cut into a
// cols x cols grid of equal tiles (remainders at the right and bottom edges
// are dropped) and destination tile idx receives a pixel-exact copy of
// source tile key[idx].
func ReconstructImage(img image.Image, key string, cols int) (image.Image, error) {
	sources, err := ParseTileKey(key, cols)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	unitWidth := bounds.Dx() / cols
	unitHeight := bounds.Dy() / cols
	if unitWidth == 0 || unitHeight == 0 {
		return nil, &TileError{Reason: fmt.Sprintf("image %dx%d too small for %d columns", bounds.Dx(), bounds.Dy(), cols)}
	}

	result := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	for idx, src := range sources {
		dst := tileRect(idx, cols, unitWidth, unitHeight)
		from := tileRect(src, cols, unitWidth, unitHeight).Add(bounds.Min)

		if !from.In(bounds) || !dst.In(result.Bounds()) {
			return nil, &TileError{Reason: fmt.Sprintf("tile %d (source %d) exceeds image bounds", idx, src)}
		}

		draw.Draw(result, dst, img, from.Min, draw.Src)
	}

	return result, nil
}

// UnscrambleImage decodes a scrambled page, rebuilds it and re-encodes it as
// a baseline JPEG at maximum quality.
func UnscrambleImage(data []byte, key string, cols int) ([]byte, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}

	rebuilt, err := ReconstructImage(img, key, cols)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, rebuilt, imaging.JPEG, imaging.JPEGQuality(100)); err != nil {
		return nil, fmt.Errorf("failed to encode reconstructed image: %w", err)
	}
	return buf.Bytes(), nil
}

func tileRect(idx, cols, unitWidth, unitHeight int) image.Rectangle {
	row := idx / cols
	col := idx % cols
	x := col * unitWidth
	y := row * unitHeight
	return image.Rect(x, y, x+unitWidth, y+unitHeight)
}
