package parser

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noiseImage returns a w x h image with pseudo random pixels, so every tile
// has a distinct checksum.
func noiseImage(w, h int, seed int64) *image.RGBA {
	r := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(r.Intn(256)), uint8(r.Intn(256)), uint8(r.Intn(256)), 255})
		}
	}
	return img
}

func tileChecksum(img image.Image, rect image.Rectangle) [32]byte {
	h := sha256.New()
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			h.Write([]byte{byte(r >> 8), byte(g >> 8), byte(b >> 8), byte(a >> 8)})
		}
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

func tileChecksums(img image.Image, cols int) [][32]byte {
	b := img.Bounds()
	uw, uh := b.Dx()/cols, b.Dy()/cols
	sums := make([][32]byte, cols*cols)
	for idx := range sums {
		sums[idx] = tileChecksum(img, tileRect(idx, cols, uw, uh))
	}
	return sums
}

func joinKey(key []int) string {
	parts := make([]string, len(key))
	for i, k := range key {
		parts[i] = strconv.Itoa(k)
	}
	return strings.Join(parts, TileKeySeparator)
}

func TestReconstructImageKnownKey(t *testing.T) {
	scrambled := noiseImage(64, 48, 1)
	in := tileChecksums(scrambled, 2)

	out, err := ReconstructImage(scrambled, "2a0a3a1", 2)
	require.NoError(t, err)
	assert.Equal(t, scrambled.Bounds(), out.Bounds())

	got := tileChecksums(out, 2)
	assert.Equal(t, in[2], got[0])
	assert.Equal(t, in[0], got[1])
	assert.Equal(t, in[3], got[2])
	assert.Equal(t, in[1], got[3])
}

func TestReconstructImageIsPermutation(t *testing.T) {
	r := rand.New(rand.NewSource(3))

	for cols := 1; cols <= 6; cols++ {
		img := noiseImage(12*cols+cols-1, 9*cols, int64(cols))
		key := r.Perm(cols * cols)

		out, err := ReconstructImage(img, joinKey(key), cols)
		require.NoError(t, err)

		in := tileChecksums(img, cols)
		got := tileChecksums(out, cols)
		assert.ElementsMatch(t, in, got, "cols=%d", cols)

		// applying the inverse mapping restores the scrambled layout
		inverse := make([]int, len(key))
		for dst, src := range key {
			inverse[src] = dst
		}
		back, err := ReconstructImage(out, joinKey(inverse), cols)
		require.NoError(t, err)
		assert.Equal(t, in, tileChecksums(back, cols), "cols=%d", cols)
	}
}

func TestReconstructImageSingleTileIsIdentity(t *testing.T) {
	img := noiseImage(31, 17, 9)

	out, err := ReconstructImage(img, "0", 1)
	require.NoError(t, err)
	assert.Equal(t, tileChecksum(img, img.Bounds()), tileChecksum(out, out.Bounds()))

	out, err = ReconstructImage(img, "", 1)
	require.NoError(t, err)
	assert.Equal(t, tileChecksum(img, img.Bounds()), tileChecksum(out, out.Bounds()))
}

func TestReconstructImageNonZeroOrigin(t *testing.T) {
	full := noiseImage(40, 40, 5)
	sub := full.SubImage(image.Rect(10, 10, 30, 30))

	out, err := ReconstructImage(sub, "1a0a3a2", 2)
	require.NoError(t, err)

	want := tileChecksum(sub, image.Rect(20, 10, 30, 20))
	assert.Equal(t, want, tileChecksum(out, image.Rect(0, 0, 10, 10)))
}

func TestReconstructImageFailsClosed(t *testing.T) {
	img := noiseImage(20, 20, 2)

	tests := map[string]struct {
		key  string
		cols int
	}{
		"short key":      {"0a1a2", 2},
		"not a number":   {"0a1axa3", 2},
		"outside grid":   {"0a1a2a4", 2},
		"negative":       {"0a1a2a-1", 2},
		"zero columns":   {"0", 0},
		"too many tiles": {joinKey(make([]int, 30*30)), 30},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			out, err := ReconstructImage(img, tt.key, tt.cols)
			assert.Nil(t, out)

			var tileErr *TileError
			assert.True(t, errors.As(err, &tileErr), "got %v", err)
		})
	}
}

func TestParseTileKeyEmptyEntries(t *testing.T) {
	key, err := ParseTileKey("a3a", 2)
	require.Error(t, err)
	assert.Nil(t, key)

	key, err = ParseTileKey("a3aa1", 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3, 0, 1}, key)
}

func TestParseTileKeyRejectsOversizedGrid(t *testing.T) {
	for _, cols := range []int{3037000500, MaxTileColumns + 1, 5} {
		var key []int
		var err error
		assert.NotPanics(t, func() {
			key, err = ParseTileKey("0a1a2a3", cols)
		})
		var tileErr *TileError
		assert.True(t, errors.As(err, &tileErr), "cols=%d got %v", cols, err)
		assert.Nil(t, key)
	}
}

func TestUnscrambleImage(t *testing.T) {
	src := noiseImage(32, 32, 11)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	out, err := UnscrambleImage(buf.Bytes(), "3a2a1a0", 2)
	require.NoError(t, err)

	format, err := detectImageFormat(out)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)

	decoded, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 32, decoded.Bounds().Dx())
	assert.Equal(t, 32, decoded.Bounds().Dy())
}

func TestUnscrambleImageRejectsGarbage(t *testing.T) {
	_, err := UnscrambleImage([]byte("definitely not an image"), "0", 1)
	assert.Error(t, err)
}
