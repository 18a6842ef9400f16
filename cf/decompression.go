package cf

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly"
)

// DecompressResponse detects and decompresses gzip or Brotli Colly response
// bodies in-place. It should be called first in Colly's OnResponse callback.
//
// Returns true if decompression was performed.
func DecompressResponse(r *colly.Response) (bool, error) {
	if r == nil || len(r.Body) == 0 {
		return false, nil
	}

	contentEncoding := ""
	if r.Headers != nil {
		contentEncoding = r.Headers.Get("Content-Encoding")
	}

	body, decompressed, err := DecompressBody(r.Body, contentEncoding)
	if err != nil {
		return false, err
	}
	if decompressed {
		r.Body = body
	}
	return decompressed, nil
}

// DecompressBody returns the decompressed body without modifying the input.
// The format is detected from the gzip magic bytes, the Content-Encoding
// header, or the leading byte of a Brotli stream.
//
// Returns:
//   - []byte: The decompressed body (or the input when not compressed)
//   - bool: true if decompression was performed
//   - error: a corrupt gzip stream
func DecompressBody(body []byte, contentEncoding string) ([]byte, bool, error) {
	if len(body) == 0 {
		return body, false, nil
	}

	// gzip magic bytes: 1f 8b
	if len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b {
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, false, err
		}
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, false, err
		}
		return decompressed, true, nil
	}

	if contentEncoding == "br" || (body[0] >= 0x80 && body[0] <= 0x8f) {
		decompressed, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			if contentEncoding == "br" {
				return nil, false, err
			}
			// first byte looked like Brotli but was not
			return body, false, nil
		}
		return decompressed, true, nil
	}

	return body, false, nil
}
