package parser

import (
	"bytes"
	"errors"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"

	"github.com/disintegration/imaging"
	"golang.org/x/image/webp"
)

// detectImageFormat reads the magic bytes and returns the current image format string
func detectImageFormat(data []byte) (string, error) {
	if len(data) < 12 {
		return "", errors.New("data too short to determine format")
	}

	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "jpeg", nil
	}
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "png", nil
	}
	if string(data[0:6]) == "GIF87a" || string(data[0:6]) == "GIF89a" {
		return "gif", nil
	}
	if string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return "webp", nil
	}

	return "", errors.New("unknown image format")
}

// DecodeImage decodes page bytes in any of the formats the site serves.
func DecodeImage(data []byte) (image.Image, error) {
	format, err := detectImageFormat(data)
	if err != nil {
		return nil, err
	}

	reader := bytes.NewReader(data)

	var img image.Image
	switch format {
	case "jpeg":
		img, err = jpeg.Decode(reader)
	case "png":
		img, err = png.Decode(reader)
	case "gif":
		img, err = gif.Decode(reader)
	case "webp":
		img, err = webp.Decode(reader)
	}

	if err != nil {
		return nil, errors.New("failed to decode " + format + " image: " + err.Error())
	}
	return img, nil
}

// ConvertImageToJPEG converts image bytes to JPEG and saves to outputPath.
// JPEG input (which includes every descrambled page) is written as-is. The
// file appears at outputPath only once it is complete.
func ConvertImageToJPEG(imgBytes []byte, outputPath string, quality int) error {
	if len(imgBytes) == 0 {
		return errors.New("empty image data")
	}

	format, err := detectImageFormat(imgBytes)
	if err != nil {
		return err
	}

	if format == "jpeg" {
		return writeFileAtomic(outputPath, func(w io.Writer) error {
			_, err := w.Write(imgBytes)
			return err
		})
	}

	img, err := DecodeImage(imgBytes)
	if err != nil {
		return err
	}

	return writeFileAtomic(outputPath, func(w io.Writer) error {
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	})
}

// writeFileAtomic writes to path+TempSuffix and renames it into place.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	tmp := path + TempSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
