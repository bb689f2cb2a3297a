package document

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const pdfMIMEType = "application/pdf"

// normalizeMIMEType lowercases a declared content type and strips any parameters.
// Missing or generic types are sniffed from the data.
func normalizeMIMEType(declared string, data []byte) string {
	mimeType := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		detected := mimetype.Detect(data).String()
		if i := strings.IndexByte(detected, ';'); i >= 0 {
			detected = detected[:i]
		}
		return detected
	}
	return mimeType
}

func isImageMIMEType(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

// decodeImage decodes any supported image format without re-encoding it
func decodeImage(data []byte, mimeType string) (image.Image, string, error) {
	// Go's standard image package doesn't support HEIC, which is what iPhones produce
	if isHEICFormat(data) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, "heic", nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding image: %w", err)
	}
	return img, format, nil
}

// isHEICFormat checks for an ftyp box with a HEIC-related brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}
