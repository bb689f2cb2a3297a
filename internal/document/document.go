package document

import (
	"errors"
	"image"
)

// DefaultScale is the viewport scale PDF pages are rendered at
const DefaultScale = 1.5

var (
	// ErrUnsupportedFormat is returned for inputs that are neither an image nor a PDF
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrPageOutOfRange is returned when the selected page is not in [1, page count]
	ErrPageOutOfRange = errors.New("page out of range")

	// ErrRender is returned when the PDF rendering service fails
	ErrRender = errors.New("render error")
)

// Input is an uploaded document. It is either an Image or a PDF.
type Input interface {
	isInput()
}

// Image is an uploaded photo or scan
type Image struct {
	Data     []byte
	MIMEType string
}

// PDF is an uploaded PDF document
type PDF struct {
	Data         []byte
	PageCount    int
	SelectedPage int
}

func (Image) isInput() {}
func (PDF) isInput()   {}

// Raster is a decoded pixel buffer ready for OCR
type Raster struct {
	Image image.Image

	// Encoding names the format the pixels were decoded from ("png", "jpeg", "heic", ...),
	// or "rgba" for rendered PDF pages.
	Encoding string

	// Data holds the original encoded bytes for image inputs. Nil for rendered pages.
	Data []byte
}

// Width returns the raster width in pixels
func (r *Raster) Width() int {
	return r.Image.Bounds().Dx()
}

// Height returns the raster height in pixels
func (r *Raster) Height() int {
	return r.Image.Bounds().Dy()
}

// PNG returns the raster encoded as PNG. Rasters decoded from PNG return their original bytes.
func (r *Raster) PNG() ([]byte, error) {
	if r.Encoding == "png" && len(r.Data) > 0 {
		return r.Data, nil
	}
	return encodePNG(r.Image)
}
