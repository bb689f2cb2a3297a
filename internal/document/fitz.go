package document

import (
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// Renderer opens PDF documents for page rendering
type Renderer interface {
	Open(data []byte) (RenderedDocument, error)
}

// RenderedDocument is an open PDF. It must be closed once rendering is done.
type RenderedDocument interface {
	PageCount() int
	// RenderPage renders a 1-indexed page at the given viewport scale
	RenderPage(page int, scale float64) (image.Image, error)
	Close() error
}

// FitzRenderer renders PDFs with MuPDF
type FitzRenderer struct{}

// NewFitzRenderer creates a new FitzRenderer
func NewFitzRenderer() *FitzRenderer {
	return &FitzRenderer{}
}

// Open parses a PDF held in memory
func (FitzRenderer) Open(data []byte) (RenderedDocument, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	return &fitzDocument{doc: doc}, nil
}

type fitzDocument struct {
	doc *fitz.Document
}

func (d *fitzDocument) PageCount() int {
	return d.doc.NumPage()
}

// PDF user space is 72 units per inch, so scale 1.0 renders at 72 DPI
func (d *fitzDocument) RenderPage(page int, scale float64) (image.Image, error) {
	img, err := d.doc.ImageDPI(page-1, 72*scale)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page %d: %w", page, err)
	}
	return img, nil
}

func (d *fitzDocument) Close() error {
	return d.doc.Close()
}
