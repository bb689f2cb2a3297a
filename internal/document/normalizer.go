package document

import (
	"context"
	"fmt"
	"log/slog"
)

// Normalizer turns uploaded documents into rasters ready for OCR
type Normalizer struct {
	renderer Renderer
	scale    float64
}

// NewNormalizer creates a Normalizer that renders PDF pages at DefaultScale
func NewNormalizer(renderer Renderer) *Normalizer {
	return &Normalizer{
		renderer: renderer,
		scale:    DefaultScale,
	}
}

// Classify builds an Input from an uploaded payload and its declared MIME type.
// PDFs are opened once so their page count is known before a page is selected.
func (n *Normalizer) Classify(ctx context.Context, data []byte, mimeType string) (Input, error) {
	mimeType = normalizeMIMEType(mimeType, data)

	switch {
	case mimeType == pdfMIMEType:
		pages, err := n.PageCount(ctx, data)
		if err != nil {
			return nil, err
		}
		return PDF{Data: data, PageCount: pages, SelectedPage: 1}, nil
	case isImageMIMEType(mimeType):
		return Image{Data: data, MIMEType: mimeType}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, mimeType)
	}
}

// PageCount opens a PDF and returns its number of pages
func (n *Normalizer) PageCount(ctx context.Context, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	doc, err := n.renderer.Open(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRender, err)
	}
	defer closeDocument(doc)

	return doc.PageCount(), nil
}

// Normalize returns the rasters to recognize for an input. Images yield their decoded
// pixels unchanged; PDFs yield only the selected 1-indexed page.
func (n *Normalizer) Normalize(ctx context.Context, in Input, page int) ([]*Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch in := in.(type) {
	case Image:
		raster, err := n.normalizeImage(in)
		if err != nil {
			return nil, err
		}
		return []*Raster{raster}, nil
	case PDF:
		raster, err := n.renderPage(in, page)
		if err != nil {
			return nil, err
		}
		return []*Raster{raster}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedFormat, in)
	}
}

func (n *Normalizer) normalizeImage(in Image) (*Raster, error) {
	img, format, err := decodeImage(in.Data, in.MIMEType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	return &Raster{Image: img, Encoding: format, Data: in.Data}, nil
}

func (n *Normalizer) renderPage(in PDF, page int) (*Raster, error) {
	doc, err := n.renderer.Open(in.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	defer closeDocument(doc)

	pages := doc.PageCount()
	if page < 1 || page > pages {
		return nil, fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, page, pages)
	}

	img, err := doc.RenderPage(page, n.scale)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	return &Raster{Image: img, Encoding: "rgba"}, nil
}

func closeDocument(doc RenderedDocument) {
	if err := doc.Close(); err != nil {
		slog.Warn("Failed to close PDF document", "error", err)
	}
}
