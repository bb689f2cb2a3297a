package ocr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zombor/receipt-scanner/internal/document"
)

// Adapter runs each recognition on a fresh worker that is released before returning
type Adapter struct {
	engine Engine
}

// NewAdapter creates a new Adapter
func NewAdapter(engine Engine) *Adapter {
	return &Adapter{engine: engine}
}

// Recognize initializes a worker for language, recognizes the raster and releases the worker.
// The engine output is returned as is, line breaks included.
func (a *Adapter) Recognize(ctx context.Context, raster *document.Raster, language string) (string, error) {
	if language == "" {
		language = DefaultLanguage
	}

	worker, err := a.engine.Init(ctx, language)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrEngineInit, language, err)
	}
	defer releaseWorker(worker, language)

	return recognizeWith(ctx, worker, raster)
}

// recognizeWith runs one recognition and turns worker failures, panics included, into
// ErrRecognition
func recognizeWith(ctx context.Context, worker Worker, raster *document.Raster) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: worker panicked: %v", ErrRecognition, r)
		}
	}()

	text, err = worker.Recognize(ctx, raster)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRecognition, err)
	}
	return text, nil
}

func releaseWorker(worker Worker, language string) {
	if err := worker.Release(); err != nil {
		slog.Warn("Failed to release OCR worker", "language", language, "error", err)
	}
}
