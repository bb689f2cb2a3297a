package ocr

import (
	"context"
	"errors"

	"github.com/zombor/receipt-scanner/internal/document"
)

// DefaultLanguage is used when no recognition language is requested
const DefaultLanguage = "eng"

var (
	// ErrEngineInit is returned when a worker cannot be initialized for a language
	ErrEngineInit = errors.New("engine init error")

	// ErrRecognition is returned when recognition itself fails
	ErrRecognition = errors.New("recognition error")
)

// Engine creates recognition workers. A worker returned without error must be released
// exactly once.
type Engine interface {
	// Init acquires a worker with the language loaded. On error no worker exists.
	Init(ctx context.Context, language string) (Worker, error)
}

// Worker is an initialized, language-loaded instance of a recognition engine
type Worker interface {
	// Recognize returns the engine's text output for a raster
	Recognize(ctx context.Context, raster *document.Raster) (string, error)
	// Release frees the worker
	Release() error
}

// Recognizer turns a raster into raw text
type Recognizer interface {
	Recognize(ctx context.Context, raster *document.Raster, language string) (string, error)
}
