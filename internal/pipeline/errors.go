package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/zombor/receipt-scanner/internal/document"
	"github.com/zombor/receipt-scanner/internal/ocr"
)

// Kind names why an invocation failed
type Kind string

const (
	KindUnsupportedFormat Kind = "unsupported_format"
	KindPageOutOfRange    Kind = "page_out_of_range"
	KindRenderError       Kind = "render_error"
	KindEngineInitError   Kind = "engine_init_error"
	KindRecognitionError  Kind = "recognition_error"
	KindCanceled          Kind = "canceled"
	KindInternal          Kind = "internal"
)

// ErrSuperseded is returned by a session invocation that was replaced by a newer one
var ErrSuperseded = errors.New("superseded by a newer scan")

// FailedError is the terminal Failed state of an invocation. State is the step that failed.
type FailedError struct {
	State State
	Kind  Kind
	Err   error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.State, e.Kind, e.Err)
}

func (e *FailedError) Unwrap() error {
	return e.Err
}

// KindOf maps a component error to its failure kind
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, document.ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, document.ErrPageOutOfRange):
		return KindPageOutOfRange
	case errors.Is(err, document.ErrRender):
		return KindRenderError
	case errors.Is(err, ocr.ErrEngineInit):
		return KindEngineInitError
	case errors.Is(err, ocr.ErrRecognition):
		return KindRecognitionError
	case contextError(err):
		return KindCanceled
	default:
		return KindInternal
	}
}

// contextError reports whether err was caused by a canceled or expired context
func contextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
