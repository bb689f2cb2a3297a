package ocr

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/zombor/receipt-scanner/internal/document"
)

// Limited throttles recognitions, for engines billed or rate limited per request
type Limited struct {
	limiter *rate.Limiter
	next    Recognizer
}

// NewLimited wraps next with a rate limiter
func NewLimited(l *rate.Limiter, next Recognizer) *Limited {
	return &Limited{
		limiter: l,
		next:    next,
	}
}

func (l *Limited) Recognize(ctx context.Context, raster *document.Raster, language string) (string, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: rate limit: %w", ErrRecognition, err)
		}
	}

	return l.next.Recognize(ctx, raster, language)
}
