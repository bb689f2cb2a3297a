package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/zombor/receipt-scanner/internal/document"
	"github.com/zombor/receipt-scanner/internal/ocr"
	"github.com/zombor/receipt-scanner/internal/receipt"
)

// Normalizer turns an input document into rasters
type Normalizer interface {
	Normalize(ctx context.Context, in document.Input, page int) ([]*document.Raster, error)
}

// Result is the outcome of a successful invocation
type Result struct {
	Record    receipt.Record `json:"record"`
	RawText   string         `json:"raw_text"`
	Page      int            `json:"page"`
	PageCount int            `json:"page_count"`
}

// Pipeline runs normalization, recognition and extraction in order
type Pipeline struct {
	normalizer Normalizer
	recognizer ocr.Recognizer
	extract    func(string) receipt.Record
	observe    func(State)
	language   string
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithExtractor replaces receipt.Extract
func WithExtractor(extract func(string) receipt.Record) Option {
	return func(p *Pipeline) {
		p.extract = extract
	}
}

// WithObserver receives every state an invocation enters, Idle included
func WithObserver(observe func(State)) Option {
	return func(p *Pipeline) {
		p.observe = observe
	}
}

// WithDefaultLanguage sets the language used when an invocation does not request one
func WithDefaultLanguage(language string) Option {
	return func(p *Pipeline) {
		if language != "" {
			p.language = language
		}
	}
}

// New creates a new Pipeline
func New(normalizer Normalizer, recognizer ocr.Recognizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		normalizer: normalizer,
		recognizer: recognizer,
		extract:    receipt.Extract,
		observe:    func(State) {},
		language:   ocr.DefaultLanguage,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// invocation tracks the state of one Process call
type invocation struct {
	id      string
	state   State
	observe func(State)
	log     *slog.Logger
}

func (r *invocation) advance(next State) {
	if !r.state.canAdvance(next) {
		panic(fmt.Sprintf("invalid transition from %s to %s", r.state, next))
	}
	r.state = next
	r.log.Debug("Pipeline state changed", "state", next)
	r.observe(next)
}

// Process extracts a receipt from one page of an input. page is 1-indexed and ignored for
// images; zero selects the page recorded on a PDF input. language defaults to the
// pipeline's default language.
//
// Every failure is returned as a *FailedError. Rasters, render contexts and OCR workers are
// released before Process returns, on success and on failure.
func (p *Pipeline) Process(ctx context.Context, in document.Input, page int, language string) (result *Result, err error) {
	id := uuid.NewString()
	run := &invocation{
		id:      id,
		state:   StateIdle,
		observe: p.observe,
		log:     slog.With("invocation", id),
	}
	run.observe(StateIdle)

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, run.fail(ctx, fmt.Errorf("panic: %v", r))
		}
	}()

	page, pageCount := resolvePage(in, page)
	if language == "" {
		language = p.language
	}
	run.log.Info("Processing receipt", "page", page, "page_count", pageCount, "language", language)

	if err := ctx.Err(); err != nil {
		return nil, run.fail(ctx, err)
	}
	run.advance(StateNormalizing)
	rasters, err := p.normalizer.Normalize(ctx, in, page)
	if err != nil {
		return nil, run.fail(ctx, fmt.Errorf("normalizing document: %w", err))
	}

	if err := ctx.Err(); err != nil {
		return nil, run.fail(ctx, err)
	}
	run.advance(StateRecognizing)
	texts := make([]string, 0, len(rasters))
	for i, raster := range rasters {
		text, err := p.recognizer.Recognize(ctx, raster, language)
		if err != nil {
			return nil, run.fail(ctx, fmt.Errorf("recognizing raster %d: %w", i+1, err))
		}
		texts = append(texts, text)
	}
	rawText := strings.Join(texts, "\n")

	if err := ctx.Err(); err != nil {
		return nil, run.fail(ctx, err)
	}
	run.advance(StateExtracting)
	record := p.extract(rawText)
	if record.Items == nil {
		record.Items = []receipt.LineItem{}
	}

	run.advance(StateDone)
	run.log.Info("Receipt processed",
		"merchant", record.MerchantName,
		"date", record.Date,
		"total", record.Total,
		"items", len(record.Items),
	)

	return &Result{
		Record:    record,
		RawText:   rawText,
		Page:      page,
		PageCount: pageCount,
	}, nil
}

// fail moves the invocation to Failed and builds the error reported to the caller
func (r *invocation) fail(ctx context.Context, err error) error {
	// Once the caller gives up, errors the cancellation produced count as canceled. Errors
	// with their own kind keep it.
	kind := KindOf(err)
	if ctx.Err() != nil && (kind == KindInternal || contextError(err)) {
		kind = KindCanceled
	}
	failed := &FailedError{State: r.state, Kind: kind, Err: err}
	if !r.state.Terminal() {
		r.advance(StateFailed)
	}

	if kind == KindCanceled {
		r.log.Info("Receipt processing canceled", "state", failed.State)
	} else {
		r.log.Error("Receipt processing failed", "state", failed.State, "kind", kind, "error", err)
	}
	return failed
}

// resolvePage picks the page to render and reports the document's page count
func resolvePage(in document.Input, page int) (int, int) {
	pdf, ok := in.(document.PDF)
	if !ok {
		return 1, 1
	}
	if page == 0 {
		page = pdf.SelectedPage
	}
	if page == 0 {
		page = 1
	}
	return page, pdf.PageCount
}
