package ocr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/zombor/receipt-scanner/internal/document"
)

// ErrPoolClosed is returned by Recognize after Close
var ErrPoolClosed = errors.New("worker pool closed")

// Pool keeps initialized workers around between recognitions. At most size workers are
// alive at any time and a worker is only ever held by one recognition.
type Pool struct {
	engine Engine
	size   int
	sem    *semaphore.Weighted

	mu     sync.Mutex
	idle   map[string][]Worker
	nIdle  int
	live   int
	closed bool
}

// NewPool creates a Pool of at most size workers
func NewPool(engine Engine, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		engine: engine,
		size:   size,
		sem:    semaphore.NewWeighted(int64(size)),
		idle:   make(map[string][]Worker),
	}
}

// Recognize borrows a worker for language, recognizes the raster and returns the worker to
// the pool. Workers that fail are released instead of being reused.
func (p *Pool) Recognize(ctx context.Context, raster *document.Raster, language string) (string, error) {
	if language == "" {
		language = DefaultLanguage
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("%w: waiting for worker: %w", ErrRecognition, err)
	}
	defer p.sem.Release(1)

	worker, err := p.get(ctx, language)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrEngineInit, language, err)
	}

	text, err := recognizeWith(ctx, worker, raster)
	if err != nil {
		p.discard(worker, language)
		return "", err
	}

	p.put(worker, language)
	return text, nil
}

// Close releases every idle worker. Workers still in use are released when they come back.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = make(map[string][]Worker)
	p.live -= p.nIdle
	p.nIdle = 0
	p.mu.Unlock()

	var errs []error
	for language, workers := range idle {
		for _, w := range workers {
			if err := w.Release(); err != nil {
				errs = append(errs, fmt.Errorf("releasing %s worker: %w", language, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) get(ctx context.Context, language string) (Worker, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if workers := p.idle[language]; len(workers) > 0 {
		w := workers[len(workers)-1]
		p.idle[language] = workers[:len(workers)-1]
		p.nIdle--
		p.mu.Unlock()
		return w, nil
	}

	// Make room by evicting an idle worker loaded with another language
	var victim Worker
	var victimLanguage string
	if p.live >= p.size {
		for lang, workers := range p.idle {
			if len(workers) == 0 {
				continue
			}
			victim, victimLanguage = workers[0], lang
			p.idle[lang] = workers[1:]
			p.nIdle--
			p.live--
			break
		}
	}
	p.live++
	p.mu.Unlock()

	if victim != nil {
		releaseWorker(victim, victimLanguage)
	}

	w, err := p.engine.Init(ctx, language)
	if err != nil {
		p.mu.Lock()
		p.live--
		p.mu.Unlock()
		return nil, err
	}
	return w, nil
}

func (p *Pool) put(w Worker, language string) {
	p.mu.Lock()
	if p.closed {
		p.live--
		p.mu.Unlock()
		releaseWorker(w, language)
		return
	}
	p.idle[language] = append(p.idle[language], w)
	p.nIdle++
	p.mu.Unlock()
}

func (p *Pool) discard(w Worker, language string) {
	p.mu.Lock()
	p.live--
	p.mu.Unlock()
	releaseWorker(w, language)
}
