package ocr

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/time/rate"

	"github.com/zombor/receipt-scanner/internal/document"
)

// mockRecognizer is a mock implementation of Recognizer
type mockRecognizer struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (m *mockRecognizer) Recognize(ctx context.Context, raster *document.Raster, language string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.text + "[" + language + "]", nil
}

var _ = Describe("Cache", func() {
	var (
		ctx   context.Context
		next  *mockRecognizer
		cache *Cache
	)

	BeforeEach(func() {
		ctx = context.Background()
		next = &mockRecognizer{text: "Total $6.22\n"}
		var err error
		cache, err = NewCache(filepath.Join(GinkgoT().TempDir(), "cache.db"), next)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if cache != nil {
			cache.Close()
		}
	})

	When("the same raster is recognized twice", func() {
		It("only calls the engine once", func() {
			first, err := cache.Recognize(ctx, testRaster(), "eng")
			Expect(err).NotTo(HaveOccurred())
			second, err := cache.Recognize(ctx, testRaster(), "eng")
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))
			Expect(second).To(Equal("Total $6.22\n[eng]"))
			Expect(next.calls).To(Equal(1))
		})
	})

	When("the language differs", func() {
		It("recognizes again", func() {
			_, err := cache.Recognize(ctx, testRaster(), "eng")
			Expect(err).NotTo(HaveOccurred())
			text, err := cache.Recognize(ctx, testRaster(), "deu")
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("Total $6.22\n[deu]"))
			Expect(next.calls).To(Equal(2))
		})
	})

	When("the raster differs", func() {
		It("recognizes again", func() {
			_, err := cache.Recognize(ctx, testRaster(), "eng")
			Expect(err).NotTo(HaveOccurred())
			other := &document.Raster{Image: image.NewGray(image.Rect(0, 0, 3, 3)), Encoding: "rgba"}
			_, err = cache.Recognize(ctx, other, "eng")
			Expect(err).NotTo(HaveOccurred())
			Expect(next.calls).To(Equal(2))
		})
	})

	When("recognition fails", func() {
		BeforeEach(func() {
			next.err = errors.New("engine down")
		})

		It("does not cache the failure", func() {
			_, err := cache.Recognize(ctx, testRaster(), "eng")
			Expect(err).To(MatchError("engine down"))

			next.err = nil
			text, err := cache.Recognize(ctx, testRaster(), "eng")
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("Total $6.22\n[eng]"))
			Expect(next.calls).To(Equal(2))
		})
	})
})

var _ = Describe("Limited", func() {
	var (
		next    *mockRecognizer
		limited *Limited
	)

	BeforeEach(func() {
		next = &mockRecognizer{text: "ok"}
		limited = NewLimited(rate.NewLimiter(rate.Limit(0.001), 1), next)
	})

	It("lets a request through while tokens are available", func() {
		text, err := limited.Recognize(context.Background(), testRaster(), "eng")
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("ok[eng]"))
	})

	It("returns a recognition error when the context gives up waiting", func() {
		_, err := limited.Recognize(context.Background(), testRaster(), "eng")
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = limited.Recognize(ctx, testRaster(), "eng")
		Expect(err).To(MatchError(ErrRecognition))
		Expect(next.calls).To(Equal(1))
	})

	When("no limiter is configured", func() {
		BeforeEach(func() {
			limited = NewLimited(nil, next)
		})

		It("passes every request through", func() {
			for i := 0; i < 3; i++ {
				_, err := limited.Recognize(context.Background(), testRaster(), "eng")
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(next.calls).To(Equal(3))
		})
	})
})
