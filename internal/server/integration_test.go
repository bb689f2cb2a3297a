package server

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-scanner/internal/document"
	"github.com/zombor/receipt-scanner/internal/ocr"
	"github.com/zombor/receipt-scanner/internal/pipeline"
)

// fakeEngine returns a fixed transcription and counts worker lifecycles
type fakeEngine struct {
	mu           sync.Mutex
	text         string
	inits        int
	recognitions int
	releases     int
}

func (e *fakeEngine) Init(ctx context.Context, language string) (ocr.Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inits++
	return &fakeWorker{engine: e}, nil
}

type fakeWorker struct {
	engine *fakeEngine
}

func (w *fakeWorker) Recognize(ctx context.Context, raster *document.Raster) (string, error) {
	w.engine.mu.Lock()
	defer w.engine.mu.Unlock()
	w.engine.recognitions++
	return w.engine.text, nil
}

func (w *fakeWorker) Release() error {
	w.engine.mu.Lock()
	defer w.engine.mu.Unlock()
	w.engine.releases++
	return nil
}

func receiptPNG() []byte {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for x := 2; x < 14; x++ {
		img.Set(x, 8, color.White)
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Integration", func() {
	var (
		engine      *fakeEngine
		cache       *ocr.Cache
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		engine = &fakeEngine{text: "Joe's Diner\n04/12/2023\nCoffee 3.50\nBagel 2.25\nSubtotal 5.75\nTotal $6.22\n"}

		pool := ocr.NewPool(engine, 2)
		DeferCleanup(pool.Close)

		var err error
		cache, err = ocr.NewCache(filepath.Join(GinkgoT().TempDir(), "ocr.db"), pool)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(cache.Close)

		normalizer := document.NewNormalizer(document.NewFitzRenderer())
		sessions := pipeline.NewSessions(pipeline.New(normalizer, cache), time.Hour)
		server := NewServer(normalizer, sessions, BasicAuth{})

		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP)
		DeferCleanup(ghttpServer.Close)
	})

	scan := func(filename, contentType string, data []byte) *http.Response {
		body, ct := upload(filename, contentType, data, map[string]string{"session": "tab-1"})
		resp, err := http.Post(ghttpServer.URL()+"/api/scan", ct, body)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	It("scans an uploaded image end to end", func() {
		resp := scan("receipt.png", "image/png", receiptPNG())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		got := decode[scanResponse](resp)
		Expect(got.Record.MerchantName).To(Equal("Joe's Diner"))
		Expect(got.Record.Date).To(Equal("04/12/2023"))
		Expect(got.Record.Total).To(Equal("$6.22"))
		Expect(got.Record.Items).To(HaveLen(2))
		Expect(got.Page).To(Equal(1))
		Expect(got.PageCount).To(Equal(1))
	})

	It("serves a repeated scan from the recognition cache", func() {
		Expect(scan("receipt.png", "image/png", receiptPNG()).StatusCode).To(Equal(http.StatusOK))
		Expect(scan("receipt.png", "image/png", receiptPNG()).StatusCode).To(Equal(http.StatusOK))

		engine.mu.Lock()
		defer engine.mu.Unlock()
		Expect(engine.recognitions).To(Equal(1))
	})

	It("sniffs the format when the browser sends octet-stream", func() {
		resp := scan("IMG_0042", "application/octet-stream", receiptPNG())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("rejects files that are not images or PDFs", func() {
		resp := scan("notes.txt", "text/plain", []byte("Total $6.22"))
		Expect(resp.StatusCode).To(Equal(http.StatusUnsupportedMediaType))
		Expect(decode[map[string]string](resp)["kind"]).To(Equal("unsupported_format"))
	})
})
