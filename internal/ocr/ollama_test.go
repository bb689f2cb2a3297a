package ocr

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		ctx    context.Context
		server *ghttp.Server
		engine *Ollama
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = ghttp.NewServer()
		var err error
		engine, err = NewOllama(server.URL()+"/", "llava")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	tags := func(names ...string) http.HandlerFunc {
		models := make([]map[string]string, 0, len(names))
		for _, n := range names {
			models = append(models, map[string]string{"name": n})
		}
		return ghttp.CombineHandlers(
			ghttp.VerifyRequest("GET", "/api/tags"),
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"models": models}),
		)
	}

	Describe("Init", func() {
		When("the model has been pulled", func() {
			BeforeEach(func() {
				server.AppendHandlers(tags("qwen2.5vl:7b", "llava:latest"))
			})

			It("returns a worker", func() {
				w, err := engine.Init(ctx, "eng")
				Expect(err).NotTo(HaveOccurred())
				Expect(w.Release()).To(Succeed())
			})
		})

		When("the model is missing", func() {
			BeforeEach(func() {
				server.AppendHandlers(tags("qwen2.5vl:7b"))
			})

			It("returns an error", func() {
				_, err := engine.Init(ctx, "eng")
				Expect(err).To(MatchError(ContainSubstring(`model "llava" is not available`)))
			})
		})

		When("ollama returns an error status", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "boom"))
			})

			It("returns an error", func() {
				_, err := engine.Init(ctx, "eng")
				Expect(err).To(MatchError(ContainSubstring("status 500")))
			})
		})
	})

	Describe("Recognize", func() {
		var request ollamaChatRequest

		BeforeEach(func() {
			server.AppendHandlers(
				tags("llava"),
				ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/api/chat"),
					ghttp.VerifyContentType("application/json"),
					func(w http.ResponseWriter, r *http.Request) {
						body, err := io.ReadAll(r.Body)
						Expect(err).NotTo(HaveOccurred())
						Expect(json.Unmarshal(body, &request)).To(Succeed())
					},
					ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
						Message: ollamaMessage{Role: "assistant", Content: "Joe's Diner\nTotal $6.22\n"},
						Done:    true,
					}),
				),
			)
		})

		It("sends the raster and returns the transcription untouched", func() {
			w, err := engine.Init(ctx, "eng")
			Expect(err).NotTo(HaveOccurred())
			defer w.Release()

			text, err := w.Recognize(ctx, testRaster())
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("Joe's Diner\nTotal $6.22\n"))

			Expect(request.Model).To(Equal("llava"))
			Expect(request.Stream).To(BeFalse())
			Expect(request.Messages).To(HaveLen(1))
			Expect(request.Messages[0].Images).To(HaveLen(1))
			Expect(request.Messages[0].Content).To(ContainSubstring(`"eng"`))
		})
	})
})
