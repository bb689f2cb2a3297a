package pipeline

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/receipt-scanner/internal/document"
	"github.com/zombor/receipt-scanner/internal/ocr"
)

var _ = Describe("Session", func() {
	var (
		ctx     context.Context
		engine  *mockEngine
		session *Session
		input   document.Input
	)

	BeforeEach(func() {
		ctx = context.Background()
		engine = newMockEngine()
		session = NewSession(New(document.NewNormalizer(nil), ocr.NewAdapter(engine)))
		input = document.Image{Data: testPNG(), MIMEType: "image/png"}
	})

	When("invocations run one after another", func() {
		It("completes each of them", func() {
			for i := 0; i < 3; i++ {
				result, err := session.Process(ctx, input, 1, "eng")
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Record.Total).To(Equal("$6.22"))
			}
			Expect(engine.releaseCounts()).To(Equal([]int{1, 1, 1}))
		})
	})

	When("a new invocation starts while one is in flight", func() {
		BeforeEach(func() {
			engine.blockFirst = true
		})

		It("supersedes the old one after it releases its worker", func() {
			first := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				_, err := session.Process(ctx, input, 1, "eng")
				first <- err
			}()
			Eventually(engine.started).Should(BeClosed())

			result, err := session.Process(ctx, input, 1, "eng")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Record.MerchantName).To(Equal("Joe's Diner"))

			var firstErr error
			Eventually(first).Should(Receive(&firstErr))
			Expect(firstErr).To(MatchError(ErrSuperseded))

			var failed *FailedError
			Expect(errors.As(firstErr, &failed)).To(BeTrue())
			Expect(failed.State).To(Equal(StateRecognizing))
			Expect(failed.Kind).To(Equal(KindCanceled))

			Expect(engine.inits()).To(Equal(2))
			Expect(engine.releaseCounts()).To(Equal([]int{1, 1}))
		})
	})

	When("many invocations race", func() {
		It("releases every worker exactly once and lets the last one finish", func() {
			var g errgroup.Group
			errs := make([]error, 16)
			for i := range errs {
				g.Go(func() error {
					_, errs[i] = session.Process(ctx, input, 1, "eng")
					return nil
				})
			}
			Expect(g.Wait()).To(Succeed())

			succeeded := 0
			for _, err := range errs {
				if err == nil {
					succeeded++
					continue
				}
				Expect(err).To(MatchError(ErrSuperseded))
			}
			Expect(succeeded).To(BeNumerically(">=", 1))

			for _, released := range engine.releaseCounts() {
				Expect(released).To(Equal(1))
			}
		})
	})

	When("the session is canceled", func() {
		BeforeEach(func() {
			engine.blockFirst = true
		})

		It("fails the invocation in flight with canceled", func() {
			done := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				_, err := session.Process(ctx, input, 1, "eng")
				done <- err
			}()
			Eventually(engine.started).Should(BeClosed())

			session.Cancel()

			var err error
			Eventually(done).Should(Receive(&err))
			Expect(err).NotTo(MatchError(ErrSuperseded))
			var failed *FailedError
			Expect(errors.As(err, &failed)).To(BeTrue())
			Expect(failed.Kind).To(Equal(KindCanceled))
			Expect(engine.releaseCounts()).To(Equal([]int{1}))
		})
	})
})

var _ = Describe("Sessions", func() {
	var (
		now      time.Time
		sessions *Sessions
	)

	BeforeEach(func() {
		now = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
		sessions = NewSessions(New(newMockNormalizer(), &mockRecognizer{texts: []string{diner}}), time.Minute)
		sessions.now = func() time.Time { return now }
	})

	It("returns the same session for the same client", func() {
		Expect(sessions.Get("a")).To(BeIdenticalTo(sessions.Get("a")))
		Expect(sessions.Get("a")).NotTo(BeIdenticalTo(sessions.Get("b")))
		Expect(sessions.Len()).To(Equal(2))
	})

	It("does not register anonymous sessions", func() {
		Expect(sessions.Get("")).NotTo(BeIdenticalTo(sessions.Get("")))
		Expect(sessions.Len()).To(BeZero())
	})

	It("forgets sessions idle for longer than the ttl", func() {
		_, err := sessions.Process(context.Background(), "a", document.Image{}, 1, "eng")
		Expect(err).NotTo(HaveOccurred())
		sessions.Get("b")

		now = now.Add(30 * time.Second)
		sessions.Get("b")
		Expect(sessions.Len()).To(Equal(2))

		now = now.Add(45 * time.Second)
		sessions.Get("c")
		Expect(sessions.Len()).To(Equal(2))
	})
})
