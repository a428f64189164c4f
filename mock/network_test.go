package mock_test

import (
	"context"
	"net/http"
	"time"

	"github.com/arya-analytics/infodb"
	"github.com/arya-analytics/infodb/internal/address"
	"github.com/arya-analytics/infodb/mock"
	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Network", func() {
	var (
		net  *mock.Network
		ctx  context.Context
		addr = address.Address("localhost:9000")
	)
	BeforeEach(func() {
		net = mock.NewNetwork()
		ctx = context.Background()
	})
	echo := func(_ context.Context, req infodb.Request) infodb.Response {
		if req.Path == "/missing" {
			return infodb.Response{Status: http.StatusNotFound}
		}
		return infodb.Response{Status: http.StatusOK, Body: req.Body}
	}

	It("Should route requests to the configured handler", func() {
		Expect(net.NewTransport().Configure(ctx, addr, echo)).To(Succeed())
		t := net.NewTransport()
		Expect(t.Post(ctx, addr, "/helo", []byte("x"))).To(Succeed())
		Expect(net.Requests(addr)).To(Equal(1))
	})
	It("Should fail for addresses nothing serves on", func() {
		err := net.NewTransport().Post(ctx, addr, "/helo", nil)
		Expect(errors.Is(err, mock.ErrUnreachable)).To(BeTrue())
	})
	It("Should return a status error for refusals", func() {
		Expect(net.NewTransport().Configure(ctx, addr, echo)).To(Succeed())
		_, err := net.NewTransport().Get(ctx, addr, "/missing")
		var se infodb.StatusError
		Expect(errors.As(err, &se)).To(BeTrue())
		Expect(se.Status).To(Equal(http.StatusNotFound))
	})
	It("Should hang on unreachable addresses until the caller gives up", func() {
		Expect(net.NewTransport().Configure(ctx, addr, echo)).To(Succeed())
		net.Unreachable(addr)
		tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		start := time.Now()
		err := net.NewTransport().Post(tctx, addr, "/helo", nil)
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		Expect(time.Since(start)).To(BeNumerically(">=", 20*time.Millisecond))
		net.Reachable(addr)
		Expect(net.NewTransport().Post(ctx, addr, "/helo", nil)).To(Succeed())
	})
	It("Should stop routing when the serving context is cancelled", func() {
		sctx, cancel := context.WithCancel(ctx)
		Expect(net.NewTransport().Configure(sctx, addr, echo)).To(Succeed())
		cancel()
		Eventually(func() error { return net.NewTransport().Post(ctx, addr, "/helo", nil) }).
			Should(MatchError(mock.ErrUnreachable))
	})
})
