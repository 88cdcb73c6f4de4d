package circuitbreaker_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/failover-lb/internal/backend"
	"github.com/angeloszaimis/failover-lb/internal/circuitbreaker"
	"github.com/angeloszaimis/failover-lb/internal/mocks"
)

func response(status int) *http.Response {
	return &http.Response{StatusCode: status, Header: make(http.Header), Body: io.NopCloser(strings.NewReader(""))}
}

var _ = Describe("Wrap", func() {
	var (
		registry *circuitbreaker.Registry
		next     *mocks.MockTransport
		guarded  backend.Transport
		req      *http.Request
	)

	BeforeEach(func() {
		registry = circuitbreaker.NewRegistry(2, time.Hour)
		next = mocks.NewMockTransport(gomock.NewController(GinkgoT()))
		guarded = registry.Wrap("a:80", next)
		req = httptest.NewRequest(http.MethodGet, "/", nil)
	})

	It("should pass successful responses through", func() {
		next.EXPECT().RoundTrip(req, nil).Return(response(http.StatusOK), nil)

		res, err := guarded.RoundTrip(req, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.StatusCode).To(Equal(http.StatusOK))
		Expect(registry.Stats()["a:80"]).To(Equal(circuitbreaker.StateClosed))
	})

	It("should fail fast once 5xx responses trip the breaker", func() {
		next.EXPECT().RoundTrip(gomock.Any(), gomock.Any()).Return(response(http.StatusBadGateway), nil).Times(2)

		for i := 0; i < 2; i++ {
			res, err := guarded.RoundTrip(req, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.StatusCode).To(Equal(http.StatusBadGateway))
		}

		res, err := guarded.RoundTrip(req, nil)
		Expect(res).To(BeNil())
		Expect(errors.Is(err, circuitbreaker.ErrOpen)).To(BeTrue())
	})

	It("should count transport errors as failures", func() {
		next.EXPECT().RoundTrip(gomock.Any(), gomock.Any()).Return(nil, errors.New("refused")).Times(2)

		_, _ = guarded.RoundTrip(req, nil)
		_, _ = guarded.RoundTrip(req, nil)
		Expect(registry.Stats()["a:80"]).To(Equal(circuitbreaker.StateOpen))
	})

	It("should count panics as failures", func() {
		next.EXPECT().RoundTrip(gomock.Any(), gomock.Any()).DoAndReturn(
			func(*http.Request, *backend.CallOptions) (*http.Response, error) {
				panic("boom")
			}).Times(2)

		for i := 0; i < 2; i++ {
			Expect(func() { _, _ = guarded.RoundTrip(req, nil) }).To(Panic())
		}
		Expect(registry.Stats()["a:80"]).To(Equal(circuitbreaker.StateOpen))
	})
})

var _ = Describe("Decorate", func() {
	It("should wrap every transport the factory builds", func() {
		registry := circuitbreaker.NewRegistry(1, time.Hour)
		calls := 0
		factory := registry.Decorate(func(host string, _ backend.Options) (backend.Transport, error) {
			return backend.TransportFunc(func(*http.Request, *backend.CallOptions) (*http.Response, error) {
				calls++
				return response(http.StatusServiceUnavailable), nil
			}), nil
		})

		t, err := factory("a:80", backend.Options{})
		Expect(err).NotTo(HaveOccurred())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		_, _ = t.RoundTrip(req, nil)
		_, err = t.RoundTrip(req, nil)
		Expect(errors.Is(err, circuitbreaker.ErrOpen)).To(BeTrue())
		Expect(calls).To(Equal(1))
	})

	It("should propagate factory errors", func() {
		registry := circuitbreaker.NewRegistry(1, time.Hour)
		factory := registry.Decorate(func(string, backend.Options) (backend.Transport, error) {
			return nil, errors.New("bad host")
		})

		_, err := factory("a:80", backend.Options{})
		Expect(err).To(MatchError("bad host"))
	})
})
