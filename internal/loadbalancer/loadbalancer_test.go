package loadbalancer_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/failover-lb/internal/backend"
	"github.com/angeloszaimis/failover-lb/internal/health"
	"github.com/angeloszaimis/failover-lb/internal/loadbalancer"
	"github.com/angeloszaimis/failover-lb/internal/mocks"
)

var _ = Describe("LoadBalancer", func() {
	var (
		now   time.Time
		clock func() time.Time
	)

	BeforeEach(func() {
		now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		clock = func() time.Time { return now }
	})

	newLB := func(backends []*backend.Backend, options ...loadbalancer.Option) *loadbalancer.LoadBalancer {
		options = append([]loadbalancer.Option{
			loadbalancer.WithLogger(quietLogger()),
			loadbalancer.WithClock(clock),
		}, options...)

		lb, err := loadbalancer.New(targets(backends...), nil, backend.Options{}, options...)
		Expect(err).NotTo(HaveOccurred())
		return lb
	}

	Describe("New", func() {
		It("should build host targets through the factory", func() {
			healthy := &countingTransport{status: http.StatusOK}
			factory := func(host string, opts backend.Options) (backend.Transport, error) {
				Expect(opts.HealthURL).To(Equal(backend.DefaultHealthURL))
				return healthy, nil
			}

			lb, err := loadbalancer.New([]backend.Target{
				backend.Host("a:80"),
				backend.New("b:80", healthy),
			}, factory, backend.Options{})
			Expect(err).NotTo(HaveOccurred())
			Expect(lb.Backends()).To(HaveLen(2))
			Expect(lb.Backends()[0].Host()).To(Equal("a:80"))
		})

		It("should reject an empty pool", func() {
			_, err := loadbalancer.New(nil, nil, backend.Options{})
			Expect(errors.Is(err, backend.ErrEmptyPool)).To(BeTrue())
		})

		It("should reject duplicate hosts", func() {
			t := &countingTransport{status: http.StatusOK}
			_, err := loadbalancer.New(targets(backend.New("a", t), backend.New("a", t)), nil, backend.Options{})
			Expect(errors.Is(err, backend.ErrDuplicateHost)).To(BeTrue())
		})
	})

	Describe("Dispatch", func() {
		Context("with a single healthy backend", func() {
			It("should return the backend response and score it", func() {
				t := &countingTransport{status: http.StatusOK}
				b := backend.New("a", t)
				lb := newLB([]*backend.Backend{b})

				res := lb.Dispatch(httptest.NewRequest(http.MethodGet, "/", nil), nil)
				Expect(res.StatusCode).To(Equal(http.StatusOK))
				Expect(b.RequestCount()).To(Equal(uint64(1)))
				Expect(b.HealthScore()).To(Equal(1.0))
				Expect(b.History()).To(Equal([]int{http.StatusOK}))
			})

			It("should keep exactly the last ten statuses after twenty dispatches", func() {
				var mu sync.Mutex
				calls := 0
				b := backend.New("a", backend.TransportFunc(func(req *http.Request, _ *backend.CallOptions) (*http.Response, error) {
					mu.Lock()
					defer mu.Unlock()
					status := 200 + calls%7
					calls++
					return respond(req, status, ""), nil
				}))
				lb := newLB([]*backend.Backend{b})

				var sent []int
				for i := 0; i < 20; i++ {
					res := lb.Dispatch(httptest.NewRequest(http.MethodGet, "/", nil), nil)
					sent = append(sent, res.StatusCode)
				}

				Expect(b.History()).To(HaveLen(health.HistorySize))
				Expect(b.History()).To(Equal(sent[10:]))
				Expect(b.RequestCount()).To(Equal(uint64(20)))
			})
		})

		Context("when the preferred backends fail", func() {
			It("should fail over a GET to the remaining backend", func() {
				failing1 := &countingTransport{status: http.StatusServiceUnavailable}
				b1 := backend.New("a", failing1)
				b2 := backend.New("b", backend.TransportFunc(func(*http.Request, *backend.CallOptions) (*http.Response, error) {
					return nil, errors.New("connection refused")
				}))
				healthy := &countingTransport{status: http.StatusOK}
				b3 := backend.New("c", healthy)

				b1.SetHealthScore(1)
				b2.SetHealthScore(1)
				b3.SetHealthScore(0.1)

				lb := newLB([]*backend.Backend{b1, b2, b3})
				outcome := lb.Route(httptest.NewRequest(http.MethodGet, "/", nil), nil)

				Expect(outcome.Response.StatusCode).To(Equal(http.StatusOK))
				Expect(outcome.Backend).To(BeIdenticalTo(b3))
				Expect(outcome.Attempts).To(Equal(3))

				used := 0
				for _, b := range lb.Backends() {
					if b.RequestCount() > 0 {
						used++
					}
				}
				Expect(used).To(BeNumerically(">=", 2))

				Expect(b1.History()).To(Equal([]int{http.StatusServiceUnavailable}))
				Expect(b2.History()).To(Equal([]int{http.StatusBadGateway}))
				Expect(b1.LastErrorAt()).To(Equal(now))
				Expect(b2.LastErrorAt()).To(Equal(now))
				Expect(b1.HealthScore()).To(Equal(0.0))
				Expect(b3.HealthScore()).To(Equal(1.0))
			})

			It("should fail over HEAD requests too", func() {
				b1 := backend.New("a", &countingTransport{status: http.StatusInternalServerError})
				b2 := backend.New("b", &countingTransport{status: http.StatusNoContent})
				b1.SetHealthScore(1)

				lb := newLB([]*backend.Backend{b1, b2}, loadbalancer.WithRandom(func(int) int { return 0 }))
				res := lb.Dispatch(httptest.NewRequest(http.MethodHead, "/", nil), nil)
				Expect(res.StatusCode).To(Equal(http.StatusNoContent))
			})
		})

		Context("when every backend fails", func() {
			var (
				ctrl      *gomock.Controller
				transport *mocks.MockTransport
			)

			BeforeEach(func() {
				ctrl = gomock.NewController(GinkgoT())
				transport = mocks.NewMockTransport(ctrl)
			})

			It("should report pool exhaustion after one attempt on a single backend", func() {
				transport.EXPECT().
					RoundTrip(gomock.Any(), gomock.Any()).
					Return(respond(nil, http.StatusInternalServerError, "boom"), nil).
					Times(1)

				b := backend.New("a", transport)
				lb := newLB([]*backend.Backend{b})

				outcome := lb.Route(httptest.NewRequest(http.MethodGet, "/", nil), nil)
				Expect(outcome.Response.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(readBody(outcome.Response)).To(Equal(loadbalancer.NoBackendBody))
				Expect(outcome.Backend).To(BeNil())
				Expect(outcome.Attempts).To(Equal(1))
				Expect(b.RequestCount()).To(Equal(uint64(1)))
			})

			It("should try every backend exactly once", func() {
				transport.EXPECT().
					RoundTrip(gomock.Any(), gomock.Any()).
					DoAndReturn(func(req *http.Request, _ *backend.CallOptions) (*http.Response, error) {
						return respond(req, http.StatusBadGateway, ""), nil
					}).
					Times(4)

				backends := []*backend.Backend{
					backend.New("a", transport),
					backend.New("b", transport),
					backend.New("c", transport),
					backend.New("d", transport),
				}
				lb := newLB(backends)

				outcome := lb.Route(httptest.NewRequest(http.MethodGet, "/", nil), nil)
				Expect(outcome.Response.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(outcome.Attempts).To(Equal(4))
				for _, b := range backends {
					Expect(b.RequestCount()).To(Equal(uint64(1)))
				}
			})
		})

		Context("with non-idempotent requests", func() {
			It("should return the failure without failing over", func() {
				ctrl := gomock.NewController(GinkgoT())
				failing := mocks.NewMockTransport(ctrl)
				healthy := mocks.NewMockTransport(ctrl)

				failing.EXPECT().
					RoundTrip(gomock.Any(), gomock.Any()).
					Return(respond(nil, http.StatusServiceUnavailable, "down"), nil).
					Times(1)
				healthy.EXPECT().RoundTrip(gomock.Any(), gomock.Any()).Times(0)

				good := backend.New("good", healthy)
				bad := backend.New("bad", failing)
				good.SetHealthScore(1)
				bad.SetHealthScore(0.5)

				// Always take the second candidate, which is the failing one.
				lb := newLB([]*backend.Backend{good, bad}, loadbalancer.WithRandom(func(int) int { return 1 }))

				req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"id":1}`))
				outcome := lb.Route(req, nil)
				Expect(outcome.Response.StatusCode).To(Equal(http.StatusServiceUnavailable))
				Expect(readBody(outcome.Response)).To(Equal("down"))
				Expect(outcome.Backend).To(BeIdenticalTo(bad))
				Expect(outcome.Attempts).To(Equal(1))
				Expect(good.RequestCount()).To(BeZero())
			})

			It("should convert transport errors into a 502", func() {
				b := backend.New("a", backend.TransportFunc(func(*http.Request, *backend.CallOptions) (*http.Response, error) {
					return nil, errors.New("dial tcp: connection refused")
				}))
				lb := newLB([]*backend.Backend{b})

				res := lb.Dispatch(httptest.NewRequest(http.MethodPut, "/", nil), nil)
				Expect(res.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(readBody(res)).To(Equal(loadbalancer.OriginUnreachableBody))
				Expect(b.History()).To(Equal([]int{http.StatusBadGateway}))
				Expect(b.LastErrorAt()).To(Equal(now))
			})
		})

		Context("with client errors", func() {
			It("should pass 4xx through without retrying", func() {
				notFound := &countingTransport{status: http.StatusNotFound}
				other := &countingTransport{status: http.StatusOK}
				lb := newLB([]*backend.Backend{backend.New("a", notFound), backend.New("b", other)},
					loadbalancer.WithRandom(func(int) int { return 0 }))

				res := lb.Dispatch(httptest.NewRequest(http.MethodGet, "/missing", nil), nil)
				Expect(res.StatusCode).To(Equal(http.StatusNotFound))
				Expect(notFound.calls.Load() + other.calls.Load()).To(Equal(int64(1)))
			})
		})

		Context("when the caller cancels", func() {
			It("should stop after one attempt without blaming the backend", func() {
				cancelAware := func() backend.TransportFunc {
					return func(req *http.Request, _ *backend.CallOptions) (*http.Response, error) {
						if err := req.Context().Err(); err != nil {
							return nil, err
						}
						return respond(req, http.StatusOK, "ok"), nil
					}
				}
				backends := []*backend.Backend{
					backend.New("a", cancelAware()),
					backend.New("b", cancelAware()),
					backend.New("c", cancelAware()),
				}
				lb := newLB(backends)

				for i := 0; i < 6; i++ {
					res := lb.Dispatch(httptest.NewRequest(http.MethodGet, "/", nil), nil)
					Expect(res.StatusCode).To(Equal(http.StatusOK))
				}
				before := lb.Snapshots()

				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				outcome := lb.Route(httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx), nil)

				Expect(outcome.Attempts).To(Equal(1))
				Expect(outcome.Response.StatusCode).To(Equal(http.StatusBadGateway))

				after := lb.Snapshots()
				for i := range backends {
					Expect(after[i].LastErrorAt.IsZero()).To(BeTrue())
					Expect(after[i].History).To(Equal(before[i].History))
					Expect(after[i].HealthScore).To(Equal(before[i].HealthScore))
				}
			})
		})

		Context("with misbehaving transports", func() {
			It("should treat a panic as a transport failure", func() {
				b := backend.New("a", backend.TransportFunc(func(*http.Request, *backend.CallOptions) (*http.Response, error) {
					panic("kaboom")
				}))
				lb := newLB([]*backend.Backend{b})

				res := lb.Dispatch(httptest.NewRequest(http.MethodPost, "/", nil), nil)
				Expect(res.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(readBody(res)).To(Equal(loadbalancer.OriginUnreachableBody))
			})

			It("should treat a nil response as a transport failure", func() {
				b := backend.New("a", backend.TransportFunc(func(*http.Request, *backend.CallOptions) (*http.Response, error) {
					return nil, nil
				}))
				lb := newLB([]*backend.Backend{b})

				res := lb.Dispatch(httptest.NewRequest(http.MethodDelete, "/", nil), nil)
				Expect(res.StatusCode).To(Equal(http.StatusBadGateway))
			})
		})

		Context("request handling", func() {
			It("should forward call options and a copy of the request", func() {
				opts := &backend.CallOptions{Timeout: time.Second, Header: http.Header{"X-Trace": {"1"}}}
				original := httptest.NewRequest(http.MethodGet, "/items?page=2", nil)

				b := backend.New("a", backend.TransportFunc(func(req *http.Request, got *backend.CallOptions) (*http.Response, error) {
					Expect(got).To(BeIdenticalTo(opts))
					Expect(req).NotTo(BeIdenticalTo(original))
					Expect(req.URL.RequestURI()).To(Equal("/items?page=2"))
					return respond(req, http.StatusOK, "ok"), nil
				}))
				lb := newLB([]*backend.Backend{b})

				Expect(lb.Dispatch(original, opts).StatusCode).To(Equal(http.StatusOK))
			})

			It("should replay request bodies on failover", func() {
				var bodies []string
				var mu sync.Mutex
				record := func(status int) backend.TransportFunc {
					return func(req *http.Request, _ *backend.CallOptions) (*http.Response, error) {
						mu.Lock()
						defer mu.Unlock()
						buf := new(strings.Builder)
						if req.Body != nil {
							_, _ = io.Copy(buf, req.Body)
						}
						bodies = append(bodies, buf.String())
						return respond(req, status, ""), nil
					}
				}

				first := backend.New("a", record(http.StatusInternalServerError))
				second := backend.New("b", record(http.StatusOK))
				first.SetHealthScore(1)
				lb := newLB([]*backend.Backend{first, second}, loadbalancer.WithRandom(func(int) int { return 0 }))

				req, err := http.NewRequest(http.MethodGet, "http://lb.local/search", strings.NewReader("query"))
				Expect(err).NotTo(HaveOccurred())

				res := lb.Dispatch(req, nil)
				Expect(res.StatusCode).To(Equal(http.StatusOK))
				Expect(bodies).To(Equal([]string{"query", "query"}))
			})

			It("should not fail over a GET whose body cannot be replayed", func() {
				failing := &countingTransport{status: http.StatusInternalServerError}
				healthy := &countingTransport{status: http.StatusOK}
				first := backend.New("a", failing)
				second := backend.New("b", healthy)
				first.SetHealthScore(1)
				lb := newLB([]*backend.Backend{first, second}, loadbalancer.WithRandom(func(int) int { return 0 }))

				req := httptest.NewRequest(http.MethodGet, "/search", strings.NewReader("query"))
				req.GetBody = nil

				outcome := lb.Route(req, nil)
				Expect(outcome.Response.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(outcome.Backend).To(BeIdenticalTo(first))
				Expect(outcome.Attempts).To(Equal(1))
				Expect(failing.calls.Load()).To(Equal(int64(1)))
				Expect(healthy.calls.Load()).To(BeZero())
			})
		})

		Context("under concurrent load", func() {
			It("should count every request exactly once", func() {
				backends := []*backend.Backend{
					backend.New("a", &countingTransport{status: http.StatusOK}),
					backend.New("b", &countingTransport{status: http.StatusOK}),
					backend.New("c", &countingTransport{status: http.StatusOK}),
				}
				lb := newLB(backends)

				var wg sync.WaitGroup
				for i := 0; i < 200; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						defer GinkgoRecover()
						res := lb.Dispatch(httptest.NewRequest(http.MethodGet, "/", nil), nil)
						Expect(res.StatusCode).To(Equal(http.StatusOK))
					}()
				}
				wg.Wait()

				var total uint64
				for _, snap := range lb.Snapshots() {
					total += snap.RequestCount
					Expect(len(snap.History)).To(BeNumerically("<=", health.HistorySize))
				}
				Expect(total).To(Equal(uint64(200)))
			})
		})
	})

	Describe("DispatchURL", func() {
		It("should normalize a raw URL into a GET request", func() {
			b := backend.New("a", backend.TransportFunc(func(req *http.Request, _ *backend.CallOptions) (*http.Response, error) {
				Expect(req.Method).To(Equal(http.MethodGet))
				Expect(req.URL.Path).To(Equal("/status"))
				return respond(req, http.StatusOK, "ok"), nil
			}))
			lb := newLB([]*backend.Backend{b})

			res, err := lb.DispatchURL(context.Background(), "http://lb.local/status", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(readBody(res)).To(Equal("ok"))
		})

		It("should reject an unparsable URL", func() {
			lb := newLB([]*backend.Backend{backend.New("a", &countingTransport{status: http.StatusOK})})

			res, err := lb.DispatchURL(context.Background(), "://bad", nil)
			Expect(err).To(HaveOccurred())
			Expect(res).To(BeNil())
		})
	})
})
