package loadbalancer

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Bodies of the responses synthesized by the balancer.
const (
	NoBackendBody         = "no backend available"
	OriginUnreachableBody = "unable to connect to origin"
)

func syntheticResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func noBackendResponse(req *http.Request) *http.Response {
	return syntheticResponse(req, http.StatusBadGateway, NoBackendBody)
}

func originUnreachableResponse(req *http.Request) *http.Response {
	return syntheticResponse(req, http.StatusBadGateway, OriginUnreachableBody)
}

// discard drains and closes a response body that will not be returned, so
// the underlying connection can be reused.
func discard(res *http.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
	_ = res.Body.Close()
}
