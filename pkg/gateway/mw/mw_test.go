package mw

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brightfold/voicegate/pkg/gateway/config"
	"github.com/brightfold/voicegate/pkg/gateway/ratelimit"
)

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if seen == "" || !strings.HasPrefix(seen, "req_") {
		t.Fatalf("request id = %q", seen)
	}
	if got := rr.Header().Get("X-Request-ID"); got != seen {
		t.Fatalf("header id %q != context id %q", got, seen)
	}
}

func TestRequestID_PreservesIncoming(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req_fixed")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if seen != "req_fixed" {
		t.Fatalf("request id = %q, want req_fixed", seen)
	}
}

func TestRecover_PanicBecomes500(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := Recover(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/session", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rr.Code)
	}
}

func TestAccessLog_WritesStatusAndPath(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := AccessLog(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/session", nil))

	out := buf.String()
	if !strings.Contains(out, "status=418") || !strings.Contains(out, "path=/v1/session") {
		t.Fatalf("access log missing fields: %q", out)
	}
}

func TestRateLimit_DeniesAfterBurst(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{RPS: 0.0001, Burst: 2})
	h := RateLimit(limiter, config.Config{}, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	newReq := func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/v1/session", nil)
		r.RemoteAddr = "203.0.113.7:4242"
		return r
	}

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, newReq())
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d status=%d, want 200", i, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newReq())
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d, want 429", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "rate_limit_error") {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func TestRateLimit_IndependentPerIdentity(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{RPS: 0.0001, Burst: 1})
	h := RateLimit(limiter, config.Config{}, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	a := httptest.NewRequest(http.MethodPost, "/v1/session", nil)
	a.RemoteAddr = "203.0.113.7:1000"
	b := httptest.NewRequest(http.MethodPost, "/v1/session", nil)
	b.RemoteAddr = "203.0.113.8:1000"

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, a)
	if rr.Code != http.StatusOK {
		t.Fatalf("first identity status=%d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, b)
	if rr.Code != http.StatusOK {
		t.Fatalf("second identity status=%d, want unaffected 200", rr.Code)
	}
}
