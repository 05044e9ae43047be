package httpserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/privatechat-app/privatechat-server/internal/log"
	"github.com/privatechat-app/privatechat-server/internal/xerrors"
)

// test helpers

// stubProbe implements health.Probe for testing.
type stubProbe struct {
	err error
}

func (p *stubProbe) Check(ctx context.Context) error { return p.err }

// defaultOpts returns minimal valid Options for testing.
func defaultOpts() Options {
	return Options{
		Logger: log.Nop(),
	}
}

// doRequest is a helper to send a request through a handler and return the recorder.
func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	h.ServeHTTP(rec, req)
	return rec
}

// getFreePort finds a free TCP port.
func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// NewHandler - middleware stack

func TestNewHandler_SecurityHeaders(t *testing.T) {
	opts := defaultOpts()
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/")

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

func TestNewHandler_SecurityHeaders_On404(t *testing.T) {
	opts := defaultOpts()
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/definitely-not-a-route")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Error("security headers missing on 404")
	}
}

func TestNewHandler_RequestID_Generated(t *testing.T) {
	opts := defaultOpts()
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/")
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("X-Request-Id not set on response")
	}
}

func TestNewHandler_RequestID_Propagated(t *testing.T) {
	opts := defaultOpts()
	h := NewHandler(&opts)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "caller-supplied-id")
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "caller-supplied-id" {
		t.Errorf("X-Request-Id = %q, want caller-supplied-id", got)
	}
}

func TestNewHandler_APIRoutes(t *testing.T) {
	opts := defaultOpts()
	opts.APIRoutes = func(r chi.Router) {
		r.Get("/api/content", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"items":[]}`))
		})
	}
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/api/content")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "items") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestNewHandler_APIRoutes_Nil(t *testing.T) {
	opts := defaultOpts()
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/api/content")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 with no routes mounted", rec.Code)
	}
}

func TestNewHandler_HealthEndpoints(t *testing.T) {
	opts := defaultOpts()
	opts.Health = &stubProbe{}
	opts.Readiness = &stubProbe{err: xerrors.New("db down")}
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/-/healthy")
	if rec.Code != http.StatusOK {
		t.Errorf("healthy = %d, want 200", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/-/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready = %d, want 503", rec.Code)
	}
}

func TestNewHandler_HealthEndpoint_NilProbe(t *testing.T) {
	opts := defaultOpts()
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/-/healthy")
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil probe should leave route unregistered, got %d", rec.Code)
	}
}

func TestNewHandler_RateLimitMW_Applied(t *testing.T) {
	opts := defaultOpts()
	opts.RateLimitMW = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestNewHandler_MetricsMW_Applied(t *testing.T) {
	var called bool
	opts := defaultOpts()
	opts.MetricsMW = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			next.ServeHTTP(w, r)
		})
	}
	h := NewHandler(&opts)

	doRequest(t, h, http.MethodGet, "/")
	if !called {
		t.Fatal("metrics middleware not invoked")
	}
}

func TestNewHandler_RecoverMW_Enabled(t *testing.T) {
	opts := defaultOpts()
	opts.UseRecoverMW = true
	opts.APIRoutes = func(r chi.Router) {
		r.Get("/boom", func(w http.ResponseWriter, req *http.Request) {
			panic("boom")
		})
	}
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/boom")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestNewHandler_RecoverMW_CallsOnPanic(t *testing.T) {
	var panics int
	opts := defaultOpts()
	opts.UseRecoverMW = true
	opts.OnPanic = func() { panics++ }
	opts.APIRoutes = func(r chi.Router) {
		r.Get("/boom", func(w http.ResponseWriter, req *http.Request) {
			panic("boom")
		})
	}
	h := NewHandler(&opts)

	doRequest(t, h, http.MethodGet, "/boom")
	if panics != 1 {
		t.Fatalf("OnPanic calls = %d, want 1", panics)
	}
}

func TestNewHandler_MaxBody(t *testing.T) {
	opts := defaultOpts()
	opts.MaxBodyBytes = 16
	opts.APIRoutes = func(r chi.Router) {
		r.Post("/api/echo", func(w http.ResponseWriter, req *http.Request) {
			_, err := io.ReadAll(req.Body)
			if _, ok := err.(*http.MaxBytesError); ok {
				http.Error(w, "too large", http.StatusRequestEntityTooLarge)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
	}
	h := NewHandler(&opts)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/echo", strings.NewReader(strings.Repeat("x", 64)))
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

// NewServer

func TestNewServer_Configuration(t *testing.T) {
	srv := NewServer(":0", http.NotFoundHandler())

	if srv.ReadHeaderTimeout != DefaultReadHeaderTimeout {
		t.Errorf("ReadHeaderTimeout = %s", srv.ReadHeaderTimeout)
	}
	if srv.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("WriteTimeout = %s", srv.WriteTimeout)
	}
	if srv.MaxHeaderBytes != DefaultMaxHeaderBytes {
		t.Errorf("MaxHeaderBytes = %d", srv.MaxHeaderBytes)
	}
}

// Start / stop lifecycle

func TestStart_ServesAndStops(t *testing.T) {
	port := getFreePort(t)

	opts := defaultOpts()
	opts.Port = port
	opts.WriteTimeout = 30 * time.Second
	opts.APIRoutes = func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, req *http.Request) {
			w.Write([]byte("pong"))
		})
	}

	ctx := context.Background()
	stop, err := Start(ctx, &opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// server accepts connections shortly after Start returns
	url := fmt.Sprintf("http://127.0.0.1:%d/ping", port)
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := stop(sctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// stop is idempotent
	if err := stop(sctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
