package core

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"alertflow/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "local",
		Server: config.ServerConfig{
			RequestTimeout:     5 * time.Second,
			ShutdownTimeout:    time.Second,
			RateLimitPerMinute: 0,
		},
		Security: config.SecurityConfig{CorsAllowedOrigins: []string{"*"}},
		Build:    config.BuildInfo{Version: "1.2.3"},
	}
}

func newTestServer(t *testing.T, mutate func(*Server)) *Server {
	t.Helper()
	s, err := NewServer(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if mutate != nil {
		mutate(s)
	}
	s.MountRoutes()
	return s
}

func decodeError(t *testing.T, body []byte) ErrorDetail {
	t.Helper()
	var resp APIErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, body)
	}
	return resp.Error
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	if _, err := NewServer(nil, testLogger()); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewServer(testConfig(), nil); err == nil {
		t.Error("expected error for nil logger")
	}
	s, err := NewServer(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Validator == nil || s.Router() == nil || s.Handler() == nil {
		t.Error("server not fully initialized")
	}
}

func TestServer_V1Registrars(t *testing.T) {
	s := newTestServer(t, func(s *Server) {
		s.V1RouteRegistrars = append(s.V1RouteRegistrars, func(r chi.Router) {
			r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
				Data(w, r, http.StatusOK, map[string]string{"pong": "yes"})
			})
		})
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ping", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"pong":"yes"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
}

func TestServer_NotFoundAndMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, func(s *Server) {
		s.V1RouteRegistrars = append(s.V1RouteRegistrars, func(r chi.Router) {
			r.Get("/only-get", func(w http.ResponseWriter, r *http.Request) {})
		})
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if got := decodeError(t, rec.Body.Bytes()); got.Code != "not_found_route" || got.RequestID == "" {
		t.Errorf("error = %+v", got)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/only-get", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	s := newTestServer(t, func(s *Server) {
		s.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		})
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "# metrics" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestServer_ServeGracefulShutdown(t *testing.T) {
	s := newTestServer(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx, ln) }()

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get("http://" + ln.Addr().String() + "/health")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.Contains(body, []byte(`"version":"1.2.3"`)) {
		t.Errorf("health body = %s", body)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
