package server

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ticketdesk/reportd/internal/config"
	"github.com/ticketdesk/reportd/internal/metrics"
	"github.com/ticketdesk/reportd/internal/requestctx"
)

func TestRecoveryMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	wrapped := RecoveryMiddleware(handler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	wrapped.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response["error"] != "internal server error" {
		t.Errorf("expected error message 'internal server error', got %v", response["error"])
	}
	if response["code"] != "INTERNAL_ERROR" {
		t.Errorf("expected code INTERNAL_ERROR, got %v", response["code"])
	}
}

func TestRecoveryMiddleware_NoError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("success"))
	})

	wrapped := RecoveryMiddleware(handler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	wrapped.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	if w.Body.String() != "success" {
		t.Errorf("expected body 'success', got %s", w.Body.String())
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var captured *http.Request

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		w.WriteHeader(http.StatusOK)
	})

	wrapped := RequestIDMiddleware(handler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	wrapped.ServeHTTP(w, req)

	requestID := requestctx.RequestID(captured.Context())
	if requestID == "" {
		t.Error("request ID should be set in context")
	}

	headerID := w.Header().Get("X-Request-ID")
	if requestID != headerID {
		t.Errorf("context request ID %q should match header ID %q", requestID, headerID)
	}

	if requestctx.RequestTime(captured.Context()).IsZero() {
		t.Error("request time should be set in context")
	}
}

func TestRequestIDMiddleware_ExistingID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "kept", incoming: "existing-request-id", keep: true},
		{name: "too long is replaced", incoming: strings.Repeat("x", 200), keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured *http.Request
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = r
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Request-ID", tt.incoming)
			w := httptest.NewRecorder()

			RequestIDMiddleware(handler).ServeHTTP(w, req)

			got := requestctx.RequestID(captured.Context())
			if (got == tt.incoming) != tt.keep {
				t.Errorf("request ID = %q, keep = %v", got, tt.keep)
			}
			if w.Header().Get("X-Request-ID") != got {
				t.Errorf("header ID %q does not match context %q", w.Header().Get("X-Request-ID"), got)
			}
		})
	}
}

func TestLoggingMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("test response"))
	})

	wrapped := RequestIDMiddleware(LoggingMiddleware(handler))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	wrapped.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	if w.Body.String() != "test response" {
		t.Errorf("expected body 'test response', got %s", w.Body.String())
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name          string
		corsConfig    config.CORSConfig
		origin        string
		method        string
		expectOrigin  string
		expectCreds   bool
		expectStatus  int
		expectMethods string
		expectMaxAge  string
	}{
		{
			name: "allowed origin",
			corsConfig: config.CORSConfig{
				Enabled:          true,
				AllowedOrigins:   []string{"http://localhost:3000"},
				AllowCredentials: true,
			},
			origin:       "http://localhost:3000",
			method:       http.MethodGet,
			expectOrigin: "http://localhost:3000",
			expectCreds:  true,
			expectStatus: http.StatusOK,
		},
		{
			name: "wildcard origin",
			corsConfig: config.CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
			},
			origin:       "http://example.com",
			method:       http.MethodGet,
			expectOrigin: "http://example.com",
			expectStatus: http.StatusOK,
		},
		{
			name: "disallowed origin",
			corsConfig: config.CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"http://localhost:3000"},
			},
			origin:       "http://evil.com",
			method:       http.MethodGet,
			expectOrigin: "",
			expectStatus: http.StatusOK,
		},
		{
			name: "preflight request",
			corsConfig: config.CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"http://localhost:3000"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
				AllowedHeaders: []string{"Authorization", "Content-Type"},
				MaxAge:         3600 * time.Second,
			},
			origin:        "http://localhost:3000",
			method:        http.MethodOptions,
			expectOrigin:  "http://localhost:3000",
			expectStatus:  http.StatusNoContent,
			expectMethods: "GET, POST, PUT, DELETE",
			expectMaxAge:  "3600",
		},
		{
			name: "exposed headers",
			corsConfig: config.CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"http://localhost:3000"},
				ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
			},
			origin:       "http://localhost:3000",
			method:       http.MethodGet,
			expectOrigin: "http://localhost:3000",
			expectStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			wrapped := CORSMiddleware(tt.corsConfig)(handler)

			req := httptest.NewRequest(tt.method, "/", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.method == http.MethodOptions {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()

			wrapped.ServeHTTP(w, req)

			if w.Code != tt.expectStatus {
				t.Errorf("expected status %d, got %d", tt.expectStatus, w.Code)
			}

			if origin := w.Header().Get("Access-Control-Allow-Origin"); origin != tt.expectOrigin {
				t.Errorf("expected origin %q, got %q", tt.expectOrigin, origin)
			}

			if tt.expectCreds && w.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Errorf("expected credentials header 'true', got %q", w.Header().Get("Access-Control-Allow-Credentials"))
			}

			if got := w.Header().Get("Access-Control-Allow-Methods"); got != tt.expectMethods {
				t.Errorf("expected Allow-Methods %q, got %q", tt.expectMethods, got)
			}

			if got := w.Header().Get("Access-Control-Max-Age"); got != tt.expectMaxAge {
				t.Errorf("expected Max-Age %q, got %q", tt.expectMaxAge, got)
			}

			if len(tt.corsConfig.ExposedHeaders) > 0 {
				want := strings.Join(tt.corsConfig.ExposedHeaders, ", ")
				if got := w.Header().Get("Access-Control-Expose-Headers"); got != want {
					t.Errorf("expected Expose-Headers %q, got %q", want, got)
				}
			}
		})
	}
}

func TestMaxBodySizeMiddleware(t *testing.T) {
	maxSize := int64(100)

	tests := []struct {
		name         string
		bodySize     int
		expectStatus int
	}{
		{name: "within limit", bodySize: 50, expectStatus: http.StatusOK},
		{name: "at limit", bodySize: 100, expectStatus: http.StatusOK},
		{name: "over limit", bodySize: 150, expectStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, err := io.ReadAll(r.Body)
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				w.WriteHeader(http.StatusOK)
				w.Write(body)
			})

			wrapped := MaxBodySizeMiddleware(maxSize)(handler)

			body := bytes.Repeat([]byte("a"), tt.bodySize)
			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
			req.Header.Set("Content-Length", fmt.Sprintf("%d", tt.bodySize))
			w := httptest.NewRecorder()

			wrapped.ServeHTTP(w, req)

			if w.Code != tt.expectStatus {
				t.Errorf("expected status %d, got %d", tt.expectStatus, w.Code)
			}
		})
	}
}

func TestMaxBodySizeMiddleware_StreamedBody(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", 150)))
	req.ContentLength = -1
	w := httptest.NewRecorder()

	MaxBodySizeMiddleware(100)(handler).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := &responseWriter{
		ResponseWriter: w,
		status:         http.StatusOK,
	}

	rw.WriteHeader(http.StatusCreated)
	body := []byte("test response")
	n, err := rw.Write(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rw.status != http.StatusCreated || w.Code != http.StatusCreated {
		t.Errorf("expected status %d, got wrapper %d underlying %d", http.StatusCreated, rw.status, w.Code)
	}
	if n != len(body) || rw.bytes != len(body) {
		t.Errorf("expected %d bytes, wrote %d counted %d", len(body), n, rw.bytes)
	}
	if rw.Unwrap() != w {
		t.Error("Unwrap should return the underlying writer")
	}
}

func TestCompressionMiddleware(t *testing.T) {
	payload := strings.Repeat(`{"status":"ok"}`, 200)

	compress, err := CompressionMiddleware()
	if err != nil {
		t.Fatalf("CompressionMiddleware: %v", err)
	}
	wrapped := compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload))
	}))

	t.Run("gzips when accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		w := httptest.NewRecorder()

		wrapped.ServeHTTP(w, req)

		if w.Header().Get("Content-Encoding") != "gzip" {
			t.Fatalf("expected gzip encoding, got %q", w.Header().Get("Content-Encoding"))
		}
		zr, err := gzip.NewReader(w.Body)
		if err != nil {
			t.Fatalf("gzip reader: %v", err)
		}
		body, err := io.ReadAll(zr)
		if err != nil {
			t.Fatalf("read gzip body: %v", err)
		}
		if string(body) != payload {
			t.Error("decompressed body does not match")
		}
	})

	t.Run("plain without accept-encoding", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()

		wrapped.ServeHTTP(w, req)

		if w.Header().Get("Content-Encoding") != "" {
			t.Errorf("expected no encoding, got %q", w.Header().Get("Content-Encoding"))
		}
		if w.Body.String() != payload {
			t.Error("body should be unmodified")
		}
	})

	t.Run("websocket upgrade bypasses", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		req.Header.Set("Upgrade", "websocket")
		w := httptest.NewRecorder()

		wrapped.ServeHTTP(w, req)

		if w.Header().Get("Content-Encoding") != "" {
			t.Errorf("expected no encoding, got %q", w.Header().Get("Content-Encoding"))
		}
	})
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /scheduled-reports/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("GET /metrics", metrics.Handler())

	wrapped := MetricsMiddleware("/metrics")(mux)

	for _, id := range []string{"a", "b", "c"} {
		req := httptest.NewRequest(http.MethodGet, "/scheduled-reports/"+id, nil)
		wrapped.ServeHTTP(httptest.NewRecorder(), req)
	}
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := w.Body.String()
	if !strings.Contains(body, `path="/scheduled-reports/:id"`) {
		t.Error("expected requests labelled by route pattern")
	}
	if strings.Contains(body, `path="/scheduled-reports/a"`) {
		t.Error("raw paths must not be used as labels")
	}
	if !strings.Contains(body, `path="unmatched"`) {
		t.Error("expected unmatched requests to share one label")
	}
	if strings.Contains(body, `path="/metrics"`) {
		t.Error("metrics endpoint should not be recorded")
	}
}

func TestOriginPatterns(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"*"}, []string{"*"}},
		{[]string{"https://dash.example.com", "http://localhost:3000"}, []string{"dash.example.com", "localhost:3000"}},
		{[]string{"*.example.com"}, []string{"*.example.com"}},
		{nil, []string{}},
	}

	for _, tt := range tests {
		got := originPatterns(tt.in)
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("originPatterns(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
