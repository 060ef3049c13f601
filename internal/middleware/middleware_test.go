package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"/chat":                                "/chat",
		"/api/users/u1":                        "/api/users/:userID",
		"/api/users/u1/sessions":               "/api/users/:userID/sessions",
		"/api/users/u1/sessions/s1/messages":   "/api/users/:userID/sessions/:sessionID/messages",
		"/ws/users/u1/sessions/s1":             "/ws/users/:userID/sessions/:sessionID",
		"/api/users/u1/sessions/s1/messages/m": "/api/users/:userID/sessions/:sessionID/messages/:messageID",
	}
	for in, want := range tests {
		if got := normalizePath(in); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMetricsKeepsStatus(t *testing.T) {
	t.Parallel()

	h := Metrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("explicit origin gets credentials", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		CORS([]string{"https://app.example.com"})(next).ServeHTTP(rec, req)
		if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
			t.Fatal("origin should be echoed")
		}
		if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
			t.Fatal("explicit origin should allow credentials")
		}
	})

	t.Run("wildcard never allows credentials", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		CORS([]string{"*"})(next).ServeHTTP(rec, req)
		if rec.Header().Get("Access-Control-Allow-Origin") == "" {
			t.Fatal("wildcard should allow the origin")
		}
		if rec.Header().Get("Access-Control-Allow-Credentials") != "" {
			t.Fatal("wildcard must not allow credentials")
		}
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
		req.Header.Set("Origin", "https://other.example.com")
		CORS([]string{"https://app.example.com"})(next).ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Fatal("unlisted origin must not be allowed")
		}
	})
}
