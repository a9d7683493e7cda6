package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/dandantas/tabwatch/internal/testutil"
)

func TestCorrelationIDGeneratedAndEchoed(t *testing.T) {
	var seen string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	testutil.Assert(t, seen != "", "id generated")
	testutil.AssertEquals(t, rec.Header().Get(CorrelationHeader), seen)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationHeader, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	testutil.AssertEquals(t, seen, "abc")
}

func TestLoggingRecordsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(CorrelationID, Logging(logger))
	r.Get("/api/v1/jobs/{jobId}/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/status", nil))

	out := buf.String()
	testutil.Assert(t, strings.Contains(out, `"route":"/api/v1/jobs/{jobId}/status"`), out)
	testutil.Assert(t, strings.Contains(out, `"status_code":418`), out)
}

func TestRecoveryReturns500(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	testutil.AssertEquals(t, rec.Code, http.StatusInternalServerError)
	testutil.Assert(t, strings.Contains(rec.Body.String(), "Internal Server Error"), rec.Body.String())
}

func TestCORS(t *testing.T) {
	cfg := CORSConfig{
		AllowedOrigins: "https://app.example.com, https://staging.example.com",
		AllowedMethods: "GET, POST",
		AllowedHeaders: "*",
		MaxAge:         600,
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := CORS(cfg)(next)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/session/recovery", nil)
	req.Header.Set("Origin", "https://staging.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	testutil.AssertEquals(t, rec.Code, http.StatusNoContent)
	testutil.AssertEquals(t, rec.Header().Get("Access-Control-Allow-Origin"), "https://staging.example.com")
	testutil.AssertEquals(t, rec.Header().Get("Access-Control-Max-Age"), "600")

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	testutil.AssertEquals(t, rec.Code, http.StatusOK)
	testutil.AssertEquals(t, rec.Header().Get("Access-Control-Allow-Origin"), "")
}

func TestCORSWildcardWithCredentialsEchoesOrigin(t *testing.T) {
	h := CORS(CORSConfig{AllowedOrigins: "*", AllowCredentials: true})(http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	testutil.AssertEquals(t, rec.Header().Get("Access-Control-Allow-Origin"), "https://app.example.com")
	testutil.AssertEquals(t, rec.Header().Get("Access-Control-Allow-Credentials"), "true")
}
