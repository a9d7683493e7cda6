package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dandantas/tabwatch/internal/model"
	"github.com/dandantas/tabwatch/internal/poller"
	"github.com/dandantas/tabwatch/internal/recovery"
	"github.com/dandantas/tabwatch/internal/session"
	"github.com/dandantas/tabwatch/internal/testutil"
	"github.com/dandantas/tabwatch/internal/watcher"
	"github.com/dandantas/tabwatch/pkg/middleware"
)

type stubFetcher struct{}

func (stubFetcher) FetchStatus(_ context.Context, jobID, credential string) (*model.StatusSnapshot, error) {
	if credential != "secret" {
		return nil, errors.New("bad credential")
	}
	return &model.StatusSnapshot{Status: model.StatusProcessing, Stage: model.StageGenerating, Progress: 55}, nil
}

type testServer struct {
	srv      *httptest.Server
	store    *session.Store
	watchers *watcher.Manager
}

func newTestServer(t *testing.T, checks map[string]HealthCheck) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.NewStore(session.NewMemoryBackend(), session.WithLogger(logger))
	watchers := watcher.NewManager(store, nil, stubFetcher{},
		watcher.WithLogger(logger),
		watcher.WithPollerOptions(poller.WithInterval(10*time.Millisecond)),
	)
	t.Cleanup(watchers.Close)
	rc := recovery.NewController(store, logger)

	router := NewRouter(
		NewSessionHandler(store, rc, watchers, logger),
		NewJobHandler(store, watchers),
		NewHealthHandler("test", checks),
		middleware.CORSConfig{AllowedOrigins: "*"},
		logger,
	)
	srv := httptest.NewServer(router.Handler())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: store, watchers: watchers}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		testutil.AssertNotError(t, err, "encode body")
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	testutil.AssertNotError(t, err, "build request")
	resp, err := http.DefaultClient.Do(req)
	testutil.AssertNotError(t, err, "send request")
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		json.Unmarshal(raw, &out)
	}
	return resp, out
}

func TestRegisterJobThenRecover(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := s.do(t, http.MethodPost, "/api/v1/session/jobs", map[string]string{
		"jobId":      "job-1",
		"credential": "secret",
	})
	testutil.AssertEquals(t, resp.StatusCode, http.StatusCreated)
	testutil.AssertEquals(t, body["jobId"], "job-1")
	testutil.AssertEquals(t, body["status"], "pending")
	_, leaked := body["credential"]
	testutil.Assert(t, !leaked, "credential must not be returned")

	resp, body = s.do(t, http.MethodGet, "/api/v1/session/recovery", nil)
	testutil.AssertEquals(t, resp.StatusCode, http.StatusOK)
	testutil.AssertEquals(t, body["action"], "prompt")
	testutil.AssertEquals(t, body["jobId"], "job-1")
}

func TestRegisterJobValidation(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := s.do(t, http.MethodPost, "/api/v1/session/jobs", map[string]string{"jobId": "job-1"})
	testutil.AssertEquals(t, resp.StatusCode, http.StatusBadRequest)
	testutil.AssertEquals(t, body["field"], "Credential")

	resp, _ = s.do(t, http.MethodPost, "/api/v1/session/jobs", map[string]string{"jobId": "job-1", "credential": "x", "extra": "y"})
	testutil.AssertEquals(t, resp.StatusCode, http.StatusBadRequest)
}

func TestJobStatusReflectsPolling(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/v1/session/jobs", map[string]string{"jobId": "job-1", "credential": "secret"})

	testutil.Eventually(t, time.Second, func() bool {
		_, body := s.do(t, http.MethodGet, "/api/v1/jobs/job-1/status", nil)
		return body["status"] == "processing" && body["progress"] == float64(55)
	}, "status should reflect the poll result")

	_, body := s.do(t, http.MethodGet, "/api/v1/jobs/job-1/status", nil)
	testutil.AssertEquals(t, body["leader"], true)
	testutil.AssertEquals(t, body["phase"], "polling")

	rec := s.store.GetJobData(context.Background(), "job-1")
	testutil.AssertEquals(t, rec.Status, model.StatusProcessing)

	resp, _ := s.do(t, http.MethodPost, "/api/v1/jobs/job-1/refetch", nil)
	testutil.AssertEquals(t, resp.StatusCode, http.StatusAccepted)
}

func TestFinishedJobServedFromSession(t *testing.T) {
	s := newTestServer(t, nil)
	s.store.SaveJob(context.Background(), model.JobRecord{
		JobID:      "job-9",
		Credential: "secret",
		Status:     model.StatusCompleted,
		ResultID:   "r9",
	})

	resp, body := s.do(t, http.MethodGet, "/api/v1/jobs/job-9/status", nil)
	testutil.AssertEquals(t, resp.StatusCode, http.StatusOK)
	testutil.AssertEquals(t, body["status"], "completed")
	testutil.AssertEquals(t, body["resultId"], "r9")
	testutil.AssertEquals(t, body["isComplete"], true)
	testutil.AssertEquals(t, body["leader"], false)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/jobs/job-9/refetch", nil)
	testutil.AssertEquals(t, resp.StatusCode, http.StatusAccepted)
	testutil.AssertEquals(t, s.watchers.Len(), 0)
}

func TestJobStatusUnknownJob(t *testing.T) {
	s := newTestServer(t, nil)

	resp, _ := s.do(t, http.MethodGet, "/api/v1/jobs/nope/status", nil)
	testutil.AssertEquals(t, resp.StatusCode, http.StatusNotFound)
	resp, _ = s.do(t, http.MethodPost, "/api/v1/jobs/nope/refetch", nil)
	testutil.AssertEquals(t, resp.StatusCode, http.StatusNotFound)
}

func TestSelectTierAndStartFresh(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/v1/session/jobs", map[string]string{"jobId": "job-1", "credential": "secret"})

	resp, body := s.do(t, http.MethodPut, "/api/v1/session/jobs/job-1/tier", map[string]string{"tier": "premium"})
	testutil.AssertEquals(t, resp.StatusCode, http.StatusOK)
	testutil.AssertEquals(t, body["selectedTier"], "premium")

	resp, _ = s.do(t, http.MethodPut, "/api/v1/session/jobs/other/tier", map[string]string{"tier": "premium"})
	testutil.AssertEquals(t, resp.StatusCode, http.StatusNotFound)

	resp, _ = s.do(t, http.MethodDelete, "/api/v1/session/jobs/job-1", nil)
	testutil.AssertEquals(t, resp.StatusCode, http.StatusNoContent)

	_, body = s.do(t, http.MethodGet, "/api/v1/session/recovery", nil)
	testutil.AssertEquals(t, body["action"], "none")
	resp, _ = s.do(t, http.MethodGet, "/api/v1/jobs/job-1/status", nil)
	testutil.AssertEquals(t, resp.StatusCode, http.StatusNotFound)
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return nil },
		"mongo": func(context.Context) error { return errors.New("down") },
	})

	resp, body := s.do(t, http.MethodGet, "/health", nil)
	testutil.AssertEquals(t, resp.StatusCode, http.StatusOK)
	testutil.AssertEquals(t, body["status"], "healthy")
	testutil.Assert(t, resp.Header.Get(middleware.CorrelationHeader) != "", "correlation id set")

	resp, body = s.do(t, http.MethodGet, "/ready", nil)
	testutil.AssertEquals(t, resp.StatusCode, http.StatusServiceUnavailable)
	deps := body["dependencies"].(map[string]interface{})
	testutil.AssertEquals(t, deps["redis"], "connected")
	testutil.AssertEquals(t, deps["mongo"], "disconnected")
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := s.do(t, http.MethodGet, "/api/v1/nothing", nil)
	testutil.AssertEquals(t, resp.StatusCode, http.StatusNotFound)
	testutil.Assert(t, strings.Contains(body["message"].(string), "not found"), "json error body")
}
