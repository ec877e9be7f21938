package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/loadout/internal/logging"
	"github.com/anstrom/loadout/internal/metrics"
	"github.com/anstrom/loadout/internal/scheduler"
	"github.com/anstrom/loadout/internal/store"
)

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

type fakeSchedules struct {
	mu        sync.Mutex
	jobs      []scheduler.ScheduledJob
	triggered chan string
}

func (f *fakeSchedules) GetJobs() []scheduler.ScheduledJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs
}

func (f *fakeSchedules) Trigger(massType string) error {
	f.triggered <- massType
	return nil
}

func quietLogger() *logging.Logger {
	return logging.NewWithWriter(logging.DefaultConfig(), &bytes.Buffer{})
}

func seededStore(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()

	massID, err := st.CreateMassRun(ctx, "day")
	require.NoError(t, err)
	scanID, err := st.CreateScan(ctx, &store.Scan{Target: "example.com", Profile: "web", MassID: &massID})
	require.NoError(t, err)
	require.NoError(t, st.CompleteScan(ctx, scanID, 65))
	recID, err := st.CreateExecutionRecord(ctx, &store.ExecutionRecord{
		ScanID: scanID, Command: "curl -sI example.com", Token: "t1", Output: "Server: nginx",
	})
	require.NoError(t, err)
	_, err = st.CreateFinding(ctx, scanID, recID, 7, "Server: nginx")
	require.NoError(t, err)
	return st
}

func newTestServer(t *testing.T, deps Deps) http.Handler {
	t.Helper()
	return New(DefaultConfig(), deps, quietLogger()).Handler()
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, http.NoBody)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		deps     Deps
		status   int
		database string
	}{
		{"no database", Deps{}, http.StatusOK, "not configured"},
		{"database up", Deps{Database: fakePinger{}}, http.StatusOK, "ok"},
		{"database down", Deps{Database: fakePinger{err: fmt.Errorf("refused")}},
			http.StatusServiceUnavailable, "failed: refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestServer(t, tt.deps), http.MethodGet, "/api/v1/health")
			assert.Equal(t, tt.status, rec.Code)

			var body HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.database, body.Checks["database"])
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}

func TestLiveness(t *testing.T) {
	rec := do(t, newTestServer(t, Deps{}), http.MethodGet, "/api/v1/liveness")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"alive"`)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.NewPrometheusMetrics()
	h := newTestServer(t, Deps{Metrics: m})

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/liveness").Code)

	rec := do(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(),
		`loadout_http_requests_total{path="/api/v1/liveness",status="200"} 1`)
}

func TestGetScan(t *testing.T) {
	h := newTestServer(t, Deps{Store: seededStore(t)})

	rec := do(t, h, http.MethodGet, "/api/v1/scans/1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "example.com", body["target"])
	assert.Equal(t, "00:01:05", body["duration"])
	findings := body["findings"].([]interface{})
	require.Len(t, findings, 1)
	assert.Equal(t, "curl -sI example.com", findings[0].(map[string]interface{})["tool"])

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/scans/99").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/scans/abc").Code)
}

func TestListScans(t *testing.T) {
	h := newTestServer(t, Deps{Store: seededStore(t)})

	rec := do(t, h, http.MethodGet, "/api/v1/scans?target=example")
	require.Equal(t, http.StatusOK, rec.Code)
	var scans []store.Scan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scans))
	require.Len(t, scans, 1)
	assert.Equal(t, "web", scans[0].Profile)

	rec = do(t, h, http.MethodGet, "/api/v1/scans?target=nothing")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/scans").Code)
}

func TestMassFindings(t *testing.T) {
	h := newTestServer(t, Deps{Store: seededStore(t)})

	rec := do(t, h, http.MethodGet, "/api/v1/mass/1/findings")
	require.Equal(t, http.StatusOK, rec.Code)
	var body MassFindingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Targets, 1)
	assert.Equal(t, "example.com", body.Targets[0].Target)
	assert.Len(t, body.Targets[0].Findings, 1)
}

func TestStoreNotConfigured(t *testing.T) {
	h := newTestServer(t, Deps{})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/v1/scans/1").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/v1/schedules").Code)
}

func TestSchedules(t *testing.T) {
	next := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	sched := &fakeSchedules{
		jobs: []scheduler.ScheduledJob{
			{MassType: "day", Schedule: "@daily", NextRun: next, LastError: fmt.Errorf("boom")},
		},
		triggered: make(chan string, 1),
	}
	h := newTestServer(t, Deps{Schedules: sched})

	rec := do(t, h, http.MethodGet, "/api/v1/schedules")
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []ScheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "@daily", jobs[0].Schedule)
	assert.Equal(t, "boom", jobs[0].LastError)
	require.NotNil(t, jobs[0].NextRun)
	assert.True(t, next.Equal(*jobs[0].NextRun))
	assert.Nil(t, jobs[0].LastRun)

	rec = do(t, h, http.MethodPost, "/api/v1/schedules/day/trigger")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case got := <-sched.triggered:
		assert.Equal(t, "day", got)
	case <-time.After(2 * time.Second):
		t.Fatal("mass run was not triggered")
	}

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/v1/schedules/week/trigger").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/v1/schedules/day/trigger").Code)
}

func TestCORS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CORSOrigins = []string{"https://dash.example.com"}
	h := New(cfg, Deps{}, quietLogger()).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/liveness", http.NoBody)
	req.Header.Set("Origin", "https://dash.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://dash.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeAndStop(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(DefaultConfig(), Deps{}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	url := "http://" + listener.Addr().String() + "/api/v1/liveness"
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get(url) //nolint:noctx
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "alive"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
