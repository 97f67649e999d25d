package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/erdilatifi/chunkd/internal/common"
	"github.com/erdilatifi/chunkd/internal/idempotency"
	"github.com/erdilatifi/chunkd/internal/jobs"
	"github.com/erdilatifi/chunkd/internal/models"
	"github.com/erdilatifi/chunkd/internal/progress"
	"github.com/erdilatifi/chunkd/internal/ratelimit"
)

func newTestHandler(t *testing.T, rpm int) (*JobHandler, *jobs.Orchestrator) {
	t.Helper()

	config := common.NewDefaultConfig()
	config.RateLimit.RequestsPerMinute = rpm
	config.Demo.RequestsPerMinute = rpm

	executor := jobs.NewExecutor(nil, jobs.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}, time.Minute, nil)
	orchestrator := jobs.NewOrchestrator(jobs.Config{
		MaxN:      config.Jobs.MaxN,
		MaxChunks: config.Jobs.MaxChunks,
		Workers:   4,
		Retention: time.Hour,
	}, progress.NewStore(), nil, nil, executor, nil)

	guard := idempotency.NewGuard(time.Hour)
	limiter := ratelimit.NewLimiter(rpm, time.Minute)
	demoLimiter := ratelimit.NewLimiter(rpm, time.Minute)

	handler := NewJobHandler(orchestrator, guard, limiter, demoLimiter, nil, nil, config, common.GetLogger())
	return handler, orchestrator
}

func submitRequest(t *testing.T, handler *JobHandler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.SubmitHandler(w, req)
	return w
}

func waitForStatus(t *testing.T, o *jobs.Orchestrator, jobID string, status models.JobStatus) *models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := o.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if job.Status == status {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Job %s never reached %s", jobID, status)
	return nil
}

func TestSubmitAcceptsJob(t *testing.T) {
	handler, orchestrator := newTestHandler(t, 100)

	w := submitRequest(t, handler, `{"n": 10, "chunks": 3}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp models.JobCreated
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.JobID == "" {
		t.Fatal("Expected a job ID")
	}
	if resp.Status != models.JobStatusPending {
		t.Errorf("Expected pending, got %s", resp.Status)
	}

	final := waitForStatus(t, orchestrator, resp.JobID, models.JobStatusCompleted)
	if final.Result == nil || *final.Result != 55 {
		t.Errorf("Expected result 55, got %v", final.Result)
	}
}

func TestSubmitRejectsInvalidPayloads(t *testing.T) {
	handler, _ := newTestHandler(t, 100)

	cases := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{n: 10}`, http.StatusBadRequest},
		{"missing fields", `{}`, http.StatusUnprocessableEntity},
		{"zero n", `{"n": 0, "chunks": 3}`, http.StatusUnprocessableEntity},
		{"negative n", `{"n": -1, "chunks": 3}`, http.StatusUnprocessableEntity},
		{"zero chunks", `{"n": 10, "chunks": 0}`, http.StatusUnprocessableEntity},
		{"n above cap", `{"n": 99000000, "chunks": 3}`, http.StatusUnprocessableEntity},
		{"chunks above cap", `{"n": 10, "chunks": 101}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := submitRequest(t, handler, tc.body, nil)
			if w.Code != tc.code {
				t.Errorf("Expected %d, got %d: %s", tc.code, w.Code, w.Body.String())
			}
		})
	}
}

func TestSubmitMethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t, 100)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	w := httptest.NewRecorder()
	handler.SubmitHandler(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestSubmitRateLimited(t *testing.T) {
	handler, _ := newTestHandler(t, 2)

	for i := 0; i < 2; i++ {
		w := submitRequest(t, handler, `{"n": 10, "chunks": 2}`, nil)
		if w.Code != http.StatusAccepted {
			t.Fatalf("Request %d expected 202, got %d", i+1, w.Code)
		}
	}

	w := submitRequest(t, handler, `{"n": 10, "chunks": 2}`, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header on 429")
	}
}

func TestSubmitIdempotencyReplay(t *testing.T) {
	handler, _ := newTestHandler(t, 100)
	headers := map[string]string{IdempotencyKeyHeader: "client-key-1"}

	first := submitRequest(t, handler, `{"n": 10, "chunks": 3}`, headers)
	if first.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", first.Code)
	}
	var firstResp models.JobCreated
	json.Unmarshal(first.Body.Bytes(), &firstResp)

	second := submitRequest(t, handler, `{"n": 10, "chunks": 3}`, headers)
	if second.Code != http.StatusOK {
		t.Fatalf("Expected 200 replay, got %d", second.Code)
	}
	var secondResp models.JobCreated
	json.Unmarshal(second.Body.Bytes(), &secondResp)

	if secondResp.JobID != firstResp.JobID {
		t.Errorf("Replay returned different job: %s vs %s", secondResp.JobID, firstResp.JobID)
	}

	// A different key spawns a fresh job
	third := submitRequest(t, handler, `{"n": 10, "chunks": 3}`,
		map[string]string{IdempotencyKeyHeader: "client-key-2"})
	if third.Code != http.StatusAccepted {
		t.Fatalf("Expected 202 for new key, got %d", third.Code)
	}
	var thirdResp models.JobCreated
	json.Unmarshal(third.Body.Bytes(), &thirdResp)
	if thirdResp.JobID == firstResp.JobID {
		t.Error("Different key must not replay the prior response")
	}
}

func TestSubmitIdempotencyReleasedOnFailure(t *testing.T) {
	handler, _ := newTestHandler(t, 100)
	headers := map[string]string{IdempotencyKeyHeader: "retry-key"}

	// Chunks above the orchestrator cap but within validator bounds would
	// be rejected at validation; use a payload rejected by the caps check
	w := submitRequest(t, handler, `{"n": 99000000, "chunks": 3}`, headers)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d", w.Code)
	}

	// The key must be usable again after the failed submission
	w = submitRequest(t, handler, `{"n": 10, "chunks": 3}`, headers)
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected 202 after released key, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStatusHandler(t *testing.T) {
	handler, orchestrator := newTestHandler(t, 100)

	job, err := orchestrator.Submit(context.Background(), 10, 2)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitForStatus(t, orchestrator, job.ID, models.JobStatusCompleted)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID, nil)
	w := httptest.NewRecorder()
	handler.StatusHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var got models.Job
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.Status != models.JobStatusCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}
	if got.Result == nil || *got.Result != 55 {
		t.Errorf("Expected result 55, got %v", got.Result)
	}
}

func TestStatusHandlerNotFound(t *testing.T) {
	handler, _ := newTestHandler(t, 100)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job_missing", nil)
	w := httptest.NewRecorder()
	handler.StatusHandler(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestCancelHandler(t *testing.T) {
	handler, orchestrator := newTestHandler(t, 100)

	job, err := orchestrator.Submit(context.Background(), 10, 2)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitForStatus(t, orchestrator, job.ID, models.JobStatusCompleted)

	// Cancelling a finished job conflicts
	req := httptest.NewRequest(http.MethodDelete, "/api/jobs/"+job.ID, nil)
	w := httptest.NewRecorder()
	handler.CancelHandler(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for terminal job, got %d", w.Code)
	}

	// Unknown job is 404
	req = httptest.NewRequest(http.MethodDelete, "/api/jobs/job_missing", nil)
	w = httptest.NewRecorder()
	handler.CancelHandler(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestListHandlerWithoutStorage(t *testing.T) {
	handler, _ := newTestHandler(t, 100)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	w := httptest.NewRecorder()
	handler.ListHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Jobs  []*models.Job `json:"jobs"`
		Count int           `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Count != 0 {
		t.Errorf("Expected empty history without durable storage, got %d", resp.Count)
	}
}

func TestListHandlerRejectsUnknownStatus(t *testing.T) {
	handler, _ := newTestHandler(t, 100)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs?status=bogus", nil)
	w := httptest.NewRecorder()
	handler.ListHandler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestDemoCapsAreTighter(t *testing.T) {
	handler, _ := newTestHandler(t, 100)

	body := fmt.Sprintf(`{"n": %d, "chunks": 3}`, 20_000)
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/demo", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.SubmitDemoHandler(w, req)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 above demo cap, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/jobs/demo", strings.NewReader(`{"n": 100, "chunks": 4}`))
	w = httptest.NewRecorder()
	handler.SubmitDemoHandler(w, req)
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected 202 within demo caps, got %d: %s", w.Code, w.Body.String())
	}
}

func TestExtractJobID(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/api/jobs/job_abc", "job_abc"},
		{"/api/jobs/job_abc/stream", "job_abc"},
		{"/api/jobs/", ""},
		{"/api/jobs", ""},
	}
	for _, tc := range cases {
		if got := extractJobID(tc.path); got != tc.want {
			t.Errorf("extractJobID(%q) = %q, expected %q", tc.path, got, tc.want)
		}
	}
}
