package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/rawer886/fake-ios-screenshot/internal/domain"
	"github.com/rawer886/fake-ios-screenshot/internal/queue"
	"github.com/rawer886/fake-ios-screenshot/internal/ratelimit"
	"github.com/rawer886/fake-ios-screenshot/internal/store"
)

type fakeEnqueuer struct {
	payload queue.ConvertPayload
	called  bool
}

func (f *fakeEnqueuer) EnqueueConvert(_ context.Context, payload queue.ConvertPayload) (*asynq.TaskInfo, error) {
	f.called = true
	f.payload = payload
	return &asynq.TaskInfo{
		ID:            "task-1",
		Queue:         "default",
		State:         asynq.TaskStatePending,
		NextProcessAt: time.Now().UTC(),
	}, nil
}

type fakeStorage struct {
	presignedURL string
	exists       bool
	statKey      string
}

func (f *fakeStorage) PresignedPutURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	f.statKey = objectKey
	return f.presignedURL, nil
}

func (f *fakeStorage) ObjectExists(_ context.Context, objectKey string) (bool, error) {
	f.statKey = objectKey
	return f.exists, nil
}

func newTestServer(t *testing.T, enqueuer *fakeEnqueuer, storage *fakeStorage) (*Server, *store.MemoryJobStore) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	jobStore := store.NewMemoryJobStore()
	return NewServer(logger, enqueuer, jobStore, storage, time.Minute, nil, "", nil), jobStore
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestCreateAndStartPresignedConversion(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	objectStore := &fakeStorage{presignedURL: "https://minio.local/upload", exists: true}
	srv, jobStore := newTestServer(t, enqueuer, objectStore)
	handler := srv.Handler()

	rec := postJSON(t, handler, "/v1/conversions", domain.CreateJobRequest{
		SourceType: domain.SourceTypeS3Presigned,
		OutputKey:  "outputs/custom/shot.png",
		WebhookURL: "https://example.com/hook",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", rec.Code, rec.Body.String())
	}

	created := decodeBody(t, rec)
	jobID, _ := created["job_id"].(string)
	if jobID == "" {
		t.Fatal("expected a job_id in the create response")
	}
	upload, _ := created["upload"].(map[string]any)
	if upload["presigned_put_url"] != "https://minio.local/upload" {
		t.Fatalf("expected presigned url in response, got %v", upload)
	}
	if upload["presigned_url_state"] != "ready" {
		t.Fatalf("expected upload state ready, got %v", upload["presigned_url_state"])
	}

	rec = postJSON(t, handler, "/v1/conversions/"+jobID+"/start", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on start, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !enqueuer.called {
		t.Fatal("expected the job to be enqueued")
	}
	if enqueuer.payload.JobID != jobID {
		t.Fatalf("expected enqueued job id %s, got %s", jobID, enqueuer.payload.JobID)
	}
	if enqueuer.payload.OutputKey != "outputs/custom/shot.png" {
		t.Fatalf("expected output key to reach the payload, got %q", enqueuer.payload.OutputKey)
	}

	job, ok, err := jobStore.Get(context.Background(), jobID)
	if err != nil || !ok {
		t.Fatalf("expected stored job, ok=%v err=%v", ok, err)
	}
	if job.Status != domain.JobStatusQueued {
		t.Fatalf("expected status queued, got %s", job.Status)
	}
}

func TestCreateConversionRejectsInvalidRequest(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEnqueuer{}, &fakeStorage{})
	handler := srv.Handler()

	rec := postJSON(t, handler, "/v1/conversions", map[string]string{"source_type": "ftp"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = postJSON(t, handler, "/v1/conversions", map[string]string{"bogus": "field"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestStartConversionMissingSourceConflicts(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	objectStore := &fakeStorage{presignedURL: "https://minio.local/upload", exists: false}
	srv, _ := newTestServer(t, enqueuer, objectStore)
	handler := srv.Handler()

	rec := postJSON(t, handler, "/v1/conversions", domain.CreateJobRequest{
		SourceType: domain.SourceTypeS3Presigned,
	})
	created := decodeBody(t, rec)
	jobID, _ := created["job_id"].(string)

	rec = postJSON(t, handler, "/v1/conversions/"+jobID+"/start", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 when the upload never happened, got %d", rec.Code)
	}
	if enqueuer.called {
		t.Fatal("expected no enqueue for a missing source")
	}
}

func TestStartConversionLocalFileChecksDisk(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	srv, jobStore := newTestServer(t, enqueuer, &fakeStorage{})
	handler := srv.Handler()

	sourcePath := filepath.Join(t.TempDir(), "screen.png")
	if err := os.WriteFile(sourcePath, []byte("not-a-real-png"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	rec := postJSON(t, handler, "/v1/conversions", domain.CreateJobRequest{
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  sourcePath,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", rec.Code, rec.Body.String())
	}
	created := decodeBody(t, rec)
	jobID, _ := created["job_id"].(string)

	rec = postJSON(t, handler, "/v1/conversions/"+jobID+"/start", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for an existing local file, got %d", rec.Code)
	}

	job, _, _ := jobStore.Get(context.Background(), jobID)
	if job.ObjectKey != sourcePath {
		t.Fatalf("expected object key %s, got %s", sourcePath, job.ObjectKey)
	}
}

func TestStartUnknownConversionNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEnqueuer{}, &fakeStorage{})
	rec := postJSON(t, srv.Handler(), "/v1/conversions/no-such-job/start", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetConversionReturnsJob(t *testing.T) {
	objectStore := &fakeStorage{presignedURL: "https://minio.local/upload", exists: true}
	srv, _ := newTestServer(t, &fakeEnqueuer{}, objectStore)
	handler := srv.Handler()

	rec := postJSON(t, handler, "/v1/conversions", domain.CreateJobRequest{
		SourceType: domain.SourceTypeS3Presigned,
		OutputKey:  "outputs/custom/shot.png",
	})
	created := decodeBody(t, rec)
	jobID, _ := created["job_id"].(string)

	req := httptest.NewRequest(http.MethodGet, "/v1/conversions/"+jobID, nil)
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, req)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", getRec.Code, getRec.Body.String())
	}
	body := decodeBody(t, getRec)
	if body["status"] != domain.JobStatusCreated {
		t.Fatalf("expected status created, got %v", body["status"])
	}
	if body["output_key"] != "outputs/custom/shot.png" {
		t.Fatalf("expected output_key to round-trip, got %v", body["output_key"])
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/conversions/no-such-job", nil)
	getRec = httptest.NewRecorder()
	handler.ServeHTTP(getRec, req)
	if getRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown job, got %d", getRec.Code)
	}
}

func TestStartConversionTwiceConflicts(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	objectStore := &fakeStorage{presignedURL: "https://minio.local/upload", exists: true}
	srv, _ := newTestServer(t, enqueuer, objectStore)
	handler := srv.Handler()

	rec := postJSON(t, handler, "/v1/conversions", domain.CreateJobRequest{
		SourceType: domain.SourceTypeS3Presigned,
	})
	created := decodeBody(t, rec)
	jobID, _ := created["job_id"].(string)

	rec = postJSON(t, handler, "/v1/conversions/"+jobID+"/start", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on first start, got %d", rec.Code)
	}
	rec = postJSON(t, handler, "/v1/conversions/"+jobID+"/start", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second start, got %d body=%s", rec.Code, rec.Body.String())
	}
}

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(_ context.Context, _ string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, Remaining: 0, RetryAfter: 3 * time.Second}, nil
}

func TestRateLimitRejectionSetsRetryAfter(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	srv := NewServer(logger, &fakeEnqueuer{}, store.NewMemoryJobStore(), &fakeStorage{}, time.Minute, denyAllLimiter{}, "", nil)

	rec := postJSON(t, srv.Handler(), "/v1/conversions", domain.CreateJobRequest{
		SourceType: domain.SourceTypeS3Presigned,
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "3" {
		t.Fatalf("expected Retry-After 3, got %q", rec.Header().Get("Retry-After"))
	}
}

type countingLimiter struct{}

func (countingLimiter) Allow(_ context.Context, _ string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: true, Limit: 10, Remaining: 7}, nil
}

func TestRateLimitAllowedSetsQuotaHeaders(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	srv := NewServer(logger, &fakeEnqueuer{}, store.NewMemoryJobStore(), &fakeStorage{presignedURL: "https://minio.local/upload"}, time.Minute, countingLimiter{}, "", nil)

	rec := postJSON(t, srv.Handler(), "/v1/conversions", domain.CreateJobRequest{
		SourceType: domain.SourceTypeS3Presigned,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-RateLimit-Limit") != "10" {
		t.Fatalf("expected X-RateLimit-Limit 10, got %q", rec.Header().Get("X-RateLimit-Limit"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "7" {
		t.Fatalf("expected X-RateLimit-Remaining 7, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestExtractJobIDFromStartPath(t *testing.T) {
	jobID, err := extractJobIDFromStartPath("/v1/conversions/abc123/start")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if jobID != "abc123" {
		t.Fatalf("expected abc123, got %s", jobID)
	}

	if _, err := extractJobIDFromStartPath("/v1/conversions/abc123"); err == nil {
		t.Fatal("expected error for invalid path")
	}
}
