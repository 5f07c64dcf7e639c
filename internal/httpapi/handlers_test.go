package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fleet-dispatch/internal/batch"
	"fleet-dispatch/internal/dispatch"
	"fleet-dispatch/internal/reporting"
	"fleet-dispatch/internal/telephony"

	"github.com/gin-gonic/gin"
)

type stubProvider struct {
	placeErr error
}

func (p *stubProvider) Name() string                             { return "stub" }
func (p *stubProvider) HealthCheck(ctx context.Context) error    { return nil }
func (p *stubProvider) CancelCall(ctx context.Context, h string) error { return nil }

func (p *stubProvider) PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (telephony.PlaceCallResult, error) {
	if p.placeErr != nil {
		return telephony.PlaceCallResult{}, p.placeErr
	}
	return telephony.PlaceCallResult{Handle: "vx-" + req.JobID}, nil
}

func (p *stubProvider) FetchCallDetails(ctx context.Context, h string) (telephony.CallDetails, error) {
	return telephony.CallDetails{}, nil
}

func newRouter(t *testing.T) (*gin.Engine, *batch.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := batch.NewMemoryStore()

	h := Handlers{
		Store: store,
		Dispatcher: &dispatch.Dispatcher{
			Store:    store,
			Provider: &stubProvider{},
			Delay:    time.Millisecond,
		},
		Ingestor: &dispatch.Ingestor{Store: store},
		Reports:  reporting.NewService(store),
	}

	r := gin.New()
	r.POST("/webhooks/voxio/call", h.ProviderWebhook)
	v1 := r.Group("/v1")
	{
		v1.POST("/batches", h.CreateBatch)
		v1.GET("/batches/:batch_id", h.GetBatch)
		v1.GET("/batches/:batch_id/summary", h.BatchSummary)
		v1.GET("/jobs/history", h.JobHistory)
		v1.POST("/dispatch", h.TriggerDispatch)
		v1.POST("/jobs/stop", h.StopJob)
		v1.POST("/jobs/transcript", h.FetchTranscript)
	}
	return r, store
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := map[string]json.RawMessage{}
	if len(w.Body.Bytes()) > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func createBatch(t *testing.T, r *gin.Engine, n int) (batch.Batch, []batch.CallJob) {
	t.Helper()
	jobs := make([]map[string]string, 0, n)
	for i := 0; i < n; i++ {
		jobs = append(jobs, map[string]string{
			"driver_name":  fmt.Sprintf("Driver %d", i+1),
			"phone_number": fmt.Sprintf("415-555-%04d", i),
			"target_ref":   fmt.Sprintf("KA01AB%04d", i),
		})
	}
	w, out := doJSON(t, r, http.MethodPost, "/v1/batches", map[string]any{"name": "run", "jobs": jobs})
	if w.Code != http.StatusCreated {
		t.Fatalf("create batch: %d %s", w.Code, w.Body.String())
	}
	var b batch.Batch
	if err := json.Unmarshal(out["batch"], &b); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	var js []batch.CallJob
	if err := json.Unmarshal(out["jobs"], &js); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	return b, js
}

func TestCreateBatch_NormalizesPhones(t *testing.T) {
	r, store := newRouter(t)
	b, jobs := createBatch(t, r, 2)

	if b.Status != batch.BatchStatusApproved || b.TotalJobs != 2 {
		t.Fatalf("batch = %+v", b)
	}
	for _, j := range jobs {
		if j.PhoneNumber[:2] != "+1" {
			t.Fatalf("phone not normalized: %q", j.PhoneNumber)
		}
	}

	stored, err := store.GetBatch(context.Background(), b.ID)
	if err != nil || stored.ID != b.ID {
		t.Fatalf("batch not persisted: %v", err)
	}
}

func TestCreateBatch_RejectsInvalidInput(t *testing.T) {
	r, _ := newRouter(t)

	w, _ := doJSON(t, r, http.MethodPost, "/v1/batches", map[string]any{"name": "run", "jobs": []any{}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty jobs: got %d", w.Code)
	}

	w, _ = doJSON(t, r, http.MethodPost, "/v1/batches", map[string]any{
		"name": "run",
		"jobs": []map[string]string{{"driver_name": "A"}},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing phone: got %d", w.Code)
	}
}

func TestTriggerDispatch_ReturnsPlacementSummary(t *testing.T) {
	r, store := newRouter(t)
	b, jobs := createBatch(t, r, 2)

	w, out := doJSON(t, r, http.MethodPost, "/v1/dispatch", map[string]string{"batch_id": b.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("dispatch: %d %s", w.Code, w.Body.String())
	}
	var initiated int
	if err := json.Unmarshal(out["initiated"], &initiated); err != nil || initiated != 2 {
		t.Fatalf("initiated = %s", out["initiated"])
	}

	j, err := store.GetJob(context.Background(), jobs[0].ID)
	if err != nil || j.Status != batch.JobStatusActive {
		t.Fatalf("job = %+v, %v", j, err)
	}
}

func TestTriggerDispatch_ErrorMapping(t *testing.T) {
	r, _ := newRouter(t)

	w, _ := doJSON(t, r, http.MethodPost, "/v1/dispatch", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing batch_id: got %d", w.Code)
	}

	w, _ = doJSON(t, r, http.MethodPost, "/v1/dispatch", map[string]string{"batch_id": "missing"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown batch: got %d", w.Code)
	}
}

func TestProviderWebhook_CompletesJobAndAcksDuplicates(t *testing.T) {
	r, store := newRouter(t)
	b, jobs := createBatch(t, r, 1)
	doJSON(t, r, http.MethodPost, "/v1/dispatch", map[string]string{"batch_id": b.ID})

	payload := map[string]any{
		"eventType": "call.completed",
		"data": map[string]any{
			"callId":   "vx-" + jobs[0].ID,
			"duration": 42,
			"transcript": []map[string]string{
				{"driver": "hello"},
				{"agent": "hi there"},
			},
		},
	}

	w, _ := doJSON(t, r, http.MethodPost, "/webhooks/voxio/call", payload)
	if w.Code != http.StatusOK {
		t.Fatalf("webhook: %d %s", w.Code, w.Body.String())
	}

	j, _ := store.GetJob(context.Background(), jobs[0].ID)
	if j.Status != batch.JobStatusCompleted || j.DurationSeconds != 42 {
		t.Fatalf("job = %+v", j)
	}
	if j.RefinedTranscript != "Driver: hello\nAgent: hi there" {
		t.Fatalf("transcript = %q", j.RefinedTranscript)
	}

	// Duplicate delivery: still 200, counters unchanged.
	w, _ = doJSON(t, r, http.MethodPost, "/webhooks/voxio/call", payload)
	if w.Code != http.StatusOK {
		t.Fatalf("duplicate webhook: %d", w.Code)
	}
	got, _ := store.GetBatch(context.Background(), b.ID)
	if got.SuccessfulJobs != 1 {
		t.Fatalf("successful = %d, want 1", got.SuccessfulJobs)
	}
}

func TestProviderWebhook_UnknownJobIsAcked(t *testing.T) {
	r, _ := newRouter(t)

	w, out := doJSON(t, r, http.MethodPost, "/webhooks/voxio/call", map[string]any{
		"eventType": "call.completed",
		"data":      map[string]any{"callId": "vx-nobody"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("unknown job must be acked: %d", w.Code)
	}
	var outcome string
	if err := json.Unmarshal(out["outcome"], &outcome); err != nil || outcome != "dropped" {
		t.Fatalf("outcome = %s", out["outcome"])
	}
}

func TestStopJob_NotFound(t *testing.T) {
	r, _ := newRouter(t)
	w, _ := doJSON(t, r, http.MethodPost, "/v1/jobs/stop", map[string]string{"job_id": "missing"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("got %d", w.Code)
	}
}

func TestFetchTranscript_ErrorMapping(t *testing.T) {
	r, _ := newRouter(t)
	_, jobs := createBatch(t, r, 1)

	w, _ := doJSON(t, r, http.MethodPost, "/v1/jobs/transcript", map[string]string{"job_id": "missing"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown job: got %d", w.Code)
	}

	// Queued job never got a provider handle.
	w, _ = doJSON(t, r, http.MethodPost, "/v1/jobs/transcript", map[string]string{"job_id": jobs[0].ID})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("no handle: got %d", w.Code)
	}
}

func TestBatchSummary_Endpoint(t *testing.T) {
	r, _ := newRouter(t)
	b, _ := createBatch(t, r, 2)
	doJSON(t, r, http.MethodPost, "/v1/dispatch", map[string]string{"batch_id": b.ID})

	w, out := doJSON(t, r, http.MethodGet, "/v1/batches/"+b.ID+"/summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("summary: %d %s", w.Code, w.Body.String())
	}
	var total int
	if err := json.Unmarshal(out["total_jobs"], &total); err != nil || total != 2 {
		t.Fatalf("total_jobs = %s", out["total_jobs"])
	}

	w, _ = doJSON(t, r, http.MethodGet, "/v1/batches/missing/summary", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown batch: got %d", w.Code)
	}
}

func TestJobHistory_Endpoint(t *testing.T) {
	r, _ := newRouter(t)
	createBatch(t, r, 3)

	w, out := doJSON(t, r, http.MethodGet, "/v1/jobs/history?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: %d %s", w.Code, w.Body.String())
	}
	var count int
	if err := json.Unmarshal(out["count"], &count); err != nil || count != 2 {
		t.Fatalf("count = %s", out["count"])
	}

	w, _ = doJSON(t, r, http.MethodGet, "/v1/jobs/history?from=not-a-time", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad from: got %d", w.Code)
	}
}
