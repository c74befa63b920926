package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ayushbridge/ayushbridge/internal/domain/batch"
	"github.com/ayushbridge/ayushbridge/internal/platform/webhook"
)

func enqueueBody(callback string, codes ...[2]string) map[string]interface{} {
	items := make([]map[string]string, 0, len(codes))
	for _, c := range codes {
		items = append(items, map[string]string{"code": c[0], "system": c[1]})
	}
	body := map[string]interface{}{"codes": items}
	if callback != "" {
		body["callback_url"] = callback
	}
	return body
}

func enqueueJob(t *testing.T, a *app, body map[string]interface{}) string {
	t.Helper()
	rec := a.post("/api/v1/mapping/batch/async", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		JobID string `json:"job_id"`
	}
	decode(t, rec, &resp)
	if resp.JobID == "" {
		t.Fatal("expected a job id")
	}
	return resp.JobID
}

func jobStatus(t *testing.T, a *app, id string) *batch.Job {
	t.Helper()
	rec := a.get("/api/v1/mapping/batch/" + id)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var job batch.Job
	decode(t, rec, &job)
	return &job
}

func waitTerminal(t *testing.T, a *app, id string) *batch.Job {
	t.Helper()
	var job *batch.Job
	waitFor(t, 5*time.Second, func() bool {
		job = jobStatus(t, a, id)
		switch job.Status {
		case batch.StatusCompleted, batch.StatusFailed, batch.StatusCancelled:
			return true
		}
		return false
	})
	return job
}

func TestBatchAsync_Lifecycle(t *testing.T) {
	a := newApp(t, appOptions{})
	a.seedCatalogs()

	id := enqueueJob(t, a, enqueueBody("",
		[2]string{"AAA-1", "ayurveda"},
		[2]string{"NOPE-1", "ayurveda"},
		[2]string{"SSS-7", "siddha"},
	))

	job := waitTerminal(t, a, id)
	if job.Status != batch.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", job.Status)
	}
	if job.Progress.Total != 3 || job.Progress.Completed != 2 || job.Progress.Failed != 1 {
		t.Errorf("unexpected progress %+v", job.Progress)
	}
	if job.CompletedAt == nil {
		t.Error("terminal job must carry completed_at")
	}

	rec := a.get("/api/v1/mapping/batch/" + id + "/results")
	if rec.Code != http.StatusOK {
		t.Fatalf("results: expected 200, got %d", rec.Code)
	}
	var results struct {
		Items []batch.Item `json:"results"`
	}
	decode(t, rec, &results)
	if len(results.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(results.Items))
	}
	if results.Items[0].Status != batch.ItemCompleted || results.Items[0].Result == nil {
		t.Errorf("item 0 must have completed with a result, got %+v", results.Items[0])
	}
	if results.Items[1].Status != batch.ItemFailed || results.Items[1].Error == "" {
		t.Errorf("item 1 must have failed with an error, got %+v", results.Items[1])
	}
}

func TestBatchAsync_SignedCallback(t *testing.T) {
	var mu sync.Mutex
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(webhook.SignatureHeader)
	}))
	defer srv.Close()

	a := newApp(t, appOptions{webhookSecret: "cb-secret"})
	a.seedCatalogs()

	id := enqueueJob(t, a, enqueueBody(srv.URL, [2]string{"AAA-1", "ayurveda"}))
	waitTerminal(t, a, id)

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotBody != nil
	})

	mu.Lock()
	defer mu.Unlock()
	var payload batch.CallbackPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("callback payload is not JSON: %v", err)
	}
	if payload.JobID.String() != id || payload.Status != batch.StatusCompleted {
		t.Errorf("unexpected payload %+v", payload)
	}
	if !webhook.Verify("cb-secret", gotBody, gotSig) {
		t.Error("callback signature must verify under the shared secret")
	}
}

func TestBatchAsync_Cancel(t *testing.T) {
	a := newApp(t, appOptions{itemDelay: 20 * time.Millisecond})
	a.seedCatalogs()

	codes := make([][2]string, 0, 100)
	for i := 0; i < 100; i++ {
		codes = append(codes, [2]string{"AAA-1", "ayurveda"})
	}
	id := enqueueJob(t, a, enqueueBody("", codes...))

	rec := a.do(http.MethodDelete, "/api/v1/mapping/batch/"+id, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	job := waitTerminal(t, a, id)
	if job.Status != batch.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", job.Status)
	}

	// Cancelling again conflicts with the terminal state.
	rec = a.do(http.MethodDelete, "/api/v1/mapping/batch/"+id, nil, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on double cancel, got %d", rec.Code)
	}
}

func TestBatchAsync_Validation(t *testing.T) {
	a := newApp(t, appOptions{})
	a.seedCatalogs()

	rec := a.post("/api/v1/mapping/batch/async", map[string]interface{}{
		"codes": []map[string]string{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty codes: expected 400, got %d", rec.Code)
	}

	rec = a.get("/api/v1/mapping/batch/not-a-uuid")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", rec.Code)
	}

	rec = a.get("/api/v1/mapping/batch/00000000-0000-0000-0000-000000000001")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: expected 404, got %d", rec.Code)
	}
}

func TestBatchSync_LookupOnly(t *testing.T) {
	a := newApp(t, appOptions{})
	a.seedCatalogs()

	// Seed one mapping through the pipeline first.
	if rec := a.post("/api/v1/mapping", map[string]string{"code": "AAA-1", "system": "ayurveda"}); rec.Code != http.StatusOK {
		t.Fatalf("translate: got %d", rec.Code)
	}

	rec := a.post("/api/v1/mapping/batch", map[string]interface{}{
		"codes": []map[string]string{
			{"code": "AAA-1", "system": "ayurveda"},
			{"code": "SSS-7", "system": "siddha"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Total int `json:"total"`
		Found int `json:"found"`
	}
	decode(t, rec, &resp)
	if resp.Total != 2 {
		t.Errorf("expected total 2, got %d", resp.Total)
	}
	// Only the translated code has a stored mapping; the sync endpoint never
	// runs the pipeline.
	if resp.Found != 1 {
		t.Errorf("expected found 1, got %d", resp.Found)
	}
	if a.mappings.count() != 1 {
		t.Errorf("sync batch must not create mappings, got %d", a.mappings.count())
	}
}
