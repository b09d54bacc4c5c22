package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/mediarelay/internal/config"
	"github.com/shohag/mediarelay/internal/credential"
	"github.com/shohag/mediarelay/internal/delivery"
	"github.com/shohag/mediarelay/internal/egress"
	"github.com/shohag/mediarelay/internal/escalation"
	"github.com/shohag/mediarelay/internal/messenger"
	"github.com/shohag/mediarelay/internal/metrics"
	"github.com/shohag/mediarelay/internal/models"
	"github.com/shohag/mediarelay/internal/queue"
	"github.com/shohag/mediarelay/internal/signing"
	"github.com/shohag/mediarelay/internal/storage"
)

const testToken = "mr_test_token"

type fakeDispatcher struct {
	submitted []models.MediaRequest
	err       error
}

func (d *fakeDispatcher) Submit(req models.MediaRequest) (models.MediaRequest, error) {
	if d.err != nil {
		req.JobID = "existing-job"
		return req, d.err
	}
	req.JobID = "job-1"
	d.submitted = append(d.submitted, req)
	return req, nil
}

func (d *fakeDispatcher) Status(jobID string) (delivery.JobStatus, bool) {
	if jobID != "job-1" {
		return delivery.JobStatus{}, false
	}
	return delivery.JobStatus{JobID: jobID, State: delivery.StateAttempting, Attempt: 2}, true
}

type actionsFunc func(ctx context.Context, id string, op int64) (escalation.ActionResult, error)

func (f actionsFunc) HandleAction(ctx context.Context, id string, op int64) (escalation.ActionResult, error) {
	return f(ctx, id, op)
}

type testEnv struct {
	srv        *Server
	dispatcher *fakeDispatcher
	store      *storage.MemoryStorage
	queue      *queue.Queue
}

func newTestEnv(t *testing.T, gatewaySecret string) *testEnv {
	t.Helper()
	store := storage.NewMemory()
	collector := metrics.NewCollector(10)
	q := queue.New(store, delivery.HandlerFunc(func(context.Context, models.MediaRequest) error { return nil }), collector, zerolog.Nop())
	env := &testEnv{dispatcher: &fakeDispatcher{}, store: store, queue: q}

	deps := Deps{
		Dispatcher: env.dispatcher,
		Queue:      q,
		Actions: actionsFunc(func(_ context.Context, id string, op int64) (escalation.ActionResult, error) {
			if op != 1 {
				return escalation.ActionResult{}, escalation.ErrUnauthorized
			}
			ok, msg := q.Reprocess(context.Background(), id)
			return escalation.ActionResult{RequestID: id, OperatorID: op, Success: ok, Message: msg}, nil
		}),
		Metrics:     collector,
		Egress:      egress.New([]config.EgressConfig{{ID: "a", Host: "10.0.0.1", Port: 8080}}),
		Credentials: credential.NewPool(store, t.TempDir(), zerolog.Nop()),
	}
	env.srv = NewServer(config.ServerConfig{APIToken: testToken}, config.GatewayConfig{Secret: gatewaySecret}, deps, zerolog.Nop())
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthNeedsNoAuth(t *testing.T) {
	env := newTestEnv(t, "")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, "")
	for _, auth := range []string{"", "Token abc", "Bearer wrong"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/queue/stats", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		env.srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("auth %q: expected 401, got %d", auth, rec.Code)
		}
	}
}

func TestCreateRequest(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodPost, "/api/v1/requests",
		`{"user_id":5,"chat_id":50,"message_ref":"m1","url":"https://youtu.be/abc"}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp acceptedResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.JobID != "job-1" || resp.Platform != "youtube" {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(env.dispatcher.submitted) != 1 || env.dispatcher.submitted[0].ChatID != 50 {
		t.Errorf("unexpected submission %+v", env.dispatcher.submitted)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/requests/job-1", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"attempt":2`) {
		t.Errorf("unexpected job status %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/requests/nope", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown job, got %d", rec.Code)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodPost, "/api/v1/requests", `{"chat_id":50,"url":"not-a-url"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp errorResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Fields["user_id"] != "required" || resp.Fields["url"] != "url" {
		t.Errorf("unexpected validation fields %+v", resp.Fields)
	}
}

func TestCreateRequestDuplicate(t *testing.T) {
	env := newTestEnv(t, "")
	env.dispatcher.err = delivery.ErrDuplicate
	rec := env.do(t, http.MethodPost, "/api/v1/requests", `{"user_id":5,"chat_id":50,"url":"https://youtu.be/abc"}`, nil)
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "existing-job") {
		t.Errorf("expected 409 with existing job id, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestGatewaySignature(t *testing.T) {
	env := newTestEnv(t, "gw-secret")
	body := `{"user_id":5,"chat_id":50,"url":"https://youtu.be/abc"}`

	if rec := env.do(t, http.MethodPost, "/api/v1/requests", body, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("unsigned callback: expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", bytes.NewReader([]byte(body)))
	req.Header.Set("Authorization", "Bearer "+testToken)
	signing.SignRequest(req, "gw-secret", []byte(body))
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Errorf("signed callback: expected 202, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestReprocessAction(t *testing.T) {
	env := newTestEnv(t, "")
	fr, err := env.queue.Enqueue(context.Background(), models.MediaRequest{UserID: 5, URL: "https://youtu.be/a", Platform: "youtube"}, 3, "boom")
	if err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/actions/reprocess", `{"request_id":"`+fr.ID+`","operator_id":2}`, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-operator: expected 403, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/actions/reprocess", `{"request_id":"`+fr.ID+`","operator_id":1}`, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"success":true`) {
		t.Errorf("expected success, got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/actions/reprocess", `{"request_id":"`+fr.ID+`","operator_id":1}`, nil)
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), queue.MsgAlreadyHandled) {
		t.Errorf("expected 409 already handled, got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/queue/"+fr.ID, "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"completed"`) {
		t.Errorf("unexpected queue row %d %s", rec.Code, rec.Body.String())
	}
}

func TestReprocessSurvivesCallerCancel(t *testing.T) {
	store := storage.NewMemory()
	collector := metrics.NewCollector(10)

	started := make(chan struct{})
	var handlerErr error
	handler := delivery.HandlerFunc(func(ctx context.Context, _ models.MediaRequest) error {
		close(started)
		select {
		case <-ctx.Done():
			handlerErr = ctx.Err()
			return handlerErr
		case <-time.After(200 * time.Millisecond):
			return nil
		}
	})
	q := queue.New(store, handler, collector, zerolog.Nop())
	notifier, err := escalation.NewNotifier(config.EscalationConfig{Operators: []int64{1}},
		messenger.NewLog(zerolog.Nop()), store, q, collector, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(config.ServerConfig{APIToken: testToken}, config.GatewayConfig{}, Deps{
		Dispatcher: &fakeDispatcher{},
		Queue:      q,
		Actions:    notifier,
		Metrics:    collector,
	}, zerolog.Nop())

	fr, err := q.Enqueue(context.Background(), models.MediaRequest{UserID: 5, URL: "https://youtu.be/a", Platform: "youtube"}, 3, "boom")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/actions/reprocess",
		strings.NewReader(`{"request_id":"`+fr.ID+`","operator_id":1}`)).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if handlerErr != nil {
		t.Fatalf("handler saw cancellation: %v", handlerErr)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"success":true`) {
		t.Errorf("expected success, got %d %s", rec.Code, rec.Body.String())
	}
	row, _ := store.GetFailedRequest(context.Background(), fr.ID)
	if row == nil || row.Status != models.FailedCompleted {
		t.Errorf("expected completed row, got %+v", row)
	}
	if h := collector.QueueHealth(); h.Failed != 0 {
		t.Errorf("expected no queue failure recorded, got %+v", h)
	}
}

func TestQueueEndpoints(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := env.queue.Enqueue(ctx, models.MediaRequest{UserID: int64(i + 1), URL: "https://youtu.be/a"}, 3, "x"); err != nil {
			t.Fatal(err)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/v1/queue/stats", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"pending":3`) {
		t.Errorf("unexpected stats %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/queue/pending?limit=2", "", nil)
	var rows []models.FailedRequest
	_ = json.NewDecoder(rec.Body).Decode(&rows)
	if len(rows) != 2 {
		t.Errorf("expected 2 rows, got %d", len(rows))
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/queue/pending?status=bogus", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/queue/fr_missing", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestCredentialEndpoints(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/api/v1/credentials", `{"display_name":"main","source_kind":"file","raw_text":"garbage"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid cookie: expected 400, got %d", rec.Code)
	}

	raw := "# Netscape HTTP Cookie File\n.youtube.com\tTRUE\t/\tTRUE\t0\tSID\tabc\n"
	payload, _ := json.Marshal(map[string]string{"display_name": "main", "source_kind": "file", "raw_text": raw})
	rec = env.do(t, http.MethodPost, "/api/v1/credentials", string(payload), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "SID") {
		t.Error("raw cookie text must not be returned")
	}
	var c models.Credential
	_ = json.NewDecoder(rec.Body).Decode(&c)

	if rec := env.do(t, http.MethodPost, "/api/v1/credentials", string(payload), nil); rec.Code != http.StatusConflict {
		t.Errorf("duplicate import: expected 409, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPatch, "/api/v1/credentials/"+c.ID+"/status", `{"status":"disabled"}`, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodPatch, "/api/v1/credentials/"+c.ID+"/status", `{"status":"broken"}`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad status, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/credentials", "", nil)
	if !strings.Contains(rec.Body.String(), `"status":"disabled"`) {
		t.Errorf("expected disabled credential in list: %s", rec.Body.String())
	}

	if rec := env.do(t, http.MethodDelete, "/api/v1/credentials/"+c.ID, "", nil); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/v1/credentials/"+c.ID, "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestMetricsAndEgress(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodGet, "/api/v1/metrics/report", "", nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("unexpected report response %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = env.do(t, http.MethodGet, "/api/v1/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"queue"`) {
		t.Errorf("unexpected metrics %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/egress", "", nil)
	if !strings.Contains(rec.Body.String(), `"id":"a"`) || !strings.Contains(rec.Body.String(), `"available":true`) {
		t.Errorf("unexpected egress list %s", rec.Body.String())
	}
}
