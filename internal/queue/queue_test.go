package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/mediarelay/internal/metrics"
	"github.com/shohag/mediarelay/internal/models"
	"github.com/shohag/mediarelay/internal/storage"
)

type handlerFunc func(ctx context.Context, req models.MediaRequest) error

func (f handlerFunc) Handle(ctx context.Context, req models.MediaRequest) error { return f(ctx, req) }

type recordingHandler struct {
	mu    sync.Mutex
	calls []models.MediaRequest
	err   error
}

func (h *recordingHandler) Handle(_ context.Context, req models.MediaRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, req)
	return h.err
}

func newTestQueue(t *testing.T, h Handler) (*Queue, *storage.MemoryStorage, *metrics.Collector) {
	t.Helper()
	store := storage.NewMemory()
	collector := metrics.NewCollector(10)
	return New(store, h, collector, zerolog.Nop()), store, collector
}

func sampleRequest() models.MediaRequest {
	return models.MediaRequest{
		JobID:      "job-1",
		UserID:     42,
		ChatID:     4200,
		MessageRef: "m-1",
		URL:        "https://www.instagram.com/reel/abc/",
		Platform:   "instagram",
	}
}

func TestEnqueue(t *testing.T) {
	q, store, collector := newTestQueue(t, &recordingHandler{})
	ctx := context.Background()

	fr, err := q.Enqueue(ctx, sampleRequest(), 3, "HTTP Error 429")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if fr.Status != models.FailedPending || fr.RetryCount != 3 || fr.ChatID != 4200 {
		t.Errorf("unexpected row %+v", fr)
	}

	got, _ := store.GetFailedRequest(ctx, fr.ID)
	if got == nil || got.ErrorMessage != "HTTP Error 429" {
		t.Fatalf("row not stored: %+v", got)
	}
	if collector.QueueHealth().Enqueued != 1 {
		t.Errorf("expected enqueue to be recorded")
	}

	stats, err := q.Stats(ctx)
	if err != nil || stats.Pending != 1 || stats.Total != 1 {
		t.Errorf("unexpected stats %+v %v", stats, err)
	}
	pending, _ := q.ListPending(ctx, 10)
	if len(pending) != 1 {
		t.Errorf("expected 1 pending row, got %d", len(pending))
	}
}

func TestReprocessNotFound(t *testing.T) {
	q, _, _ := newTestQueue(t, &recordingHandler{})
	ok, msg := q.Reprocess(context.Background(), "fr_missing")
	if ok || msg != MsgNotFound {
		t.Errorf("expected (false, %q), got (%v, %q)", MsgNotFound, ok, msg)
	}
}

func TestReprocessSuccess(t *testing.T) {
	h := &recordingHandler{}
	q, store, collector := newTestQueue(t, h)
	ctx := context.Background()
	fr, _ := q.Enqueue(ctx, sampleRequest(), 3, "boom")

	ok, msg := q.Reprocess(ctx, fr.ID)
	if !ok || msg != MsgCompleted {
		t.Fatalf("expected success, got (%v, %q)", ok, msg)
	}
	if len(h.calls) != 1 || !h.calls[0].OperatorRetry || h.calls[0].URL != fr.URL {
		t.Fatalf("handler not invoked as operator retry: %+v", h.calls)
	}

	got, _ := store.GetFailedRequest(ctx, fr.ID)
	if got.Status != models.FailedCompleted || got.RetryCount != 4 || got.ProcessedAt == nil {
		t.Errorf("unexpected row after reprocess %+v", got)
	}
	if qh := collector.QueueHealth(); qh.Processed != 1 {
		t.Errorf("expected processed 1, got %+v", qh)
	}
}

func TestReprocessFailureStoresNewError(t *testing.T) {
	h := &recordingHandler{err: errors.New("HTTP Error 403: Forbidden")}
	q, store, collector := newTestQueue(t, h)
	ctx := context.Background()
	fr, _ := q.Enqueue(ctx, sampleRequest(), 3, "old error")

	ok, msg := q.Reprocess(ctx, fr.ID)
	if ok || msg != "HTTP Error 403: Forbidden" {
		t.Fatalf("unexpected result (%v, %q)", ok, msg)
	}
	got, _ := store.GetFailedRequest(ctx, fr.ID)
	if got.Status != models.FailedFailed || got.ErrorMessage != "HTTP Error 403: Forbidden" {
		t.Errorf("unexpected row %+v", got)
	}
	if qh := collector.QueueHealth(); qh.Failed != 1 {
		t.Errorf("expected failed 1, got %+v", qh)
	}

	// a failed row can be retried again
	h.err = nil
	if ok, _ := q.Reprocess(ctx, fr.ID); !ok {
		t.Error("expected failed row to be reprocessable")
	}
	got, _ = store.GetFailedRequest(ctx, fr.ID)
	if got.RetryCount != 5 {
		t.Errorf("expected retry count 5, got %d", got.RetryCount)
	}
}

func TestReprocessAlreadyHandledNoMutation(t *testing.T) {
	h := &recordingHandler{}
	q, store, _ := newTestQueue(t, h)
	ctx := context.Background()
	fr, _ := q.Enqueue(ctx, sampleRequest(), 3, "boom")
	if ok, _ := q.Reprocess(ctx, fr.ID); !ok {
		t.Fatal("first reprocess should succeed")
	}
	before, _ := store.GetFailedRequest(ctx, fr.ID)

	ok, msg := q.Reprocess(ctx, fr.ID)
	if ok || msg != MsgAlreadyHandled {
		t.Fatalf("expected (false, %q), got (%v, %q)", MsgAlreadyHandled, ok, msg)
	}
	after, _ := store.GetFailedRequest(ctx, fr.ID)
	if after.RetryCount != before.RetryCount || after.Status != before.Status || !after.ProcessedAt.Equal(*before.ProcessedAt) {
		t.Errorf("row mutated: before %+v after %+v", before, after)
	}
	if len(h.calls) != 1 {
		t.Errorf("handler must not run again, ran %d times", len(h.calls))
	}
}

func TestReprocessConcurrentSameID(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	runs := 0
	h := handlerFunc(func(ctx context.Context, req models.MediaRequest) error {
		mu.Lock()
		runs++
		mu.Unlock()
		<-release
		return nil
	})
	q, _, _ := newTestQueue(t, h)
	ctx := context.Background()
	fr, _ := q.Enqueue(ctx, sampleRequest(), 3, "boom")

	var wg sync.WaitGroup
	results := make(chan string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, msg := q.Reprocess(ctx, fr.ID)
			results <- msg
		}()
	}

	// whichever call lost the claim returns first
	select {
	case msg := <-results:
		if msg != MsgAlreadyHandled {
			t.Errorf("expected loser to see %q, got %q", MsgAlreadyHandled, msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second reprocess did not short-circuit")
	}
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Errorf("handler ran %d times, want 1", runs)
	}
}
