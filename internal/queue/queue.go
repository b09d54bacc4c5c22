// Package queue is the durable list of requests that exhausted their retry
// schedule, plus the operator-driven reprocessing of single entries.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/mediarelay/internal/models"
	"github.com/shohag/mediarelay/internal/storage"
)

const (
	MsgNotFound       = "not found"
	MsgAlreadyHandled = "already handled"
	MsgCompleted      = "completed"
)

type Handler interface {
	Handle(ctx context.Context, req models.MediaRequest) error
}

type Recorder interface {
	RecordQueueEnqueue()
	RecordQueueOutcome(success bool, durationMs int64)
}

type Queue struct {
	store    storage.Storage
	handler  Handler
	recorder Recorder
	now      func() time.Time
	log      zerolog.Logger
}

func New(store storage.Storage, handler Handler, recorder Recorder, log zerolog.Logger) *Queue {
	return &Queue{
		store:    store,
		handler:  handler,
		recorder: recorder,
		now:      time.Now,
		log:      log,
	}
}

// SetClock replaces time.Now, mainly for tests.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

// Enqueue stores a pending row for a request that failed retryCount times.
func (q *Queue) Enqueue(ctx context.Context, req models.MediaRequest, retryCount int, errMsg string) (*models.FailedRequest, error) {
	fr := &models.FailedRequest{
		ID:           models.NewID("fr"),
		UserID:       req.UserID,
		ChatID:       req.ChatID,
		URL:          req.URL,
		Platform:     req.Platform,
		ErrorMessage: models.Truncate(errMsg, models.MaxErrorMessageLen),
		MessageRef:   req.MessageRef,
		Status:       models.FailedPending,
		RetryCount:   retryCount,
		CreatedAt:    q.now().UTC(),
	}
	if err := q.store.CreateFailedRequest(ctx, fr); err != nil {
		return nil, fmt.Errorf("create failed request: %w", err)
	}
	q.recorder.RecordQueueEnqueue()

	q.log.Info().
		Str("request_id", fr.ID).
		Int64("user_id", fr.UserID).
		Str("platform", fr.Platform).
		Int("retry_count", fr.RetryCount).
		Msg("failed request queued")
	return fr, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*models.FailedRequest, error) {
	return q.store.GetFailedRequest(ctx, id)
}

func (q *Queue) Stats(ctx context.Context) (*storage.QueueStats, error) {
	return q.store.CountFailedRequests(ctx)
}

func (q *Queue) ListPending(ctx context.Context, limit int) ([]models.FailedRequest, error) {
	return q.store.ListFailedRequests(ctx, models.FailedPending, limit)
}

func (q *Queue) List(ctx context.Context, status models.FailedRequestStatus, limit int) ([]models.FailedRequest, error) {
	return q.store.ListFailedRequests(ctx, status, limit)
}

// Reprocess re-runs one failed request through the platform handler as an
// operator retry. Completed and processing rows are left untouched. The
// move to processing is a compare-and-swap in storage, so two operators
// racing on the same id run the handler once.
func (q *Queue) Reprocess(ctx context.Context, id string) (bool, string) {
	log := q.log.With().Str("request_id", id).Logger()

	fr, err := q.store.GetFailedRequest(ctx, id)
	if err != nil {
		log.Error().Err(err).Msg("failed to load failed request")
		return false, fmt.Sprintf("storage error: %v", err)
	}
	if fr == nil {
		return false, MsgNotFound
	}
	if fr.Status.Handled() {
		return false, MsgAlreadyHandled
	}

	fr, err = q.store.ClaimFailedRequest(ctx, id)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return false, MsgAlreadyHandled
	case err != nil:
		log.Error().Err(err).Msg("failed to claim failed request")
		return false, fmt.Sprintf("storage error: %v", err)
	case fr == nil:
		return false, MsgNotFound
	}

	req := models.MediaRequest{
		JobID:         fr.ID,
		UserID:        fr.UserID,
		ChatID:        fr.ChatID,
		MessageRef:    fr.MessageRef,
		URL:           fr.URL,
		Platform:      fr.Platform,
		OperatorRetry: true,
	}

	start := q.now()
	herr := q.handler.Handle(ctx, req)
	finished := q.now()
	durationMs := finished.Sub(start).Milliseconds()

	status, msg, errMsg := models.FailedCompleted, MsgCompleted, fr.ErrorMessage
	if herr != nil {
		status, errMsg = models.FailedFailed, herr.Error()
		msg = models.Truncate(errMsg, models.MaxErrorMessageLen)
	}

	// Finish on a fresh context so a cancelled caller cannot leave the row
	// stuck in processing.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := q.store.FinishFailedRequest(fctx, id, status, errMsg, finished.UTC()); err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("failed to finish failed request")
	}
	q.recorder.RecordQueueOutcome(herr == nil, durationMs)

	log.Info().
		Str("status", string(status)).
		Int("retry_count", fr.RetryCount).
		Int64("duration_ms", durationMs).
		Msg("failed request reprocessed")

	return herr == nil, msg
}
