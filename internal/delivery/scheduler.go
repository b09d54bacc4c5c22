package delivery

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/mediarelay/internal/config"
	"github.com/shohag/mediarelay/internal/failure"
	"github.com/shohag/mediarelay/internal/messenger"
	"github.com/shohag/mediarelay/internal/models"
)

// Handler satisfies one user request. Handlers may run the Executor
// internally; the scheduler only sees success or an error.
type Handler interface {
	Handle(ctx context.Context, req models.MediaRequest) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req models.MediaRequest) error

func (f HandlerFunc) Handle(ctx context.Context, req models.MediaRequest) error {
	return f(ctx, req)
}

type Recorder interface {
	RecordAttempt(attemptNumber int, success bool, platform string, durationMs int64, category models.ErrorCategory)
	RecordFinalFailure(platform string)
}

type FailedQueue interface {
	Enqueue(ctx context.Context, req models.MediaRequest, retryCount int, errMsg string) (*models.FailedRequest, error)
}

type Escalator interface {
	Notify(ctx context.Context, requestID string, userID int64, url, platform, errMsg string) error
}

type State string

const (
	StateAttempting State = "attempting"
	StateSucceeded  State = "succeeded"
	StateEscalated  State = "escalated"
	StateCancelled  State = "cancelled"
)

// Outcome is the terminal result of one request. Request errors never
// escape Run; they end up here and in the failed request queue.
type Outcome struct {
	State         State
	Attempts      int
	Elapsed       time.Duration
	Err           error
	FailedRequest *models.FailedRequest
}

const (
	DefaultSettleDelay = 1 * time.Second
	DefaultBusyText    = "The server is busy right now, retrying your request. Please wait..."
	DefaultApologyText = "Sorry, we could not download this link. An operator has been notified."
)

type SchedulerOption func(*Scheduler)

// WithSleep replaces the context-aware sleep, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) SchedulerOption {
	return func(s *Scheduler) { s.sleep = sleep }
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

type Scheduler struct {
	handler     Handler
	msgr        messenger.Messenger
	queue       FailedQueue
	escalator   Escalator
	recorder    Recorder
	schedule    []time.Duration
	settleDelay time.Duration
	busyText    string
	apologyText string
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	onState     func(req models.MediaRequest, st State, attempt int)
	log         zerolog.Logger
}

func NewScheduler(cfg config.DeliveryConfig, handler Handler, msgr messenger.Messenger, queue FailedQueue, escalator Escalator, recorder Recorder, log zerolog.Logger, opts ...SchedulerOption) *Scheduler {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = len(DefaultRetrySchedule)
	}

	s := &Scheduler{
		handler:     handler,
		msgr:        msgr,
		queue:       queue,
		escalator:   escalator,
		recorder:    recorder,
		schedule:    ScheduleFor(attempts, cfg.RetrySchedule),
		settleDelay: cfg.SettleDelay,
		busyText:    cfg.BusyText,
		apologyText: cfg.ApologyText,
		now:         time.Now,
		sleep:       sleepCtx,
		log:         log,
	}
	if s.busyText == "" {
		s.busyText = DefaultBusyText
	}
	if s.apologyText == "" {
		s.apologyText = DefaultApologyText
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run drives one request to Succeeded or Escalated. Cancelling ctx stops
// the loop between or during attempts without escalating.
func (s *Scheduler) Run(ctx context.Context, req models.MediaRequest) Outcome {
	log := s.log.With().
		Str("job_id", req.JobID).
		Int64("user_id", req.UserID).
		Str("platform", req.Platform).
		Logger()

	out := s.run(ctx, log, req)
	s.emit(req, out.State, out.Attempts)
	return out
}

func (s *Scheduler) run(ctx context.Context, log zerolog.Logger, req models.MediaRequest) Outcome {
	if s.settleDelay > 0 {
		if err := s.sleep(ctx, s.settleDelay); err != nil {
			return Outcome{State: StateCancelled, Err: err}
		}
	}

	start := s.now()
	var (
		statusRef string
		lastErr   error
		attempts  int
	)

	for n := 1; n <= len(s.schedule); n++ {
		if n > 1 {
			statusRef = s.showBusy(ctx, req, statusRef)
		}
		if wait := s.schedule[n-1]; wait > 0 {
			if err := s.sleep(ctx, wait); err != nil {
				log.Info().Int("attempt", n).Msg("request cancelled while waiting")
				return Outcome{State: StateCancelled, Attempts: attempts, Elapsed: s.now().Sub(start), Err: err}
			}
		}

		attempts = n
		s.emit(req, StateAttempting, n)
		t0 := s.now()
		err := s.handler.Handle(ctx, req)
		durationMs := s.now().Sub(t0).Milliseconds()

		if err == nil {
			s.recorder.RecordAttempt(n, true, req.Platform, durationMs, "")
			s.clearStatus(ctx, req, statusRef)
			log.Info().Int("attempt", n).Int64("duration_ms", durationMs).Msg("request succeeded")
			return Outcome{State: StateSucceeded, Attempts: n, Elapsed: s.now().Sub(start)}
		}

		category := failure.Classify(err)
		s.recorder.RecordAttempt(n, false, req.Platform, durationMs, category)
		lastErr = err

		log.Warn().
			Err(err).
			Int("attempt", n).
			Int("max_attempts", len(s.schedule)).
			Str("category", string(category)).
			Msg("request attempt failed")

		if ctx.Err() != nil {
			return Outcome{State: StateCancelled, Attempts: n, Elapsed: s.now().Sub(start), Err: ctx.Err()}
		}
		if category == models.ErrorPermanent && n > 1 {
			log.Info().Int("attempt", n).Msg("permanent error, stopping retries")
			break
		}
	}

	out := Outcome{State: StateEscalated, Attempts: attempts, Elapsed: s.now().Sub(start), Err: lastErr}
	out.FailedRequest = s.escalate(ctx, log, req, statusRef, attempts, lastErr)
	return out
}

func (s *Scheduler) emit(req models.MediaRequest, st State, attempt int) {
	if s.onState != nil {
		s.onState(req, st, attempt)
	}
}

func (s *Scheduler) escalate(ctx context.Context, log zerolog.Logger, req models.MediaRequest, statusRef string, attempts int, cause error) *models.FailedRequest {
	if statusRef != "" {
		if err := s.msgr.EditText(ctx, req.ChatID, statusRef, s.apologyText); err != nil {
			log.Warn().Err(err).Msg("failed to edit status into apology")
		}
	} else if _, err := s.msgr.SendText(ctx, req.ChatID, s.apologyText); err != nil {
		log.Warn().Err(err).Msg("failed to send apology")
	}

	s.recorder.RecordFinalFailure(req.Platform)

	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	fr, err := s.queue.Enqueue(ctx, req, attempts, errMsg)
	if err != nil {
		log.Error().Err(err).Str("url", req.URL).Msg("failed to record failed request")
		return nil
	}

	log.Warn().Str("request_id", fr.ID).Int("attempts", attempts).Msg("request escalated")

	if s.escalator != nil {
		if err := s.escalator.Notify(ctx, fr.ID, req.UserID, req.URL, req.Platform, errMsg); err != nil {
			log.Error().Err(err).Str("request_id", fr.ID).Msg("failed to notify operators")
		}
	}
	return fr
}

func (s *Scheduler) showBusy(ctx context.Context, req models.MediaRequest, statusRef string) string {
	if statusRef != "" {
		if err := s.msgr.EditText(ctx, req.ChatID, statusRef, s.busyText); err != nil {
			s.log.Debug().Err(err).Msg("failed to edit busy status")
		}
		return statusRef
	}
	ref, err := s.msgr.SendText(ctx, req.ChatID, s.busyText)
	if err != nil {
		s.log.Debug().Err(err).Msg("failed to send busy status")
		return ""
	}
	return ref
}

func (s *Scheduler) clearStatus(ctx context.Context, req models.MediaRequest, statusRef string) {
	if statusRef == "" {
		return
	}
	if err := s.msgr.DeleteMessage(ctx, req.ChatID, statusRef); err != nil {
		s.log.Debug().Err(err).Msg("failed to delete status message")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
