// Package escalation hands requests that exhausted their retries to human
// operators and routes their "reprocess" presses back into the queue.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maypok86/otter"
	"github.com/rs/zerolog"

	"github.com/shohag/mediarelay/internal/config"
	"github.com/shohag/mediarelay/internal/messenger"
	"github.com/shohag/mediarelay/internal/models"
	"github.com/shohag/mediarelay/internal/queue"
	"github.com/shohag/mediarelay/internal/storage"
)

var ErrUnauthorized = errors.New("escalation: actor is not an operator")

const (
	MaxReportURLLen  = 100
	DefaultNotifyTTL = 7 * 24 * time.Hour
	notifiedCapacity = 100_000
	reprocessLabel   = "Reprocess"
)

type Reprocessor interface {
	Get(ctx context.Context, id string) (*models.FailedRequest, error)
	Reprocess(ctx context.Context, id string) (bool, string)
}

type Recorder interface {
	RecordOperatorResponse(latencySeconds float64)
}

// ActionResult is what an operator press resolved to.
type ActionResult struct {
	RequestID      string  `json:"request_id"`
	OperatorID     int64   `json:"operator_id"`
	Success        bool    `json:"success"`
	Message        string  `json:"message"`
	LatencySeconds float64 `json:"latency_seconds"`
}

// sentReport remembers when a request was reported and which message each
// operator received, so the reports can be edited with the outcome.
type sentReport struct {
	At   time.Time
	Refs map[int64]string
}

type Notifier struct {
	operators []int64
	allowed   map[int64]struct{}
	msgr      messenger.Messenger
	store     storage.Storage
	queue     Reprocessor
	recorder  Recorder
	notified  otter.Cache[string, sentReport]

	mu  sync.Mutex
	now func() time.Time
	log zerolog.Logger
}

func NewNotifier(cfg config.EscalationConfig, msgr messenger.Messenger, store storage.Storage, q Reprocessor, recorder Recorder, log zerolog.Logger) (*Notifier, error) {
	ttl := cfg.NotifyTTL
	if ttl <= 0 {
		ttl = DefaultNotifyTTL
	}
	notified, err := otter.MustBuilder[string, sentReport](notifiedCapacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build notify cache: %w", err)
	}

	n := &Notifier{
		operators: append([]int64(nil), cfg.Operators...),
		allowed:   make(map[int64]struct{}, len(cfg.Operators)),
		msgr:      msgr,
		store:     store,
		queue:     q,
		recorder:  recorder,
		notified:  notified,
		now:       time.Now,
		log:       log.With().Str("component", "escalation").Logger(),
	}
	for _, id := range cfg.Operators {
		n.allowed[id] = struct{}{}
	}
	return n, nil
}

// SetClock replaces time.Now, mainly for tests.
func (n *Notifier) SetClock(now func() time.Time) {
	n.mu.Lock()
	n.now = now
	n.mu.Unlock()
}

func (n *Notifier) clock() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.now()
}

func (n *Notifier) IsOperator(id int64) bool {
	_, ok := n.allowed[id]
	return ok
}

// Notify sends the failure report to every operator. The request is marked
// notified when at least one operator received it.
func (n *Notifier) Notify(ctx context.Context, requestID string, userID int64, url, platform, errMsg string) error {
	log := n.log.With().Str("request_id", requestID).Logger()
	if len(n.operators) == 0 {
		log.Warn().Msg("no operators configured, report not sent")
		return nil
	}

	text := FormatReport(requestID, userID, url, platform, errMsg)
	action := messenger.Action{Label: reprocessLabel, Kind: messenger.ActionReprocess, RequestID: requestID}

	refs := make(map[int64]string, len(n.operators))
	var errs []error
	for _, op := range n.operators {
		ref, err := n.msgr.SendReport(ctx, op, text, action)
		if err != nil {
			log.Warn().Err(err).Int64("operator_id", op).Msg("failed to deliver report")
			errs = append(errs, fmt.Errorf("operator %d: %w", op, err))
			continue
		}
		refs[op] = ref
	}

	if len(refs) == 0 {
		return fmt.Errorf("report not delivered to any operator: %w", errors.Join(errs...))
	}

	n.notified.Set(requestID, sentReport{At: n.clock(), Refs: refs})
	if err := n.store.MarkOperatorNotified(ctx, requestID); err != nil {
		return fmt.Errorf("mark operator notified: %w", err)
	}

	log.Info().Int("operators", len(refs)).Msg("operators notified")
	return nil
}

// HandleAction runs an operator's reprocess press. Presses for requests that
// are unknown or already handled are answered but not counted as responses.
func (n *Notifier) HandleAction(ctx context.Context, requestID string, operatorID int64) (ActionResult, error) {
	res := ActionResult{RequestID: requestID, OperatorID: operatorID}
	if !n.IsOperator(operatorID) {
		n.log.Warn().Int64("operator_id", operatorID).Str("request_id", requestID).Msg("unauthorized reprocess attempt")
		return res, ErrUnauthorized
	}

	actedAt := n.clock()
	report, hasReport := n.notified.Get(requestID)
	since := report.At
	if !hasReport {
		fr, err := n.queue.Get(ctx, requestID)
		if err != nil {
			return res, fmt.Errorf("load failed request: %w", err)
		}
		if fr == nil {
			res.Message = queue.MsgNotFound
			return res, nil
		}
		since = fr.CreatedAt
	}
	latency := actedAt.Sub(since)
	if latency < 0 {
		latency = 0
	}
	res.LatencySeconds = latency.Seconds()

	// A claimed reprocess runs to completion even if the caller that pressed
	// the button goes away; the outcome still reaches operators via the
	// report edit.
	wctx := context.WithoutCancel(ctx)
	res.Success, res.Message = n.queue.Reprocess(wctx, requestID)

	if res.Message != queue.MsgNotFound && res.Message != queue.MsgAlreadyHandled {
		n.recorder.RecordOperatorResponse(res.LatencySeconds)
		if hasReport {
			n.editReports(wctx, report, FormatOutcome(requestID, operatorID, res.Success, res.Message))
		}
	}

	n.log.Info().
		Str("request_id", requestID).
		Int64("operator_id", operatorID).
		Bool("success", res.Success).
		Str("message", res.Message).
		Float64("latency_s", res.LatencySeconds).
		Msg("operator action handled")
	return res, nil
}

func (n *Notifier) editReports(ctx context.Context, report sentReport, text string) {
	for op, ref := range report.Refs {
		if err := n.msgr.EditReport(ctx, op, ref, text); err != nil {
			n.log.Warn().Err(err).Int64("operator_id", op).Msg("failed to update report")
		}
	}
}

// FormatReport renders the operator-facing failure report.
func FormatReport(requestID string, userID int64, url, platform, errMsg string) string {
	var b strings.Builder
	b.WriteString("Download failed after all retries\n\n")
	fmt.Fprintf(&b, "Request: %s\n", requestID)
	fmt.Fprintf(&b, "User: %d\n", userID)
	fmt.Fprintf(&b, "Platform: %s\n", platform)
	fmt.Fprintf(&b, "URL: %s\n", models.Truncate(url, MaxReportURLLen))
	fmt.Fprintf(&b, "Error: %s", models.Truncate(errMsg, models.MaxErrorMessageLen))
	return b.String()
}

func FormatOutcome(requestID string, operatorID int64, success bool, message string) string {
	if success {
		return fmt.Sprintf("Request %s reprocessed by %d: delivered", requestID, operatorID)
	}
	return fmt.Sprintf("Request %s reprocessed by %d: failed again (%s)", requestID, operatorID,
		models.Truncate(message, models.MaxErrorMessageLen))
}
