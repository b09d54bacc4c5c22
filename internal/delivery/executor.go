package delivery

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/mediarelay/internal/extractor"
	"github.com/shohag/mediarelay/internal/failure"
	"github.com/shohag/mediarelay/internal/models"
)

// ErrNoEgress is returned when the egress pool has no endpoint available.
// The executor never falls back to a direct connection.
var ErrNoEgress = errors.New("delivery: no egress endpoint available")

// AttemptsExhaustedError is returned when every endpoint and credential
// combination failed. It unwraps to the last observed error.
type AttemptsExhaustedError struct {
	Attempts int
	Last     error
}

func (e *AttemptsExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Last)
}

func (e *AttemptsExhaustedError) Unwrap() error { return e.Last }

type EgressPool interface {
	ListAvailable() []models.EgressEndpoint
	ReportOutcome(id string, success bool)
}

type CredentialPool interface {
	Next(previousID string) (*models.Credential, bool)
	MarkUsed(ctx context.Context, id string, success bool) error
	CookieFile(id string) (string, error)
}

// AttemptObserver receives one record per endpoint/credential combination.
type AttemptObserver interface {
	ObserveAttempt(rec models.AttemptRecord)
}

var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:130.0) Gecko/20100101 Firefox/130.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:130.0) Gecko/20100101 Firefox/130.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1",
}

const (
	DefaultSocketTimeoutMin = 8 * time.Second
	DefaultSocketTimeoutMax = 12 * time.Second
)

// AttemptRequest describes one logical extraction.
type AttemptRequest struct {
	URL          string
	Platform     string
	Format       string
	OutputDir    string
	SkipDownload bool
}

type ExecutorOption func(*Executor)

func WithSocketTimeout(min, max time.Duration) ExecutorOption {
	return func(e *Executor) {
		if min > 0 && max >= min {
			e.timeoutMin, e.timeoutMax = min, max
		}
	}
}

func WithUserAgents(agents []string) ExecutorOption {
	return func(e *Executor) {
		if len(agents) > 0 {
			e.userAgents = agents
		}
	}
}

func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// Executor tries every available egress endpoint in order and, after an
// auth-required error, rotates credentials on the same endpoint before
// moving on.
type Executor struct {
	engine     extractor.Engine
	egress     EgressPool
	creds      CredentialPool
	observer   AttemptObserver
	userAgents []string
	uaCursor   atomic.Uint64
	timeoutMin time.Duration
	timeoutMax time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

func NewExecutor(engine extractor.Engine, egress EgressPool, creds CredentialPool, observer AttemptObserver, log zerolog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		engine:     engine,
		egress:     egress,
		creds:      creds,
		observer:   observer,
		userAgents: DefaultUserAgents,
		timeoutMin: DefaultSocketTimeoutMin,
		timeoutMax: DefaultSocketTimeoutMax,
		now:        time.Now,
		log:        log,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Executor) Execute(ctx context.Context, req AttemptRequest) (*extractor.Result, error) {
	endpoints := e.egress.ListAvailable()
	if len(endpoints) == 0 {
		e.log.Error().Str("url", req.URL).Msg("no egress endpoint available, refusing direct connection")
		return nil, ErrNoEgress
	}

	var (
		attempt int
		lastErr error
	)

	for _, ep := range endpoints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attempt++
		res, err := e.try(ctx, req, ep, nil, attempt)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !failure.IsAuthRequired(err) || e.creds == nil {
			continue
		}

		tried := make(map[string]bool)
		previous := ""
		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			cred, ok := e.creds.Next(previous)
			if !ok || tried[cred.ID] {
				break
			}
			tried[cred.ID] = true
			previous = cred.ID

			attempt++
			res, err := e.try(ctx, req, ep, cred, attempt)
			if err == nil {
				return res, nil
			}
			lastErr = err
			if !failure.IsAuthRequired(err) {
				break
			}
		}
	}

	return nil, &AttemptsExhaustedError{Attempts: attempt, Last: lastErr}
}

func (e *Executor) try(ctx context.Context, req AttemptRequest, ep models.EgressEndpoint, cred *models.Credential, attempt int) (*extractor.Result, error) {
	opts := extractor.Options{
		Format:        req.Format,
		SocketTimeout: e.socketTimeout(),
		ProxyURL:      ep.ProxyURL(),
		UserAgent:     e.nextUserAgent(),
		OutputDir:     req.OutputDir,
		SkipDownload:  req.SkipDownload,
	}

	rec := models.AttemptRecord{
		AttemptNumber: attempt,
		EndpointID:    ep.ID,
		Platform:      req.Platform,
	}

	if cred != nil {
		rec.CredentialID = cred.ID
		path, err := e.creds.CookieFile(cred.ID)
		if err != nil {
			err = fmt.Errorf("prepare credential %s: %w", cred.ID, err)
			rec.ErrorCategory = models.ErrorSystem
			rec.At = e.now()
			e.observe(rec)
			return nil, err
		}
		opts.CookieFile = path
	}

	start := e.now()
	res, err := e.engine.Extract(ctx, req.URL, opts)
	rec.DurationMs = e.now().Sub(start).Milliseconds()
	rec.At = start
	rec.Success = err == nil

	e.egress.ReportOutcome(ep.ID, rec.Success)
	if cred != nil {
		if merr := e.creds.MarkUsed(ctx, cred.ID, rec.Success); merr != nil {
			e.log.Warn().Err(merr).Str("credential_id", cred.ID).Msg("failed to record credential usage")
		}
	}

	if err != nil {
		rec.ErrorCategory = failure.Classify(err)
		e.log.Debug().
			Err(err).
			Int("attempt", attempt).
			Str("endpoint_id", ep.ID).
			Str("credential_id", rec.CredentialID).
			Str("category", string(rec.ErrorCategory)).
			Msg("extraction attempt failed")
	}
	e.observe(rec)
	return res, err
}

func (e *Executor) observe(rec models.AttemptRecord) {
	if e.observer != nil {
		e.observer.ObserveAttempt(rec)
	}
}

// socketTimeout is uniformly distributed in [timeoutMin, timeoutMax].
func (e *Executor) socketTimeout() time.Duration {
	span := int64(e.timeoutMax - e.timeoutMin)
	if span <= 0 {
		return e.timeoutMin
	}
	return e.timeoutMin + time.Duration(rand.Int64N(span+1))
}

func (e *Executor) nextUserAgent() string {
	n := e.uaCursor.Add(1) - 1
	return e.userAgents[n%uint64(len(e.userAgents))]
}
