// Package egress tracks the proxy exit points outbound extraction traffic is
// routed through and trips a per-endpoint circuit breaker on repeated
// failures.
package egress

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/mediarelay/internal/config"
	"github.com/shohag/mediarelay/internal/models"
)

const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 60 * time.Second
)

type Option func(*Pool)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

func WithThreshold(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.threshold = n
		}
	}
}

func WithCooldown(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.cooldown = d
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(p *Pool) { p.log = log }
}

// Pool is a failure-count circuit breaker over a fixed, ordered set of
// endpoints. A burst of threshold failures trips an endpoint even when the
// failures are spread over a long period.
type Pool struct {
	mu        sync.Mutex
	endpoints []models.EgressEndpoint
	index     map[string]int
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

func New(endpoints []config.EgressConfig, opts ...Option) *Pool {
	p := &Pool{
		index:     make(map[string]int, len(endpoints)),
		threshold: DefaultFailureThreshold,
		cooldown:  DefaultCooldown,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}

	for _, ec := range endpoints {
		if _, dup := p.index[ec.ID]; dup || ec.ID == "" {
			p.log.Warn().Str("endpoint_id", ec.ID).Msg("skipping egress endpoint with empty or duplicate id")
			continue
		}
		scheme := ec.Scheme
		if scheme == "" {
			scheme = "http"
		}
		p.index[ec.ID] = len(p.endpoints)
		p.endpoints = append(p.endpoints, models.EgressEndpoint{
			ID:       ec.ID,
			Scheme:   scheme,
			Host:     ec.Host,
			Port:     ec.Port,
			Username: ec.Username,
			Password: ec.Password,
		})
	}
	return p
}

// ListAvailable returns the usable endpoints in configured priority order.
func (p *Pool) ListAvailable() []models.EgressEndpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]models.EgressEndpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		if ep.Available(now) {
			out = append(out, ep)
		}
	}
	return out
}

// Snapshot returns every endpoint, disabled ones included.
func (p *Pool) Snapshot() []models.EgressEndpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EgressEndpoint, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// ReportOutcome records one attempt's result against an endpoint. Unknown
// ids are ignored.
func (p *Pool) ReportOutcome(id string, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, ok := p.index[id]
	if !ok {
		return
	}
	ep := &p.endpoints[i]

	if success {
		ep.ConsecutiveFailures = 0
		return
	}

	ep.ConsecutiveFailures++
	if ep.ConsecutiveFailures < p.threshold {
		return
	}

	// The counter restarts so the next trip needs threshold fresh failures.
	ep.ConsecutiveFailures = 0
	ep.DisabledUntil = p.now().Add(p.cooldown)
	p.log.Warn().
		Str("endpoint_id", ep.ID).
		Time("disabled_until", ep.DisabledUntil).
		Msg("egress endpoint disabled after repeated failures")
}
