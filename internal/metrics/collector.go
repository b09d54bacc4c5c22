// Package metrics aggregates retry outcomes, queue throughput and operator
// response latency in process memory. Nothing here makes external calls.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/shohag/mediarelay/internal/models"
)

const DefaultRecentCapacity = 100

type AttemptStats struct {
	Success         int64 `json:"success"`
	Failure         int64 `json:"failure"`
	TotalDurationMs int64 `json:"total_duration_ms"`
}

func (s AttemptStats) Total() int64 { return s.Success + s.Failure }

// SuccessRate is a percentage in [0, 100].
func (s AttemptStats) SuccessRate() float64 {
	if s.Total() == 0 {
		return 0
	}
	return float64(s.Success) / float64(s.Total()) * 100
}

func (s AttemptStats) AvgDurationMs() float64 {
	if s.Total() == 0 {
		return 0
	}
	return float64(s.TotalDurationMs) / float64(s.Total())
}

type PlatformStats struct {
	Platform      string `json:"platform"`
	Attempts      int64  `json:"attempts"`
	Successes     int64  `json:"successes"`
	Failures      int64  `json:"failures"`
	FinalFailures int64  `json:"final_failures"`
}

func (p PlatformStats) SuccessRate() float64 {
	if p.Attempts == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Attempts) * 100
}

type QueueHealth struct {
	Enqueued             int64   `json:"enqueued"`
	Pending              int64   `json:"pending"`
	Processed            int64   `json:"processed"`
	Failed               int64   `json:"failed"`
	SuccessRate          float64 `json:"success_rate"`
	AvgProcessingMs      float64 `json:"avg_processing_ms"`
	OperatorResponses    int64   `json:"operator_responses"`
	AvgOperatorResponseS float64 `json:"avg_operator_response_s"`
}

type Snapshot struct {
	Attempts         map[int]AttemptStats           `json:"attempts"`
	ExecutorAttempts map[int]AttemptStats           `json:"executor_attempts"`
	Endpoints        map[string]AttemptStats        `json:"endpoints"`
	Platforms        []PlatformStats                `json:"platforms"`
	ErrorCategories  map[models.ErrorCategory]int64 `json:"error_categories"`
	Queue            QueueHealth                    `json:"queue"`
	OverallSuccess   float64                        `json:"overall_success_rate"`
	Recent           []models.AttemptRecord         `json:"recent"`
	StartedAt        time.Time                      `json:"started_at"`
}

// Collector is safe for concurrent use. All counters only grow; the recent
// ring buffer evicts its oldest entry once full.
type Collector struct {
	mu sync.Mutex

	attempts         map[int]*AttemptStats
	executorAttempts map[int]*AttemptStats
	endpoints        map[string]*AttemptStats
	platforms        map[string]*PlatformStats
	categories       map[models.ErrorCategory]int64

	enqueued        int64
	processed       int64
	queueFailed     int64
	processingMs    int64
	operatorCount   int64
	operatorSeconds float64

	recent    []models.AttemptRecord
	recentPos int
	recentLen int

	now       func() time.Time
	startedAt time.Time
}

func NewCollector(recentCapacity int) *Collector {
	if recentCapacity <= 0 {
		recentCapacity = DefaultRecentCapacity
	}
	return &Collector{
		attempts:         make(map[int]*AttemptStats),
		executorAttempts: make(map[int]*AttemptStats),
		endpoints:        make(map[string]*AttemptStats),
		platforms:        make(map[string]*PlatformStats),
		categories:       make(map[models.ErrorCategory]int64),
		recent:           make([]models.AttemptRecord, recentCapacity),
		now:              time.Now,
		startedAt:        time.Now(),
	}
}

// RecordAttempt records one request-level attempt made by the retry
// scheduler.
func (c *Collector) RecordAttempt(attemptNumber int, success bool, platform string, durationMs int64, category models.ErrorCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bump(c.attempts, attemptNumber, success, durationMs)

	ps := c.platform(platform)
	ps.Attempts++
	if success {
		ps.Successes++
	} else {
		ps.Failures++
		if category != "" {
			c.categories[category]++
		}
	}

	c.push(models.AttemptRecord{
		AttemptNumber: attemptNumber,
		Platform:      platform,
		Success:       success,
		DurationMs:    durationMs,
		ErrorCategory: category,
		At:            c.now(),
	})
}

// ObserveAttempt records one endpoint/credential combination tried by the
// attempt executor.
func (c *Collector) ObserveAttempt(rec models.AttemptRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bump(c.executorAttempts, rec.AttemptNumber, rec.Success, rec.DurationMs)
	if rec.EndpointID != "" {
		st, ok := c.endpoints[rec.EndpointID]
		if !ok {
			st = &AttemptStats{}
			c.endpoints[rec.EndpointID] = st
		}
		if rec.Success {
			st.Success++
		} else {
			st.Failure++
		}
		st.TotalDurationMs += rec.DurationMs
	}
	if rec.At.IsZero() {
		rec.At = c.now()
	}
	c.push(rec)
}

func (c *Collector) RecordFinalFailure(platform string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.platform(platform).FinalFailures++
}

func (c *Collector) RecordQueueEnqueue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueued++
}

func (c *Collector) RecordQueueOutcome(success bool, durationMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		c.processed++
	} else {
		c.queueFailed++
	}
	c.processingMs += durationMs
}

func (c *Collector) RecordOperatorResponse(latencySeconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operatorCount++
	c.operatorSeconds += latencySeconds
}

// SuccessRateByAttempt returns the request-level success percentage for
// each attempt number seen so far.
func (c *Collector) SuccessRateByAttempt() map[int]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]float64, len(c.attempts))
	for n, st := range c.attempts {
		out[n] = st.SuccessRate()
	}
	return out
}

// OverallSuccessRate is successful attempts over all request-level attempts.
func (c *Collector) OverallSuccessRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overallLocked()
}

func (c *Collector) overallLocked() float64 {
	var total AttemptStats
	for _, st := range c.attempts {
		total.Success += st.Success
		total.Failure += st.Failure
	}
	return total.SuccessRate()
}

func (c *Collector) Platforms() []PlatformStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.platformsLocked()
}

func (c *Collector) platformsLocked() []PlatformStats {
	out := make([]PlatformStats, 0, len(c.platforms))
	for _, ps := range c.platforms {
		out = append(out, *ps)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Attempts != out[j].Attempts {
			return out[i].Attempts > out[j].Attempts
		}
		return out[i].Platform < out[j].Platform
	})
	return out
}

// QueueHealth derives pending from enqueued minus finished outcomes. Reprocessed
// rows can finish more than once, so pending never goes below zero.
func (c *Collector) QueueHealth() QueueHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queueLocked()
}

func (c *Collector) queueLocked() QueueHealth {
	q := QueueHealth{
		Enqueued:          c.enqueued,
		Processed:         c.processed,
		Failed:            c.queueFailed,
		OperatorResponses: c.operatorCount,
	}
	q.Pending = c.enqueued - c.processed - c.queueFailed
	if q.Pending < 0 {
		q.Pending = 0
	}
	if done := c.processed + c.queueFailed; done > 0 {
		q.SuccessRate = float64(c.processed) / float64(done) * 100
		q.AvgProcessingMs = float64(c.processingMs) / float64(done)
	}
	if c.operatorCount > 0 {
		q.AvgOperatorResponseS = c.operatorSeconds / float64(c.operatorCount)
	}
	return q
}

// Recent returns the buffered attempt records, oldest first.
func (c *Collector) Recent() []models.AttemptRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recentLocked()
}

func (c *Collector) recentLocked() []models.AttemptRecord {
	out := make([]models.AttemptRecord, 0, c.recentLen)
	start := c.recentPos - c.recentLen
	if start < 0 {
		start += len(c.recent)
	}
	for i := 0; i < c.recentLen; i++ {
		out = append(out, c.recent[(start+i)%len(c.recent)])
	}
	return out
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Attempts:         copyStats(c.attempts),
		ExecutorAttempts: copyStats(c.executorAttempts),
		Endpoints:        make(map[string]AttemptStats, len(c.endpoints)),
		Platforms:        c.platformsLocked(),
		ErrorCategories:  make(map[models.ErrorCategory]int64, len(c.categories)),
		Queue:            c.queueLocked(),
		OverallSuccess:   c.overallLocked(),
		Recent:           c.recentLocked(),
		StartedAt:        c.startedAt,
	}
	for id, st := range c.endpoints {
		s.Endpoints[id] = *st
	}
	for k, v := range c.categories {
		s.ErrorCategories[k] = v
	}
	return s
}

func (c *Collector) platform(name string) *PlatformStats {
	if name == "" {
		name = "unknown"
	}
	ps, ok := c.platforms[name]
	if !ok {
		ps = &PlatformStats{Platform: name}
		c.platforms[name] = ps
	}
	return ps
}

func (c *Collector) push(rec models.AttemptRecord) {
	c.recent[c.recentPos] = rec
	c.recentPos = (c.recentPos + 1) % len(c.recent)
	if c.recentLen < len(c.recent) {
		c.recentLen++
	}
}

func bump(m map[int]*AttemptStats, n int, success bool, durationMs int64) {
	st, ok := m[n]
	if !ok {
		st = &AttemptStats{}
		m[n] = st
	}
	if success {
		st.Success++
	} else {
		st.Failure++
	}
	st.TotalDurationMs += durationMs
}

func copyStats(m map[int]*AttemptStats) map[int]AttemptStats {
	out := make(map[int]AttemptStats, len(m))
	for k, v := range m {
		out[k] = *v
	}
	return out
}
