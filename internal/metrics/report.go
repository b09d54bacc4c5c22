package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/shohag/mediarelay/internal/models"
)

// Report renders a plain-text summary for operators.
func (c *Collector) Report() string {
	s := c.Snapshot()
	var b strings.Builder

	fmt.Fprintf(&b, "Retry report (since %s)\n", s.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Overall success rate: %.1f%%\n", s.OverallSuccess)

	b.WriteString("\nBy attempt:\n")
	for _, n := range sortedKeys(s.Attempts) {
		st := s.Attempts[n]
		fmt.Fprintf(&b, "  #%d: %d ok / %d failed (%.1f%%), avg %.0fms\n",
			n, st.Success, st.Failure, st.SuccessRate(), st.AvgDurationMs())
	}

	if len(s.Endpoints) > 0 {
		b.WriteString("\nBy egress endpoint:\n")
		ids := make([]string, 0, len(s.Endpoints))
		for id := range s.Endpoints {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			st := s.Endpoints[id]
			fmt.Fprintf(&b, "  %s: %d ok / %d failed (%.1f%%)\n", id, st.Success, st.Failure, st.SuccessRate())
		}
	}

	if len(s.Platforms) > 0 {
		b.WriteString("\nBy platform:\n")
		for _, p := range s.Platforms {
			fmt.Fprintf(&b, "  %s: %d attempts, %.1f%% ok, %d escalated\n",
				p.Platform, p.Attempts, p.SuccessRate(), p.FinalFailures)
		}
	}

	if len(s.ErrorCategories) > 0 {
		b.WriteString("\nErrors:\n")
		cats := make([]string, 0, len(s.ErrorCategories))
		for k := range s.ErrorCategories {
			cats = append(cats, string(k))
		}
		sort.Strings(cats)
		for _, k := range cats {
			fmt.Fprintf(&b, "  %s: %d\n", k, s.ErrorCategories[models.ErrorCategory(k)])
		}
	}

	q := s.Queue
	b.WriteString("\nFailed request queue:\n")
	fmt.Fprintf(&b, "  pending %d, processed %d, failed %d\n", q.Pending, q.Processed, q.Failed)
	fmt.Fprintf(&b, "  success rate %.1f%%, avg processing %.0fms\n", q.SuccessRate, q.AvgProcessingMs)
	fmt.Fprintf(&b, "  operator responses %d, avg response %.0fs\n", q.OperatorResponses, q.AvgOperatorResponseS)

	return b.String()
}

func sortedKeys(m map[int]AttemptStats) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Reporter logs the collector summary on a cron schedule.
type Reporter struct {
	collector *Collector
	cron      *cron.Cron
	log       zerolog.Logger
}

func NewReporter(collector *Collector, schedule string, log zerolog.Logger) (*Reporter, error) {
	r := &Reporter{
		collector: collector,
		cron:      cron.New(),
		log:       log,
	}
	if _, err := r.cron.AddFunc(schedule, r.logReport); err != nil {
		return nil, fmt.Errorf("invalid metrics report schedule %q: %w", schedule, err)
	}
	return r, nil
}

func (r *Reporter) Start() { r.cron.Start() }

func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Reporter) logReport() {
	s := r.collector.Snapshot()
	r.log.Info().
		Float64("overall_success_rate", s.OverallSuccess).
		Int64("queue_pending", s.Queue.Pending).
		Int64("queue_processed", s.Queue.Processed).
		Int64("queue_failed", s.Queue.Failed).
		Float64("avg_operator_response_s", s.Queue.AvgOperatorResponseS).
		Msg("retry metrics")
	r.log.Debug().Msg(r.collector.Report())
}
