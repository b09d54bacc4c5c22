package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/shohag/mediarelay/internal/storage"
)

const DefaultRenotifyBatch = 20

// Renotifier periodically re-sends reports for pending requests no operator
// has received yet, for example because the gateway was down at escalation
// time.
type Renotifier struct {
	notifier *Notifier
	store    storage.Storage
	batch    int
	timeout  time.Duration
	cron     *cron.Cron
	log      zerolog.Logger
}

func NewRenotifier(notifier *Notifier, store storage.Storage, schedule string, batch int, log zerolog.Logger) (*Renotifier, error) {
	if batch <= 0 {
		batch = DefaultRenotifyBatch
	}
	r := &Renotifier{
		notifier: notifier,
		store:    store,
		batch:    batch,
		timeout:  time.Minute,
		cron:     cron.New(),
		log:      log.With().Str("component", "renotifier").Logger(),
	}
	if _, err := r.cron.AddFunc(schedule, r.sweep); err != nil {
		return nil, fmt.Errorf("invalid renotify schedule %q: %w", schedule, err)
	}
	return r, nil
}

func (r *Renotifier) Start() { r.cron.Start() }

func (r *Renotifier) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Renotifier) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if _, err := r.Sweep(ctx); err != nil {
		r.log.Error().Err(err).Msg("renotify sweep failed")
	}
}

// Sweep re-sends up to one batch of unnotified reports and returns how many
// were delivered.
func (r *Renotifier) Sweep(ctx context.Context) (int, error) {
	rows, err := r.store.ListUnnotified(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("list unnotified: %w", err)
	}

	sent := 0
	for _, fr := range rows {
		if err := r.notifier.Notify(ctx, fr.ID, fr.UserID, fr.URL, fr.Platform, fr.ErrorMessage); err != nil {
			r.log.Warn().Err(err).Str("request_id", fr.ID).Msg("renotify failed")
			continue
		}
		sent++
	}
	if len(rows) > 0 {
		r.log.Info().Int("pending", len(rows)).Int("sent", sent).Msg("renotify sweep finished")
	}
	return sent, nil
}
