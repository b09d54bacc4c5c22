package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/maypok86/otter"
	"github.com/rs/zerolog"

	"github.com/shohag/mediarelay/internal/config"
	"github.com/shohag/mediarelay/internal/delivery"
	"github.com/shohag/mediarelay/internal/extractor"
	"github.com/shohag/mediarelay/internal/messenger"
	"github.com/shohag/mediarelay/internal/models"
)

const (
	recentCapacity      = 50_000
	DefaultDedupeWindow = 10 * time.Minute

	AlreadySentText = "This link was already sent to you a moment ago."
)

var ErrNoFile = errors.New("extractor produced no file")

type Executor interface {
	Execute(ctx context.Context, req delivery.AttemptRequest) (*extractor.Result, error)
}

// MediaHandler downloads a link through the attempt executor and sends the
// file back to the requesting chat.
type MediaHandler struct {
	exec        Executor
	msgr        messenger.Messenger
	outputDir   string
	videoFormat string
	audioFormat string
	recent      otter.Cache[string, time.Time]
	now         func() time.Time
	log         zerolog.Logger
}

func NewMediaHandler(cfg config.ExtractorConfig, dedupeWindow time.Duration, exec Executor, msgr messenger.Messenger, log zerolog.Logger) (*MediaHandler, error) {
	if dedupeWindow <= 0 {
		dedupeWindow = DefaultDedupeWindow
	}
	recent, err := otter.MustBuilder[string, time.Time](recentCapacity).
		WithTTL(dedupeWindow).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build recent delivery cache: %w", err)
	}

	return &MediaHandler{
		exec:        exec,
		msgr:        msgr,
		outputDir:   cfg.OutputDir,
		videoFormat: cfg.Format,
		audioFormat: cfg.AudioFormat,
		recent:      recent,
		now:         time.Now,
		log:         log.With().Str("component", "media_handler").Logger(),
	}, nil
}

func (h *MediaHandler) Handle(ctx context.Context, req models.MediaRequest) error {
	if _, err := ValidateURL(req.URL); err != nil {
		return err
	}

	key := strconv.FormatInt(req.UserID, 10) + "|" + req.URL
	if !req.OperatorRetry {
		if at, ok := h.recent.Get(key); ok {
			h.log.Info().
				Int64("user_id", req.UserID).
				Time("delivered_at", at).
				Msg("link delivered recently, skipping")
			if _, err := h.msgr.SendText(ctx, req.ChatID, AlreadySentText); err != nil {
				h.log.Debug().Err(err).Msg("failed to send duplicate notice")
			}
			return nil
		}
	}

	jobDir := filepath.Join(h.outputDir, jobDirName(req))
	defer func() {
		if err := os.RemoveAll(jobDir); err != nil {
			h.log.Warn().Err(err).Str("dir", jobDir).Msg("failed to clean up download dir")
		}
	}()

	res, err := h.exec.Execute(ctx, delivery.AttemptRequest{
		URL:       req.URL,
		Platform:  req.Platform,
		Format:    h.FormatFor(req.Platform),
		OutputDir: jobDir,
	})
	if err != nil {
		return err
	}
	if res.Filename == "" {
		return fmt.Errorf("%w for %s", ErrNoFile, req.URL)
	}

	if err := h.msgr.SendMedia(ctx, req.ChatID, res.Filename, res.Title); err != nil {
		return fmt.Errorf("send media: %w", err)
	}
	h.recent.Set(key, h.now())

	h.log.Info().
		Str("job_id", req.JobID).
		Int64("user_id", req.UserID).
		Str("platform", req.Platform).
		Str("media_id", res.ID).
		Bool("operator_retry", req.OperatorRetry).
		Msg("media delivered")
	return nil
}

// FormatFor picks the format selector for a platform. Audio-only sites get
// the audio selector.
func (h *MediaHandler) FormatFor(platform string) string {
	if platform == SoundCloud && h.audioFormat != "" {
		return h.audioFormat
	}
	return h.videoFormat
}

func jobDirName(req models.MediaRequest) string {
	if req.JobID != "" {
		return req.JobID
	}
	return models.NewID("job")
}
