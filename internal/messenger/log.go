package messenger

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/shohag/mediarelay/internal/models"
)

// Log writes every outbound message to the logger. It stands in for the
// gateway when none is configured.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log.With().Str("component", "messenger").Logger()}
}

func (l *Log) ref() string {
	return models.NewID("msg")
}

func (l *Log) SendText(_ context.Context, chatID int64, text string) (string, error) {
	ref := l.ref()
	l.log.Info().Int64("chat_id", chatID).Str("message_ref", ref).Str("text", text).Msg("send text")
	return ref, nil
}

func (l *Log) EditText(_ context.Context, chatID int64, messageRef, text string) error {
	l.log.Info().Int64("chat_id", chatID).Str("message_ref", messageRef).Str("text", text).Msg("edit text")
	return nil
}

func (l *Log) DeleteMessage(_ context.Context, chatID int64, messageRef string) error {
	l.log.Info().Int64("chat_id", chatID).Str("message_ref", messageRef).Msg("delete message")
	return nil
}

func (l *Log) SendMedia(_ context.Context, chatID int64, path, caption string) error {
	l.log.Info().Int64("chat_id", chatID).Str("path", path).Str("caption", caption).Msg("send media")
	return nil
}

func (l *Log) SendReport(_ context.Context, operatorID int64, text string, action Action) (string, error) {
	ref := l.ref()
	l.log.Warn().
		Int64("operator_id", operatorID).
		Str("message_ref", ref).
		Str("action", action.Kind).
		Str("request_id", action.RequestID).
		Str("text", text).
		Msg("send report")
	return ref, nil
}

func (l *Log) EditReport(_ context.Context, operatorID int64, messageRef, text string) error {
	l.log.Info().Int64("operator_id", operatorID).Str("message_ref", messageRef).Str("text", text).Msg("edit report")
	return nil
}
