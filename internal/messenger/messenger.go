// Package messenger is the outbound side of the chat gateway: status
// updates, media deliveries and operator reports.
package messenger

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by a gateway messenger with no base URL.
var ErrNotConfigured = errors.New("messenger: not configured")

// Action is a single button attached to a report.
type Action struct {
	Label     string `json:"label"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id"`
}

const ActionReprocess = "reprocess"

type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) (string, error)
	EditText(ctx context.Context, chatID int64, messageRef, text string) error
	DeleteMessage(ctx context.Context, chatID int64, messageRef string) error
	SendMedia(ctx context.Context, chatID int64, path, caption string) error
	SendReport(ctx context.Context, operatorID int64, text string, action Action) (string, error)
	EditReport(ctx context.Context, operatorID int64, messageRef, text string) error
}
