package models

import "time"

type FailedRequestStatus string

const (
	FailedPending    FailedRequestStatus = "pending"
	FailedProcessing FailedRequestStatus = "processing"
	FailedCompleted  FailedRequestStatus = "completed"
	FailedFailed     FailedRequestStatus = "failed"
)

func (s FailedRequestStatus) Known() bool {
	switch s {
	case FailedPending, FailedProcessing, FailedCompleted, FailedFailed:
		return true
	}
	return false
}

// Handled reports whether an operator retry must be refused for this status.
func (s FailedRequestStatus) Handled() bool {
	return s == FailedCompleted || s == FailedProcessing
}

// MaxErrorMessageLen bounds FailedRequest.ErrorMessage.
const MaxErrorMessageLen = 500

type FailedRequest struct {
	ID               string              `json:"id"`
	UserID           int64               `json:"user_id"`
	ChatID           int64               `json:"chat_id"`
	URL              string              `json:"url"`
	Platform         string              `json:"platform"`
	ErrorMessage     string              `json:"error_message"`
	MessageRef       string              `json:"message_ref,omitempty"`
	Status           FailedRequestStatus `json:"status"`
	RetryCount       int                 `json:"retry_count"`
	CreatedAt        time.Time           `json:"created_at"`
	ProcessedAt      *time.Time          `json:"processed_at,omitempty"`
	OperatorNotified bool                `json:"operator_notified"`
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
