package models

import "time"

type ErrorCategory string

const (
	ErrorTransient ErrorCategory = "transient"
	ErrorPermanent ErrorCategory = "permanent"
	ErrorSystem    ErrorCategory = "system"
)

// AttemptRecord describes one endpoint/credential combination tried once.
// It is handed to the metrics collector and not persisted.
type AttemptRecord struct {
	AttemptNumber int           `json:"attempt_number"`
	EndpointID    string        `json:"endpoint_id"`
	CredentialID  string        `json:"credential_id,omitempty"`
	Platform      string        `json:"platform,omitempty"`
	Success       bool          `json:"success"`
	DurationMs    int64         `json:"duration_ms"`
	ErrorCategory ErrorCategory `json:"error_category,omitempty"`
	At            time.Time     `json:"at"`
}
