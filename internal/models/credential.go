package models

import "time"

type CredentialStatus string

const (
	CredentialValid    CredentialStatus = "valid"
	CredentialInvalid  CredentialStatus = "invalid"
	CredentialUnknown  CredentialStatus = "unknown"
	CredentialDisabled CredentialStatus = "disabled"
)

func (s CredentialStatus) Valid() bool {
	switch s {
	case CredentialValid, CredentialInvalid, CredentialUnknown, CredentialDisabled:
		return true
	}
	return false
}

// Credential is an imported cookie set that can satisfy auth-gated requests.
type Credential struct {
	ID          string           `json:"id"`
	DisplayName string           `json:"display_name"`
	SourceKind  string           `json:"source_kind"`
	RawText     string           `json:"-"`
	Status      CredentialStatus `json:"status"`
	UseCount    int64            `json:"use_count"`
	FailCount   int64            `json:"fail_count"`
	LastUsedAt  *time.Time       `json:"last_used_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}
