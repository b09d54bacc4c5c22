package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shohag/mediarelay/internal/models"
)

// ErrConflict is returned by ClaimFailedRequest when the row exists but is
// not in a claimable status.
var ErrConflict = errors.New("storage: status conflict")

// ErrDuplicate is returned when an insert collides with an existing id.
var ErrDuplicate = errors.New("storage: duplicate id")

type Storage interface {
	// Failed requests
	CreateFailedRequest(ctx context.Context, fr *models.FailedRequest) error
	GetFailedRequest(ctx context.Context, id string) (*models.FailedRequest, error)
	ListFailedRequests(ctx context.Context, status models.FailedRequestStatus, limit int) ([]models.FailedRequest, error)
	ListUnnotified(ctx context.Context, limit int) ([]models.FailedRequest, error)
	ClaimFailedRequest(ctx context.Context, id string) (*models.FailedRequest, error)
	FinishFailedRequest(ctx context.Context, id string, status models.FailedRequestStatus, errMsg string, processedAt time.Time) error
	MarkOperatorNotified(ctx context.Context, id string) error
	CountFailedRequests(ctx context.Context) (*QueueStats, error)

	// Credentials
	CreateCredential(ctx context.Context, c *models.Credential) error
	ListCredentials(ctx context.Context) ([]models.Credential, error)
	UpdateCredentialUsage(ctx context.Context, id string, useCount, failCount int64, lastUsedAt time.Time) error
	UpdateCredentialStatus(ctx context.Context, id string, status models.CredentialStatus) error
	DeleteCredential(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}
