package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shohag/mediarelay/internal/models"
)

// MemoryStorage keeps everything in process memory. It backs the "memory"
// storage driver and the tests of packages that sit on top of Storage.
type MemoryStorage struct {
	mu          sync.Mutex
	failed      map[string]models.FailedRequest
	credentials map[string]models.Credential
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		failed:      make(map[string]models.FailedRequest),
		credentials: make(map[string]models.Credential),
	}
}

func (m *MemoryStorage) Migrate(ctx context.Context) error { return nil }
func (m *MemoryStorage) Close() error                      { return nil }

func (m *MemoryStorage) CreateFailedRequest(ctx context.Context, fr *models.FailedRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := *fr
	row.ErrorMessage = models.Truncate(row.ErrorMessage, models.MaxErrorMessageLen)
	m.failed[fr.ID] = row
	return nil
}

func (m *MemoryStorage) GetFailedRequest(ctx context.Context, id string) (*models.FailedRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fr, ok := m.failed[id]
	if !ok {
		return nil, nil
	}
	return &fr, nil
}

func (m *MemoryStorage) ListFailedRequests(ctx context.Context, status models.FailedRequestStatus, limit int) ([]models.FailedRequest, error) {
	return m.filter(limit, func(fr models.FailedRequest) bool { return fr.Status == status }), nil
}

func (m *MemoryStorage) ListUnnotified(ctx context.Context, limit int) ([]models.FailedRequest, error) {
	return m.filter(limit, func(fr models.FailedRequest) bool {
		return !fr.OperatorNotified && fr.Status == models.FailedPending
	}), nil
}

func (m *MemoryStorage) filter(limit int, keep func(models.FailedRequest) bool) []models.FailedRequest {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.FailedRequest
	for _, fr := range m.failed {
		if keep(fr) {
			out = append(out, fr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryStorage) ClaimFailedRequest(ctx context.Context, id string) (*models.FailedRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fr, ok := m.failed[id]
	if !ok {
		return nil, nil
	}
	if fr.Status != models.FailedPending && fr.Status != models.FailedFailed {
		return &fr, ErrConflict
	}
	fr.Status = models.FailedProcessing
	fr.RetryCount++
	m.failed[id] = fr
	return &fr, nil
}

func (m *MemoryStorage) FinishFailedRequest(ctx context.Context, id string, status models.FailedRequestStatus, errMsg string, processedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fr, ok := m.failed[id]
	if !ok {
		return nil
	}
	fr.Status = status
	fr.ErrorMessage = models.Truncate(errMsg, models.MaxErrorMessageLen)
	fr.ProcessedAt = &processedAt
	m.failed[id] = fr
	return nil
}

func (m *MemoryStorage) MarkOperatorNotified(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fr, ok := m.failed[id]; ok {
		fr.OperatorNotified = true
		m.failed[id] = fr
	}
	return nil
}

func (m *MemoryStorage) CountFailedRequests(ctx context.Context) (*QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &QueueStats{}
	for _, fr := range m.failed {
		switch fr.Status {
		case models.FailedPending:
			stats.Pending++
		case models.FailedProcessing:
			stats.Processing++
		case models.FailedCompleted:
			stats.Completed++
		case models.FailedFailed:
			stats.Failed++
		}
		stats.Total++
	}
	return stats, nil
}

func (m *MemoryStorage) CreateCredential(ctx context.Context, c *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[c.ID]; ok {
		return ErrDuplicate
	}
	m.credentials[c.ID] = *c
	return nil
}

func (m *MemoryStorage) ListCredentials(ctx context.Context) ([]models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Credential, 0, len(m.credentials))
	for _, c := range m.credentials {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStorage) UpdateCredentialUsage(ctx context.Context, id string, useCount, failCount int64, lastUsedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.credentials[id]; ok {
		c.UseCount = useCount
		c.FailCount = failCount
		c.LastUsedAt = &lastUsedAt
		m.credentials[id] = c
	}
	return nil
}

func (m *MemoryStorage) UpdateCredentialStatus(ctx context.Context, id string, status models.CredentialStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.credentials[id]; ok {
		c.Status = status
		m.credentials[id] = c
	}
	return nil
}

func (m *MemoryStorage) DeleteCredential(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.credentials, id)
	return nil
}
