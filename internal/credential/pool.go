// Package credential rotates imported cookie sets across auth-gated
// extraction attempts.
package credential

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/shohag/mediarelay/internal/models"
	"github.com/shohag/mediarelay/internal/storage"
)

var (
	ErrNotFound      = errors.New("credential not found")
	ErrInvalidCookie = errors.New("credential is not a Netscape cookie file")
	ErrDuplicate     = errors.New("credential already imported")
)

// Pool holds the process-wide credential state. Reads and writes go through
// the pool mutex; every mutation is written through to storage.
type Pool struct {
	mu         sync.Mutex
	creds      map[string]*models.Credential
	importing  map[string]struct{}
	store      storage.Storage
	cookiesDir string
	now        func() time.Time
	log        zerolog.Logger
}

func NewPool(store storage.Storage, cookiesDir string, log zerolog.Logger) *Pool {
	return &Pool{
		creds:      make(map[string]*models.Credential),
		importing:  make(map[string]struct{}),
		store:      store,
		cookiesDir: cookiesDir,
		now:        time.Now,
		log:        log,
	}
}

// SetClock replaces time.Now, mainly for tests.
func (p *Pool) SetClock(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

// Load replaces the in-memory set with what storage holds.
func (p *Pool) Load(ctx context.Context) error {
	creds, err := p.store.ListCredentials(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds = make(map[string]*models.Credential, len(creds))
	for i := range creds {
		c := creds[i]
		p.creds[c.ID] = &c
	}
	p.log.Info().Int("count", len(creds)).Msg("credentials loaded")
	return nil
}

// Next picks the least recently used non-disabled credential, preferring
// fewer uses on ties. When the winner is previousID and another candidate
// exists the runner-up is returned instead.
func (p *Pool) Next(previousID string) (*models.Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := make([]*models.Credential, 0, len(p.creds))
	for _, c := range p.creds {
		if c.Status != models.CredentialDisabled {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		switch {
		case a.LastUsedAt == nil && b.LastUsedAt != nil:
			return true
		case a.LastUsedAt != nil && b.LastUsedAt == nil:
			return false
		case a.LastUsedAt != nil && !a.LastUsedAt.Equal(*b.LastUsedAt):
			return a.LastUsedAt.Before(*b.LastUsedAt)
		case a.UseCount != b.UseCount:
			return a.UseCount < b.UseCount
		default:
			return a.ID < b.ID
		}
	})

	pick := candidates[0]
	if pick.ID == previousID && len(candidates) > 1 {
		pick = candidates[1]
	}
	cp := *pick
	return &cp, true
}

// MarkUsed records one use of a credential. Repeated failures never change
// the status; disabling is an operator decision.
func (p *Pool) MarkUsed(ctx context.Context, id string, success bool) error {
	p.mu.Lock()
	c, ok := p.creds[id]
	if !ok {
		p.mu.Unlock()
		return ErrNotFound
	}
	now := p.now()
	c.UseCount++
	if !success {
		c.FailCount++
	}
	c.LastUsedAt = &now
	useCount, failCount := c.UseCount, c.FailCount
	p.mu.Unlock()

	if err := p.store.UpdateCredentialUsage(ctx, id, useCount, failCount, now); err != nil {
		return fmt.Errorf("persist credential usage: %w", err)
	}
	return nil
}

// CookieFile writes the credential's raw text to the cookies directory and
// returns the path the extractor should read.
func (p *Pool) CookieFile(id string) (string, error) {
	p.mu.Lock()
	c, ok := p.creds[id]
	var raw string
	if ok {
		raw = c.RawText
	}
	p.mu.Unlock()
	if !ok {
		return "", ErrNotFound
	}

	if err := os.MkdirAll(p.cookiesDir, 0o700); err != nil {
		return "", fmt.Errorf("create cookies dir: %w", err)
	}
	path := filepath.Join(p.cookiesDir, id+".txt")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		return "", fmt.Errorf("write cookie file: %w", err)
	}
	return path, nil
}

func (p *Pool) Get(id string) (*models.Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.creds[id]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

func (p *Pool) List() []models.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Credential, 0, len(p.creds))
	for _, c := range p.creds {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Import validates and stores a new cookie set. The id is the xxh3-128 of
// the raw text, so importing the same file twice is rejected.
func (p *Pool) Import(ctx context.Context, displayName, sourceKind, rawText string) (*models.Credential, error) {
	if !LooksLikeNetscape(rawText) {
		return nil, ErrInvalidCookie
	}
	if sourceKind == "" {
		sourceKind = "file"
	}

	id := ContentID(rawText)
	if displayName == "" {
		displayName = id[:8]
	}

	p.mu.Lock()
	_, exists := p.creds[id]
	_, inProgress := p.importing[id]
	if exists || inProgress {
		p.mu.Unlock()
		return nil, ErrDuplicate
	}
	p.importing[id] = struct{}{}
	c := &models.Credential{
		ID:          id,
		DisplayName: displayName,
		SourceKind:  sourceKind,
		RawText:     rawText,
		Status:      models.CredentialUnknown,
		CreatedAt:   p.now().UTC(),
	}
	p.mu.Unlock()

	err := p.store.CreateCredential(ctx, c)

	p.mu.Lock()
	delete(p.importing, id)
	if err == nil {
		p.creds[id] = c
	}
	p.mu.Unlock()

	switch {
	case errors.Is(err, storage.ErrDuplicate):
		return nil, ErrDuplicate
	case err != nil:
		return nil, fmt.Errorf("store credential: %w", err)
	}

	p.log.Info().Str("credential_id", id).Str("name", displayName).Msg("credential imported")
	cp := *c
	return &cp, nil
}

func (p *Pool) SetStatus(ctx context.Context, id string, status models.CredentialStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid credential status %q", status)
	}

	p.mu.Lock()
	c, ok := p.creds[id]
	p.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	if err := p.store.UpdateCredentialStatus(ctx, id, status); err != nil {
		return fmt.Errorf("persist credential status: %w", err)
	}

	p.mu.Lock()
	c.Status = status
	p.mu.Unlock()

	p.log.Info().Str("credential_id", id).Str("status", string(status)).Msg("credential status changed")
	return nil
}

func (p *Pool) Delete(ctx context.Context, id string) error {
	p.mu.Lock()
	_, ok := p.creds[id]
	p.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	if err := p.store.DeleteCredential(ctx, id); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}

	p.mu.Lock()
	delete(p.creds, id)
	p.mu.Unlock()

	os.Remove(filepath.Join(p.cookiesDir, id+".txt"))
	return nil
}

// ContentID is the hex xxh3-128 of the cookie text.
func ContentID(rawText string) string {
	h := xxh3.HashString128(rawText)
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], h.Lo)
	binary.LittleEndian.PutUint64(b[8:], h.Hi)
	return hex.EncodeToString(b[:])
}

// LooksLikeNetscape accepts the standard header or any line with the seven
// tab separated cookie fields.
func LooksLikeNetscape(rawText string) bool {
	for _, line := range strings.Split(rawText, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "# Netscape HTTP Cookie File") || strings.HasPrefix(line, "# HTTP Cookie File") {
			return true
		}
		line = strings.TrimPrefix(line, "#HttpOnly_")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if len(strings.Split(line, "\t")) == 7 {
			return true
		}
	}
	return false
}
