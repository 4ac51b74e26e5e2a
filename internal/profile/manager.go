// Package profile provides cached access to business profiles and renders
// them into the system prompt.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/bizchat/internal/composer"
	"github.com/kalambet/bizchat/internal/storage"
)

// ProfileStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type ProfileStore interface {
	GetBusinessProfile(ctx context.Context, principalID string) (storage.BusinessProfile, error)
	SaveBusinessProfile(ctx context.Context, b storage.BusinessProfile) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type entry struct {
	profile  storage.BusinessProfile
	found    bool
	cachedAt time.Time
}

// Manager caches business profiles per principal. Missing profiles are
// cached too, so principals without one do not hit the store every turn.
type Manager struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]entry
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store ProfileStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store:   store,
		clock:   clock,
		ttl:     ttl,
		entries: make(map[string]entry),
	}
}

// Get returns the principal's profile. found is false when none is stored.
func (m *Manager) Get(ctx context.Context, principalID string) (storage.BusinessProfile, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[principalID]
	m.mu.RUnlock()
	if ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		return e.profile, e.found, nil
	}

	p, err := m.store.GetBusinessProfile(ctx, principalID)
	found := true
	if errors.Is(err, storage.ErrNotFound) {
		found, err = false, nil
	}
	if err != nil {
		return storage.BusinessProfile{}, false, fmt.Errorf("loading business profile: %w", err)
	}

	m.mu.Lock()
	m.entries[principalID] = entry{profile: p, found: found, cachedAt: m.clock.Now()}
	m.mu.Unlock()
	return p, found, nil
}

// Save persists the profile and invalidates the principal's cache entry.
func (m *Manager) Save(ctx context.Context, b storage.BusinessProfile) error {
	if err := m.store.SaveBusinessProfile(ctx, b); err != nil {
		return fmt.Errorf("saving business profile: %w", err)
	}
	m.mu.Lock()
	delete(m.entries, b.PrincipalID)
	m.mu.Unlock()
	return nil
}

// Summarize renders the profile as one or two sentences. Each clause is
// included only when its field is set; an empty profile yields "".
func Summarize(b storage.BusinessProfile) string {
	name := strings.TrimSpace(b.Name)
	kind := strings.TrimSpace(b.Type)
	size := strings.TrimSpace(b.Size)
	desc := strings.TrimSpace(b.Description)
	if name == "" && kind == "" && size == "" && desc == "" {
		return ""
	}

	var sb strings.Builder
	if name != "" || kind != "" || size != "" {
		sb.WriteString("You are assisting a business")
		if name != "" {
			fmt.Fprintf(&sb, " called %s", name)
		}
		if kind != "" {
			fmt.Fprintf(&sb, " that operates as %s", article(kind))
		}
		if size != "" {
			fmt.Fprintf(&sb, " with %s", sizeClause(size))
		}
		sb.WriteString(".")
	}
	if desc != "" {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString("About the business: ")
		sb.WriteString(strings.TrimRight(desc, "."))
		sb.WriteString(".")
	}
	return sb.String()
}

func article(noun string) string {
	if strings.ContainsRune("aeiouAEIOU", rune(noun[0])) {
		return "an " + noun
	}
	return "a " + noun
}

// sizeClause turns a bare headcount like "5" or "10-50" into "5 employees".
func sizeClause(size string) string {
	if strings.Trim(size, "0123456789-+ ") == "" {
		return size + " employees"
	}
	return size
}

// Resolver supplies the business-profile section of the system prompt.
type Resolver struct {
	manager *Manager
}

func NewResolver(m *Manager) *Resolver {
	return &Resolver{manager: m}
}

func (r *Resolver) Name() string { return "business" }

func (r *Resolver) Resolve(ctx context.Context, req composer.Request) (string, error) {
	p, found, err := r.manager.Get(ctx, req.PrincipalID)
	if err != nil || !found {
		return "", err
	}
	return Summarize(p), nil
}
