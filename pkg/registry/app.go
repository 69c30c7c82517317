package registry

import (
	"errors"
	"sync"
	"time"
)

// ErrAppNotFound indicates no app entry under the given key.
var ErrAppNotFound = errors.New("app not found")

// AppEntry holds the live state of one mobile app connection.
type AppEntry struct {
	Session Session

	AppID    string
	Name     string
	Platform string

	// Token is the bearer token issued on authorization. Empty until an
	// operator approves the app or it presents a valid token.
	Token string

	ConnectedAt time.Time
	LastSeen    time.Time
}

// Authorized reports whether the app holds a bearer token.
func (e *AppEntry) Authorized() bool {
	return e.Token != ""
}

// AppRegistry tracks mobile app connections. Three indexes are kept in
// lockstep: by connection ID, by app ID, and by bearer token. All writes
// happen under one lock so removal clears every index atomically.
type AppRegistry struct {
	mu sync.RWMutex

	byConn  map[string]*AppEntry
	byApp   map[string]*AppEntry
	byToken map[string]*AppEntry
}

// NewAppRegistry creates an empty app registry.
func NewAppRegistry() *AppRegistry {
	return &AppRegistry{
		byConn:  make(map[string]*AppEntry),
		byApp:   make(map[string]*AppEntry),
		byToken: make(map[string]*AppEntry),
	}
}

// Add tracks a new app connection, initially unauthorized. If the app ID
// is already held by a live connection the newer connection wins and the
// old one is closed.
func (r *AppRegistry) Add(session Session, appID, name, platform string) *AppEntry {
	r.mu.Lock()

	var evicted *AppEntry
	if prev, exists := r.byApp[appID]; exists {
		evicted = prev
		delete(r.byConn, prev.Session.ID())
		if prev.Token != "" {
			delete(r.byToken, prev.Token)
		}
	}

	now := time.Now()
	entry := &AppEntry{
		Session:     session,
		AppID:       appID,
		Name:        name,
		Platform:    platform,
		ConnectedAt: now,
		LastSeen:    now,
	}
	r.byConn[session.ID()] = entry
	r.byApp[appID] = entry
	r.mu.Unlock()

	if evicted != nil {
		_ = evicted.Session.Close(1000, "superseded by new connection")
	}
	return entry
}

// Authorize records the issued bearer token for the app behind connID
// and indexes the entry under it.
func (r *AppRegistry) Authorize(connID, token string) (*AppEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byConn[connID]
	if !ok {
		return nil, ErrAppNotFound
	}
	if entry.Token != "" {
		delete(r.byToken, entry.Token)
	}
	entry.Token = token
	r.byToken[token] = entry
	return entry, nil
}

// ByConn returns the app entry for a connection ID.
func (r *AppRegistry) ByConn(connID string) (*AppEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byConn[connID]
	if !ok {
		return nil, ErrAppNotFound
	}
	return entry, nil
}

// ByApp returns the app entry for an app ID.
func (r *AppRegistry) ByApp(appID string) (*AppEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byApp[appID]
	if !ok {
		return nil, ErrAppNotFound
	}
	return entry, nil
}

// ByToken returns the app entry holding the given bearer token.
func (r *AppRegistry) ByToken(token string) (*AppEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byToken[token]
	if !ok {
		return nil, ErrAppNotFound
	}
	return entry, nil
}

// Remove drops the app behind connID from all three indexes.
func (r *AppRegistry) Remove(connID string) (*AppEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byConn[connID]
	if !ok {
		return nil, ErrAppNotFound
	}
	delete(r.byConn, connID)
	if entry.Token != "" {
		delete(r.byToken, entry.Token)
	}
	// Only clear the app index if it still points at this entry;
	// a newer connection for the same app ID may have replaced it.
	if current, exists := r.byApp[entry.AppID]; exists && current == entry {
		delete(r.byApp, entry.AppID)
	}
	return entry, nil
}

// Touch updates the last seen timestamp for the app behind connID.
func (r *AppRegistry) Touch(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byConn[connID]
	if !ok {
		return ErrAppNotFound
	}
	entry.LastSeen = time.Now()
	return nil
}

// Authorized returns all authorized app entries.
func (r *AppRegistry) Authorized() []*AppEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*AppEntry
	for _, entry := range r.byConn {
		if entry.Authorized() {
			out = append(out, entry)
		}
	}
	return out
}

// Pending returns entries still awaiting authorization, older than the
// given age. Zero age returns all of them.
func (r *AppRegistry) Pending(olderThan time.Duration) []*AppEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Now().Add(-olderThan)
	var out []*AppEntry
	for _, entry := range r.byConn {
		if entry.Authorized() {
			continue
		}
		if olderThan == 0 || entry.ConnectedAt.Before(cutoff) {
			out = append(out, entry)
		}
	}
	return out
}

// Count returns the number of tracked app connections.
func (r *AppRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
