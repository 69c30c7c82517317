package registry

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrDeviceNotFound indicates no entry under the given key.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrNotTracked indicates the connection was never added.
	ErrNotTracked = errors.New("connection not tracked")
)

// Session is the connection surface the registries need. Satisfied by
// *transport.Conn; tests substitute fakes.
type Session interface {
	ID() string
	SendText(payload []byte) error
	Close(code uint16, reason string) error
	IsOpen() bool
}

// DeviceEntry holds the live state of one fleet display.
type DeviceEntry struct {
	Session Session

	// DeviceID is empty until the device registers.
	DeviceID string

	Name          string
	Model         string
	Firmware      string
	Status        string
	CurrentLayout string

	ConnectedAt  time.Time
	RegisteredAt time.Time
	LastSeen     time.Time
}

// Registered reports whether the device has completed registration.
func (e *DeviceEntry) Registered() bool {
	return e.DeviceID != ""
}

// DeviceRegistry tracks device connections keyed by device ID, with a
// secondary index from connection ID so a dropped connection can be
// cleaned up before the device ever registered.
type DeviceRegistry struct {
	mu sync.RWMutex

	// entries is keyed by the provisional connection ID until Rekey,
	// then by the stable device ID.
	entries map[string]*DeviceEntry

	// byConn maps connection IDs to the current entries key.
	byConn map[string]string

	onRegistered  func(entry *DeviceEntry)
	onDisconnect  func(entry *DeviceEntry)
	onStatusShift func(entry *DeviceEntry)
}

// NewDeviceRegistry creates an empty device registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		entries: make(map[string]*DeviceEntry),
		byConn:  make(map[string]string),
	}
}

// Add tracks a new connection under its provisional connection ID.
func (r *DeviceRegistry) Add(session Session) *DeviceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	entry := &DeviceEntry{
		Session:     session,
		ConnectedAt: now,
		LastSeen:    now,
	}
	r.entries[session.ID()] = entry
	r.byConn[session.ID()] = session.ID()
	return entry
}

// Rekey moves the entry tracked under connID to the stable deviceID.
// If another live connection already holds that device ID the newer
// connection wins: the old one is closed and evicted.
func (r *DeviceRegistry) Rekey(connID, deviceID string) (*DeviceEntry, error) {
	r.mu.Lock()

	key, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotTracked
	}
	entry := r.entries[key]

	var evicted *DeviceEntry
	if prev, exists := r.entries[deviceID]; exists && prev != entry {
		evicted = prev
		delete(r.byConn, prev.Session.ID())
	}

	delete(r.entries, key)
	entry.DeviceID = deviceID
	entry.RegisteredAt = time.Now()
	r.entries[deviceID] = entry
	r.byConn[connID] = deviceID

	onRegistered := r.onRegistered
	r.mu.Unlock()

	if evicted != nil {
		_ = evicted.Session.Close(1000, "superseded by new connection")
	}
	if onRegistered != nil {
		onRegistered(entry)
	}
	return entry, nil
}

// Resolve returns the entry for a registered device ID.
func (r *DeviceRegistry) Resolve(deviceID string) (*DeviceEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[deviceID]
	if !ok || !entry.Registered() {
		return nil, ErrDeviceNotFound
	}
	return entry, nil
}

// ByConn returns the entry for a connection ID, registered or not.
func (r *DeviceRegistry) ByConn(connID string) (*DeviceEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.byConn[connID]
	if !ok {
		return nil, ErrNotTracked
	}
	return r.entries[key], nil
}

// RemoveByConn drops whatever entry the connection ID maps to.
// Returns the removed entry, or ErrNotTracked.
func (r *DeviceRegistry) RemoveByConn(connID string) (*DeviceEntry, error) {
	r.mu.Lock()

	key, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotTracked
	}
	entry := r.entries[key]
	delete(r.entries, key)
	delete(r.byConn, connID)

	onDisconnect := r.onDisconnect
	r.mu.Unlock()

	if onDisconnect != nil && entry.Registered() {
		onDisconnect(entry)
	}
	return entry, nil
}

// Touch updates the last seen timestamp for a registered device.
func (r *DeviceRegistry) Touch(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[deviceID]
	if !ok {
		return ErrDeviceNotFound
	}
	entry.LastSeen = time.Now()
	return nil
}

// UpdateStatus records a device's reported playback state.
func (r *DeviceRegistry) UpdateStatus(deviceID, status, currentLayout string) error {
	r.mu.Lock()

	entry, ok := r.entries[deviceID]
	if !ok {
		r.mu.Unlock()
		return ErrDeviceNotFound
	}
	entry.Status = status
	if currentLayout != "" {
		entry.CurrentLayout = currentLayout
	}
	entry.LastSeen = time.Now()

	onStatusShift := r.onStatusShift
	r.mu.Unlock()

	if onStatusShift != nil {
		onStatusShift(entry)
	}
	return nil
}

// UpdateInfo records the descriptive fields a device reported at
// registration.
func (r *DeviceRegistry) UpdateInfo(deviceID, name, model, firmware string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[deviceID]
	if !ok {
		return ErrDeviceNotFound
	}
	entry.Name = name
	entry.Model = model
	entry.Firmware = firmware
	return nil
}

// Registered returns all entries that completed registration.
func (r *DeviceRegistry) Registered() []*DeviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*DeviceEntry
	for _, entry := range r.entries {
		if entry.Registered() {
			out = append(out, entry)
		}
	}
	return out
}

// Provisional returns entries that connected but never registered,
// older than the given age. Used by the stale-connection reaper.
func (r *DeviceRegistry) Provisional(olderThan time.Duration) []*DeviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Now().Add(-olderThan)
	var out []*DeviceEntry
	for _, entry := range r.entries {
		if !entry.Registered() && entry.ConnectedAt.Before(cutoff) {
			out = append(out, entry)
		}
	}
	return out
}

// Count returns the number of tracked connections, registered or not.
func (r *DeviceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// OnRegistered sets a callback fired after a device completes registration.
func (r *DeviceRegistry) OnRegistered(fn func(entry *DeviceEntry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRegistered = fn
}

// OnDisconnect sets a callback fired when a registered device drops.
func (r *DeviceRegistry) OnDisconnect(fn func(entry *DeviceEntry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = fn
}

// OnStatusShift sets a callback fired when a device reports new status.
func (r *DeviceRegistry) OnStatusShift(fn func(entry *DeviceEntry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStatusShift = fn
}
