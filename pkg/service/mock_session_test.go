package service

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/kiosknet-protocol/kiosknet-go/pkg/registry"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/wire"
)

// mockSession is a hand-written registry.Session fake that records every
// sent message for later inspection.
type mockSession struct {
	mu     sync.Mutex
	id     string
	sent   [][]byte
	closed bool
	code   uint16
	reason string
}

var _ registry.Session = (*mockSession)(nil)

func newMockSession(id string) *mockSession {
	return &mockSession{id: id}
}

func (m *mockSession) ID() string { return m.id }

func (m *mockSession) SendText(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, payload)
	return nil
}

func (m *mockSession) Close(code uint16, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.code = code
	m.reason = reason
	return nil
}

func (m *mockSession) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

// sentTypes returns the canonical type of every message sent so far.
func (m *mockSession) sentTypes(t *testing.T) []string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	var types []string
	for _, raw := range m.sent {
		header, err := wire.DecodeHeader(raw)
		if err != nil {
			t.Fatalf("sent message is not an envelope: %v", err)
		}
		types = append(types, header.Type)
	}
	return types
}

// lastSent decodes the most recent message into out.
func (m *mockSession) lastSent(t *testing.T, out any) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sent) == 0 {
		t.Fatal("no messages sent")
	}
	if err := json.Unmarshal(m.sent[len(m.sent)-1], out); err != nil {
		t.Fatalf("decode last sent message: %v", err)
	}
}

func (m *mockSession) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}
