package service

import (
	"sync"
	"time"
)

// requestKind classifies a pending app request awaiting a device reply.
type requestKind uint8

const (
	requestCommand requestKind = iota
	requestScreenshot
)

// pendingRequest correlates an app request with the device reply that
// will eventually carry the same request ID.
type pendingRequest struct {
	AppConnID string
	TargetID  string
	Kind      requestKind
	CreatedAt time.Time
}

// requestTracker tracks in-flight app→device requests by request ID so
// device replies can be routed back to the requesting app connection.
type requestTracker struct {
	mu   sync.Mutex
	byID map[string]pendingRequest
}

func newRequestTracker() *requestTracker {
	return &requestTracker{byID: make(map[string]pendingRequest)}
}

// Add records an in-flight request. An existing entry with the same ID
// is overwritten.
func (t *requestTracker) Add(requestID, appConnID, targetID string, kind requestKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[requestID] = pendingRequest{
		AppConnID: appConnID,
		TargetID:  targetID,
		Kind:      kind,
		CreatedAt: time.Now(),
	}
}

// Take removes and returns the request with the given ID.
func (t *requestTracker) Take(requestID string) (pendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.byID[requestID]
	if ok {
		delete(t.byID, requestID)
	}
	return req, ok
}

// ExpireOlder drops requests older than maxAge and returns them, so
// callers can fail them back to the requesting apps.
func (t *requestTracker) ExpireOlder(maxAge time.Duration) []pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var expired []pendingRequest
	for id, req := range t.byID {
		if req.CreatedAt.Before(cutoff) {
			expired = append(expired, req)
			delete(t.byID, id)
		}
	}
	return expired
}

// Len returns the number of in-flight requests.
func (t *requestTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}
