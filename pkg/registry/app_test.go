package registry

import (
	"testing"
	"time"
)

func TestAppRegistryAddAndLookup(t *testing.T) {
	reg := NewAppRegistry()
	sess := newFakeSession("conn-a1")

	entry := reg.Add(sess, "app-1", "Ops Phone", "ios")
	if entry.Authorized() {
		t.Error("new app should start unauthorized")
	}

	byConn, err := reg.ByConn("conn-a1")
	if err != nil {
		t.Fatalf("ByConn: %v", err)
	}
	byApp, err := reg.ByApp("app-1")
	if err != nil {
		t.Fatalf("ByApp: %v", err)
	}
	if byConn != entry || byApp != entry {
		t.Error("both indexes should return the same entry")
	}

	pending := reg.Pending(0)
	if len(pending) != 1 || pending[0] != entry {
		t.Errorf("Pending() = %d entries, want the new entry", len(pending))
	}
}

func TestAppRegistryAuthorize(t *testing.T) {
	reg := NewAppRegistry()
	reg.Add(newFakeSession("conn-a2"), "app-2", "", "android")

	entry, err := reg.Authorize("conn-a2", "tok-abc")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !entry.Authorized() {
		t.Error("entry should be authorized")
	}

	byToken, err := reg.ByToken("tok-abc")
	if err != nil {
		t.Fatalf("ByToken: %v", err)
	}
	if byToken != entry {
		t.Error("token index should return the authorized entry")
	}

	if len(reg.Pending(0)) != 0 {
		t.Error("authorized app should leave the pending set")
	}
	if len(reg.Authorized()) != 1 {
		t.Errorf("Authorized() = %d entries, want 1", len(reg.Authorized()))
	}

	if _, err := reg.Authorize("ghost", "tok-x"); err != ErrAppNotFound {
		t.Errorf("Authorize unknown: err = %v, want ErrAppNotFound", err)
	}
}

func TestAppRegistryReissueToken(t *testing.T) {
	reg := NewAppRegistry()
	reg.Add(newFakeSession("conn-a2b"), "app-2b", "", "")

	if _, err := reg.Authorize("conn-a2b", "tok-old"); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if _, err := reg.Authorize("conn-a2b", "tok-new"); err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	if _, err := reg.ByToken("tok-old"); err != ErrAppNotFound {
		t.Error("stale token should leave the token index")
	}
	if _, err := reg.ByToken("tok-new"); err != nil {
		t.Errorf("ByToken(tok-new): %v", err)
	}
}

func TestAppRegistryRemoveClearsAllIndexes(t *testing.T) {
	reg := NewAppRegistry()
	reg.Add(newFakeSession("conn-a3"), "app-3", "", "")
	if _, err := reg.Authorize("conn-a3", "tok-3"); err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	removed, err := reg.Remove("conn-a3")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed.AppID != "app-3" {
		t.Errorf("removed AppID = %q, want app-3", removed.AppID)
	}
	if _, err := reg.ByConn("conn-a3"); err != ErrAppNotFound {
		t.Error("connection index should be cleared")
	}
	if _, err := reg.ByApp("app-3"); err != ErrAppNotFound {
		t.Error("app index should be cleared")
	}
	if _, err := reg.ByToken("tok-3"); err != ErrAppNotFound {
		t.Error("token index should be cleared")
	}
	if reg.Count() != 0 {
		t.Errorf("Count() = %d, want 0", reg.Count())
	}
}

func TestAppRegistryDuplicateAppIDNewerWins(t *testing.T) {
	reg := NewAppRegistry()
	oldSess := newFakeSession("conn-old")
	newSess := newFakeSession("conn-new")

	reg.Add(oldSess, "app-dup", "", "")
	if _, err := reg.Authorize("conn-old", "tok-dup"); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	reg.Add(newSess, "app-dup", "", "")

	if !oldSess.closed {
		t.Error("superseded session should be closed")
	}
	entry, err := reg.ByApp("app-dup")
	if err != nil {
		t.Fatalf("ByApp: %v", err)
	}
	if entry.Session.ID() != "conn-new" {
		t.Errorf("app index points at %q, want conn-new", entry.Session.ID())
	}
	if _, err := reg.ByConn("conn-old"); err != ErrAppNotFound {
		t.Error("evicted connection should leave the connection index")
	}
	if _, err := reg.ByToken("tok-dup"); err != ErrAppNotFound {
		t.Error("evicted token should leave the token index")
	}

	// Removing the new connection leaves nothing behind.
	if _, err := reg.Remove("conn-new"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if reg.Count() != 0 {
		t.Errorf("Count() = %d, want 0", reg.Count())
	}
}

func TestAppRegistryPendingCutoff(t *testing.T) {
	reg := NewAppRegistry()
	reg.Add(newFakeSession("conn-p1"), "app-p1", "", "")

	time.Sleep(10 * time.Millisecond)
	reg.Add(newFakeSession("conn-p2"), "app-p2", "", "")

	stale := reg.Pending(5 * time.Millisecond)
	if len(stale) != 1 {
		t.Fatalf("Pending(5ms) = %d entries, want 1", len(stale))
	}
	if stale[0].AppID != "app-p1" {
		t.Errorf("stale app = %q, want app-p1", stale[0].AppID)
	}
}
