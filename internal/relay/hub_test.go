package relay

import "testing"

func TestHubReturnsSameSessionForID(t *testing.T) {
	hub := NewHub(testEnvelope(), &fakePersister{})
	t.Cleanup(hub.Close)

	a := hub.Attach("alpha")
	b := hub.Attach("alpha")
	if a != b {
		t.Fatal("expected the same session for one ID")
	}
	if c := hub.Attach("beta"); c == a {
		t.Fatal("expected distinct sessions for distinct IDs")
	}
}

func TestHubLookupDoesNotCreate(t *testing.T) {
	hub := NewHub(testEnvelope(), &fakePersister{})
	t.Cleanup(hub.Close)

	if _, ok := hub.Lookup("missing"); ok {
		t.Fatal("lookup must not create sessions")
	}
	hub.Attach("alpha")
	if _, ok := hub.Lookup("alpha"); !ok {
		t.Fatal("expected lookup to find existing session")
	}
}

func TestHubReapsSessionAfterLastDetach(t *testing.T) {
	hub := NewHub(testEnvelope(), &fakePersister{})
	t.Cleanup(hub.Close)

	hub.Attach("alpha")
	hub.Attach("alpha")

	hub.Detach("alpha")
	if _, ok := hub.Lookup("alpha"); !ok {
		t.Fatal("session must survive while attachments remain")
	}

	hub.Detach("alpha")
	if _, ok := hub.Lookup("alpha"); ok {
		t.Fatal("expected session reaped after last detach")
	}
	if len(hub.Snapshots()) != 0 {
		t.Fatal("reaped session must not appear in snapshots")
	}

	// A fresh attach after reaping starts a new session.
	if hub.Attach("alpha") == nil {
		t.Fatal("expected a new session after reaping")
	}
}

func TestHubDetachUnknownSessionIsNoop(t *testing.T) {
	hub := NewHub(testEnvelope(), &fakePersister{})
	t.Cleanup(hub.Close)

	hub.Detach("missing")
	if hub.Attach("alpha") == nil {
		t.Fatal("expected attach to work after stray detach")
	}
}

func TestHubSnapshotsCoverAllSessions(t *testing.T) {
	hub := NewHub(testEnvelope(), &fakePersister{})
	t.Cleanup(hub.Close)

	alpha := hub.Attach("alpha")
	alpha.HandleVector(inRangeVector())
	if err := alpha.HandleFrame([]byte("frame")); err != nil {
		t.Fatalf("handle frame: %v", err)
	}
	hub.Attach("beta")

	snapshots := hub.Snapshots()
	if len(snapshots) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snapshots))
	}
	byID := map[string]Snapshot{}
	for _, snap := range snapshots {
		byID[snap.SessionID] = snap
	}
	if !byID["alpha"].Armed {
		t.Fatal("expected alpha armed")
	}
	if byID["beta"].Armed {
		t.Fatal("expected beta blocked")
	}
	if byID["alpha"].Frame != nil {
		t.Fatal("hub-wide snapshots must omit frame payloads")
	}
}

func TestHubCloseRejectsNewSessions(t *testing.T) {
	hub := NewHub(testEnvelope(), &fakePersister{})
	hub.Attach("alpha")
	hub.Close()

	if hub.Attach("beta") != nil {
		t.Fatal("expected nil session after close")
	}
}
