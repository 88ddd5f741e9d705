package syncer

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/permitworks/permittrack/internal/storage"
	"github.com/permitworks/permittrack/internal/tracker"
)

type fakeRemoteStore struct {
	fakeStore
	revision int64
	exists   bool
	fetchErr error
}

func (f *fakeRemoteStore) KnownRevision() int64 { return f.revision }

func (f *fakeRemoteStore) FetchRemoteRevision(ctx context.Context) (int64, bool, error) {
	return f.revision, f.exists, f.fetchErr
}

func newTestNotifier() (*Notifier, *fakeRemoteStore) {
	store := &fakeRemoteStore{exists: true}
	store.remote = tracker.NewBundle()
	return NewNotifier(store, zerolog.Nop()), store
}

func TestNotifierAppliesNewRevisionWhenIdle(t *testing.T) {
	notifier, _ := newTestNotifier()
	applied := 0
	notifier.OnApply = func(trigger string) {
		applied++
		if trigger != TriggerRealtime {
			t.Fatalf("trigger = %q", trigger)
		}
	}
	notifier.HandleRevision(7, TriggerRealtime)
	if applied != 1 {
		t.Fatalf("applied = %d", applied)
	}
}

func TestNotifierIgnoresStaleRevisions(t *testing.T) {
	notifier, _ := newTestNotifier()
	applied := 0
	notifier.OnApply = func(string) { applied++ }

	notifier.MarkApplied(7)
	notifier.HandleRevision(7, TriggerPoll)
	notifier.HandleRevision(3, TriggerPoll)
	if applied != 0 {
		t.Fatalf("stale revisions must be no-ops, applied = %d", applied)
	}
	notifier.HandleRevision(8, TriggerPoll)
	if applied != 1 {
		t.Fatalf("newer revision must apply, applied = %d", applied)
	}
}

func TestNotifierTreatsUnknownRevisionAsNew(t *testing.T) {
	notifier, _ := newTestNotifier()
	applied := 0
	notifier.OnApply = func(string) { applied++ }
	notifier.MarkApplied(7)

	// File watches cannot tell which revision changed.
	notifier.HandleRevision(0, TriggerFile)
	if applied != 1 {
		t.Fatalf("revision 0 must always apply, applied = %d", applied)
	}
}

func TestNotifierDefersWhileEditingAndFlushesOnce(t *testing.T) {
	notifier, _ := newTestNotifier()
	busy := true
	applied := 0
	notices := 0
	notifier.EditorBusy = func() bool { return busy }
	notifier.OnApply = func(trigger string) {
		applied++
		if trigger != TriggerFlush {
			t.Fatalf("deferred apply should come from flush, got %q", trigger)
		}
	}
	notifier.OnPending = func() { notices++ }

	notifier.HandleRevision(5, TriggerPoll)
	notifier.HandleRevision(6, TriggerRealtime)
	notifier.HandleRevision(7, TriggerPoll)
	if applied != 0 {
		t.Fatalf("nothing should apply while editing, applied = %d", applied)
	}
	if notices != 1 {
		t.Fatalf("the pending notice fires once per streak, notices = %d", notices)
	}

	busy = false
	notifier.Flush()
	notifier.Flush()
	if applied != 1 {
		t.Fatalf("flush applies the deferred refresh exactly once, applied = %d", applied)
	}
}

func TestNotifierPendingNoticeResetsAfterApply(t *testing.T) {
	notifier, _ := newTestNotifier()
	busy := true
	notices := 0
	notifier.EditorBusy = func() bool { return busy }
	notifier.OnPending = func() { notices++ }
	notifier.OnApply = func(string) {}

	notifier.HandleRevision(5, TriggerPoll)
	busy = false
	notifier.Flush()

	busy = true
	notifier.HandleRevision(6, TriggerPoll)
	if notices != 2 {
		t.Fatalf("a new streak gets a new notice, notices = %d", notices)
	}
}

func TestNotifierPollForwardsRevision(t *testing.T) {
	notifier, store := newTestNotifier()
	store.revision = 9
	applied := 0
	notifier.OnApply = func(trigger string) {
		applied++
		if trigger != TriggerPoll {
			t.Fatalf("trigger = %q", trigger)
		}
	}
	notifier.poll(context.Background())
	if applied != 1 {
		t.Fatalf("applied = %d", applied)
	}
	notifier.MarkApplied(9)
	notifier.poll(context.Background())
	if applied != 1 {
		t.Fatalf("poll at known revision must be a no-op, applied = %d", applied)
	}
}

var _ storage.RemoteStore = (*fakeRemoteStore)(nil)
