package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/permitworks/permittrack/internal/storage"
)

// Triggers, carried through to the apply callback for logging.
const (
	TriggerPoll     = "poll"
	TriggerRealtime = "realtime"
	TriggerFile     = "file"
	TriggerFlush    = "flush"
)

const defaultPollInterval = 5 * time.Second

// Notifier watches a remote store for revisions newer than the last one this
// client applied. While the editor is busy the refresh is deferred: a single
// pending flag is set, a one-time notice fires, and Flush applies the
// refresh exactly once when the editor goes idle.
type Notifier struct {
	store storage.RemoteStore
	log   zerolog.Logger

	// PollInterval controls the revision poll cadence. Set before Run.
	PollInterval time.Duration

	// OnApply runs when a newer revision should be loaded into the app.
	OnApply func(trigger string)
	// OnPending runs once per deferral streak, when a change first arrives
	// while the editor is busy.
	OnPending func()
	// EditorBusy reports whether applying now would interrupt the user.
	EditorBusy func() bool

	mu          sync.Mutex
	lastApplied int64
	pending     bool
	noticed     bool
}

func NewNotifier(store storage.RemoteStore, log zerolog.Logger) *Notifier {
	return &Notifier{
		store:        store,
		log:          log.With().Str("component", "notifier").Logger(),
		PollInterval: defaultPollInterval,
	}
}

// MarkApplied records the revision the app now holds. Older notifications
// are ignored from here on.
func (n *Notifier) MarkApplied(revision int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if revision > n.lastApplied {
		n.lastApplied = revision
	}
	n.pending = false
	n.noticed = false
}

// HandleRevision reacts to a revision observed via any trigger. Revisions at
// or below the last applied one are no-ops. A revision of 0 means the
// trigger could not tell which revision changed (file watches), so it is
// treated as potentially newer.
func (n *Notifier) HandleRevision(revision int64, trigger string) {
	n.mu.Lock()
	if revision > 0 && revision <= n.lastApplied {
		n.mu.Unlock()
		return
	}
	busy := n.EditorBusy != nil && n.EditorBusy()
	if busy {
		n.pending = true
		notify := !n.noticed
		n.noticed = true
		n.mu.Unlock()
		n.log.Info().Int64("revision", revision).Str("trigger", trigger).Msg("remote change deferred, editor busy")
		if notify && n.OnPending != nil {
			n.OnPending()
		}
		return
	}
	n.pending = false
	n.noticed = false
	n.mu.Unlock()

	n.log.Info().Int64("revision", revision).Str("trigger", trigger).Msg("applying remote change")
	if n.OnApply != nil {
		n.OnApply(trigger)
	}
}

// Flush applies a deferred refresh, if one is pending. Call when the editor
// returns to idle.
func (n *Notifier) Flush() {
	n.mu.Lock()
	if !n.pending {
		n.mu.Unlock()
		return
	}
	n.pending = false
	n.noticed = false
	n.mu.Unlock()

	n.log.Info().Msg("applying deferred remote change")
	if n.OnApply != nil {
		n.OnApply(TriggerFlush)
	}
}

// Run polls the remote revision until the context is cancelled. Poll errors
// are logged and retried on the next tick.
func (n *Notifier) Run(ctx context.Context) {
	ticker := time.NewTicker(n.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.poll(ctx)
		}
	}
}

func (n *Notifier) poll(ctx context.Context) {
	revision, exists, err := n.store.FetchRemoteRevision(ctx)
	if err != nil {
		n.log.Warn().Err(err).Msg("revision poll failed")
		return
	}
	if !exists {
		return
	}
	n.HandleRevision(revision, TriggerPoll)
}
