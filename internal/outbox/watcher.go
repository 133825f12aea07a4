// Package outbox implements OutboxWatcher: one live subscription per ready
// session over its turns collection, claiming and delivering ready turns
// at most once. The per-session worker supervision (map of cancel funcs,
// bounded concurrency, graceful shutdown with a wait-group) is generalized
// from internal/background/polling_manager.go's PollingManager/PollingWorker
// split; the claim itself is delegated to internal/store.TurnStore.Claim,
// the one place a real Firestore transaction is required.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/eternisai/wa-bridge/internal/logger"
	"github.com/eternisai/wa-bridge/internal/store"
)

// Sender is the subset of SessionSupervisor the watcher dispatches through.
type Sender interface {
	SendText(ctx context.Context, accountID, label, chatID, text string) (waMessageID string, err error)
	SendVoice(ctx context.Context, accountID, label, chatID, audioURL, caption string) (waMessageID string, err error)
}

// Policy is the subset of PolicyCache the watcher consults before sending.
type Policy interface {
	AllowSend(ctx context.Context, accountID, label, chatID string) bool
}

// TurnStore is the subset of store.TurnStore the watcher needs.
type TurnStore interface {
	CollectionGroupReady(accountID, label string) firestore.Query
	Claim(ctx context.Context, ref *firestore.DocumentRef, now int64) (*store.Turn, error)
	MarkDelivered(ctx context.Context, ref *firestore.DocumentRef, waMessageID string, now int64) error
	MarkSkipped(ctx context.Context, ref *firestore.DocumentRef, now int64) error
	MarkError(ctx context.Context, ref *firestore.DocumentRef, stage, detail string) error
}

// Metrics is the narrow counter surface the watcher reports through
// (internal/metrics wires the concrete Prometheus collectors).
type Metrics interface {
	ObserveClaimWon()
	ObserveClaimLost()
	ObserveDelivered()
	ObserveSkipped()
	ObserveError(stage string)
}

const fallbackReplyText = "Mensaje listo."

// Watcher is OutboxWatcher.
type Watcher struct {
	log     *logger.Logger
	turns   TurnStore
	sender  Sender
	policy  Policy
	metrics Metrics
	maxConcurrent int

	mu       sync.Mutex
	watchers map[string]context.CancelFunc // "{accountId}/{label}" -> cancel
	wg       sync.WaitGroup
}

// New creates an OutboxWatcher.
func New(log *logger.Logger, turns TurnStore, sender Sender, policy Policy, metrics Metrics, maxConcurrent int) *Watcher {
	return &Watcher{
		log:           log.WithComponent("outbox_watcher"),
		turns:         turns,
		sender:        sender,
		policy:        policy,
		metrics:       metrics,
		maxConcurrent: maxConcurrent,
		watchers:      make(map[string]context.CancelFunc),
	}
}

// SetSender wires the Sender after construction. SessionSupervisor is the
// Sender and is itself constructed with a reference to this watcher's
// StartSession/StopSession as callbacks, so one side of the pair must be
// set post-construction to keep the wiring module the only place that
// breaks the cycle (SPEC_FULL.md §9).
func (w *Watcher) SetSender(sender Sender) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sender = sender
}

// StartSession begins watching a session's ready turns; idempotent. Called
// when a session transitions to "ready" (SPEC_FULL.md §4.5).
func (w *Watcher) StartSession(ctx context.Context, accountID, label string) error {
	key := accountID + "/" + label

	w.mu.Lock()
	if _, exists := w.watchers[key]; exists {
		w.mu.Unlock()
		return nil
	}
	if len(w.watchers) >= w.maxConcurrent {
		w.mu.Unlock()
		return fmt.Errorf("outbox: too many concurrent watchers (%d/%d)", len(w.watchers), w.maxConcurrent)
	}
	workerCtx, cancel := context.WithCancel(ctx)
	w.watchers[key] = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(workerCtx, accountID, label, key)
	return nil
}

// StopSession tears down a session's watcher (SPEC_FULL.md §4.5: torn down
// when the session leaves "ready").
func (w *Watcher) StopSession(accountID, label string) {
	key := accountID + "/" + label
	w.mu.Lock()
	cancel, exists := w.watchers[key]
	delete(w.watchers, key)
	w.mu.Unlock()
	if exists {
		cancel()
	}
}

func (w *Watcher) run(ctx context.Context, accountID, label, key string) {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		delete(w.watchers, key)
		w.mu.Unlock()
	}()

	w.log.Info("outbox watcher started", slog.String("session", key))
	defer w.log.Info("outbox watcher stopped", slog.String("session", key))

	it := w.turns.CollectionGroupReady(accountID, label).Snapshots(ctx)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error("outbox snapshot error, watcher torn down", slog.String("session", key), slog.String("error", err.Error()))
			return
		}
		for _, change := range snap.Changes {
			if change.Kind != firestore.DocumentAdded && change.Kind != firestore.DocumentModified {
				continue
			}
			w.process(ctx, change.Doc.Ref)
		}
	}
}

// process runs the claim -> validate -> policy -> dispatch pipeline for one
// turn document (SPEC_FULL.md §4.5 steps 1-6).
func (w *Watcher) process(ctx context.Context, ref *firestore.DocumentRef) {
	now := time.Now().UnixMilli()

	turn, err := w.turns.Claim(ctx, ref, now)
	if err != nil {
		if err == store.ErrAlreadyClaimed {
			w.metrics.ObserveClaimLost()
			return
		}
		w.log.Error("claim failed", slog.String("ref", ref.Path), slog.String("error", err.Error()))
		return
	}
	w.metrics.ObserveClaimWon()

	if turn.Meta.AccountID == "" || turn.Meta.Label == "" || turn.Meta.ChatID == "" {
		w.metrics.ObserveError("validate")
		_ = w.turns.MarkError(ctx, ref, "validate", "missing meta fields")
		return
	}

	if !w.policy.AllowSend(ctx, turn.Meta.AccountID, turn.Meta.Label, turn.Meta.ChatID) {
		w.metrics.ObserveSkipped()
		_ = w.turns.MarkSkipped(ctx, ref, time.Now().UnixMilli())
		return
	}

	var waMessageID string
	if turn.Response != nil && turn.Response.Modality == store.ResponseVoice && turn.Response.Audio != nil && turn.Response.Audio.URL != "" {
		waMessageID, err = w.sender.SendVoice(ctx, turn.Meta.AccountID, turn.Meta.Label, turn.Meta.ChatID, turn.Response.Audio.URL, turn.Response.Text)
	} else {
		text := fallbackReplyText
		if turn.Response != nil {
			if trimmed := strings.TrimSpace(turn.Response.Text); trimmed != "" {
				text = trimmed
			}
		}
		waMessageID, err = w.sender.SendText(ctx, turn.Meta.AccountID, turn.Meta.Label, turn.Meta.ChatID, text)
	}

	if err != nil {
		w.metrics.ObserveError("send")
		_ = w.turns.MarkError(ctx, ref, "send", err.Error())
		return
	}

	w.metrics.ObserveDelivered()
	if err := w.turns.MarkDelivered(ctx, ref, waMessageID, time.Now().UnixMilli()); err != nil {
		w.log.Error("failed to record delivered turn", slog.String("ref", ref.Path), slog.String("error", err.Error()))
	}
}

// Shutdown cancels every watcher and waits up to timeout for workers to
// drain, matching PollingManager.Shutdown's bounded wait.
func (w *Watcher) Shutdown(timeout time.Duration) error {
	w.mu.Lock()
	for _, cancel := range w.watchers {
		cancel()
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("outbox: shutdown timed out after %s", timeout)
	}
}

// ActiveCount reports the number of sessions currently being watched (for
// the /metrics gauge).
func (w *Watcher) ActiveCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watchers)
}
