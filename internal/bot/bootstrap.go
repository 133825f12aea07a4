// Package bot is the wiring module: it constructs SessionSupervisor,
// PolicyCache, BufferManager, OutboxWatcher, and WsHub (MediaCache is
// constructed by the caller and passed in) with
// explicit dependencies so the event-bus -> BufferManager -> store ->
// OutboxWatcher -> SessionSupervisor -> event-bus loop stays acyclic in code
// even though its data flow is a loop (SPEC_FULL.md §9). No component here
// owns another; this package is the only place that does. Grounded on the
// teacher's cmd/server/main.go construct-then-start sequencing.
package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/eternisai/wa-bridge/internal/blob"
	"github.com/eternisai/wa-bridge/internal/buffer"
	"github.com/eternisai/wa-bridge/internal/config"
	"github.com/eternisai/wa-bridge/internal/logger"
	"github.com/eternisai/wa-bridge/internal/media"
	"github.com/eternisai/wa-bridge/internal/metrics"
	"github.com/eternisai/wa-bridge/internal/outbox"
	"github.com/eternisai/wa-bridge/internal/policy"
	"github.com/eternisai/wa-bridge/internal/rbac"
	"github.com/eternisai/wa-bridge/internal/session"
	"github.com/eternisai/wa-bridge/internal/store"
	"github.com/eternisai/wa-bridge/internal/wadomain"
	"github.com/eternisai/wa-bridge/internal/wshub"
)

// Bot bundles every long-running component for one process. cmd/server
// constructs one Bot after dialing Firestore/GCS and starts it; nothing in
// this package dials a network connection itself.
type Bot struct {
	log *logger.Logger
	cfg *config.Config

	Store      *store.Store
	Media      *media.Cache
	Policy     *policy.Cache
	Blob       *blob.Store
	Buffer     *buffer.Manager
	Supervisor *session.Supervisor
	Outbox     *outbox.Watcher
	Hub        *wshub.Hub
	Rbac       *rbac.Registry
	Metrics    *metrics.Registry

	stop chan struct{}
}

// Build wires every component per cfg without starting any background loop;
// call Run to start them. factory constructs the per-session platform
// client; st and blobStore must already be dialed against live backends (or
// test doubles). mediaCache is constructed by the caller (rather than by
// Build itself) because blobStore's MediaReader must be the same instance
// Build wires into SessionSupervisor, and blobStore is necessarily
// constructed before Build runs.
func Build(log *logger.Logger, cfg *config.Config, st *store.Store, mediaCache *media.Cache, blobStore *blob.Store, factory session.ClientFactory) *Bot {
	policyCache := policy.New(log, st, cfg.PolicyCacheTTL)
	rbacRegistry := rbac.New(log, st.Acl(), cfg.PolicyCacheTTL)
	metricsRegistry := metrics.New()

	b := &Bot{
		log:     log,
		cfg:     cfg,
		Store:   st,
		Media:   mediaCache,
		Policy:  policyCache,
		Blob:    blobStore,
		Rbac:    rbacRegistry,
		Metrics: metricsRegistry,
		stop:    make(chan struct{}),
	}

	b.Hub = wshub.New(log, cfg.WsSendBufferSize, cfg.WsDropThreshold, cfg.WsMaxConnections, cfg.WsHeartbeatTick)

	b.Buffer = buffer.New(log, policyCache, blobStore, st.Turns(), buffer.Config{
		Debounce:        cfg.BufferDebounce,
		HardCap:         cfg.BufferHardCap,
		GCIdle:          cfg.BufferGCIdle,
		ShortTextMaxLen: cfg.ShortTextMaxLen,
		FinalizerWords:  cfg.Phrases.FinalizerWords,
		Phrases: buffer.PhraseTables{
			VoicePhrases: cfg.Phrases.VoicePhrases,
			TextPhrases:  cfg.Phrases.TextPhrases,
		},
	})

	b.Outbox = outbox.New(log, st.Turns(), nil, policyCache, metricsRegistry, cfg.OutboxMaxConcurrentWatchers)

	b.Supervisor = session.New(log, session.Config{
		Sessions:    st.Sessions(),
		Media:       mediaCache,
		Factory:     factory,
		AuthBaseDir: cfg.SessionAuthDir,
		OnEvent:     b.onSupervisorEvent,
		OnReady:     b.onSessionReady,
		OnNotReady:  b.onSessionNotReady,
	})

	// OutboxWatcher.Sender is SessionSupervisor, which did not exist yet
	// when Outbox was constructed above; wire the back-reference now. This
	// is the one explicit break in the cycle SPEC_FULL.md §9 calls out.
	b.Outbox.SetSender(b.Supervisor)

	return b
}

func (b *Bot) onSupervisorEvent(evt wadomain.Event) {
	b.Buffer.HandleEvent(context.Background(), evt)
	b.Hub.Broadcast(evt)
}

func (b *Bot) onSessionReady(accountID, label string) {
	if err := b.Outbox.StartSession(context.Background(), accountID, label); err != nil {
		b.log.Error("failed to start outbox watcher", slog.String("accountId", accountID), slog.String("label", label), slog.String("error", err.Error()))
	}
}

func (b *Bot) onSessionNotReady(accountID, label string) {
	b.Outbox.StopSession(accountID, label)
}

// Run starts every background loop: MediaCache sweeping, BufferManager GC,
// and the metrics gauge poller. It does not restore or init any session —
// cmd/server calls Supervisor.RestoreAllFromFs explicitly so that startup
// ordering stays visible at the call site.
func (b *Bot) Run() {
	go b.Media.Run(b.stop, b.cfg.MediaSweepTick)
	go b.Buffer.Run(b.stop, b.cfg.BufferGCTick)

	pollerCtx, cancel := context.WithCancel(context.Background())
	go func() {
		<-b.stop
		cancel()
	}()
	go b.Metrics.RunGaugePoller(pollerCtx, 15*time.Second, metrics.Sizers{
		BufferedChats:   b.Buffer.Size,
		CachedMediaRefs: b.Media.Size,
		RunningSessions: func() int { return len(b.Supervisor.ListRunning("")) },
		WsConnections:   b.Hub.ConnectionCount,
	})
}

// Shutdown stops every background loop and every running outbox watcher. It
// does not tear down sessions; that is an explicit admin operation.
func (b *Bot) Shutdown(timeout time.Duration) error {
	close(b.stop)
	return b.Outbox.Shutdown(timeout)
}
