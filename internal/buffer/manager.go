package buffer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eternisai/wa-bridge/internal/logger"
	"github.com/eternisai/wa-bridge/internal/store"
	"github.com/eternisai/wa-bridge/internal/wadomain"
)

// Policy is the subset of PolicyCache the BufferManager consults.
type Policy interface {
	AllowProcess(ctx context.Context, accountID, label, chatID, senderWaID string) bool
}

// MediaPersister is the collaborator that uploads an inbound voice note to
// blob storage and returns its pointer (SPEC_FULL.md §6.3).
type MediaPersister interface {
	SaveInboundVoice(ctx context.Context, accountID, label, chatID, messageID string, waTimestamp int64) (gcsURI, contentType, filename string, err error)
}

// TurnWriter is the subset of TurnStore the BufferManager writes through.
type TurnWriter interface {
	CreatePending(ctx context.Context, turn *store.Turn) error
}

// key identifies one chat's buffer.
type key struct {
	accountID string
	label     string
	chatID    string
}

type chatBuffer struct {
	items    []Item
	openedAt int64
	lastAt   int64
	timer    *time.Timer
}

// Manager is BufferManager: per-chat debounced aggregation of inbound
// messages into Turn documents (SPEC_FULL.md §4.3). The map is guarded by a
// single mutex; push/flush/gc are mutually exclusive on a given key, and
// async calls (policy, media upload, store write) are made with the lock
// released, matching the buffer-lock discipline in SPEC_FULL.md §5.
type Manager struct {
	log    *logger.Logger
	policy Policy
	media  MediaPersister
	turns  TurnWriter

	debounce        time.Duration
	hardCap         time.Duration
	gcIdle          time.Duration
	shortTextMaxLen int
	finalizerWords  []string
	phrases         PhraseTables

	mu      sync.Mutex
	buffers map[key]*chatBuffer
}

// Config bundles the tunables BufferManager reads from internal/config.
type Config struct {
	Debounce        time.Duration
	HardCap         time.Duration
	GCIdle          time.Duration
	ShortTextMaxLen int
	FinalizerWords  []string
	Phrases         PhraseTables
}

// New creates a BufferManager.
func New(log *logger.Logger, policy Policy, media MediaPersister, turns TurnWriter, cfg Config) *Manager {
	return &Manager{
		log:             log.WithComponent("buffer_manager"),
		policy:          policy,
		media:           media,
		turns:           turns,
		debounce:        cfg.Debounce,
		hardCap:         cfg.HardCap,
		gcIdle:          cfg.GCIdle,
		shortTextMaxLen: cfg.ShortTextMaxLen,
		finalizerWords:  cfg.FinalizerWords,
		phrases:         cfg.Phrases,
		buffers:         make(map[key]*chatBuffer),
	}
}

// HandleEvent implements SPEC_FULL.md §4.3 step 1-6 for one inbound "message"
// event. Non-message and outbound events are ignored.
func (m *Manager) HandleEvent(ctx context.Context, evt wadomain.Event) {
	if evt.Type != wadomain.EventMessage || evt.Message == nil || evt.Message.FromMe {
		return
	}
	msg := evt.Message
	chatID := wadomain.NormalizeChatID(msg.ChatID)

	if !m.policy.AllowProcess(ctx, evt.AccountID, evt.Label, chatID, evt.WaID) {
		return
	}

	ts := wadomain.NormalizeTimestampMs(msg.WaTimestamp)
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	var items []Item
	if wadomain.IsVoiceMessage(msg.MessageType, msg.HasMedia) {
		gcsURI, contentType, filename, err := m.media.SaveInboundVoice(ctx, evt.AccountID, evt.Label, chatID, msg.ID, ts)
		if err != nil {
			m.log.Error("failed to persist inbound voice media, continuing without it",
				slog.String("accountId", evt.AccountID), slog.String("label", evt.Label),
				slog.String("chatId", chatID), slog.String("error", err.Error()))
		} else {
			items = append(items, Item{Ts: ts, Type: store.ItemVoice, GcsURI: gcsURI, ContentType: contentType, Filename: filename})
		}
	}
	if msg.Body != "" {
		items = append(items, Item{Ts: ts, Type: store.ItemText, Text: msg.Body})
	}

	k := key{accountID: evt.AccountID, label: evt.Label, chatID: chatID}
	for _, item := range items {
		m.push(ctx, k, item)
	}
}

func (m *Manager) push(ctx context.Context, k key, item Item) {
	m.mu.Lock()
	buf, ok := m.buffers[k]
	if !ok {
		buf = &chatBuffer{openedAt: item.Ts}
		m.buffers[k] = buf
	}
	buf.items = append(buf.items, item)
	buf.lastAt = item.Ts
	if buf.timer != nil {
		buf.timer.Stop()
	}

	delay := m.debounce
	if item.Type == store.ItemText && ContainsFinalizer(item.Text, m.finalizerWords) {
		delay = 0
	}
	if m.hardCap > 0 && delay > m.hardCap {
		delay = m.hardCap
	}
	buf.timer = time.AfterFunc(delay, func() { m.flush(context.Background(), k) })
	m.mu.Unlock()
}

// flush removes the buffer before writing so a racing push opens a fresh
// window (SPEC_FULL.md §4.3's flush ordering rule).
func (m *Manager) flush(ctx context.Context, k key) {
	m.mu.Lock()
	buf, ok := m.buffers[k]
	if ok {
		delete(m.buffers, k)
	}
	m.mu.Unlock()

	if !ok || len(buf.items) == 0 {
		return
	}

	turn := Assemble(k.accountID, k.label, k.chatID, buf.items, m.phrases, m.shortTextMaxLen)
	if err := m.turns.CreatePending(ctx, &turn); err != nil {
		m.log.Error("failed to write pending turn, buffer contents dropped",
			slog.String("windowId", turn.Meta.WindowID), slog.String("error", err.Error()))
	}
}

// GCSweep deletes buffer entries idle longer than gcIdle, cancelling their
// pending flush timers (SPEC_FULL.md §4.3's GC rule).
func (m *Manager) GCSweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, buf := range m.buffers {
		if now.UnixMilli()-buf.lastAt > m.gcIdle.Milliseconds() {
			if buf.timer != nil {
				buf.timer.Stop()
			}
			delete(m.buffers, k)
			removed++
		}
	}
	return removed
}

// Run drives the periodic GC sweep until stop closes.
func (m *Manager) Run(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			if n := m.GCSweep(now); n > 0 {
				m.log.Debug("buffer gc sweep removed idle chats", slog.Int("count", n))
			}
		case <-stop:
			return
		}
	}
}

// Size reports the number of open buffers (for the /metrics gauge).
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffers)
}
