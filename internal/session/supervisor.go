package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eternisai/wa-bridge/internal/logger"
	"github.com/eternisai/wa-bridge/internal/media"
	"github.com/eternisai/wa-bridge/internal/store"
	"github.com/eternisai/wa-bridge/internal/wadomain"
)

// SessionDocStore is the subset of store.SessionStore the supervisor persists through.
type SessionDocStore interface {
	Upsert(ctx context.Context, accountID, label string, fields map[string]interface{}) error
	Get(ctx context.Context, accountID, label string) (*store.SessionDoc, error)
}

// MediaCache is the subset of media.Cache the supervisor writes inbound
// media pointers into and reads them back from for downloadMessageMedia.
type MediaCache interface {
	Put(key media.Key, ref media.Reference)
	Get(key media.Key) (media.Reference, bool)
}

type sessionState struct {
	client PlatformClient
	cancel context.CancelFunc

	mu     sync.Mutex
	status wadomain.Status
	waID   string
	lastQR string
}

// RunningInfo is one entry of ListRunning's snapshot.
type RunningInfo struct {
	AccountID string
	Label     string
	Status    wadomain.Status
	WaID      string
	HasQR     bool
}

// Supervisor is SessionSupervisor: the per-(accountId,label) platform client
// lifecycle manager (SPEC_FULL.md §4.1).
type Supervisor struct {
	log     *logger.Logger
	sessions SessionDocStore
	media    MediaCache
	factory  ClientFactory
	authBaseDir string

	onEvent    func(wadomain.Event)
	onReady    func(accountID, label string)
	onNotReady func(accountID, label string)

	mu      sync.Mutex
	clients map[wadomain.SessionKey]*sessionState
}

// Config bundles the collaborators and callbacks a Supervisor is wired with
// (internal/bot constructs one of these per process).
type Config struct {
	Sessions    SessionDocStore
	Media       MediaCache
	Factory     ClientFactory
	AuthBaseDir string

	// OnEvent receives every normalized event for BufferManager/WsHub fan-out.
	OnEvent func(wadomain.Event)
	// OnReady/OnNotReady drive OutboxWatcher.StartSession/StopSession.
	OnReady    func(accountID, label string)
	OnNotReady func(accountID, label string)
}

// New creates a Supervisor.
func New(log *logger.Logger, cfg Config) *Supervisor {
	return &Supervisor{
		log:         log.WithComponent("session_supervisor"),
		sessions:    cfg.Sessions,
		media:       cfg.Media,
		factory:     cfg.Factory,
		authBaseDir: cfg.AuthBaseDir,
		onEvent:     cfg.OnEvent,
		onReady:     cfg.OnReady,
		onNotReady:  cfg.OnNotReady,
		clients:     make(map[wadomain.SessionKey]*sessionState),
	}
}

func (s *Supervisor) authDir(key wadomain.SessionKey) string {
	return filepath.Join(s.authBaseDir, fmt.Sprintf("session-%s__%s", key.AccountID, key.Label))
}

// Init is idempotent: creates and starts a client if absent, coalescing
// concurrent calls for the same key by inserting a placeholder entry under
// the map lock before the (slow) Initialize call runs (SPEC_FULL.md §5's
// "two init calls for the same key must coalesce" rule).
func (s *Supervisor) Init(ctx context.Context, accountID, label string) wadomain.Status {
	key := wadomain.SessionKey{AccountID: accountID, Label: label}

	s.mu.Lock()
	if st, ok := s.clients[key]; ok {
		s.mu.Unlock()
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.status
	}

	dir := s.authDir(key)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		s.log.Error("failed to create auth directory", slog.String("session", key.String()), slog.String("error", err.Error()))
	}
	client := s.factory(accountID, label, dir)
	clientCtx, cancel := context.WithCancel(context.Background())
	st := &sessionState{client: client, cancel: cancel, status: wadomain.StatusStarting}
	s.clients[key] = st
	s.mu.Unlock()

	_ = s.sessions.Upsert(ctx, accountID, label, map[string]interface{}{
		"status":    string(wadomain.StatusStarting),
		"createdAt": time.Now().UnixMilli(),
	})

	go s.run(clientCtx, key, st)

	if err := client.Initialize(clientCtx); err != nil {
		s.log.Error("client initialize failed", slog.String("session", key.String()), slog.String("error", err.Error()))
		s.transition(key, st, wadomain.StatusError)
	}

	return wadomain.StatusStarting
}

// run consumes the client's event channel for the lifetime of the session,
// normalizing each RawClientEvent into a wadomain.Event (SPEC_FULL.md §4.1's
// normalization rules) and fanning it out via onEvent. onEvent runs on this
// goroutine: WsHub.Broadcast never blocks, but BufferManager.HandleEvent
// performs its policy read and any voice-media upload inline, so the next
// event is not read until those return.
func (s *Supervisor) run(ctx context.Context, key wadomain.SessionKey, st *sessionState) {
	for {
		select {
		case raw, ok := <-st.client.Events():
			if !ok {
				return
			}
			s.handleRaw(key, st, raw)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) handleRaw(key wadomain.SessionKey, st *sessionState, raw RawClientEvent) {
	now := time.Now().UnixMilli()
	evt := wadomain.Event{AccountID: key.AccountID, Label: key.Label, Ts: now}

	switch raw.Type {
	case "qr":
		evt.Type = wadomain.EventQR
		evt.QR = raw.QR
		st.mu.Lock()
		st.status = wadomain.StatusScanning
		st.lastQR = raw.QR
		st.mu.Unlock()
		s.persistStatus(key, wadomain.StatusScanning, "")
	case "ready":
		evt.Type = wadomain.EventReady
		evt.WaID = raw.Self
		st.mu.Lock()
		st.waID = raw.Self
		st.mu.Unlock()
		s.transition(key, st, wadomain.StatusReady)
		if s.onReady != nil {
			s.onReady(key.AccountID, key.Label)
		}
	case "disconnected":
		evt.Type = wadomain.EventDisconnect
		evt.Reason = raw.Reason
		s.transition(key, st, wadomain.StatusDisconnected)
		if s.onNotReady != nil {
			s.onNotReady(key.AccountID, key.Label)
		}
	case "auth_failure":
		evt.Type = wadomain.EventAuthFailure
		if raw.Err != nil {
			evt.Err = raw.Err.Error()
		}
		s.transition(key, st, wadomain.StatusAuthFailure)
		if s.onNotReady != nil {
			s.onNotReady(key.AccountID, key.Label)
		}
	case "error":
		evt.Type = wadomain.EventError
		if raw.Err != nil {
			evt.Err = raw.Err.Error()
		}
		s.transition(key, st, wadomain.StatusError)
		if s.onNotReady != nil {
			s.onNotReady(key.AccountID, key.Label)
		}
	case "message_create":
		if raw.Message == nil {
			return
		}
		evt.Type = wadomain.EventMessage
		chatID := raw.Message.To
		if !raw.Message.FromMe {
			chatID = raw.Message.From
		}
		evt.Message = &wadomain.MessagePayload{
			ID:          raw.Message.ID,
			ChatID:      wadomain.NormalizeChatID(chatID),
			FromMe:      raw.Message.FromMe,
			Body:        raw.Message.Body,
			MessageType: raw.Message.MessageType,
			HasMedia:    raw.Message.HasMedia,
			WaTimestamp: raw.Message.TimestampSec,
		}
		if raw.Message.HasMedia && raw.Message.ID != "" {
			evt.Message.MediaURLPath = raw.Message.MediaURLPath
			s.media.Put(media.Key{AccountID: key.AccountID, Label: key.Label, MessageID: raw.Message.ID}, media.Reference{
				Mimetype: inferMimetype(raw.Message.MessageType),
				Filename: raw.Message.ID,
				DataB64:  raw.Message.MediaDataB64,
			})
		}
	default:
		return
	}

	if s.onEvent != nil {
		s.onEvent(evt)
	}
}

func inferMimetype(messageType string) string {
	switch messageType {
	case "ptt", "audio", "voice":
		return "audio/ogg"
	case "image":
		return "image/jpeg"
	case "video":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

func (s *Supervisor) transition(key wadomain.SessionKey, st *sessionState, status wadomain.Status) {
	st.mu.Lock()
	st.status = status
	st.mu.Unlock()
	s.persistStatus(key, status, st.waID)
}

func (s *Supervisor) persistStatus(key wadomain.SessionKey, status wadomain.Status, waID string) {
	fields := map[string]interface{}{"status": string(status)}
	if status == wadomain.StatusReady {
		fields["lastReadyAt"] = time.Now().UnixMilli()
	}
	if waID != "" {
		fields["waId"] = waID
	}
	if err := s.sessions.Upsert(context.Background(), key.AccountID, key.Label, fields); err != nil {
		s.log.Error("failed to persist session status", slog.String("session", key.String()), slog.String("error", err.Error()))
	}
}

// Stop gracefully terminates a session's client without purging its
// auth-state directory.
func (s *Supervisor) Stop(ctx context.Context, accountID, label string) wadomain.Status {
	key := wadomain.SessionKey{AccountID: accountID, Label: label}

	s.mu.Lock()
	st, ok := s.clients[key]
	if ok {
		delete(s.clients, key)
	}
	s.mu.Unlock()

	if !ok {
		return wadomain.StatusStopped
	}

	st.cancel()
	_ = st.client.Destroy(ctx)
	if s.onNotReady != nil {
		s.onNotReady(accountID, label)
	}
	s.persistStatus(key, wadomain.StatusStopped, "")
	return wadomain.StatusStopped
}

// Destroy logs out, terminates, and purges the on-disk auth directory.
func (s *Supervisor) Destroy(ctx context.Context, accountID, label string) error {
	key := wadomain.SessionKey{AccountID: accountID, Label: label}

	s.mu.Lock()
	st, ok := s.clients[key]
	if ok {
		delete(s.clients, key)
	}
	s.mu.Unlock()

	if ok {
		st.cancel()
		_ = st.client.Logout(ctx)
		_ = st.client.Destroy(ctx)
		if s.onNotReady != nil {
			s.onNotReady(accountID, label)
		}
	}

	if err := os.RemoveAll(s.authDir(key)); err != nil {
		return fmt.Errorf("session: failed to purge auth directory for %s: %w", key, err)
	}
	s.persistStatus(key, wadomain.StatusStopped, "")
	return nil
}

// Status is a synchronous read of a session's in-memory status.
func (s *Supervisor) Status(accountID, label string) (wadomain.Status, bool) {
	s.mu.Lock()
	st, ok := s.clients[wadomain.SessionKey{AccountID: accountID, Label: label}]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status, true
}

// QR returns the most recently emitted pairing QR, if any.
func (s *Supervisor) QR(accountID, label string) (string, bool) {
	s.mu.Lock()
	st, ok := s.clients[wadomain.SessionKey{AccountID: accountID, Label: label}]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastQR, st.lastQR != ""
}

// ListRunning snapshots every in-memory client, optionally filtered to one account.
func (s *Supervisor) ListRunning(accountID string) []RunningInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RunningInfo, 0, len(s.clients))
	for key, st := range s.clients {
		if accountID != "" && key.AccountID != accountID {
			continue
		}
		st.mu.Lock()
		out = append(out, RunningInfo{
			AccountID: key.AccountID,
			Label:     key.Label,
			Status:    st.status,
			WaID:      st.waID,
			HasQR:     st.lastQR != "",
		})
		st.mu.Unlock()
	}
	return out
}

// RestoreAllFromFs scans the auth base directory and re-inits any
// "session-{accountId}__{label}" subdirectory not already running.
func (s *Supervisor) RestoreAllFromFs(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.authBaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("session: failed to scan auth base dir: %w", err)
	}

	restored := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		accountID, label, ok := parseSessionDirName(e.Name())
		if !ok {
			continue
		}
		key := wadomain.SessionKey{AccountID: accountID, Label: label}
		s.mu.Lock()
		_, running := s.clients[key]
		s.mu.Unlock()
		if running {
			continue
		}
		s.Init(ctx, accountID, label)
		restored++
	}
	return restored, nil
}

func parseSessionDirName(name string) (accountID, label string, ok bool) {
	const prefix = "session-"
	const sep = "__"
	if len(name) <= len(prefix) {
		return "", "", false
	}
	rest := name[len(prefix):]
	idx := indexOf(rest, sep)
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+len(sep):], true
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// SendText requires the session to be ready, sends text, and emits a "sent"
// event. It implements internal/outbox.Sender.
func (s *Supervisor) SendText(ctx context.Context, accountID, label, chatID, text string) (string, error) {
	return s.send(ctx, accountID, label, chatID, OutboundPayload{Text: text})
}

// SendVoice requires the session to be ready, sends a voice note, and emits
// a "sent" event. It implements internal/outbox.Sender.
func (s *Supervisor) SendVoice(ctx context.Context, accountID, label, chatID, audioURL, caption string) (string, error) {
	return s.send(ctx, accountID, label, chatID, OutboundPayload{MediaURL: audioURL, IsVoiceNote: true, Caption: caption})
}

var ErrNotReady = fmt.Errorf("session: not ready")

func (s *Supervisor) send(ctx context.Context, accountID, label, chatID string, payload OutboundPayload) (string, error) {
	key := wadomain.SessionKey{AccountID: accountID, Label: label}

	s.mu.Lock()
	st, ok := s.clients[key]
	s.mu.Unlock()
	if !ok {
		return "", ErrNotReady
	}

	st.mu.Lock()
	status := st.status
	st.mu.Unlock()
	if status != wadomain.StatusReady {
		return "", ErrNotReady
	}

	receipt, err := st.client.SendMessage(ctx, wadomain.NormalizeChatID(chatID), payload)
	if err != nil {
		return "", err
	}

	if s.onEvent != nil {
		s.onEvent(wadomain.Event{
			Type: wadomain.EventSent, Ts: time.Now().UnixMilli(),
			AccountID: accountID, Label: label,
			Message: &wadomain.MessagePayload{ID: receipt.ID, ChatID: wadomain.NormalizeChatID(chatID), FromMe: true, Body: payload.Text},
		})
	}
	return receipt.ID, nil
}

// DownloadMessageMedia returns a message's cached media reference, if still
// present in MediaCache.
func (s *Supervisor) DownloadMessageMedia(accountID, label, messageID string) (media.Reference, bool) {
	return s.media.Get(media.Key{AccountID: accountID, Label: label, MessageID: messageID})
}
