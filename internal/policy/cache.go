// Package policy implements PolicyCache: a read-through, 60s-TTL cache over
// per-session bot toggles and per-chat overrides, plus the account-wide set
// of self WA ids used for loop prevention. Map+RWMutex shape generalized
// from the teacher's messaging.PublicKeyCache; unlike that cache, a read
// failure here is fail-closed (deny) rather than a cache miss that retries
// next call, per SPEC_FULL.md §7.
package policy

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/eternisai/wa-bridge/internal/logger"
	"github.com/eternisai/wa-bridge/internal/store"
)

// SessionView is the resolved session-level policy (SPEC_FULL.md §3).
type SessionView struct {
	Enabled         bool
	ReceiveFromBots bool
	Mode            string // all | allowlist | blocklist
	Allowlist       []string
	Blocklist       []string
	SelfWaID        string
}

// ChatView is the resolved per-chat override.
type ChatView struct {
	BotEnabled        *bool // nil = inherit from session
	PreferredModality string
}

type sessionEntry struct {
	view      SessionView
	expiresAt time.Time
}

type chatEntry struct {
	view      ChatView
	expiresAt time.Time
}

type selfIDsEntry struct {
	ids       map[string]struct{}
	expiresAt time.Time
}

// Store is the subset of the document store PolicyCache reads through.
type Store interface {
	GetSession(ctx context.Context, accountID, label string) (*store.SessionDoc, error)
	GetThreadSettings(ctx context.Context, accountID, label, chatID string) (*store.ThreadSettingsDoc, error)
	ListSessionWaIDs(ctx context.Context, accountID string) ([]string, error)
}

// Cache is PolicyCache.
type Cache struct {
	log   *logger.Logger
	store Store
	ttl   time.Duration

	mu       sync.RWMutex
	sessions map[string]sessionEntry // key: accountId/label
	chats    map[string]chatEntry    // key: accountId/label/chatId
	selfIDs  map[string]selfIDsEntry // key: accountId
}

// New creates a PolicyCache with the given TTL (default 60s per SPEC_FULL.md §4.2).
func New(log *logger.Logger, st Store, ttl time.Duration) *Cache {
	return &Cache{
		log:      log,
		store:    st,
		ttl:      ttl,
		sessions: make(map[string]sessionEntry),
		chats:    make(map[string]chatEntry),
		selfIDs:  make(map[string]selfIDsEntry),
	}
}

func sessionKey(accountID, label string) string { return accountID + "/" + label }
func chatKey(accountID, label, chatID string) string { return accountID + "/" + label + "/" + chatID }

// sessionView returns the cached or freshly-read session policy. On a store
// read failure it returns a conservative fail-closed view (disabled), never
// the zero-value "everything allowed" default.
func (c *Cache) sessionView(ctx context.Context, accountID, label string) SessionView {
	key := sessionKey(accountID, label)

	c.mu.RLock()
	e, ok := c.sessions[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(e.expiresAt) {
		return e.view
	}

	doc, err := c.store.GetSession(ctx, accountID, label)
	if err != nil {
		c.log.Warn("policy: session read failed, failing closed", "accountId", accountID, "label", label, "error", err)
		return SessionView{Enabled: false}
	}

	view := SessionView{Enabled: true, ReceiveFromBots: false, Mode: "all"}
	if doc != nil {
		view.SelfWaID = doc.WaID
		if doc.Bot.Enabled != nil {
			view.Enabled = *doc.Bot.Enabled
		}
		if doc.Bot.ReceiveFromBots != nil {
			view.ReceiveFromBots = *doc.Bot.ReceiveFromBots
		}
		if doc.Bot.Mode != "" {
			view.Mode = doc.Bot.Mode
		}
		view.Allowlist = doc.Bot.Allowlist
		view.Blocklist = doc.Bot.Blocklist
	}

	c.mu.Lock()
	c.sessions[key] = sessionEntry{view: view, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return view
}

func (c *Cache) chatView(ctx context.Context, accountID, label, chatID string) ChatView {
	key := chatKey(accountID, label, chatID)

	c.mu.RLock()
	e, ok := c.chats[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(e.expiresAt) {
		return e.view
	}

	doc, err := c.store.GetThreadSettings(ctx, accountID, label, chatID)
	if err != nil {
		c.log.Warn("policy: chat read failed, failing closed", "accountId", accountID, "label", label, "chatId", chatID, "error", err)
		disabled := false
		return ChatView{BotEnabled: &disabled}
	}

	view := ChatView{}
	if doc != nil {
		view.BotEnabled = doc.BotEnabled
		view.PreferredModality = doc.PreferredModality
	}

	c.mu.Lock()
	c.chats[key] = chatEntry{view: view, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return view
}

// selfWaIDs returns the account's self WA ids; ok is false when the store
// read failed, in which case callers deny.
func (c *Cache) selfWaIDs(ctx context.Context, accountID string) (ids map[string]struct{}, ok bool) {
	c.mu.RLock()
	e, cached := c.selfIDs[accountID]
	c.mu.RUnlock()
	if cached && time.Now().Before(e.expiresAt) {
		return e.ids, true
	}

	waIDs, err := c.store.ListSessionWaIDs(ctx, accountID)
	if err != nil {
		c.log.Warn("policy: self-id read failed, failing closed", "accountId", accountID, "error", err)
		return nil, false
	}

	ids = make(map[string]struct{}, len(waIDs))
	for _, id := range waIDs {
		ids[id] = struct{}{}
	}

	c.mu.Lock()
	c.selfIDs[accountID] = selfIDsEntry{ids: ids, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return ids, true
}

func matchesMode(mode string, allowlist, blocklist []string, chatID string) bool {
	switch mode {
	case "allowlist":
		return contains(allowlist, chatID)
	case "blocklist":
		return !contains(blocklist, chatID)
	default: // "all"
		return true
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// AllowProcess implements SPEC_FULL.md §4.2's allowProcess predicate.
func (c *Cache) AllowProcess(ctx context.Context, accountID, label, chatID, senderWaID string) bool {
	session := c.sessionView(ctx, accountID, label)
	if !session.Enabled {
		return false
	}
	if !session.ReceiveFromBots && senderWaID != "" {
		selfIDs, ok := c.selfWaIDs(ctx, accountID)
		if !ok {
			return false
		}
		if _, isSelf := selfIDs[senderWaID]; isSelf {
			return false
		}
	}
	if !matchesMode(session.Mode, session.Allowlist, session.Blocklist, chatID) {
		return false
	}
	chat := c.chatView(ctx, accountID, label, chatID)
	if chat.BotEnabled != nil && !*chat.BotEnabled {
		return false
	}
	return true
}

// AllowSend implements SPEC_FULL.md §4.2's allowSend predicate (same as
// AllowProcess minus the self-id loop check).
func (c *Cache) AllowSend(ctx context.Context, accountID, label, chatID string) bool {
	session := c.sessionView(ctx, accountID, label)
	if !session.Enabled {
		return false
	}
	if !matchesMode(session.Mode, session.Allowlist, session.Blocklist, chatID) {
		return false
	}
	chat := c.chatView(ctx, accountID, label, chatID)
	if chat.BotEnabled != nil && !*chat.BotEnabled {
		return false
	}
	return true
}
