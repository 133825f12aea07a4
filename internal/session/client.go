// Package session implements SessionSupervisor: the per-(accountId,label)
// lifecycle manager for a chat-platform client. The interface seam around
// the externally-hosted renderer (PlatformClient) and the per-key state-map
// pattern are generalized from the teacher's internal/background polling
// worker supervision plus az-wap's instanceClients map (a per-tenant
// whatsmeow.Client registry read during this transformation's survey).
package session

import "context"

// OutboundPayload is what the supervisor asks a PlatformClient to send.
type OutboundPayload struct {
	Text        string
	MediaURL    string
	MediaDataB64 string
	Mimetype    string
	LocalPath   string
	IsVoiceNote bool
	Caption     string
}

// SentReceipt is returned by a successful send.
type SentReceipt struct {
	ID        string
	Timestamp int64
}

// RawClientEvent is the platform client's native event shape, before the
// supervisor normalizes it into wadomain.Event (SPEC_FULL.md §4.1).
type RawClientEvent struct {
	Type    string // qr, ready, message_create, disconnected, auth_failure, error
	QR      string
	Reason  string
	Err     error
	Message *RawMessage
	// Self is the platform's own WaId, reported on a "ready" event. Persisted
	// onto the session document and surfaced through PolicyCache.selfWaIDs
	// so AllowProcess can recognize and drop a platform echoing its own
	// outbound message back in as an inbound one (SPEC_FULL.md §4.2
	// Invariant #4).
	Self string
}

// RawMessage mirrors the platform client's message_create payload.
type RawMessage struct {
	ID           string
	To           string
	From         string
	FromMe       bool
	Body         string
	MessageType  string
	HasMedia     bool
	TimestampSec int64
	MediaURLPath string
	// MediaDataB64 carries the message's raw bytes, base64-encoded, when the
	// platform client downloads media eagerly rather than lazily on demand.
	// Empty when the client only reports a pointer (MediaURLPath) and the
	// bytes must be fetched later; downstream persistence (blob.Store) can
	// only act on what actually arrives here.
	MediaDataB64 string
}

// PlatformClient is the headless chat-platform client contract
// (SPEC_FULL.md §4.1.1). The real renderer is external; every production
// instance of this interface is a thin adapter over it.
type PlatformClient interface {
	Initialize(ctx context.Context) error
	Destroy(ctx context.Context) error
	Logout(ctx context.Context) error
	SendMessage(ctx context.Context, chatID string, payload OutboundPayload) (*SentReceipt, error)
	Events() <-chan RawClientEvent
}

// ClientFactory constructs a PlatformClient for one session, rooted at its
// own auth-state directory.
type ClientFactory func(accountID, label, authDir string) PlatformClient
