// Package wadomain holds the types shared across every component of the
// bridge: session identity, chat id normalization, and the tagged event
// union that flows out of a session's platform client.
package wadomain

import "strings"

// SessionKey identifies a session by its tenant account and label.
type SessionKey struct {
	AccountID string
	Label     string
}

func (k SessionKey) String() string {
	return k.AccountID + "/" + k.Label
}

// Status is a session's lifecycle state.
type Status string

const (
	StatusStarting     Status = "starting"
	StatusScanning     Status = "scanning"
	StatusReady        Status = "ready"
	StatusDisconnected Status = "disconnected"
	StatusAuthFailure  Status = "auth_failure"
	StatusError        Status = "error"
	StatusStopped      Status = "stopped"
)

// EventType tags the variant carried by an Event.
type EventType string

const (
	EventQR          EventType = "qr"
	EventReady       EventType = "ready"
	EventDisconnect  EventType = "disconnected"
	EventAuthFailure EventType = "auth_failure"
	EventError       EventType = "error"
	EventStopped     EventType = "stopped"
	EventDestroyed   EventType = "destroyed"
	EventMessage     EventType = "message"
	EventSent        EventType = "sent"
)

// Event is the discriminated union emitted by a session's platform client,
// validated into this shape at the supervisor boundary (SPEC_FULL.md §9).
type Event struct {
	Type      EventType `json:"type"`
	Ts        int64     `json:"ts"`
	AccountID string    `json:"accountId"`
	Label     string    `json:"sessionId"`
	WaID      string    `json:"waId,omitempty"`

	QR     string `json:"qr,omitempty"`
	Reason string `json:"reason,omitempty"`
	Err    string `json:"err,omitempty"`

	Message *MessagePayload `json:"message,omitempty"`
}

// MessagePayload carries the fields common to inbound and outbound ("sent") messages.
type MessagePayload struct {
	ID             string `json:"id"`
	ChatID         string `json:"chatId"`
	FromMe         bool   `json:"fromMe"`
	Body           string `json:"body"`
	MessageType    string `json:"messageType"`
	HasMedia       bool   `json:"hasMedia"`
	WaTimestamp    int64  `json:"waTimestamp"`
	MediaURLPath   string `json:"mediaUrlPath,omitempty"`
}

// NormalizeChatID implements the ChatId normalization rule: pass through any
// id that already carries an "@" suffix, otherwise keep only digits and
// append "@c.us". Idempotent by construction (property 7 in SPEC_FULL.md §8).
func NormalizeChatID(raw string) string {
	if strings.Contains(raw, "@") {
		return raw
	}
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String() + "@c.us"
}

// NormalizeTimestampMs applies the waTimestamp coercion rule: values below
// 10^10 are treated as seconds and scaled to milliseconds.
func NormalizeTimestampMs(ts int64) int64 {
	const secondsThreshold = 10_000_000_000
	if ts > 0 && ts < secondsThreshold {
		return ts * 1000
	}
	return ts
}

// voiceMessageTypes are the platform message types that carry spoken audio.
var voiceMessageTypes = map[string]bool{
	"ptt":   true,
	"audio": true,
	"voice": true,
}

// IsVoiceMessage reports whether a message's declared type plus its media
// flag indicate an inbound voice note, per SPEC_FULL.md §4.3 step 3.
func IsVoiceMessage(messageType string, hasMedia bool) bool {
	return hasMedia && voiceMessageTypes[strings.ToLower(messageType)]
}
