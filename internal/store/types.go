package store

// TurnStatus is the claim state machine described in SPEC_FULL.md §4.5.
type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"
	TurnReady     TurnStatus = "ready"
	TurnSending   TurnStatus = "sending"
	TurnDelivered TurnStatus = "delivered"
	TurnSkipped   TurnStatus = "skipped"
	TurnError     TurnStatus = "error"
)

// ItemType tags a TurnItem variant.
type ItemType string

const (
	ItemText  ItemType = "text"
	ItemVoice ItemType = "voice"
)

// TurnItem is one merged element of a Turn's ordered item list.
type TurnItem struct {
	Ts          int64    `firestore:"ts"`
	Type        ItemType `firestore:"type"`
	Text        string   `firestore:"text,omitempty"`
	GcsURI      string   `firestore:"gcsUri,omitempty"`
	ContentType string   `firestore:"contentType,omitempty"`
	Filename    string   `firestore:"filename,omitempty"`
}

// TurnMeta identifies the session and chat a turn belongs to.
type TurnMeta struct {
	AccountID string `firestore:"accountId"`
	Label     string `firestore:"label"`
	ChatID    string `firestore:"chatId"`
	WindowID  string `firestore:"windowId"`
}

// TurnHints are the modality/language signals TurnAssembler derives.
type TurnHints struct {
	LastInbound ItemType `firestore:"lastInbound"`
	Explicit    string   `firestore:"explicit,omitempty"`
	Lang        string   `firestore:"lang,omitempty"`
}

// TurnResponseModality selects the variant carried by TurnResponse.
type TurnResponseModality string

const (
	ResponseText  TurnResponseModality = "text"
	ResponseVoice TurnResponseModality = "voice"
)

// TurnResponse is written by the external AI worker once a turn is answered.
type TurnResponse struct {
	Modality TurnResponseModality `firestore:"modality"`
	Text     string               `firestore:"text,omitempty"`
	Audio    *TurnAudio           `firestore:"audio,omitempty"`
}

// TurnAudio carries a pointer to synthesized speech for a voice reply.
type TurnAudio struct {
	URL string `firestore:"url"`
}

// TurnErrorInfo records the stage and detail of a terminal error transition.
type TurnErrorInfo struct {
	Stage  string `firestore:"stage"`
	Detail string `firestore:"detail"`
}

// Turn is the durable document driving the buffer -> AI worker -> outbox pipeline.
type Turn struct {
	Status     TurnStatus     `firestore:"status"`
	OpenedAt   int64          `firestore:"openedAt"`
	ClosedAt   int64          `firestore:"closedAt"`
	Meta       TurnMeta       `firestore:"meta"`
	Hints      TurnHints      `firestore:"hints"`
	Items      []TurnItem     `firestore:"items"`
	Response   *TurnResponse  `firestore:"response,omitempty"`
	ClaimedAt  int64          `firestore:"claimedAt,omitempty"`
	DeliveredAt int64         `firestore:"deliveredAt,omitempty"`
	SkippedAt  int64          `firestore:"skippedAt,omitempty"`
	WaMessageID string        `firestore:"waMessageId,omitempty"`
	Error      *TurnErrorInfo `firestore:"error,omitempty"`
}

// SessionDoc is the persisted session record under /accounts/{aid}/sessions/{label}.
type SessionDoc struct {
	WaID        string        `firestore:"waId,omitempty"`
	Status      string        `firestore:"status"`
	CreatedAt   int64         `firestore:"createdAt"`
	LastReadyAt int64         `firestore:"lastReadyAt,omitempty"`
	Bot         BotPolicyDoc  `firestore:"bot"`
}

// BotPolicyDoc is the session-level policy toggle set, PolicyCache's session lane.
type BotPolicyDoc struct {
	Enabled         *bool    `firestore:"enabled,omitempty"`
	ReceiveFromBots *bool    `firestore:"receiveFromBots,omitempty"`
	Mode            string   `firestore:"mode,omitempty"` // all | allowlist | blocklist
	Allowlist       []string `firestore:"allowlist,omitempty"`
	Blocklist       []string `firestore:"blocklist,omitempty"`
}

// ThreadSettingsDoc is the per-chat policy override, PolicyCache's chat lane.
type ThreadSettingsDoc struct {
	BotEnabled        *bool  `firestore:"botEnabled,omitempty"`
	PreferredModality string `firestore:"preferredModality,omitempty"`
}

// MembershipDoc resolves a uid's role within an account.
type MembershipDoc struct {
	Role string `firestore:"role"`
}

// AclDoc lists the session labels a non-administrator uid may see.
type AclDoc struct {
	Sessions []string `firestore:"sessions"`
}
