// Package buffer implements BufferManager and TurnAssembler: the per-chat
// debounced aggregation of inbound messages into a Turn document. There is no
// direct teacher analog for the merge algorithm itself (SPEC_FULL.md §4.4 is
// a pure function with no I/O); its shape follows the rest of this codebase's
// small-struct-plus-pure-function style and is tested the way the teacher
// tests internal/streaming — plain testing, table-driven.
package buffer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/eternisai/wa-bridge/internal/store"
)

// Item is one raw inbound element pushed into a chat's buffer before merging.
type Item struct {
	Ts          int64
	Type        store.ItemType
	Text        string
	GcsURI      string
	ContentType string
	Filename    string
}

// PhraseTables are the configurable word lists TurnAssembler consults for the
// "explicit modality" hint (SPEC_FULL.md §4.4).
type PhraseTables struct {
	VoicePhrases []string
	TextPhrases  []string
}

var spanishAccented = "áéíóúñÁÉÍÓÚÑ¿¡"

// Assemble implements the pure TurnAssembler merge described in SPEC_FULL.md
// §4.4: stable-sorts by timestamp, merges short text bursts, and derives the
// window id and hints.
func Assemble(accountID, label, chatID string, items []Item, phrases PhraseTables, shortTextMaxLen int) store.Turn {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ts < sorted[j].Ts })

	merged := mergeShortText(sorted, shortTextMaxLen)

	turn := store.Turn{
		Status: store.TurnPending,
		Items:  make([]store.TurnItem, 0, len(merged)),
	}

	var textBuilder strings.Builder
	var lastType store.ItemType

	for i, it := range merged {
		if i == 0 {
			turn.OpenedAt = it.Ts
		}
		turn.ClosedAt = it.Ts
		lastType = it.Type

		switch it.Type {
		case store.ItemVoice:
			turn.Items = append(turn.Items, store.TurnItem{
				Ts: it.Ts, Type: store.ItemVoice,
				GcsURI: it.GcsURI, ContentType: it.ContentType, Filename: it.Filename,
			})
		default:
			turn.Items = append(turn.Items, store.TurnItem{Ts: it.Ts, Type: store.ItemText, Text: it.Text})
			if textBuilder.Len() > 0 {
				textBuilder.WriteString(" ")
			}
			textBuilder.WriteString(it.Text)
		}
	}

	turn.Meta = store.TurnMeta{
		AccountID: accountID,
		Label:     label,
		ChatID:    chatID,
		WindowID:  fmt.Sprintf("%s.%s.%s.%d", accountID, label, chatID, turn.OpenedAt),
	}

	lang := detectLang(textBuilder.String())
	if lang == "" {
		lang = "es-MX" // default when no Spanish-specific characters are present
	}

	turn.Hints = store.TurnHints{
		LastInbound: lastType,
		Explicit:    detectExplicitModality(merged, phrases),
		Lang:        lang,
	}

	return turn
}

// mergeShortText joins consecutive text items whose length is at most
// shortTextMaxLen into a single combined text item; non-text items and any
// text item exceeding the threshold flush the running accumulator first and
// pass through unchanged.
func mergeShortText(items []Item, shortTextMaxLen int) []Item {
	out := make([]Item, 0, len(items))
	var acc *Item

	flush := func() {
		if acc != nil {
			out = append(out, *acc)
			acc = nil
		}
	}

	for _, it := range items {
		if it.Type != store.ItemText {
			flush()
			out = append(out, it)
			continue
		}
		if len(it.Text) > shortTextMaxLen {
			flush()
			out = append(out, it)
			continue
		}
		if acc == nil {
			cp := it
			acc = &cp
			continue
		}
		acc.Text = acc.Text + " " + it.Text
		acc.Ts = it.Ts
	}
	flush()
	return out
}

func detectExplicitModality(items []Item, phrases PhraseTables) string {
	var all strings.Builder
	for _, it := range items {
		if it.Type == store.ItemText {
			all.WriteString(strings.ToLower(it.Text))
			all.WriteString(" ")
		}
	}
	text := all.String()

	for _, p := range phrases.VoicePhrases {
		if strings.Contains(text, strings.ToLower(p)) {
			return "voice"
		}
	}
	for _, p := range phrases.TextPhrases {
		if strings.Contains(text, strings.ToLower(p)) {
			return "text"
		}
	}
	return ""
}

func detectLang(text string) string {
	if strings.ContainsAny(text, spanishAccented) {
		return "es-MX"
	}
	return ""
}

// ContainsFinalizer reports whether text contains any configured finalizer
// phrase (case-insensitive substring match), triggering an immediate flush.
func ContainsFinalizer(text string, finalizerWords []string) bool {
	lower := strings.ToLower(text)
	for _, w := range finalizerWords {
		if strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	return false
}
