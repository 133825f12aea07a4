package buffer

import (
	"testing"

	"github.com/eternisai/wa-bridge/internal/store"
)

func TestAssemble_MergesShortTextBursts(t *testing.T) {
	items := []Item{
		{Ts: 0, Type: store.ItemText, Text: "hola"},
		{Ts: 5000, Type: store.ItemText, Text: "tengo una"},
		{Ts: 9000, Type: store.ItemText, Text: "duda gracias"},
	}

	turn := Assemble("acc1", "main", "5219@c.us", items, PhraseTables{}, 14)

	if len(turn.Items) != 1 {
		t.Fatalf("expected all short texts merged into one item, got %d: %+v", len(turn.Items), turn.Items)
	}
	want := "hola tengo una duda gracias"
	if turn.Items[0].Text != want {
		t.Fatalf("merged text = %q, want %q", turn.Items[0].Text, want)
	}
	if turn.OpenedAt != 0 || turn.ClosedAt != 9000 {
		t.Fatalf("openedAt/closedAt = %d/%d, want 0/9000", turn.OpenedAt, turn.ClosedAt)
	}
	if turn.Meta.WindowID != "acc1.main.5219@c.us.0" {
		t.Fatalf("windowId = %q", turn.Meta.WindowID)
	}
	if turn.Hints.Lang != "es-MX" {
		t.Fatalf("lang = %q, want es-MX (default for text without accents)", turn.Hints.Lang)
	}
}

func TestAssemble_MixedTextAndVoicePreservesOrder(t *testing.T) {
	items := []Item{
		{Ts: 0, Type: store.ItemText, Text: "escúchame"},
		{Ts: 1000, Type: store.ItemVoice, GcsURI: "gs://bucket/a.ogg", ContentType: "audio/ogg"},
	}

	turn := Assemble("acc1", "main", "5219@c.us", items, PhraseTables{}, 14)

	if len(turn.Items) != 2 {
		t.Fatalf("expected 2 items (text, then voice), got %d", len(turn.Items))
	}
	if turn.Items[0].Type != store.ItemText || turn.Items[1].Type != store.ItemVoice {
		t.Fatalf("item order/types wrong: %+v", turn.Items)
	}
	if turn.Hints.LastInbound != store.ItemVoice {
		t.Fatalf("lastInbound = %q, want voice", turn.Hints.LastInbound)
	}
}

func TestAssemble_LongTextNotMerged(t *testing.T) {
	long := "this single message is already longer than the short text threshold"
	items := []Item{
		{Ts: 0, Type: store.ItemText, Text: "hi"},
		{Ts: 100, Type: store.ItemText, Text: long},
		{Ts: 200, Type: store.ItemText, Text: "ok"},
	}

	turn := Assemble("acc1", "main", "chat", items, PhraseTables{}, 14)

	if len(turn.Items) != 3 {
		t.Fatalf("expected long text to break merging into 3 items, got %d: %+v", len(turn.Items), turn.Items)
	}
	if turn.Items[1].Text != long {
		t.Fatalf("long item mangled: %q", turn.Items[1].Text)
	}
}

func TestAssemble_ExplicitModalityDetection(t *testing.T) {
	phrases := PhraseTables{VoicePhrases: []string{"send voice"}, TextPhrases: []string{"prefiero texto"}}

	turn := Assemble("acc1", "main", "chat", []Item{{Ts: 0, Type: store.ItemText, Text: "please send voice notes"}}, phrases, 14)
	if turn.Hints.Explicit != "voice" {
		t.Fatalf("explicit = %q, want voice", turn.Hints.Explicit)
	}

	turn2 := Assemble("acc1", "main", "chat", []Item{{Ts: 0, Type: store.ItemText, Text: "ok prefiero texto"}}, phrases, 14)
	if turn2.Hints.Explicit != "text" {
		t.Fatalf("explicit = %q, want text", turn2.Hints.Explicit)
	}

	turn3 := Assemble("acc1", "main", "chat", []Item{{Ts: 0, Type: store.ItemText, Text: "no preference"}}, phrases, 14)
	if turn3.Hints.Explicit != "" {
		t.Fatalf("explicit = %q, want empty", turn3.Hints.Explicit)
	}
}

func TestAssemble_UnsortedInputIsStablySorted(t *testing.T) {
	items := []Item{
		{Ts: 200, Type: store.ItemText, Text: "c"},
		{Ts: 0, Type: store.ItemText, Text: "a"},
		{Ts: 100, Type: store.ItemText, Text: "b"},
	}
	turn := Assemble("acc1", "main", "chat", items, PhraseTables{}, 0)
	if len(turn.Items) != 3 {
		t.Fatalf("expected no merging at threshold=0, got %d", len(turn.Items))
	}
	for i, want := range []string{"a", "b", "c"} {
		if turn.Items[i].Text != want {
			t.Fatalf("item[%d] = %q, want %q (ordering not applied)", i, turn.Items[i].Text, want)
		}
	}
}

func TestContainsFinalizer(t *testing.T) {
	words := []string{"gracias", "nada más"}
	if !ContainsFinalizer("ok muchas Gracias!", words) {
		t.Fatal("expected case-insensitive substring match for 'gracias'")
	}
	if ContainsFinalizer("todo bien", words) {
		t.Fatal("expected no finalizer match")
	}
}
