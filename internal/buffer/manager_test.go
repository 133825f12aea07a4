package buffer

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/eternisai/wa-bridge/internal/logger"
	"github.com/eternisai/wa-bridge/internal/store"
	"github.com/eternisai/wa-bridge/internal/wadomain"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError, Format: "text"})
}

type allowAllPolicy struct{ selfWaID string }

func (p *allowAllPolicy) AllowProcess(ctx context.Context, accountID, label, chatID, senderWaID string) bool {
	return senderWaID == "" || senderWaID != p.selfWaID
}

type noopMedia struct{}

func (noopMedia) SaveInboundVoice(ctx context.Context, accountID, label, chatID, messageID string, waTimestamp int64) (string, string, string, error) {
	return "gs://bucket/" + messageID + ".ogg", "audio/ogg", messageID + ".ogg", nil
}

type recordingTurnWriter struct {
	created chan store.Turn
}

func newRecordingTurnWriter() *recordingTurnWriter {
	return &recordingTurnWriter{created: make(chan store.Turn, 8)}
}

func (w *recordingTurnWriter) CreatePending(ctx context.Context, turn *store.Turn) error {
	w.created <- *turn
	return nil
}

func newTestManager(writer TurnWriter) *Manager {
	return New(testLogger(), &allowAllPolicy{}, noopMedia{}, writer, Config{
		Debounce:        20 * time.Millisecond,
		GCIdle:          time.Hour,
		ShortTextMaxLen: 14,
		FinalizerWords:  []string{"gracias"},
	})
}

func TestHandleEvent_FinalizerTriggersImmediateFlush(t *testing.T) {
	writer := newRecordingTurnWriter()
	m := newTestManager(writer)

	push := func(body string) {
		m.HandleEvent(context.Background(), wadomain.Event{
			Type: wadomain.EventMessage, AccountID: "acc", Label: "main",
			Message: &wadomain.MessagePayload{ChatID: "5219@c.us", Body: body},
		})
	}
	push("hola")
	push("tengo una")
	push("duda gracias")

	select {
	case turn := <-writer.created:
		if len(turn.Items) != 1 || turn.Items[0].Text != "hola tengo una duda gracias" {
			t.Fatalf("unexpected merged turn: %+v", turn.Items)
		}
	case <-time.After(time.Second):
		t.Fatal("expected immediate flush on finalizer phrase")
	}
}

func TestHandleEvent_DebounceDelaysFlushUntilSilence(t *testing.T) {
	writer := newRecordingTurnWriter()
	m := newTestManager(writer)

	m.HandleEvent(context.Background(), wadomain.Event{
		Type: wadomain.EventMessage, AccountID: "acc", Label: "main",
		Message: &wadomain.MessagePayload{ChatID: "5219@c.us", Body: "no finalizer here"},
	})

	select {
	case <-writer.created:
		t.Fatal("flush fired before the debounce window elapsed")
	case <-time.After(5 * time.Millisecond):
	}

	select {
	case turn := <-writer.created:
		if len(turn.Items) != 1 {
			t.Fatalf("expected one item, got %+v", turn.Items)
		}
	case <-time.After(time.Second):
		t.Fatal("expected flush once the debounce window elapsed")
	}
}

func TestHandleEvent_FromMeIgnored(t *testing.T) {
	writer := newRecordingTurnWriter()
	m := newTestManager(writer)

	m.HandleEvent(context.Background(), wadomain.Event{
		Type: wadomain.EventMessage, AccountID: "acc", Label: "main",
		Message: &wadomain.MessagePayload{ChatID: "5219@c.us", Body: "gracias", FromMe: true},
	})

	select {
	case <-writer.created:
		t.Fatal("expected outbound (fromMe) messages to never reach the buffer")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestHandleEvent_LoopPreventionDropsSelfSender(t *testing.T) {
	writer := newRecordingTurnWriter()
	m := New(testLogger(), &allowAllPolicy{selfWaID: "5219@c.us"}, noopMedia{}, writer, Config{
		Debounce: 10 * time.Millisecond, GCIdle: time.Hour, ShortTextMaxLen: 14,
	})

	m.HandleEvent(context.Background(), wadomain.Event{
		Type: wadomain.EventMessage, AccountID: "acc", Label: "main", WaID: "5219@c.us",
		Message: &wadomain.MessagePayload{ChatID: "5219@c.us", Body: "gracias"},
	})

	select {
	case <-writer.created:
		t.Fatal("expected self-sourced message to be dropped by the policy check")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestGCSweep_RemovesIdleBuffers(t *testing.T) {
	writer := newRecordingTurnWriter()
	m := New(testLogger(), &allowAllPolicy{}, noopMedia{}, writer, Config{
		Debounce: time.Hour, GCIdle: 10 * time.Millisecond, ShortTextMaxLen: 14,
	})

	m.HandleEvent(context.Background(), wadomain.Event{
		Type: wadomain.EventMessage, AccountID: "acc", Label: "main",
		Message: &wadomain.MessagePayload{ChatID: "5219@c.us", Body: "no finalizer"},
	})

	if m.Size() != 1 {
		t.Fatalf("expected 1 open buffer, got %d", m.Size())
	}

	if removed := m.GCSweep(time.Now().Add(time.Hour)); removed != 1 {
		t.Fatalf("expected GCSweep to remove 1 idle buffer, removed %d", removed)
	}
	if m.Size() != 0 {
		t.Fatalf("expected 0 open buffers after gc, got %d", m.Size())
	}
}
