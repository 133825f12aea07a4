package policy

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/eternisai/wa-bridge/internal/logger"
	"github.com/eternisai/wa-bridge/internal/store"
)

type fakeStore struct {
	session    *store.SessionDoc
	thread     *store.ThreadSettingsDoc
	selfWaIDs  []string
	sessionErr error
}

func (f *fakeStore) GetSession(ctx context.Context, accountID, label string) (*store.SessionDoc, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return f.session, nil
}

func (f *fakeStore) GetThreadSettings(ctx context.Context, accountID, label, chatID string) (*store.ThreadSettingsDoc, error) {
	return f.thread, nil
}

func (f *fakeStore) ListSessionWaIDs(ctx context.Context, accountID string) ([]string, error) {
	return f.selfWaIDs, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError, Format: "text"})
}

func TestAllowProcess_DisabledSession(t *testing.T) {
	fs := &fakeStore{session: &store.SessionDoc{Bot: store.BotPolicyDoc{Enabled: boolPtr(false)}}}
	c := New(testLogger(), fs, time.Minute)

	if c.AllowProcess(context.Background(), "acc", "main", "123@c.us", "999@c.us") {
		t.Fatal("expected process to be denied for a disabled session")
	}
}

func TestAllowProcess_LoopPrevention(t *testing.T) {
	fs := &fakeStore{
		session:   &store.SessionDoc{WaID: "5219@c.us", Bot: store.BotPolicyDoc{Enabled: boolPtr(true), ReceiveFromBots: boolPtr(false)}},
		selfWaIDs: []string{"5219@c.us"},
	}
	c := New(testLogger(), fs, time.Minute)

	if c.AllowProcess(context.Background(), "acc", "main", "123@c.us", "5219@c.us") {
		t.Fatal("expected self-sent message to be dropped under receiveFromBots=false")
	}
	if !c.AllowProcess(context.Background(), "acc", "main", "123@c.us", "other@c.us") {
		t.Fatal("expected a non-self sender to be allowed")
	}
}

func TestAllowProcess_ChatOverrideWins(t *testing.T) {
	fs := &fakeStore{
		session: &store.SessionDoc{Bot: store.BotPolicyDoc{Enabled: boolPtr(true)}},
		thread:  &store.ThreadSettingsDoc{BotEnabled: boolPtr(false)},
	}
	c := New(testLogger(), fs, time.Minute)

	if c.AllowProcess(context.Background(), "acc", "main", "123@c.us", "") {
		t.Fatal("expected chat-level botEnabled=false to deny processing")
	}
}

func TestAllowSend_SkipsSelfCheck(t *testing.T) {
	fs := &fakeStore{
		session:   &store.SessionDoc{WaID: "5219@c.us", Bot: store.BotPolicyDoc{Enabled: boolPtr(true), ReceiveFromBots: boolPtr(false)}},
		selfWaIDs: []string{"5219@c.us"},
	}
	c := New(testLogger(), fs, time.Minute)

	if !c.AllowSend(context.Background(), "acc", "main", "123@c.us") {
		t.Fatal("AllowSend must not apply the loop-prevention self-id check")
	}
}

func TestSessionView_FailsClosedOnStoreError(t *testing.T) {
	fs := &fakeStore{sessionErr: errFake}
	c := New(testLogger(), fs, time.Minute)

	if c.AllowProcess(context.Background(), "acc", "main", "123@c.us", "") {
		t.Fatal("expected a store read failure to fail closed (deny)")
	}
}

func boolPtr(b bool) *bool { return &b }

var errFake = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
