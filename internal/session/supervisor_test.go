package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/eternisai/wa-bridge/internal/logger"
	"github.com/eternisai/wa-bridge/internal/media"
	"github.com/eternisai/wa-bridge/internal/store"
	"github.com/eternisai/wa-bridge/internal/wadomain"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError, Format: "text"})
}

type fakeSessionStore struct {
	mu   sync.Mutex
	docs map[string]map[string]interface{}
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{docs: make(map[string]map[string]interface{})}
}

func (f *fakeSessionStore) Upsert(ctx context.Context, accountID, label string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := accountID + "/" + label
	if f.docs[key] == nil {
		f.docs[key] = make(map[string]interface{})
	}
	for k, v := range fields {
		f.docs[key][k] = v
	}
	return nil
}

func (f *fakeSessionStore) Get(ctx context.Context, accountID, label string) (*store.SessionDoc, error) {
	return nil, nil
}

func (f *fakeSessionStore) statusOf(accountID, label string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[accountID+"/"+label]
	if !ok {
		return "", false
	}
	s, ok := doc["status"].(string)
	return s, ok
}

func newTestSupervisor(t *testing.T, factory ClientFactory, onEvent func(wadomain.Event), onReady, onNotReady func(string, string)) (*Supervisor, *fakeSessionStore) {
	t.Helper()
	dir := t.TempDir()
	fs := newFakeSessionStore()
	sup := New(testLogger(), Config{
		Sessions:    fs,
		Media:       media.New(time.Minute),
		Factory:     factory,
		AuthBaseDir: dir,
		OnEvent:     onEvent,
		OnReady:     onReady,
		OnNotReady:  onNotReady,
	})
	return sup, fs
}

func TestInit_CreatesAuthDirectoryAndStartsClient(t *testing.T) {
	var created *FakePlatformClient
	factory := func(accountID, label, authDir string) PlatformClient {
		created = NewFakePlatformClient()
		if _, err := os.Stat(authDir); err != nil {
			t.Fatalf("expected auth dir to exist before client construction: %v", err)
		}
		return created
	}

	sup, _ := newTestSupervisor(t, factory, nil, nil, nil)
	status := sup.Init(context.Background(), "acc1", "main")

	if status != wadomain.StatusStarting {
		t.Fatalf("expected starting status, got %s", status)
	}
	if created == nil {
		t.Fatal("expected factory to be invoked")
	}
}

func TestInit_IsIdempotentForSameKey(t *testing.T) {
	calls := 0
	factory := func(accountID, label, authDir string) PlatformClient {
		calls++
		return NewFakePlatformClient()
	}
	sup, _ := newTestSupervisor(t, factory, nil, nil, nil)

	sup.Init(context.Background(), "acc1", "main")
	sup.Init(context.Background(), "acc1", "main")

	if calls != 1 {
		t.Fatalf("expected exactly one client construction, got %d", calls)
	}
}

func TestReadyEvent_TransitionsStatusAndFiresOnReady(t *testing.T) {
	var client *FakePlatformClient
	factory := func(accountID, label, authDir string) PlatformClient {
		client = NewFakePlatformClient()
		return client
	}

	readyFired := make(chan struct{}, 1)
	sup, fs := newTestSupervisor(t, factory, nil, func(accountID, label string) {
		readyFired <- struct{}{}
	}, nil)

	sup.Init(context.Background(), "acc1", "main")
	client.Emit(RawClientEvent{Type: "ready"})

	select {
	case <-readyFired:
	case <-time.After(time.Second):
		t.Fatal("expected onReady to fire after a ready event")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if status, _ := sup.Status("acc1", "main"); status == wadomain.StatusReady {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	status, ok := sup.Status("acc1", "main")
	if !ok || status != wadomain.StatusReady {
		t.Fatalf("expected status ready, got %s", status)
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s, ok := fs.statusOf("acc1", "main"); ok && s == "ready" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected session doc to be persisted as ready")
}

func TestReadyEvent_RecordsAndPersistsSelfWaID(t *testing.T) {
	var client *FakePlatformClient
	factory := func(accountID, label, authDir string) PlatformClient {
		client = NewFakePlatformClient()
		return client
	}

	events := make(chan wadomain.Event, 4)
	sup, fs := newTestSupervisor(t, factory, func(evt wadomain.Event) { events <- evt }, nil, nil)
	sup.Init(context.Background(), "acc1", "main")
	client.Emit(RawClientEvent{Type: "ready", Self: "5219999999"})

	select {
	case evt := <-events:
		if evt.Type != wadomain.EventReady || evt.WaID != "5219999999" {
			t.Fatalf("expected ready event carrying the self waId, got %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a ready event to be forwarded")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if info := sup.ListRunning("acc1"); len(info) == 1 && info[0].WaID == "5219999999" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	info := sup.ListRunning("acc1")
	if len(info) != 1 || info[0].WaID != "5219999999" {
		t.Fatalf("expected in-memory waId to be recorded, got %+v", info)
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		fs.mu.Lock()
		doc := fs.docs["acc1/main"]
		waID, _ := doc["waId"].(string)
		fs.mu.Unlock()
		if waID == "5219999999" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected session doc to persist the self waId")
}

func TestMessageEvent_NormalizesChatIDAndForwardsToOnEvent(t *testing.T) {
	var client *FakePlatformClient
	factory := func(accountID, label, authDir string) PlatformClient {
		client = NewFakePlatformClient()
		return client
	}

	events := make(chan wadomain.Event, 4)
	sup, _ := newTestSupervisor(t, factory, func(evt wadomain.Event) { events <- evt }, nil, nil)
	sup.Init(context.Background(), "acc1", "main")

	client.Emit(RawClientEvent{Type: "message_create", Message: &RawMessage{
		ID: "msg1", From: "5219", FromMe: false, Body: "hola", TimestampSec: 1700000000,
	}})

	select {
	case evt := <-events:
		if evt.Type != wadomain.EventMessage || evt.Message.ChatID != "5219@c.us" {
			t.Fatalf("unexpected normalized event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a message event to be forwarded")
	}
}

func TestSend_FailsWhenNotReady(t *testing.T) {
	factory := func(accountID, label, authDir string) PlatformClient {
		return NewFakePlatformClient()
	}
	sup, _ := newTestSupervisor(t, factory, nil, nil, nil)
	sup.Init(context.Background(), "acc1", "main")

	_, err := sup.SendText(context.Background(), "acc1", "main", "5219@c.us", "hola")
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestSend_EmitsSentEventOnceReady(t *testing.T) {
	var client *FakePlatformClient
	factory := func(accountID, label, authDir string) PlatformClient {
		client = NewFakePlatformClient()
		return client
	}
	events := make(chan wadomain.Event, 4)
	sup, _ := newTestSupervisor(t, factory, func(evt wadomain.Event) { events <- evt }, nil, nil)
	sup.Init(context.Background(), "acc1", "main")
	client.Emit(RawClientEvent{Type: "ready"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if status, _ := sup.Status("acc1", "main"); status == wadomain.StatusReady {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	waMessageID, err := sup.SendText(context.Background(), "acc1", "main", "5219@c.us", "hola")
	if err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	if waMessageID == "" {
		t.Fatal("expected a wa message id")
	}

	select {
	case evt := <-events:
		if evt.Type == wadomain.EventReady {
			evt = <-events // drain the ready event, wait for sent
		}
		if evt.Type != wadomain.EventSent {
			t.Fatalf("expected a sent event, got %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a sent event to be forwarded")
	}
}

func TestDestroy_PurgesAuthDirectory(t *testing.T) {
	var authDirSeen string
	factory := func(accountID, label, authDir string) PlatformClient {
		authDirSeen = authDir
		return NewFakePlatformClient()
	}
	sup, _ := newTestSupervisor(t, factory, nil, nil, nil)
	sup.Init(context.Background(), "acc1", "main")

	if err := sup.Destroy(context.Background(), "acc1", "main"); err != nil {
		t.Fatalf("unexpected destroy error: %v", err)
	}
	if _, err := os.Stat(authDirSeen); !os.IsNotExist(err) {
		t.Fatalf("expected auth directory to be removed, stat err: %v", err)
	}
}

func TestRestoreAllFromFs_ReinitsUnknownSessionDirs(t *testing.T) {
	calls := 0
	factory := func(accountID, label, authDir string) PlatformClient {
		calls++
		return NewFakePlatformClient()
	}
	sup, _ := newTestSupervisor(t, factory, nil, nil, nil)

	dir := sup.authDir(wadomain.SessionKey{AccountID: "acc2", Label: "support"})
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("failed to seed auth dir: %v", err)
	}

	restored, err := sup.RestoreAllFromFs(context.Background())
	if err != nil {
		t.Fatalf("unexpected restore error: %v", err)
	}
	if restored != 1 || calls != 1 {
		t.Fatalf("expected exactly one session restored, got restored=%d calls=%d", restored, calls)
	}
}
