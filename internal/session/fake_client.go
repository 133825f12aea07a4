package session

import "context"

// FakePlatformClient is a test double for PlatformClient, not a production
// implementation — the real renderer lives outside this module per
// SPEC_FULL.md §1. It lets tests drive events and inspect sent payloads
// without a live chat-platform connection.
type FakePlatformClient struct {
	events chan RawClientEvent

	InitErr    error
	DestroyErr error
	LogoutErr  error
	SendErr    error
	SendReceipt *SentReceipt

	Sent []sentCall

	initialized bool
	destroyed   bool
}

type sentCall struct {
	ChatID  string
	Payload OutboundPayload
}

// NewFakePlatformClient creates a FakePlatformClient with a buffered event channel.
func NewFakePlatformClient() *FakePlatformClient {
	return &FakePlatformClient{
		events:      make(chan RawClientEvent, 32),
		SendReceipt: &SentReceipt{ID: "fake-wamid-1"},
	}
}

func (f *FakePlatformClient) Initialize(ctx context.Context) error {
	if f.InitErr != nil {
		return f.InitErr
	}
	f.initialized = true
	return nil
}

func (f *FakePlatformClient) Destroy(ctx context.Context) error {
	if f.DestroyErr != nil {
		return f.DestroyErr
	}
	f.destroyed = true
	close(f.events)
	return nil
}

func (f *FakePlatformClient) Logout(ctx context.Context) error {
	return f.LogoutErr
}

func (f *FakePlatformClient) SendMessage(ctx context.Context, chatID string, payload OutboundPayload) (*SentReceipt, error) {
	f.Sent = append(f.Sent, sentCall{ChatID: chatID, Payload: payload})
	if f.SendErr != nil {
		return nil, f.SendErr
	}
	return f.SendReceipt, nil
}

func (f *FakePlatformClient) Events() <-chan RawClientEvent {
	return f.events
}

// Emit pushes a synthetic event, as the real renderer would.
func (f *FakePlatformClient) Emit(evt RawClientEvent) {
	f.events <- evt
}
