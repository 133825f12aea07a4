// Package store wraps cloud.google.com/go/firestore with the small,
// per-collection-family structs the rest of the bridge depends on, in the
// same guard-clause-and-codes-status idiom as the messaging package this is
// generalized from.
package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Store is the root handle every sub-store is built from.
type Store struct {
	client *firestore.Client
}

// New wraps an already-dialed firestore client. Passing a nil client is
// accepted so callers can no-op document access in tests.
func New(client *firestore.Client) *Store {
	return &Store{client: client}
}

// GetSession, GetThreadSettings and ListSessionWaIDs adapt the sub-stores
// into the narrow interface internal/policy.Cache reads through, so that
// package depends only on an interface rather than the whole store package.
func (s *Store) GetSession(ctx context.Context, accountID, label string) (*SessionDoc, error) {
	return s.Sessions().Get(ctx, accountID, label)
}

func (s *Store) GetThreadSettings(ctx context.Context, accountID, label, chatID string) (*ThreadSettingsDoc, error) {
	return s.Threads().GetSettings(ctx, accountID, label, chatID)
}

func (s *Store) ListSessionWaIDs(ctx context.Context, accountID string) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	docs, err := s.client.Collection("accounts").Doc(accountID).Collection("sessions").Documents(ctx).GetAll()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list session wa ids %s: %v", accountID, err)
	}
	waIDs := make([]string, 0, len(docs))
	for _, d := range docs {
		var doc SessionDoc
		if err := d.DataTo(&doc); err != nil {
			continue
		}
		if doc.WaID != "" {
			waIDs = append(waIDs, doc.WaID)
		}
	}
	return waIDs, nil
}

func (s *Store) ready() error {
	if s == nil || s.client == nil {
		return status.Error(codes.Internal, "store: firestore client is nil")
	}
	return nil
}

func (s *Store) account(accountID string) *firestore.DocumentRef {
	return s.client.Collection("accounts").Doc(accountID)
}

func (s *Store) sessionDoc(accountID, label string) *firestore.DocumentRef {
	return s.account(accountID).Collection("sessions").Doc(label)
}

func (s *Store) threadDoc(accountID, label, chatID string) *firestore.DocumentRef {
	return s.sessionDoc(accountID, label).Collection("threads").Doc(chatID)
}

func (s *Store) threadSettingsDoc(accountID, label, chatID string) *firestore.DocumentRef {
	return s.threadDoc(accountID, label, chatID).Collection("settings").Doc("__root__")
}

func (s *Store) turnDoc(accountID, label, chatID, windowID string) *firestore.DocumentRef {
	return s.threadDoc(accountID, label, chatID).Collection("turns").Doc(windowID)
}

// --- SessionStore -----------------------------------------------------

// SessionStore persists session lifecycle and policy metadata.
type SessionStore struct{ s *Store }

func (s *Store) Sessions() *SessionStore { return &SessionStore{s} }

func (ss *SessionStore) Get(ctx context.Context, accountID, label string) (*SessionDoc, error) {
	if err := ss.s.ready(); err != nil {
		return nil, err
	}
	snap, err := ss.s.sessionDoc(accountID, label).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, status.Errorf(codes.Internal, "get session %s/%s: %v", accountID, label, err)
	}
	var doc SessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, status.Errorf(codes.Internal, "decode session %s/%s: %v", accountID, label, err)
	}
	return &doc, nil
}

// Upsert merge-writes the session document, used both by admin init and by
// the supervisor recording status transitions.
func (ss *SessionStore) Upsert(ctx context.Context, accountID, label string, fields map[string]interface{}) error {
	if err := ss.s.ready(); err != nil {
		return err
	}
	_, err := ss.s.sessionDoc(accountID, label).Set(ctx, fields, firestore.MergeAll)
	if err != nil {
		return status.Errorf(codes.Internal, "upsert session %s/%s: %v", accountID, label, err)
	}
	return nil
}

// --- ThreadStore --------------------------------------------------------

// ThreadStore reads per-chat policy overrides.
type ThreadStore struct{ s *Store }

func (s *Store) Threads() *ThreadStore { return &ThreadStore{s} }

func (ts *ThreadStore) GetSettings(ctx context.Context, accountID, label, chatID string) (*ThreadSettingsDoc, error) {
	if err := ts.s.ready(); err != nil {
		return nil, err
	}

	// Preferred location first (SPEC_FULL.md §4.2).
	snap, err := ts.s.threadSettingsDoc(accountID, label, chatID).Get(ctx)
	if err == nil {
		var doc ThreadSettingsDoc
		if derr := snap.DataTo(&doc); derr != nil {
			return nil, status.Errorf(codes.Internal, "decode thread settings %s/%s/%s: %v", accountID, label, chatID, derr)
		}
		return &doc, nil
	}
	if status.Code(err) != codes.NotFound {
		return nil, status.Errorf(codes.Internal, "get thread settings %s/%s/%s: %v", accountID, label, chatID, err)
	}

	// Fall back to fields directly on the thread document.
	snap, err = ts.s.threadDoc(accountID, label, chatID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return &ThreadSettingsDoc{}, nil
		}
		return nil, status.Errorf(codes.Internal, "get thread %s/%s/%s: %v", accountID, label, chatID, err)
	}
	var doc ThreadSettingsDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, status.Errorf(codes.Internal, "decode thread %s/%s/%s: %v", accountID, label, chatID, err)
	}
	return &doc, nil
}

// --- TurnStore ------------------------------------------------------------

// TurnStore persists Turn documents and owns the single claim transaction
// that makes outbox delivery at-most-once (SPEC_FULL.md §4.8).
type TurnStore struct{ s *Store }

func (s *Store) Turns() *TurnStore { return &TurnStore{s} }

// CreatePending writes a freshly-flushed buffer as a pending turn.
func (ts *TurnStore) CreatePending(ctx context.Context, turn *Turn) error {
	if err := ts.s.ready(); err != nil {
		return err
	}
	ref := ts.s.turnDoc(turn.Meta.AccountID, turn.Meta.Label, turn.Meta.ChatID, turn.Meta.WindowID)
	_, err := ref.Create(ctx, turn)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil // idempotent: the same window was flushed twice
		}
		return status.Errorf(codes.Internal, "create turn %s: %v", turn.Meta.WindowID, err)
	}
	return nil
}

// CollectionGroupReady returns the live collection-group query over every
// thread's turns subcollection filtered to this session's ready documents;
// the caller (OutboxWatcher) snapshots it.
func (ts *TurnStore) CollectionGroupReady(accountID, label string) firestore.Query {
	return ts.s.client.CollectionGroup("turns").
		Where("meta.accountId", "==", accountID).
		Where("meta.label", "==", label).
		Where("status", "==", string(TurnReady))
}

// ErrAlreadyClaimed is returned by Claim when another watcher won the race.
var ErrAlreadyClaimed = fmt.Errorf("turn already claimed or not ready")

// Claim atomically transitions a turn from ready to sending. It is the one
// place in the store layer that must use a real transaction rather than a
// plain Get+Set pair, since that pair would let two observers both see
// status=ready and both attempt delivery.
func (ts *TurnStore) Claim(ctx context.Context, ref *firestore.DocumentRef, now int64) (*Turn, error) {
	if err := ts.s.ready(); err != nil {
		return nil, err
	}
	var claimed Turn
	err := ts.s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return status.Errorf(codes.Internal, "claim read %s: %v", ref.ID, err)
		}
		var cur Turn
		if err := snap.DataTo(&cur); err != nil {
			return status.Errorf(codes.Internal, "claim decode %s: %v", ref.ID, err)
		}
		if cur.Status != TurnReady || cur.WaMessageID != "" {
			return ErrAlreadyClaimed
		}
		cur.Status = TurnSending
		cur.ClaimedAt = now
		if err := tx.Set(ref, map[string]interface{}{
			"status":    string(TurnSending),
			"claimedAt": now,
		}, firestore.MergeAll); err != nil {
			return status.Errorf(codes.Internal, "claim write %s: %v", ref.ID, err)
		}
		claimed = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// MarkDelivered is the terminal sending->delivered transition.
func (ts *TurnStore) MarkDelivered(ctx context.Context, ref *firestore.DocumentRef, waMessageID string, now int64) error {
	return ts.mergeSet(ctx, ref, map[string]interface{}{
		"status":      string(TurnDelivered),
		"deliveredAt": now,
		"waMessageId": waMessageID,
		"error":       nil,
	})
}

// MarkSkipped is the terminal sending->skipped transition (policy deny).
func (ts *TurnStore) MarkSkipped(ctx context.Context, ref *firestore.DocumentRef, now int64) error {
	return ts.mergeSet(ctx, ref, map[string]interface{}{
		"status":     string(TurnSkipped),
		"skippedAt":  now,
		"error":      nil,
	})
}

// MarkError is the terminal sending->error transition (validation or send failure).
func (ts *TurnStore) MarkError(ctx context.Context, ref *firestore.DocumentRef, stage, detail string) error {
	return ts.mergeSet(ctx, ref, map[string]interface{}{
		"status": string(TurnError),
		"error":  TurnErrorInfo{Stage: stage, Detail: detail},
	})
}

func (ts *TurnStore) mergeSet(ctx context.Context, ref *firestore.DocumentRef, fields map[string]interface{}) error {
	if err := ts.s.ready(); err != nil {
		return err
	}
	_, err := ref.Set(ctx, fields, firestore.MergeAll)
	if err != nil {
		return status.Errorf(codes.Internal, "update turn %s: %v", ref.ID, err)
	}
	return nil
}

// --- AclStore ---------------------------------------------------------

// AclStore resolves membership role and per-uid session ACLs.
type AclStore struct{ s *Store }

func (s *Store) Acl() *AclStore { return &AclStore{s} }

func (as *AclStore) GetRole(ctx context.Context, accountID, uid string) (string, error) {
	if err := as.s.ready(); err != nil {
		return "", err
	}
	snap, err := as.s.account(accountID).Collection("members").Doc(uid).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", nil
		}
		return "", status.Errorf(codes.Internal, "get role %s/%s: %v", accountID, uid, err)
	}
	var doc MembershipDoc
	if err := snap.DataTo(&doc); err != nil {
		return "", status.Errorf(codes.Internal, "decode role %s/%s: %v", accountID, uid, err)
	}
	return doc.Role, nil
}

func (as *AclStore) GetAllowedLabels(ctx context.Context, accountID, uid string) ([]string, error) {
	if err := as.s.ready(); err != nil {
		return nil, err
	}
	snap, err := as.s.account(accountID).Collection("acl").Doc(uid).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, status.Errorf(codes.Internal, "get acl %s/%s: %v", accountID, uid, err)
	}
	var doc AclDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, status.Errorf(codes.Internal, "decode acl %s/%s: %v", accountID, uid, err)
	}
	return doc.Sessions, nil
}

// ListSessionLabels lists every session label configured for an account (used
// to resolve an Administrator's "all labels" view).
func (as *AclStore) ListSessionLabels(ctx context.Context, accountID string) ([]string, error) {
	if err := as.s.ready(); err != nil {
		return nil, err
	}
	docs, err := as.s.account(accountID).Collection("sessions").DocumentRefs(ctx).GetAll()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list session labels %s: %v", accountID, err)
	}
	labels := make([]string, 0, len(docs))
	for _, d := range docs {
		labels = append(labels, d.ID)
	}
	return labels, nil
}
