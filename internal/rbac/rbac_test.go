package rbac

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/eternisai/wa-bridge/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError, Format: "text"})
}

type fakeStore struct {
	role          string
	roleErr       error
	allowed       []string
	allowedErr    error
	sessionLabels []string
	labelsErr     error
}

func (f *fakeStore) GetRole(ctx context.Context, accountID, uid string) (string, error) {
	return f.role, f.roleErr
}

func (f *fakeStore) GetAllowedLabels(ctx context.Context, accountID, uid string) ([]string, error) {
	return f.allowed, f.allowedErr
}

func (f *fakeStore) ListSessionLabels(ctx context.Context, accountID string) ([]string, error) {
	return f.sessionLabels, f.labelsErr
}

func TestResolve_MemberSeesOnlyAllowedLabels(t *testing.T) {
	s := &fakeStore{role: "member", allowed: []string{"main"}}
	r := New(testLogger(), s, time.Minute)

	v := r.Resolve(context.Background(), "acc1", "uid1")

	if v.Role != RoleMember || !v.HasAccess("main") || v.HasAccess("other") {
		t.Fatalf("unexpected view: %+v", v)
	}
}

func TestResolve_AdministratorSeesAllSessionLabels(t *testing.T) {
	s := &fakeStore{role: "administrator", sessionLabels: []string{"main", "support"}}
	r := New(testLogger(), s, time.Minute)

	v := r.Resolve(context.Background(), "acc1", "uid1")

	if v.Role != RoleAdministrator || !v.HasAccess("main") || !v.HasAccess("support") {
		t.Fatalf("unexpected view: %+v", v)
	}
}

func TestResolve_AdministratorRoleMatchesStoredCapitalization(t *testing.T) {
	s := &fakeStore{role: "Administrator", sessionLabels: []string{"main"}}
	r := New(testLogger(), s, time.Minute)

	v := r.Resolve(context.Background(), "acc1", "uid1")

	if v.Role != RoleAdministrator || !v.HasAccess("main") {
		t.Fatalf("expected capitalized \"Administrator\" to resolve as RoleAdministrator, got %+v", v)
	}
}

func TestResolve_NoMembershipYieldsNoAccess(t *testing.T) {
	s := &fakeStore{role: ""}
	r := New(testLogger(), s, time.Minute)

	v := r.Resolve(context.Background(), "acc1", "uid1")

	if v.Role != RoleNone || v.HasAccess("main") {
		t.Fatalf("expected no access, got %+v", v)
	}
}

func TestResolve_FailsClosedOnStoreError(t *testing.T) {
	s := &fakeStore{roleErr: errors.New("boom")}
	r := New(testLogger(), s, time.Minute)

	v := r.Resolve(context.Background(), "acc1", "uid1")

	if v.Role != RoleNone {
		t.Fatalf("expected fail-closed RoleNone, got %+v", v)
	}
}

func TestResolve_CachesWithinTTL(t *testing.T) {
	s := &fakeStore{role: "member", allowed: []string{"main"}}
	r := New(testLogger(), s, time.Minute)

	r.Resolve(context.Background(), "acc1", "uid1")
	s.role = "administrator" // store change should not be observed yet

	v := r.Resolve(context.Background(), "acc1", "uid1")
	if v.Role != RoleMember {
		t.Fatalf("expected cached member view, got %+v", v)
	}
}

func TestInvalidate_ForcesReresolution(t *testing.T) {
	s := &fakeStore{role: "member", allowed: []string{"main"}}
	r := New(testLogger(), s, time.Minute)

	r.Resolve(context.Background(), "acc1", "uid1")
	s.role = "administrator"
	s.sessionLabels = []string{"main", "support"}
	r.Invalidate("acc1", "uid1")

	v := r.Resolve(context.Background(), "acc1", "uid1")
	if v.Role != RoleAdministrator {
		t.Fatalf("expected re-resolved administrator view, got %+v", v)
	}
}
