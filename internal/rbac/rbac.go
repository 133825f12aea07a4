// Package rbac resolves a per-account uid's role and session visibility
// (SessionRegistry + Rbac in SPEC_FULL.md §4.7), generalized from
// internal/store.AclStore's membership/acl documents into the small
// view WsHub and the admin handlers consult.
package rbac

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/eternisai/wa-bridge/internal/logger"
)

// Role is a resolved membership role.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleMember        Role = "member"
	RoleNone          Role = ""
)

// Store is the subset of internal/store.AclStore this package reads through.
type Store interface {
	GetRole(ctx context.Context, accountID, uid string) (string, error)
	GetAllowedLabels(ctx context.Context, accountID, uid string) ([]string, error)
	ListSessionLabels(ctx context.Context, accountID string) ([]string, error)
}

// View is a uid's resolved role and visible session labels within an account.
type View struct {
	Role           Role
	AllowedLabels  []string // nil/empty means "no labels" for every role, Administrator included
}

type entry struct {
	view      View
	expiresAt time.Time
}

// Registry resolves and short-TTL-caches View lookups so WsHub and admin
// handlers don't hit the store on every request (SPEC_FULL.md §4.7).
type Registry struct {
	log   *logger.Logger
	store Store
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]entry // "{accountId}/{uid}" -> entry
}

// New creates a Registry.
func New(log *logger.Logger, store Store, ttl time.Duration) *Registry {
	return &Registry{
		log:     log.WithComponent("rbac_registry"),
		store:   store,
		ttl:     ttl,
		entries: make(map[string]entry),
	}
}

// Resolve returns uid's role and allowed labels within accountID, consulting
// the cache first. A store read failure resolves to an empty, no-access View
// rather than panicking or defaulting to Administrator (SPEC_FULL.md §7:
// the same fail-closed posture as PolicyCache).
func (r *Registry) Resolve(ctx context.Context, accountID, uid string) View {
	key := accountID + "/" + uid

	r.mu.RLock()
	if e, ok := r.entries[key]; ok && time.Now().Before(e.expiresAt) {
		r.mu.RUnlock()
		return e.view
	}
	r.mu.RUnlock()

	view := r.resolveFromStore(ctx, accountID, uid)

	r.mu.Lock()
	r.entries[key] = entry{view: view, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return view
}

func (r *Registry) resolveFromStore(ctx context.Context, accountID, uid string) View {
	role, err := r.store.GetRole(ctx, accountID, uid)
	if err != nil {
		r.log.Error("failed to resolve role, failing closed", "accountId", accountID, "uid", uid, "error", err)
		return View{Role: RoleNone}
	}
	if role == "" {
		return View{Role: RoleNone}
	}

	// The stored field is "Administrator" (spec.md:184); compare
	// case-insensitively rather than requiring callers to normalize on write.
	if strings.EqualFold(role, string(RoleAdministrator)) {
		labels, err := r.store.ListSessionLabels(ctx, accountID)
		if err != nil {
			r.log.Error("failed to list session labels for administrator, failing closed", "accountId", accountID, "uid", uid, "error", err)
			return View{Role: RoleAdministrator}
		}
		return View{Role: RoleAdministrator, AllowedLabels: labels}
	}

	labels, err := r.store.GetAllowedLabels(ctx, accountID, uid)
	if err != nil {
		r.log.Error("failed to resolve acl, failing closed", "accountId", accountID, "uid", uid, "error", err)
		return View{Role: RoleMember}
	}
	return View{Role: RoleMember, AllowedLabels: labels}
}

// Invalidate drops a cached entry so the next Resolve re-reads the store;
// called when an admin handler mutates an acl document directly.
func (r *Registry) Invalidate(accountID, uid string) {
	r.mu.Lock()
	delete(r.entries, accountID+"/"+uid)
	r.mu.Unlock()
}

// HasAccess reports whether a view grants visibility into label.
func (v View) HasAccess(label string) bool {
	if v.Role == RoleNone {
		return false
	}
	for _, l := range v.AllowedLabels {
		if l == label {
			return true
		}
	}
	return false
}
