// ABOUTME: Share manager coordinating policy grants with list state
// ABOUTME: Maps roles to policy templates and tolerates orphaned grants

package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/2389/tinytodo-gateway/internal/authz"
	"github.com/2389/tinytodo-gateway/internal/liststore"
)

// ErrShareExists is returned when a share already exists for the
// (list, user) pair. Callers surface it as a client error; the grant
// set is untouched.
var ErrShareExists = errors.New("share already exists")

// ErrInvariant is returned when the grant set contradicts what creation
// and update guarantee (exactly one grant per (list, user) pair). It
// marks a defect elsewhere in the system, never user error.
var ErrInvariant = errors.New("share invariant violated")

// Role is a share's permission level. It is a closed type: the only
// values are RoleEditor and RoleViewer, each bound to one policy
// template.
type Role int

const (
	RoleEditor Role = iota
	RoleViewer
)

// String returns "editor" or "viewer".
func (r Role) String() string {
	if r == RoleEditor {
		return "editor"
	}
	return "viewer"
}

// ParseRole converts the wire form of a role. Anything but "editor" or
// "viewer" is rejected at this boundary so invalid roles cannot travel
// further.
func ParseRole(s string) (Role, error) {
	switch s {
	case "editor":
		return RoleEditor, nil
	case "viewer":
		return RoleViewer, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

// Share is one grant on a list.
type Share struct {
	User string
	Role Role
}

// SharedList is a list joined with the requesting user's role on it. It
// is a derived projection, never persisted.
type SharedList struct {
	liststore.List
	Role Role
}

// Manager creates, reads, updates, and deletes share grants in the
// policy engine and reconciles them against list state. It holds no
// state of its own.
type Manager struct {
	engine    authz.Engine
	lists     *liststore.Store
	templates authz.Templates
	logger    *slog.Logger
}

// NewManager creates a share manager over the given engine and list store.
func NewManager(engine authz.Engine, lists *liststore.Store, templates authz.Templates) *Manager {
	return &Manager{
		engine:    engine,
		lists:     lists,
		templates: templates,
		logger:    slog.Default().With("component", "share"),
	}
}

// templateFor maps a role to its policy template id.
func (m *Manager) templateFor(role Role) string {
	if role == RoleEditor {
		return m.templates.Editor
	}
	return m.templates.Viewer
}

// roleFor derives a role from the template a grant instantiates.
func (m *Manager) roleFor(templateID string) Role {
	if templateID == m.templates.Editor {
		return RoleEditor
	}
	return RoleViewer
}

// CreateShare grants the user a role on the list. At most one grant may
// exist per (list, user) pair, so an existing grant fails the call with
// ErrShareExists before anything is written.
func (m *Manager) CreateShare(ctx context.Context, listID int64, user string, role Role) error {
	principal := authz.UserEntity(user)
	resource := authz.ListEntity(listID)

	existing, err := m.engine.ListPolicies(ctx, authz.Filter{Principal: &principal, Resource: &resource})
	if err != nil {
		return fmt.Errorf("checking existing grants: %w", err)
	}
	if len(existing) > 0 {
		return ErrShareExists
	}

	if _, err := m.engine.CreatePolicy(ctx, principal, resource, m.templateFor(role)); err != nil {
		return fmt.Errorf("creating grant: %w", err)
	}

	m.logger.Info("created share", "listId", listID, "user", user, "role", role.String())
	return nil
}

// ListShares returns all grants on the list, with roles derived from
// the templates they instantiate.
func (m *Manager) ListShares(ctx context.Context, listID int64) ([]Share, error) {
	resource := authz.ListEntity(listID)
	policies, err := m.engine.ListPolicies(ctx, authz.Filter{Resource: &resource})
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}

	shares := make([]Share, len(policies))
	for i, p := range policies {
		shares[i] = Share{User: p.Principal.ID, Role: m.roleFor(p.TemplateID)}
	}
	return shares, nil
}

// ListSharedLists returns every list shared with the user, joined with
// the user's role. A grant whose list no longer exists is skipped, not
// raised: list deletion does not clean up grants, and the orphans are
// tolerated here instead.
func (m *Manager) ListSharedLists(ctx context.Context, user string) ([]SharedList, error) {
	principal := authz.UserEntity(user)
	policies, err := m.engine.ListPolicies(ctx, authz.Filter{Principal: &principal})
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}

	var result []SharedList
	for _, p := range policies {
		listID, err := strconv.ParseInt(p.Resource.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: grant %s has non-numeric list id %q", ErrInvariant, p.ID, p.Resource.ID)
		}

		list, err := m.lists.GetList(ctx, listID)
		if errors.Is(err, liststore.ErrNotFound) {
			m.logger.Warn("skipping orphaned share", "listId", listID, "user", user, "policyId", p.ID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolving shared list %d: %w", listID, err)
		}

		result = append(result, SharedList{List: *list, Role: m.roleFor(p.TemplateID)})
	}
	return result, nil
}

// UpdateShare replaces the user's role by deleting the existing grant
// and creating a new one. The two steps are independent engine calls
// and deliberately not atomic: a crash in between leaves the user with
// no access, never with two conflicting roles. Safe-but-lossy beats
// unsafe-but-duplicated; callers own any retry.
func (m *Manager) UpdateShare(ctx context.Context, listID int64, user string, role Role) error {
	if err := m.DeleteShare(ctx, listID, user); err != nil {
		return err
	}
	return m.CreateShare(ctx, listID, user, role)
}

// DeleteShare removes the grant for (list, user). Exactly one grant
// must exist; zero or several mean the creation-time invariant broke
// somewhere, and the operation aborts with ErrInvariant rather than
// guessing.
func (m *Manager) DeleteShare(ctx context.Context, listID int64, user string) error {
	principal := authz.UserEntity(user)
	resource := authz.ListEntity(listID)

	policies, err := m.engine.ListPolicies(ctx, authz.Filter{Principal: &principal, Resource: &resource})
	if err != nil {
		return fmt.Errorf("listing grants: %w", err)
	}
	if len(policies) != 1 {
		return fmt.Errorf("%w: expected exactly one grant for list %d and user %s, found %d",
			ErrInvariant, listID, user, len(policies))
	}

	if err := m.engine.DeletePolicy(ctx, policies[0].ID); err != nil {
		return fmt.Errorf("deleting grant: %w", err)
	}

	m.logger.Info("deleted share", "listId", listID, "user", user)
	return nil
}
