// ABOUTME: Policy-decision contract consumed by the core
// ABOUTME: Entities, actions, template-linked policies, and the Engine interface

package authz

import (
	"context"
	"strconv"
	"time"
)

// Decision is the outcome of an authorization check.
type Decision int

const (
	// Deny means the action is not permitted.
	Deny Decision = iota

	// Allow means the action is permitted.
	Allow
)

// String returns "allow" or "deny".
func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Action identifies one operation of the service, as evaluated by the
// policy engine.
type Action string

const (
	ActionCreateList      Action = "CreateList"
	ActionReadList        Action = "ReadList"
	ActionUpdateList      Action = "UpdateList"
	ActionDeleteList      Action = "DeleteList"
	ActionCreateTask      Action = "CreateTask"
	ActionReadTask        Action = "ReadTask"
	ActionUpdateTask      Action = "UpdateTask"
	ActionDeleteTask      Action = "DeleteTask"
	ActionCreateShare     Action = "CreateShare"
	ActionReadShare       Action = "ReadShare"
	ActionUpdateShare     Action = "UpdateShare"
	ActionDeleteShare     Action = "DeleteShare"
	ActionListLists       Action = "ListLists"
	ActionListTasks       Action = "ListTasks"
	ActionListShares      Action = "ListShares"
	ActionListSharedLists Action = "ListSharedLists"
)

// Entity is a typed identifier in the policy engine's namespace.
type Entity struct {
	Type string
	ID   string
}

// String returns the type-qualified form, e.g. "User::pool|sub".
func (e Entity) String() string {
	return e.Type + "::" + e.ID
}

// UserEntity returns the entity for a user principal.
func UserEntity(id string) Entity {
	return Entity{Type: "User", ID: id}
}

// ListEntity returns the entity for a task list.
func ListEntity(listID int64) Entity {
	return Entity{Type: "List", ID: strconv.FormatInt(listID, 10)}
}

// ApplicationEntity is the static resource used for actions with no
// list in scope (creating a list, listing one's own or shared lists).
// Checks against it carry no resource attributes.
var ApplicationEntity = Entity{Type: "Application", ID: "TinyTodo"}

// Policy is one template-linked grant: a fixed template instantiated
// with a specific (principal, resource) pair. One policy represents one
// share.
type Policy struct {
	ID         string
	TemplateID string
	Principal  Entity
	Resource   Entity
	CreatedAt  time.Time
}

// Filter narrows ListPolicies by principal and/or resource. Nil fields
// match everything.
type Filter struct {
	Principal *Entity
	Resource  *Entity
}

// Templates holds the ids of the two fixed policy templates. The core
// never authors ad-hoc policies; it only binds and unbinds instances of
// these two.
type Templates struct {
	Editor string
	Viewer string
}

// Engine is the policy-decision component. Shares live here, not in the
// list store: the two stores are independent consistency domains and
// fail independently.
type Engine interface {
	// IsAuthorized decides whether the principal may perform the action
	// on the resource. When the resource is a list, attrs must carry the
	// list's owner under "owner" so owner rules evaluate without a
	// second lookup.
	IsAuthorized(ctx context.Context, principal Entity, action Action, resource Entity, attrs map[string]Entity) (Decision, error)

	// CreatePolicy instantiates a template for (principal, resource).
	CreatePolicy(ctx context.Context, principal, resource Entity, templateID string) (*Policy, error)

	// ListPolicies returns all policies matching the filter.
	ListPolicies(ctx context.Context, filter Filter) ([]Policy, error)

	// DeletePolicy removes a policy by id.
	DeletePolicy(ctx context.Context, policyID string) error
}
