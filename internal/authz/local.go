// ABOUTME: Local SQLite-backed policy engine
// ABOUTME: Evaluates owner rules, application-scope rules, and template-linked grants

package authz

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Actions granted by the viewer template: reads only.
var viewerActions = map[Action]bool{
	ActionReadList:  true,
	ActionReadTask:  true,
	ActionListTasks: true,
}

// Actions granted by the editor template: everything a viewer can do,
// plus mutating the list and its tasks. Share administration and list
// deletion stay owner-only.
var editorActions = map[Action]bool{
	ActionReadList:   true,
	ActionReadTask:   true,
	ActionListTasks:  true,
	ActionUpdateList: true,
	ActionCreateTask: true,
	ActionUpdateTask: true,
	ActionDeleteTask: true,
}

// Actions evaluated against the static application resource, permitted
// to every authenticated principal.
var applicationActions = map[Action]bool{
	ActionCreateList:      true,
	ActionListLists:       true,
	ActionListSharedLists: true,
}

// LocalEngine implements Engine with policies persisted in its own
// SQLite database. It deliberately does not share a handle with the
// key-value store: shares and list records live in separate consistency
// domains, and nothing here is transactional across the two.
type LocalEngine struct {
	db        *sql.DB
	templates Templates
	logger    *slog.Logger
}

// NewLocalEngine opens (or creates) the policy store at the given path.
func NewLocalEngine(path string, templates Templates) (*LocalEngine, error) {
	logger := slog.Default().With("component", "authz")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating policy store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening policy store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS policies (
			policy_id      TEXT PRIMARY KEY,
			template_id    TEXT NOT NULL,
			principal_type TEXT NOT NULL,
			principal_id   TEXT NOT NULL,
			resource_type  TEXT NOT NULL,
			resource_id    TEXT NOT NULL,
			created_at     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_policies_principal
			ON policies(principal_type, principal_id);
		CREATE INDEX IF NOT EXISTS idx_policies_resource
			ON policies(resource_type, resource_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating policy schema: %w", err)
	}

	logger.Info("policy engine initialized", "path", path)
	return &LocalEngine{db: db, templates: templates, logger: logger}, nil
}

// Close closes the policy store.
func (e *LocalEngine) Close() error {
	return e.db.Close()
}

// IsAuthorized evaluates the request deny-by-default: application-scope
// rules first, then the owner attribute, then template-linked grants.
func (e *LocalEngine) IsAuthorized(ctx context.Context, principal Entity, action Action, resource Entity, attrs map[string]Entity) (Decision, error) {
	if principal.ID == "" {
		return Deny, nil
	}

	if resource == ApplicationEntity {
		if applicationActions[action] {
			return Allow, nil
		}
		return Deny, nil
	}

	// The owner has full rights on the list, never via an explicit
	// grant. The caller supplies the owner as a resource attribute.
	if owner, ok := attrs["owner"]; ok && owner == principal {
		return Allow, nil
	}

	policies, err := e.ListPolicies(ctx, Filter{Principal: &principal, Resource: &resource})
	if err != nil {
		return Deny, fmt.Errorf("listing grants: %w", err)
	}

	for _, p := range policies {
		switch p.TemplateID {
		case e.templates.Editor:
			if editorActions[action] {
				return Allow, nil
			}
		case e.templates.Viewer:
			if viewerActions[action] {
				return Allow, nil
			}
		}
	}

	return Deny, nil
}

// CreatePolicy instantiates a template for (principal, resource).
func (e *LocalEngine) CreatePolicy(ctx context.Context, principal, resource Entity, templateID string) (*Policy, error) {
	if templateID != e.templates.Editor && templateID != e.templates.Viewer {
		return nil, fmt.Errorf("unknown policy template %q", templateID)
	}

	p := &Policy{
		ID:         uuid.New().String(),
		TemplateID: templateID,
		Principal:  principal,
		Resource:   resource,
		CreatedAt:  time.Now().UTC(),
	}

	_, err := e.db.ExecContext(ctx, `
		INSERT INTO policies (policy_id, template_id, principal_type, principal_id, resource_type, resource_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.TemplateID, p.Principal.Type, p.Principal.ID, p.Resource.Type, p.Resource.ID,
		p.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("inserting policy: %w", err)
	}

	e.logger.Info("created policy", "policyId", p.ID, "principal", p.Principal.String(), "resource", p.Resource.String())
	return p, nil
}

// ListPolicies returns all policies matching the filter.
func (e *LocalEngine) ListPolicies(ctx context.Context, filter Filter) ([]Policy, error) {
	query := `
		SELECT policy_id, template_id, principal_type, principal_id, resource_type, resource_id, created_at
		FROM policies WHERE 1=1
	`
	var args []any
	if filter.Principal != nil {
		query += " AND principal_type = ? AND principal_id = ?"
		args = append(args, filter.Principal.Type, filter.Principal.ID)
	}
	if filter.Resource != nil {
		query += " AND resource_type = ? AND resource_id = ?"
		args = append(args, filter.Resource.Type, filter.Resource.ID)
	}
	query += " ORDER BY created_at, policy_id"

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying policies: %w", err)
	}
	defer rows.Close()

	var policies []Policy
	for rows.Next() {
		var p Policy
		var createdAt string
		if err := rows.Scan(&p.ID, &p.TemplateID, &p.Principal.Type, &p.Principal.ID,
			&p.Resource.Type, &p.Resource.ID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning policy: %w", err)
		}
		p.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// DeletePolicy removes a policy by id. Deleting a missing policy is not
// an error at this layer; the share manager asserts existence itself.
func (e *LocalEngine) DeletePolicy(ctx context.Context, policyID string) error {
	_, err := e.db.ExecContext(ctx, `DELETE FROM policies WHERE policy_id = ?`, policyID)
	if err != nil {
		return fmt.Errorf("deleting policy: %w", err)
	}
	return nil
}
