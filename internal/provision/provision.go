// ABOUTME: Signup provisioning: identity records plus a one-time starter list
// ABOUTME: Starter content comes from a TOML template and uses the ordinary create path

package provision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BurntSushi/toml"

	"github.com/2389/tinytodo-gateway/internal/identity"
	"github.com/2389/tinytodo-gateway/internal/liststore"
)

// StarterList is the fixed template seeded into a new user's account.
type StarterList struct {
	Name        string        `toml:"name"`
	Description string        `toml:"description"`
	Tasks       []StarterTask `toml:"tasks"`
}

// StarterTask is one task of the starter list template.
type StarterTask struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

// LoadStarterList reads the starter list template from a TOML file.
func LoadStarterList(path string) (*StarterList, error) {
	var starter StarterList
	if _, err := toml.DecodeFile(path, &starter); err != nil {
		return nil, fmt.Errorf("reading starter list template: %w", err)
	}
	if starter.Name == "" {
		return nil, fmt.Errorf("starter list template has no name")
	}
	return &starter, nil
}

// Provisioner runs the user-signup flow. It writes the identity mirror
// records and, for users who own no lists yet, seeds one starter list
// through the same CreateList/CreateTask operations ordinary requests
// use.
type Provisioner struct {
	identity *identity.Directory
	lists    *liststore.Store
	starter  *StarterList // nil disables seeding
	logger   *slog.Logger
}

// NewProvisioner creates a provisioner. starter may be nil to disable
// starter-list seeding.
func NewProvisioner(dir *identity.Directory, lists *liststore.Store, starter *StarterList) *Provisioner {
	return &Provisioner{
		identity: dir,
		lists:    lists,
		starter:  starter,
		logger:   slog.Default().With("component", "provision"),
	}
}

// SignUp provisions a confirmed user. Safe to run more than once: the
// starter list is only created while the user owns zero lists.
func (p *Provisioner) SignUp(ctx context.Context, userID, userName string) error {
	if err := p.identity.Create(ctx, userID, userName); err != nil {
		return fmt.Errorf("creating identity: %w", err)
	}

	count, err := p.lists.CountLists(ctx, userID)
	if err != nil {
		return fmt.Errorf("counting lists: %w", err)
	}
	if count > 0 || p.starter == nil {
		return nil
	}

	listID, err := p.lists.CreateList(ctx, userID, p.starter.Name, p.starter.Description)
	if err != nil {
		return fmt.Errorf("creating starter list: %w", err)
	}
	for _, task := range p.starter.Tasks {
		if _, err := p.lists.CreateTask(ctx, listID, task.Name, task.Description); err != nil {
			return fmt.Errorf("creating starter task %q: %w", task.Name, err)
		}
	}

	p.logger.Info("provisioned user", "userId", userID, "userName", userName, "starterListId", listID)
	return nil
}
