// ABOUTME: List and task persistence over the single-table key-value store
// ABOUTME: Owns the global list-id counter and the per-list task-id counters

package liststore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/tinytodo-gateway/internal/kv"
)

// ErrNotFound is returned when a list or task referenced by an operation
// does not exist.
var ErrNotFound = errors.New("not found")

// Key layout: every record of one list lives in the partition
// LIST#<id>, with the details record at sort key DETAILS and each task
// at TASK#<id>. The global list-id counter is a singleton at
// pk=sk=GLOBAL.
const (
	detailsKey  = "DETAILS"
	taskPrefix  = "TASK#"
	globalKey   = "GLOBAL"
	attrListID  = "listId"
	attrTaskID  = "taskId"
	attrNextLID = "nextListId"
	attrNextTID = "nextTaskId"
)

func listKey(listID int64) string {
	return fmt.Sprintf("LIST#%06d", listID)
}

func taskKey(taskID int64) string {
	return fmt.Sprintf("%s%06d", taskPrefix, taskID)
}

// List is a task list owned by a single user. The id and owner are
// immutable once assigned; there is no transfer-of-ownership operation.
type List struct {
	ID          int64
	Owner       string
	Name        string
	Description string
}

// Task belongs to exactly one list. Its id is unique only within that
// list: different lists reuse the same task ids.
type Task struct {
	ID          int64
	ListID      int64
	Name        string
	Description string
}

// Store persists lists and tasks. It holds no in-process state; every
// operation completes in a single pass against the key-value store.
type Store struct {
	kv     kv.Store
	logger *slog.Logger
}

// NewStore creates a list store over the given key-value store.
func NewStore(store kv.Store) *Store {
	return &Store{
		kv:     store,
		logger: slog.Default().With("component", "liststore"),
	}
}

// CreateList assigns the next global list id and writes the details
// record. The counter increment is linearizable, so concurrent creators
// never collide; the previous counter value becomes the new id.
func (s *Store) CreateList(ctx context.Context, owner, name, description string) (int64, error) {
	id, err := s.nextListID(ctx)
	if err != nil {
		return 0, err
	}

	err = s.kv.Put(ctx, kv.Item{
		PK: listKey(id),
		SK: detailsKey,
		Attrs: map[string]any{
			"name":        name,
			"description": description,
			attrListID:    id,
			"owner":       owner,
			attrNextTID:   int64(1),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("writing list details: %w", err)
	}

	s.logger.Info("created list", "listId", id, "owner", owner)
	return id, nil
}

// nextListID increments the global counter, seeding it at 1 the first
// time a fresh deployment creates a list. The seed races with other
// first creators, so a losing PutIfAbsent is ignored and the increment
// is retried against whoever won.
func (s *Store) nextListID(ctx context.Context) (int64, error) {
	old, err := s.kv.Increment(ctx, globalKey, globalKey, attrNextLID, 1)
	if errors.Is(err, kv.ErrConditionFailed) {
		seed := kv.Item{PK: globalKey, SK: globalKey, Attrs: map[string]any{attrNextLID: int64(1)}}
		if err := s.kv.PutIfAbsent(ctx, seed); err != nil && !errors.Is(err, kv.ErrConditionFailed) {
			return 0, fmt.Errorf("seeding list counter: %w", err)
		}
		old, err = s.kv.Increment(ctx, globalKey, globalKey, attrNextLID, 1)
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing list counter: %w", err)
	}
	return old, nil
}

// GetList returns the list, or ErrNotFound.
func (s *Store) GetList(ctx context.Context, listID int64) (*List, error) {
	item, err := s.kv.Get(ctx, listKey(listID), detailsKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading list details: %w", err)
	}
	return listFromItem(*item), nil
}

// UpdateList sets the list's name and description. The write is
// conditional on the details record existing, so a racing delete cannot
// be resurrected.
func (s *Store) UpdateList(ctx context.Context, listID int64, name, description string) error {
	err := s.kv.Update(ctx, listKey(listID), detailsKey, map[string]any{
		"name":        name,
		"description": description,
	})
	if errors.Is(err, kv.ErrConditionFailed) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("updating list details: %w", err)
	}
	return nil
}

// DeleteList removes the details record unconditionally. The caller is
// responsible for checking the list is empty first; a task created
// between that check and this delete is silently orphaned. That race is
// an accepted tradeoff, not something this layer guards against.
func (s *Store) DeleteList(ctx context.Context, listID int64) error {
	if err := s.kv.Delete(ctx, listKey(listID), detailsKey); err != nil {
		return fmt.Errorf("deleting list details: %w", err)
	}
	s.logger.Info("deleted list", "listId", listID)
	return nil
}

// CountTasks returns the number of tasks in the list.
func (s *Store) CountTasks(ctx context.Context, listID int64) (int, error) {
	items, err := s.kv.Query(ctx, listKey(listID), taskPrefix)
	if err != nil {
		return 0, fmt.Errorf("counting tasks: %w", err)
	}
	return len(items), nil
}

// ListTasks returns the list's tasks ordered by task id.
func (s *Store) ListTasks(ctx context.Context, listID int64) ([]Task, error) {
	items, err := s.kv.Query(ctx, listKey(listID), taskPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	tasks := make([]Task, len(items))
	for i, item := range items {
		tasks[i] = taskFromItem(item)
	}
	return tasks, nil
}

// CreateTask assigns the next task id from the list's private counter
// and writes the task record. Incrementing the counter of a missing
// list fails with ErrNotFound: task counters are never created
// implicitly.
func (s *Store) CreateTask(ctx context.Context, listID int64, name, description string) (int64, error) {
	old, err := s.kv.Increment(ctx, listKey(listID), detailsKey, attrNextTID, 1)
	if errors.Is(err, kv.ErrConditionFailed) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing task counter: %w", err)
	}
	taskID := old

	err = s.kv.Put(ctx, kv.Item{
		PK: listKey(listID),
		SK: taskKey(taskID),
		Attrs: map[string]any{
			"name":        name,
			"description": description,
			attrListID:    listID,
			attrTaskID:    taskID,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("writing task: %w", err)
	}

	s.logger.Info("created task", "listId", listID, "taskId", taskID)
	return taskID, nil
}

// GetTask returns a single task, or ErrNotFound.
func (s *Store) GetTask(ctx context.Context, listID, taskID int64) (*Task, error) {
	item, err := s.kv.Get(ctx, listKey(listID), taskKey(taskID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading task: %w", err)
	}
	task := taskFromItem(*item)
	return &task, nil
}

// UpdateTask sets the task's name and description, conditional on the
// task record existing.
func (s *Store) UpdateTask(ctx context.Context, listID, taskID int64, name, description string) error {
	err := s.kv.Update(ctx, listKey(listID), taskKey(taskID), map[string]any{
		"name":        name,
		"description": description,
	})
	if errors.Is(err, kv.ErrConditionFailed) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return nil
}

// DeleteTask removes the task record unconditionally.
func (s *Store) DeleteTask(ctx context.Context, listID, taskID int64) error {
	if err := s.kv.Delete(ctx, listKey(listID), taskKey(taskID)); err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	return nil
}

// CountLists returns how many lists the user owns.
func (s *Store) CountLists(ctx context.Context, owner string) (int, error) {
	items, err := s.kv.QueryIndex(ctx, kv.OwnerIndex, "owner", owner)
	if err != nil {
		return 0, fmt.Errorf("counting lists: %w", err)
	}
	return len(items), nil
}

// ListLists returns all lists owned by the user, via the owner index.
func (s *Store) ListLists(ctx context.Context, owner string) ([]List, error) {
	items, err := s.kv.QueryIndex(ctx, kv.OwnerIndex, "owner", owner)
	if err != nil {
		return nil, fmt.Errorf("listing lists: %w", err)
	}

	lists := make([]List, len(items))
	for i, item := range items {
		lists[i] = *listFromItem(item)
	}
	return lists, nil
}

func listFromItem(item kv.Item) *List {
	return &List{
		ID:          item.Int(attrListID),
		Owner:       item.String("owner"),
		Name:        item.String("name"),
		Description: item.String("description"),
	}
}

func taskFromItem(item kv.Item) Task {
	return Task{
		ID:          item.Int(attrTaskID),
		ListID:      item.Int(attrListID),
		Name:        item.String("name"),
		Description: item.String("description"),
	}
}
