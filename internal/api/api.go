// ABOUTME: HTTP request handler mapping (resource, method) pairs to core operations
// ABOUTME: Extracts the principal, checks authorization, dispatches, and formats JSON

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/2389/tinytodo-gateway/internal/auth"
	"github.com/2389/tinytodo-gateway/internal/authz"
	"github.com/2389/tinytodo-gateway/internal/identity"
	"github.com/2389/tinytodo-gateway/internal/liststore"
	"github.com/2389/tinytodo-gateway/internal/share"
)

// ErrListNotEmpty is returned when a delete is attempted on a list that
// still has tasks. The count-then-delete check races with concurrent
// task creation; a task slipping in between is orphaned, on purpose.
var ErrListNotEmpty = errors.New("list not empty")

// Server dispatches authenticated API requests into the core. It holds
// no per-request state.
type Server struct {
	verifier auth.Verifier
	engine   authz.Engine
	lists    *liststore.Store
	shares   *share.Manager
	users    *identity.Directory
	logger   *slog.Logger
}

// NewServer wires the request handler to its collaborators.
func NewServer(verifier auth.Verifier, engine authz.Engine, lists *liststore.Store, shares *share.Manager, users *identity.Directory) *Server {
	return &Server{
		verifier: verifier,
		engine:   engine,
		lists:    lists,
		shares:   shares,
		users:    users,
		logger:   slog.Default().With("component", "api"),
	}
}

// RegisterRoutes mounts every (resource, method) pair on the mux. The
// table is the API surface: one action per route, nothing dynamic.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// Task-list CRUD
	mux.HandleFunc("POST /task-list/create", s.handle(authz.ActionCreateList))
	mux.HandleFunc("GET /task-list/read", s.handle(authz.ActionReadList))
	mux.HandleFunc("PUT /task-list/update", s.handle(authz.ActionUpdateList))
	mux.HandleFunc("DELETE /task-list/delete", s.handle(authz.ActionDeleteList))

	// Task CRUD
	mux.HandleFunc("POST /task/create", s.handle(authz.ActionCreateTask))
	mux.HandleFunc("GET /task/read", s.handle(authz.ActionReadTask))
	mux.HandleFunc("PUT /task/update", s.handle(authz.ActionUpdateTask))
	mux.HandleFunc("DELETE /task/delete", s.handle(authz.ActionDeleteTask))

	// Share CRUD
	mux.HandleFunc("POST /share/create", s.handle(authz.ActionCreateShare))
	mux.HandleFunc("GET /share/read", s.handle(authz.ActionReadShare))
	mux.HandleFunc("PUT /share/update", s.handle(authz.ActionUpdateShare))
	mux.HandleFunc("DELETE /share/delete", s.handle(authz.ActionDeleteShare))

	// List operations
	mux.HandleFunc("GET /list/task-lists", s.handle(authz.ActionListLists))
	mux.HandleFunc("GET /list/tasks", s.handle(authz.ActionListTasks))
	mux.HandleFunc("GET /list/shares", s.handle(authz.ActionListShares))
	mux.HandleFunc("GET /list/shared-lists", s.handle(authz.ActionListSharedLists))
}

// params carries the request fields an action may use. Mutating verbs
// send them as a JSON body, GETs as query parameters.
type params struct {
	ListID      *int64 `json:"listId"`
	TaskID      *int64 `json:"taskId"`
	User        string `json:"user"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Role        string `json:"role"`
}

// handle builds the handler for one action. Every route runs the same
// pipeline: principal, parameters, target list, authorization, dispatch.
func (s *Server) handle(action authz.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := s.principal(w, r)
		if !ok {
			return
		}

		p, err := parseParams(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed request")
			return
		}

		// Share targets arrive as display names; resolve them to
		// pool-scoped ids before anything else sees them.
		if p.User != "" && p.User != principal {
			id, err := s.users.Lookup(r.Context(), p.User)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "user doesn't exist")
				return
			}
			p.User = id
		}

		var list *liststore.List
		if p.ListID != nil {
			list, err = s.lists.GetList(r.Context(), *p.ListID)
			if errors.Is(err, liststore.ErrNotFound) {
				writeError(w, http.StatusBadRequest, "list doesn't exist")
				return
			}
			if err != nil {
				s.logger.Error("resolving list failed", "listId", *p.ListID, "err", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
		}

		decision, err := s.authorize(r, principal, action, list)
		if err != nil {
			s.logger.Error("authorization check failed", "action", action, "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if decision != authz.Allow {
			writeError(w, http.StatusUnauthorized, "permissions check failed")
			return
		}

		result, err := s.dispatch(r, action, principal, p, list)
		if err != nil {
			s.writeDispatchError(w, action, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// principal extracts and verifies the bearer token.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return "", false
	}

	principal, err := s.verifier.Verify(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "token broken")
		return "", false
	}
	return principal, true
}

// authorize queries the policy engine. List-scoped checks carry the
// list's owner as a resource attribute; everything else runs against
// the static application resource with no attributes.
func (s *Server) authorize(r *http.Request, principal string, action authz.Action, list *liststore.List) (authz.Decision, error) {
	resource := authz.ApplicationEntity
	var attrs map[string]authz.Entity
	if list != nil {
		resource = authz.ListEntity(list.ID)
		attrs = map[string]authz.Entity{"owner": authz.UserEntity(list.Owner)}
	}
	return s.engine.IsAuthorized(r.Context(), authz.UserEntity(principal), action, resource, attrs)
}

// dispatch invokes the core operation for the action. The routing layer
// has already verified the method and the authorization decision.
func (s *Server) dispatch(r *http.Request, action authz.Action, principal string, p params, list *liststore.List) (any, error) {
	ctx := r.Context()

	switch action {
	case authz.ActionCreateList:
		id, err := s.lists.CreateList(ctx, principal, p.Name, p.Description)
		if err != nil {
			return nil, err
		}
		return map[string]any{"listId": id}, nil

	case authz.ActionReadList:
		if list == nil {
			return nil, errMissingParam("listId")
		}
		return map[string]any{"list": toListDTO(*list)}, nil

	case authz.ActionUpdateList:
		if list == nil {
			return nil, errMissingParam("listId")
		}
		if err := s.lists.UpdateList(ctx, list.ID, p.Name, p.Description); err != nil {
			return nil, err
		}
		return map[string]any{}, nil

	case authz.ActionDeleteList:
		if list == nil {
			return nil, errMissingParam("listId")
		}
		count, err := s.lists.CountTasks(ctx, list.ID)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, ErrListNotEmpty
		}
		if err := s.lists.DeleteList(ctx, list.ID); err != nil {
			return nil, err
		}
		return map[string]any{}, nil

	case authz.ActionListLists:
		lists, err := s.lists.ListLists(ctx, principal)
		if err != nil {
			return nil, err
		}
		dtos := make([]listDTO, len(lists))
		for i, l := range lists {
			dtos[i] = toListDTO(l)
		}
		return map[string]any{"lists": dtos}, nil

	case authz.ActionCreateTask:
		if list == nil {
			return nil, errMissingParam("listId")
		}
		id, err := s.lists.CreateTask(ctx, list.ID, p.Name, p.Description)
		if err != nil {
			return nil, err
		}
		return map[string]any{"taskId": id}, nil

	case authz.ActionReadTask:
		if list == nil || p.TaskID == nil {
			return nil, errMissingParam("listId, taskId")
		}
		task, err := s.lists.GetTask(ctx, list.ID, *p.TaskID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"task": toTaskDTO(*task)}, nil

	case authz.ActionUpdateTask:
		if list == nil || p.TaskID == nil {
			return nil, errMissingParam("listId, taskId")
		}
		if err := s.lists.UpdateTask(ctx, list.ID, *p.TaskID, p.Name, p.Description); err != nil {
			return nil, err
		}
		return map[string]any{}, nil

	case authz.ActionDeleteTask:
		if list == nil || p.TaskID == nil {
			return nil, errMissingParam("listId, taskId")
		}
		if err := s.lists.DeleteTask(ctx, list.ID, *p.TaskID); err != nil {
			return nil, err
		}
		return map[string]any{}, nil

	case authz.ActionListTasks:
		if list == nil {
			return nil, errMissingParam("listId")
		}
		tasks, err := s.lists.ListTasks(ctx, list.ID)
		if err != nil {
			return nil, err
		}
		dtos := make([]taskDTO, len(tasks))
		for i, t := range tasks {
			dtos[i] = toTaskDTO(t)
		}
		return map[string]any{"tasks": dtos}, nil

	case authz.ActionCreateShare:
		if list == nil {
			return nil, errMissingParam("listId")
		}
		role, err := share.ParseRole(p.Role)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadParam, err)
		}
		if err := s.shares.CreateShare(ctx, list.ID, p.User, role); err != nil {
			return nil, err
		}
		return map[string]any{}, nil

	case authz.ActionReadShare:
		if list == nil {
			return nil, errMissingParam("listId")
		}
		shares, err := s.shares.ListShares(ctx, list.ID)
		if err != nil {
			return nil, err
		}
		for _, sh := range shares {
			if sh.User == p.User {
				return map[string]any{"share": toShareDTO(sh)}, nil
			}
		}
		return nil, liststore.ErrNotFound

	case authz.ActionUpdateShare:
		if list == nil {
			return nil, errMissingParam("listId")
		}
		role, err := share.ParseRole(p.Role)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadParam, err)
		}
		if err := s.shares.UpdateShare(ctx, list.ID, p.User, role); err != nil {
			return nil, err
		}
		return map[string]any{}, nil

	case authz.ActionDeleteShare:
		if list == nil {
			return nil, errMissingParam("listId")
		}
		if err := s.shares.DeleteShare(ctx, list.ID, p.User); err != nil {
			return nil, err
		}
		return map[string]any{}, nil

	case authz.ActionListShares:
		if list == nil {
			return nil, errMissingParam("listId")
		}
		shares, err := s.shares.ListShares(ctx, list.ID)
		if err != nil {
			return nil, err
		}
		dtos := make([]shareDTO, len(shares))
		for i, sh := range shares {
			dtos[i] = toShareDTO(sh)
		}
		return map[string]any{"shares": dtos}, nil

	case authz.ActionListSharedLists:
		shared, err := s.shares.ListSharedLists(ctx, principal)
		if err != nil {
			return nil, err
		}
		dtos := make([]sharedListDTO, len(shared))
		for i, sl := range shared {
			dtos[i] = toSharedListDTO(sl)
		}
		return map[string]any{"sharedLists": dtos}, nil

	default:
		return nil, fmt.Errorf("unhandled action %s", action)
	}
}

// writeDispatchError maps core errors onto status codes. Invariant
// violations are server defects, everything else in the taxonomy is a
// client-recoverable rejection.
func (s *Server) writeDispatchError(w http.ResponseWriter, action authz.Action, err error) {
	switch {
	case errors.Is(err, share.ErrShareExists):
		writeError(w, http.StatusBadRequest, "share already exists")
	case errors.Is(err, ErrListNotEmpty):
		writeError(w, http.StatusBadRequest, "list not empty")
	case errors.Is(err, liststore.ErrNotFound):
		writeError(w, http.StatusBadRequest, "not found")
	case errors.Is(err, errBadParam):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, share.ErrInvariant):
		s.logger.Error("share invariant violated", "action", action, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		s.logger.Error("operation failed", "action", action, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

var errBadParam = errors.New("missing parameter")

func errMissingParam(name string) error {
	return fmt.Errorf("%w: %s", errBadParam, name)
}

// parseParams reads the body for mutating verbs, query parameters for
// GETs. An empty body is fine: every field is optional at this stage.
func parseParams(r *http.Request) (params, error) {
	var p params

	if r.Method == http.MethodGet {
		q := r.URL.Query()
		if v := q.Get("listId"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return p, fmt.Errorf("parsing listId: %w", err)
			}
			p.ListID = &id
		}
		if v := q.Get("taskId"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return p, fmt.Errorf("parsing taskId: %w", err)
			}
			p.TaskID = &id
		}
		p.User = q.Get("user")
		return p, nil
	}

	if r.Body == nil || r.ContentLength == 0 {
		return p, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		return p, fmt.Errorf("decoding body: %w", err)
	}
	return p, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
