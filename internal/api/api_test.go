// ABOUTME: End-to-end tests for the HTTP API over real stores and the local policy engine
// ABOUTME: Exercises authentication, the permission matrix, and error mapping per route

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tinytodo-gateway/internal/auth"
	"github.com/2389/tinytodo-gateway/internal/authz"
	"github.com/2389/tinytodo-gateway/internal/identity"
	"github.com/2389/tinytodo-gateway/internal/kv"
	"github.com/2389/tinytodo-gateway/internal/liststore"
	"github.com/2389/tinytodo-gateway/internal/share"
)

const testIssuer = "https://cognito-idp.test.example.com/pool-1"

var testTemplates = authz.Templates{
	Editor: "template-editor",
	Viewer: "template-viewer",
}

type fixture struct {
	srv      *httptest.Server
	verifier *auth.JWTVerifier
	users    *identity.Directory
}

func newTestAPI(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()

	store, err := kv.NewSQLiteStore(filepath.Join(dir, "table.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine, err := authz.NewLocalEngine(filepath.Join(dir, "policies.db"), testTemplates)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	lists := liststore.NewStore(store)
	users := identity.NewDirectory(store)
	shares := share.NewManager(engine, lists, testTemplates)
	verifier := auth.NewJWTVerifier([]byte("test-secret"))

	mux := http.NewServeMux()
	NewServer(verifier, engine, lists, shares, users).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, verifier: verifier, users: users}
}

// token mints a bearer token whose principal is "pool-1|<sub>".
func (f *fixture) token(t *testing.T, sub string) string {
	t.Helper()
	tok, err := f.verifier.Generate(testIssuer, sub, time.Hour)
	require.NoError(t, err)
	return tok
}

// register creates the identity records so share targets resolve.
func (f *fixture) register(t *testing.T, sub, name string) {
	t.Helper()
	require.NoError(t, f.users.Create(context.Background(), "pool-1|"+sub, name))
}

// do runs one request and decodes the JSON response.
func (f *fixture) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func (f *fixture) createList(t *testing.T, token, name string) int64 {
	t.Helper()
	status, body := f.do(t, http.MethodPost, "/task-list/create", token, map[string]any{"name": name})
	require.Equal(t, http.StatusOK, status)
	return int64(body["listId"].(float64))
}

func TestMissingToken(t *testing.T) {
	f := newTestAPI(t)

	status, body := f.do(t, http.MethodPost, "/task-list/create", "", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "missing bearer token", body["message"])
}

func TestBrokenToken(t *testing.T) {
	f := newTestAPI(t)

	status, body := f.do(t, http.MethodGet, "/list/task-lists", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "token broken", body["message"])
}

func TestCreateList_SequentialIDs(t *testing.T) {
	f := newTestAPI(t)
	alice := f.token(t, "alice")

	assert.Equal(t, int64(1), f.createList(t, alice, "Chores"))
	assert.Equal(t, int64(2), f.createList(t, alice, "Groceries"))
}

func TestReadList(t *testing.T) {
	f := newTestAPI(t)
	alice := f.token(t, "alice")
	id := f.createList(t, alice, "Chores")

	status, body := f.do(t, http.MethodGet, fmt.Sprintf("/task-list/read?listId=%d", id), alice, nil)
	require.Equal(t, http.StatusOK, status)

	list := body["list"].(map[string]any)
	assert.Equal(t, float64(id), list["id"])
	assert.Equal(t, "pool-1|alice", list["owner"])
	assert.Equal(t, "Chores", list["name"])
}

func TestReadList_StrangerDenied(t *testing.T) {
	f := newTestAPI(t)
	alice := f.token(t, "alice")
	bob := f.token(t, "bob")
	id := f.createList(t, alice, "Chores")

	status, body := f.do(t, http.MethodGet, fmt.Sprintf("/task-list/read?listId=%d", id), bob, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "permissions check failed", body["message"])
}

func TestReadList_Unknown(t *testing.T) {
	f := newTestAPI(t)
	alice := f.token(t, "alice")

	status, body := f.do(t, http.MethodGet, "/task-list/read?listId=99", alice, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "list doesn't exist", body["message"])
}

func TestUpdateList(t *testing.T) {
	f := newTestAPI(t)
	alice := f.token(t, "alice")
	id := f.createList(t, alice, "Chores")

	status, _ := f.do(t, http.MethodPut, "/task-list/update", alice, map[string]any{
		"listId": id, "name": "Weekend chores", "description": "sat+sun",
	})
	require.Equal(t, http.StatusOK, status)

	_, body := f.do(t, http.MethodGet, fmt.Sprintf("/task-list/read?listId=%d", id), alice, nil)
	list := body["list"].(map[string]any)
	assert.Equal(t, "Weekend chores", list["name"])
	assert.Equal(t, "sat+sun", list["description"])
}

func TestTaskLifecycle(t *testing.T) {
	f := newTestAPI(t)
	alice := f.token(t, "alice")
	id := f.createList(t, alice, "Chores")

	status, body := f.do(t, http.MethodPost, "/task/create", alice, map[string]any{
		"listId": id, "name": "dishes",
	})
	require.Equal(t, http.StatusOK, status)
	taskID := int64(body["taskId"].(float64))
	assert.Equal(t, int64(1), taskID)

	status, body = f.do(t, http.MethodGet, fmt.Sprintf("/task/read?listId=%d&taskId=%d", id, taskID), alice, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "dishes", body["task"].(map[string]any)["name"])

	status, _ = f.do(t, http.MethodPut, "/task/update", alice, map[string]any{
		"listId": id, "taskId": taskID, "name": "dishes + pans",
	})
	require.Equal(t, http.StatusOK, status)

	status, body = f.do(t, http.MethodGet, fmt.Sprintf("/list/tasks?listId=%d", id), alice, nil)
	require.Equal(t, http.StatusOK, status)
	tasks := body["tasks"].([]any)
	require.Len(t, tasks, 1)
	assert.Equal(t, "dishes + pans", tasks[0].(map[string]any)["name"])

	status, _ = f.do(t, http.MethodDelete, "/task/delete", alice, map[string]any{
		"listId": id, "taskId": taskID,
	})
	require.Equal(t, http.StatusOK, status)

	_, body = f.do(t, http.MethodGet, fmt.Sprintf("/list/tasks?listId=%d", id), alice, nil)
	assert.Empty(t, body["tasks"])
}

func TestDeleteList_NotEmpty(t *testing.T) {
	f := newTestAPI(t)
	alice := f.token(t, "alice")
	id := f.createList(t, alice, "Chores")

	status, _ := f.do(t, http.MethodPost, "/task/create", alice, map[string]any{"listId": id, "name": "dishes"})
	require.Equal(t, http.StatusOK, status)

	status, body := f.do(t, http.MethodDelete, "/task-list/delete", alice, map[string]any{"listId": id})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "list not empty", body["message"])

	// Still readable after the rejected delete.
	status, _ = f.do(t, http.MethodGet, fmt.Sprintf("/task-list/read?listId=%d", id), alice, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestDeleteList_Empty(t *testing.T) {
	f := newTestAPI(t)
	alice := f.token(t, "alice")
	id := f.createList(t, alice, "Chores")

	status, _ := f.do(t, http.MethodDelete, "/task-list/delete", alice, map[string]any{"listId": id})
	require.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodGet, fmt.Sprintf("/task-list/read?listId=%d", id), alice, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestListLists_OwnOnly(t *testing.T) {
	f := newTestAPI(t)
	alice := f.token(t, "alice")
	bob := f.token(t, "bob")

	f.createList(t, alice, "Chores")
	f.createList(t, alice, "Groceries")
	f.createList(t, bob, "Reading")

	status, body := f.do(t, http.MethodGet, "/list/task-lists", alice, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["lists"].([]any), 2)

	status, body = f.do(t, http.MethodGet, "/list/task-lists", bob, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["lists"].([]any), 1)
}

func TestShare_ViewerPermissions(t *testing.T) {
	f := newTestAPI(t)
	f.register(t, "bob", "bob")
	alice := f.token(t, "alice")
	bob := f.token(t, "bob")
	id := f.createList(t, alice, "Chores")

	status, _ := f.do(t, http.MethodPost, "/share/create", alice, map[string]any{
		"listId": id, "user": "bob", "role": "viewer",
	})
	require.Equal(t, http.StatusOK, status)

	// Viewer can read but not write.
	status, _ = f.do(t, http.MethodGet, fmt.Sprintf("/task-list/read?listId=%d", id), bob, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodPost, "/task/create", bob, map[string]any{"listId": id, "name": "x"})
	assert.Equal(t, http.StatusUnauthorized, status)

	// Share administration stays with the owner.
	status, _ = f.do(t, http.MethodGet, fmt.Sprintf("/list/shares?listId=%d", id), bob, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestShare_EditorPermissions(t *testing.T) {
	f := newTestAPI(t)
	f.register(t, "bob", "bob")
	alice := f.token(t, "alice")
	bob := f.token(t, "bob")
	id := f.createList(t, alice, "Chores")

	status, _ := f.do(t, http.MethodPost, "/share/create", alice, map[string]any{
		"listId": id, "user": "bob", "role": "editor",
	})
	require.Equal(t, http.StatusOK, status)

	status, body := f.do(t, http.MethodPost, "/task/create", bob, map[string]any{"listId": id, "name": "dishes"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["taskId"])

	// Editors still cannot delete the list.
	status, _ = f.do(t, http.MethodDelete, "/task-list/delete", bob, map[string]any{"listId": id})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestShare_Duplicate(t *testing.T) {
	f := newTestAPI(t)
	f.register(t, "bob", "bob")
	alice := f.token(t, "alice")
	id := f.createList(t, alice, "Chores")

	status, _ := f.do(t, http.MethodPost, "/share/create", alice, map[string]any{
		"listId": id, "user": "bob", "role": "viewer",
	})
	require.Equal(t, http.StatusOK, status)

	status, body := f.do(t, http.MethodPost, "/share/create", alice, map[string]any{
		"listId": id, "user": "bob", "role": "editor",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "share already exists", body["message"])
}

func TestShare_UnknownUser(t *testing.T) {
	f := newTestAPI(t)
	alice := f.token(t, "alice")
	id := f.createList(t, alice, "Chores")

	status, body := f.do(t, http.MethodPost, "/share/create", alice, map[string]any{
		"listId": id, "user": "nobody", "role": "viewer",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "user doesn't exist", body["message"])
}

func TestShare_InvalidRole(t *testing.T) {
	f := newTestAPI(t)
	f.register(t, "bob", "bob")
	alice := f.token(t, "alice")
	id := f.createList(t, alice, "Chores")

	status, _ := f.do(t, http.MethodPost, "/share/create", alice, map[string]any{
		"listId": id, "user": "bob", "role": "admin",
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestShare_ReadAndList(t *testing.T) {
	f := newTestAPI(t)
	f.register(t, "bob", "bob")
	alice := f.token(t, "alice")
	id := f.createList(t, alice, "Chores")

	status, _ := f.do(t, http.MethodPost, "/share/create", alice, map[string]any{
		"listId": id, "user": "bob", "role": "viewer",
	})
	require.Equal(t, http.StatusOK, status)

	status, body := f.do(t, http.MethodGet, fmt.Sprintf("/share/read?listId=%d&user=bob", id), alice, nil)
	require.Equal(t, http.StatusOK, status)
	sh := body["share"].(map[string]any)
	assert.Equal(t, "pool-1|bob", sh["user"])
	assert.Equal(t, "viewer", sh["role"])

	status, body = f.do(t, http.MethodGet, fmt.Sprintf("/list/shares?listId=%d", id), alice, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["shares"].([]any), 1)
}

func TestShare_UpdateAndDelete(t *testing.T) {
	f := newTestAPI(t)
	f.register(t, "bob", "bob")
	alice := f.token(t, "alice")
	bob := f.token(t, "bob")
	id := f.createList(t, alice, "Chores")

	status, _ := f.do(t, http.MethodPost, "/share/create", alice, map[string]any{
		"listId": id, "user": "bob", "role": "viewer",
	})
	require.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodPut, "/share/update", alice, map[string]any{
		"listId": id, "user": "bob", "role": "editor",
	})
	require.Equal(t, http.StatusOK, status)

	// Promotion takes effect.
	status, _ = f.do(t, http.MethodPost, "/task/create", bob, map[string]any{"listId": id, "name": "x"})
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodDelete, "/share/delete", alice, map[string]any{
		"listId": id, "user": "bob",
	})
	require.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodGet, fmt.Sprintf("/task-list/read?listId=%d", id), bob, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSharedLists(t *testing.T) {
	f := newTestAPI(t)
	f.register(t, "bob", "bob")
	alice := f.token(t, "alice")
	bob := f.token(t, "bob")
	id := f.createList(t, alice, "Chores")

	status, _ := f.do(t, http.MethodPost, "/share/create", alice, map[string]any{
		"listId": id, "user": "bob", "role": "viewer",
	})
	require.Equal(t, http.StatusOK, status)

	status, body := f.do(t, http.MethodGet, "/list/shared-lists", bob, nil)
	require.Equal(t, http.StatusOK, status)
	shared := body["sharedLists"].([]any)
	require.Len(t, shared, 1)

	entry := shared[0].(map[string]any)
	assert.Equal(t, float64(id), entry["id"])
	assert.Equal(t, "Chores", entry["name"])
	assert.Equal(t, "pool-1|alice", entry["owner"])
	assert.Equal(t, "viewer", entry["role"])
}

func TestBadQueryParam(t *testing.T) {
	f := newTestAPI(t)
	alice := f.token(t, "alice")

	status, body := f.do(t, http.MethodGet, "/task-list/read?listId=banana", alice, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "malformed request", body["message"])
}
