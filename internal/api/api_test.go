package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/tandem/internal/auth"
	"github.com/btouchard/tandem/internal/config"
	"github.com/btouchard/tandem/internal/notify"
	"github.com/btouchard/tandem/internal/store"
	"github.com/btouchard/tandem/internal/task"
)

type testAPI struct {
	handler  http.Handler
	db       *store.SQLStore
	registry *notify.Registry
	tokens   *auth.TokenManager
	alice    store.User
	bob      store.User
	eve      store.User
}

func newTestAPI(t *testing.T, opts ...func(*Deps)) *testAPI {
	t.Helper()
	ctx := context.Background()

	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	a := &testAPI{
		db:       db,
		registry: notify.NewRegistry(4),
		tokens:   auth.NewTokenManager([]byte("test-secret"), "tandem", time.Hour),
		alice:    store.User{Email: "alice@example.com", Username: "alice", FullName: "Alice Martin"},
		bob:      store.User{Email: "bob@example.com", Username: "bob", FullName: "Bob Durand"},
		eve:      store.User{Email: "eve@example.com", Username: "eve", FullName: "Eve Blanc"},
	}
	for _, u := range []*store.User{&a.alice, &a.bob, &a.eve} {
		require.NoError(t, db.CreateUser(ctx, u))
	}

	svc := task.NewService(db, task.NewDetector(task.PolicyCollapse, "Completed"), notify.NewNotifier(a.registry))
	d := Deps{
		Store:           db,
		Tasks:           svc,
		Registry:        a.registry,
		Tokens:          a.tokens,
		Live:            notify.WSOptions{SendBuffer: 8, WriteTimeout: time.Second},
		DefaultStatuses: []string{"To Do", "In Progress", "Completed"},
	}
	for _, opt := range opts {
		opt(&d)
	}
	a.handler = NewRouter(d)
	return a
}

func (a *testAPI) token(t *testing.T, u store.User) string {
	t.Helper()
	tok, _, err := a.tokens.Issue(u.ID)
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, method, path string, as store.User, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+a.token(t, as))
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// setup creates a workspace owned by alice with bob as a member.
func (a *testAPI) setup(t *testing.T) (store.Workspace, []store.TaskStatus) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/workspaces", a.alice, map[string]string{"name": "Platform"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ws := decode[store.Workspace](t, rec)

	rec = a.do(t, http.MethodPost, "/api/workspaces/"+ws.ID+"/members", a.alice, map[string]string{"userId": a.bob.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/workspaces/"+ws.ID+"/statuses", a.alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	return ws, decode[[]store.TaskStatus](t, rec)
}

func TestHealth_NoAuthRequired(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestAPI_RequiresToken(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/workspaces", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_Me(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/me", a.bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", decode[store.User](t, rec).Username)
}

func TestAPI_UpdateMe(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPut, "/api/me", a.bob, map[string]string{"fullName": "Robert Durand"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[store.User](t, rec)
	assert.Equal(t, "Robert Durand", got.FullName)
	assert.Equal(t, "bob", got.Username, "absent fields are kept")
	assert.Equal(t, "bob@example.com", got.Email)

	rec = a.do(t, http.MethodPut, "/api/me", a.bob, map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPut, "/api/me", a.bob, map[string]string{"email": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/me", a.bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", decode[store.User](t, rec).Username)
}

func TestAPI_DeleteMe_KeepsNotificationsOfOthers(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	ws, _ := a.setup(t)

	rec := a.do(t, http.MethodPost, "/api/tasks", a.bob, task.NewTask{
		Title:       "Rotate certificates",
		WorkspaceID: ws.ID,
		Assignees:   []string{a.alice.ID, a.bob.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[store.Task](t, rec)

	rec = a.do(t, http.MethodDelete, "/api/me", a.bob, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/notifications/unread", a.alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	unread := decode[[]store.UserNotification](t, rec)
	require.Len(t, unread, 1)
	assert.Equal(t, "TASK_CREATED", unread[0].EventType)
	assert.Empty(t, unread[0].CreatorID)
	assert.Empty(t, unread[0].CreatorName)

	rec = a.do(t, http.MethodGet, "/api/tasks/"+created.ID, a.alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{a.alice.ID}, decode[store.Task](t, rec).Assignees)

	rec = a.do(t, http.MethodGet, "/api/workspaces/"+ws.ID+"/members", a.alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.User](t, rec), 1)

	rec = a.do(t, http.MethodGet, "/api/me", a.bob, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_DeleteWorkspace(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	ws, _ := a.setup(t)

	rec := a.do(t, http.MethodPost, "/api/tasks", a.alice, task.NewTask{
		Title:       "Rotate certificates",
		WorkspaceID: ws.ID,
		Assignees:   []string{a.bob.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[store.Task](t, rec)

	rec = a.do(t, http.MethodDelete, "/api/workspaces/"+ws.ID, a.eve, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodDelete, "/api/workspaces/"+ws.ID, a.bob, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/workspaces/"+ws.ID, a.alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/tasks/"+created.ID, a.alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/workspaces", a.bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]store.Workspace](t, rec))

	rec = a.do(t, http.MethodGet, "/api/me/notifications", a.bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]store.UserNotification](t, rec))
}

func TestAPI_NotificationHistory(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	ws, statuses := a.setup(t)

	rec := a.do(t, http.MethodPost, "/api/tasks", a.alice, task.NewTask{
		Title:       "Rotate certificates",
		WorkspaceID: ws.ID,
		Assignees:   []string{a.bob.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[store.Task](t, rec)

	status := statuses[1].ID
	rec = a.do(t, http.MethodPut, "/api/tasks/"+created.ID, a.alice, task.Patch{StatusID: &status})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/notifications/unread", a.bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	unread := decode[[]store.UserNotification](t, rec)
	require.Len(t, unread, 2)

	rec = a.do(t, http.MethodPatch, "/api/notifications/"+unread[1].ID+"/read", a.bob, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/me/notifications", a.bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]store.UserNotification](t, rec)
	require.Len(t, history, 2)
	assert.Equal(t, unread[0].ID, history[0].ID)
	assert.False(t, history[0].IsRead)
	assert.Equal(t, unread[1].ID, history[1].ID)
	assert.True(t, history[1].IsRead)

	rec = a.do(t, http.MethodGet, "/api/me/notifications", a.eve, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]store.UserNotification](t, rec))
}

func TestAPI_RateLimitPerUser(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, func(d *Deps) {
		d.RateLimit = config.RateLimitConfig{RequestsPerMinute: 1, Burst: 2}
	})

	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/me", a.bob, nil).Code)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/me", a.bob, nil).Code)

	rec := a.do(t, http.MethodGet, "/api/me", a.bob, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/me", a.eve, nil).Code)

	health := httptest.NewRecorder()
	a.handler.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, health.Code, "health is not limited")
}

func TestAPI_Workspaces(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	ws, statuses := a.setup(t)

	require.Len(t, statuses, 3)
	assert.Equal(t, "To Do", statuses[0].Name)

	rec := a.do(t, http.MethodGet, "/api/workspaces", a.bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.Workspace](t, rec), 1)

	rec = a.do(t, http.MethodGet, "/api/workspaces/"+ws.ID+"/members", a.bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	members := decode[[]struct {
		ID     string `json:"id"`
		Online bool   `json:"online"`
	}](t, rec)
	assert.Len(t, members, 2)
	for _, m := range members {
		assert.False(t, m.Online)
	}

	rec = a.do(t, http.MethodPost, "/api/workspaces/"+ws.ID+"/statuses", a.bob, map[string]string{"name": "Blocked"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 3, decode[store.TaskStatus](t, rec).Position)

	rec = a.do(t, http.MethodGet, "/api/workspaces/"+ws.ID, a.eve, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/workspaces/missing", a.alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/workspaces", a.alice, map[string]string{"name": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/workspaces/"+ws.ID+"/members", a.alice, map[string]string{"userId": "ghost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodDelete, "/api/workspaces/"+ws.ID+"/members/"+a.bob.ID, a.alice, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/workspaces/"+ws.ID, a.bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodDelete, "/api/workspaces/"+ws.ID+"/members/"+a.bob.ID, a.alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_TaskLifecycleAndNotifications(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	ws, statuses := a.setup(t)

	rec := a.do(t, http.MethodPost, "/api/tasks", a.alice, task.NewTask{
		Title:       "Rotate certificates",
		WorkspaceID: ws.ID,
		Assignees:   []string{a.alice.ID, a.bob.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[store.Task](t, rec)

	status := statuses[1].ID
	rec = a.do(t, http.MethodPut, "/api/tasks/"+created.ID, a.alice, task.Patch{StatusID: &status})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, status, decode[store.Task](t, rec).StatusID)

	rec = a.do(t, http.MethodGet, "/api/notifications/unread/count", a.bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[map[string]int](t, rec)["count"])

	rec = a.do(t, http.MethodGet, "/api/notifications/unread", a.bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	unread := decode[[]store.UserNotification](t, rec)
	require.Len(t, unread, 2)
	assert.Equal(t, "TASK_STATUS_CHANGED", unread[0].EventType)
	assert.Equal(t, "Platform", unread[0].WorkspaceName)

	rec = a.do(t, http.MethodGet, "/api/notifications/unread", a.alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]store.UserNotification](t, rec))

	rec = a.do(t, http.MethodPatch, "/api/notifications/"+unread[0].ID+"/read", a.bob, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(t, http.MethodPatch, "/api/notifications/"+unread[0].ID+"/read", a.bob, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code, "marking read twice is fine")
	rec = a.do(t, http.MethodPatch, "/api/notifications/"+unread[0].ID+"/read", a.alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "alice was never a recipient")

	rec = a.do(t, http.MethodGet, "/api/me/summary", a.bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[store.Summary](t, rec)
	assert.Equal(t, 1, sum.WorkspaceCount)
	assert.Equal(t, 1, sum.TaskCount)
	assert.Equal(t, 1, sum.UnreadNotifications)

	rec = a.do(t, http.MethodGet, "/api/workspaces/"+ws.ID+"/tasks", a.bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.Task](t, rec), 1)

	rec = a.do(t, http.MethodGet, "/api/tasks/"+created.ID+"/activity", a.bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]store.Notification](t, rec)
	require.Len(t, history, 2)
	assert.Equal(t, "TASK_CREATED", history[0].EventType)

	rec = a.do(t, http.MethodGet, "/api/tasks/"+created.ID+"/activity", a.eve, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodDelete, "/api/tasks/"+created.ID, a.alice, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/tasks/"+created.ID, a.alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/notifications/unread", a.bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]store.UserNotification](t, rec))
}

func TestAPI_TaskErrors(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	ws, _ := a.setup(t)

	rec := a.do(t, http.MethodPost, "/api/tasks", a.alice, task.NewTask{Title: "", WorkspaceID: ws.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/tasks", a.alice, task.NewTask{Title: "x", WorkspaceID: ws.ID, Assignees: []string{a.eve.ID}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/tasks", a.eve, task.NewTask{Title: "x", WorkspaceID: ws.ID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPut, "/api/tasks/missing", a.alice, task.Patch{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+a.token(t, a.alice))
	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_LiveSocketReceivesTaskEvents(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	ws, _ := a.setup(t)

	srv := httptest.NewServer(a.handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?access_token=" + a.token(t, a.bob)
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()

	require.Eventually(t, func() bool { return a.registry.Connected(a.bob.ID) }, 2*time.Second, 10*time.Millisecond)

	rec := a.do(t, http.MethodPost, "/api/tasks", a.alice, task.NewTask{
		Title:       "Rotate certificates",
		WorkspaceID: ws.ID,
		Assignees:   []string{a.bob.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var p notify.Payload
	require.NoError(t, wsjson.Read(ctx, conn, &p))
	assert.Equal(t, "TASK_CREATED", p.EventType)
	assert.Equal(t, "Task 'Rotate certificates' created.", p.Message)
	assert.Equal(t, a.alice.ID, p.CreatorID)
	assert.Equal(t, "Alice Martin", p.CreatorName)
	assert.Equal(t, "Platform", p.WorkspaceName)
}

func TestAPI_LiveSocketRejectsMissingToken(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	srv := httptest.NewServer(a.handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("getting task: %w", store.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("updating user: %w", store.ErrConflict), http.StatusConflict},
		{fmt.Errorf("%w: bad", task.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: nope", task.ErrForbidden), http.StatusForbidden},
		{errBadRequest, http.StatusBadRequest},
		{auth.ErrInvalidToken, http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
