package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/btouchard/tandem/internal/store"
	"github.com/btouchard/tandem/internal/task"
)

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.Store.GetUser(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type profileRequest struct {
	Email    *string `json:"email"`
	Username *string `json:"username"`
	FullName *string `json:"fullName"`
}

// updateMe changes only the fields present in the body.
func (h *handlers) updateMe(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	u, err := h.Store.GetUser(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Email != nil {
		u.Email = strings.TrimSpace(*req.Email)
	}
	if req.Username != nil {
		u.Username = strings.TrimSpace(*req.Username)
	}
	if req.FullName != nil {
		u.FullName = strings.TrimSpace(*req.FullName)
	}
	if u.Email == "" || u.Username == "" {
		writeError(w, r, fmt.Errorf("%w: email and username must not be empty", task.ErrValidation))
		return
	}

	if err := h.Store.UpdateUser(r.Context(), u); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// deleteMe removes the caller's account. Notifications they created stay
// with their recipients, without a creator.
func (h *handlers) deleteMe(w http.ResponseWriter, r *http.Request) {
	id := userID(r)
	if err := h.Store.DeleteUser(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	h.Registry.Unregister(id, nil)
	slog.Info("user deleted", "user_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.Summary(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type workspaceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

func (h *handlers) createWorkspace(w http.ResponseWriter, r *http.Request) {
	var req workspaceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, r, fmt.Errorf("%w: name is required", task.ErrValidation))
		return
	}
	status := req.Status
	if status == "" {
		status = "ACTIVE"
	}

	ws := &store.Workspace{Name: name, Description: req.Description, Status: status}
	if err := h.Store.CreateWorkspace(r.Context(), ws, userID(r), h.DefaultStatuses); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ws)
}

func (h *handlers) listWorkspaces(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListWorkspacesForUser(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// memberWorkspace loads the workspace in the URL and checks the caller
// belongs to it.
func (h *handlers) memberWorkspace(r *http.Request) (*store.Workspace, error) {
	ctx := r.Context()
	ws, err := h.Store.GetWorkspace(ctx, chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	ok, err := h.Store.IsMember(ctx, ws.ID, userID(r))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: not a member of workspace %s", task.ErrForbidden, ws.ID)
	}
	return ws, nil
}

func (h *handlers) getWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := h.memberWorkspace(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (h *handlers) deleteWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := h.memberWorkspace(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.DeleteWorkspace(r.Context(), ws.ID); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("workspace deleted", "workspace_id", ws.ID, "actor", userID(r))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listMembers(w http.ResponseWriter, r *http.Request) {
	ws, err := h.memberWorkspace(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	members, err := h.Store.ListMembers(r.Context(), ws.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	type member struct {
		store.User
		Online bool `json:"online"`
	}
	out := make([]member, 0, len(members))
	for _, u := range members {
		out = append(out, member{User: u, Online: h.Registry.Connected(u.ID)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) addMember(w http.ResponseWriter, r *http.Request) {
	ws, err := h.memberWorkspace(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req struct {
		UserID string `json:"userId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	u, err := h.Store.GetUser(r.Context(), req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, fmt.Errorf("%w: unknown user %q", task.ErrValidation, req.UserID))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.Store.AddMember(r.Context(), ws.ID, u.ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *handlers) removeMember(w http.ResponseWriter, r *http.Request) {
	ws, err := h.memberWorkspace(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.RemoveMember(r.Context(), ws.ID, chi.URLParam(r, "userID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listStatuses(w http.ResponseWriter, r *http.Request) {
	ws, err := h.memberWorkspace(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	statuses, err := h.Store.ListStatuses(r.Context(), ws.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (h *handlers) createStatus(w http.ResponseWriter, r *http.Request) {
	ws, err := h.memberWorkspace(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, r, fmt.Errorf("%w: name is required", task.ErrValidation))
		return
	}

	existing, err := h.Store.ListStatuses(r.Context(), ws.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	st := &store.TaskStatus{WorkspaceID: ws.ID, Name: name, Position: len(existing)}
	if err := h.Store.CreateStatus(r.Context(), st); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (h *handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Tasks.List(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}
