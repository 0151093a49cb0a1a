package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *handlers) listUnread(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListUnread(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// listNotifications returns the caller's history, read entries included.
func (h *handlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListNotifications(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) unreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.Store.UnreadCount(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// markRead answers 404 when the caller was never a recipient, so the ids
// of notifications addressed to others stay hidden.
func (h *handlers) markRead(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.MarkRead(r.Context(), chi.URLParam(r, "id"), userID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
