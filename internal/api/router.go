package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/btouchard/tandem/internal/auth"
	"github.com/btouchard/tandem/internal/config"
	"github.com/btouchard/tandem/internal/notify"
	"github.com/btouchard/tandem/internal/store"
	"github.com/btouchard/tandem/internal/task"
)

// Store is the persistence surface the HTTP handlers need.
// Defined consumer-side; store.SQLStore implements it.
type Store interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	UpdateUser(ctx context.Context, u *store.User) error
	DeleteUser(ctx context.Context, id string) error

	CreateWorkspace(ctx context.Context, w *store.Workspace, creatorID string, statuses []string) error
	GetWorkspace(ctx context.Context, id string) (*store.Workspace, error)
	DeleteWorkspace(ctx context.Context, id string) error
	ListWorkspacesForUser(ctx context.Context, userID string) ([]store.Workspace, error)
	AddMember(ctx context.Context, workspaceID, userID string) error
	RemoveMember(ctx context.Context, workspaceID, userID string) error
	IsMember(ctx context.Context, workspaceID, userID string) (bool, error)
	ListMembers(ctx context.Context, workspaceID string) ([]store.User, error)
	CreateStatus(ctx context.Context, s *store.TaskStatus) error
	ListStatuses(ctx context.Context, workspaceID string) ([]store.TaskStatus, error)

	ListUnread(ctx context.Context, recipientID string) ([]store.UserNotification, error)
	ListNotifications(ctx context.Context, recipientID string) ([]store.UserNotification, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	MarkRead(ctx context.Context, notificationID, recipientID string) error
	Summary(ctx context.Context, userID string) (*store.Summary, error)
}

// Deps holds what the router wires together.
type Deps struct {
	Store           Store
	Tasks           *task.Service
	Registry        *notify.Registry
	Tokens          auth.TokenValidator
	Live            notify.WSOptions
	DefaultStatuses []string
	RateLimit       config.RateLimitConfig

	// MCP, when set, is served at /mcp behind the same bearer auth.
	MCP http.Handler
}

type handlers struct {
	Deps
}

// NewRouter builds the HTTP surface: health, REST API, live socket and MCP.
func NewRouter(d Deps) http.Handler {
	h := &handlers{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "live_clients": h.Registry.Count()})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.BearerAuth(d.Tokens))
		r.Use(auth.RateLimit(d.RateLimit))

		r.Get("/ws", h.serveWS)
		if d.MCP != nil {
			r.Handle("/mcp", d.MCP)
		}

		r.Route("/api", func(r chi.Router) {
			r.Get("/me", h.me)
			r.Put("/me", h.updateMe)
			r.Delete("/me", h.deleteMe)
			r.Get("/me/summary", h.summary)
			r.Get("/me/notifications", h.listNotifications)

			r.Route("/workspaces", func(r chi.Router) {
				r.Post("/", h.createWorkspace)
				r.Get("/", h.listWorkspaces)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.getWorkspace)
					r.Delete("/", h.deleteWorkspace)
					r.Get("/members", h.listMembers)
					r.Post("/members", h.addMember)
					r.Delete("/members/{userID}", h.removeMember)
					r.Get("/statuses", h.listStatuses)
					r.Post("/statuses", h.createStatus)
					r.Get("/tasks", h.listTasks)
				})
			})

			r.Route("/tasks", func(r chi.Router) {
				r.Post("/", h.createTask)
				r.Get("/{id}", h.getTask)
				r.Put("/{id}", h.updateTask)
				r.Delete("/{id}", h.deleteTask)
				r.Get("/{id}/activity", h.taskActivity)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/unread", h.listUnread)
				r.Get("/unread/count", h.unreadCount)
				r.Patch("/{id}/read", h.markRead)
			})
		})
	})

	return r
}

// SecurityHeaders sets conservative response headers on every route.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func (h *handlers) serveWS(w http.ResponseWriter, r *http.Request) {
	notify.ServeWS(w, r, h.Registry, userID(r), h.Live)
}
