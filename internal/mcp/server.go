package mcp

import (
	"context"
	"net/http"

	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/tandem/internal/auth"
	"github.com/btouchard/tandem/internal/mcp/handlers"
	"github.com/btouchard/tandem/internal/notify"
)

// Deps holds shared dependencies injected into MCP handlers.
type Deps struct {
	Notifications handlers.NotificationStore
	Tasks         handlers.TaskService
	Version       string

	// Live receives one channel per authenticated MCP session, so task
	// events reach MCP clients as notifications/message. Nil disables it.
	Live *notify.Registry
}

// NewServer creates and configures the MCP server with all tools registered.
func NewServer(deps *Deps) *server.MCPServer {
	hooks := &server.Hooks{}
	s := server.NewMCPServer(
		"Tandem",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
		server.WithHooks(hooks),
	)

	registerTools(s, deps)

	if deps.Live != nil {
		sessions := notify.NewMCPSessions(deps.Live, s)
		hooks.AddOnRegisterSession(func(ctx context.Context, session server.ClientSession) {
			if id, ok := auth.UserIDFromContext(ctx); ok {
				sessions.Bind(id, session.SessionID())
			}
		})
		hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
			sessions.Release(session.SessionID())
		})
	}

	return s
}

// NewHTTPHandler serves s over streamable HTTP. It must sit behind
// auth.BearerAuth: the authenticated user id is carried into every tool
// call's context.
func NewHTTPHandler(s *server.MCPServer) http.Handler {
	return server.NewStreamableHTTPServer(s,
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if id, ok := auth.UserIDFromContext(r.Context()); ok {
				return auth.WithUserID(ctx, id)
			}
			return ctx
		}),
	)
}
