package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// MCPSender abstracts the mcp-go server method that pushes a notification
// to one client session. Defined consumer-side per Go convention.
type MCPSender interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
}

// MCPChannel is the live channel of one MCP client session. It is a
// comparable value, so Registry.Unregister can match it.
type MCPChannel struct {
	sender    MCPSender
	sessionID string
}

// NewMCPChannel creates a channel pushing to sessionID through sender.
func NewMCPChannel(sender MCPSender, sessionID string) MCPChannel {
	return MCPChannel{sender: sender, sessionID: sessionID}
}

// Send pushes p as a notifications/message log entry. mcp-go drops the
// notification instead of blocking when the session queue is full.
func (c MCPChannel) Send(_ context.Context, p Payload) error {
	params := map[string]any{
		"level":  mcpLevel(p.EventType),
		"logger": "tandem",
		"data":   p,
	}
	if err := c.sender.SendNotificationToSpecificClient(c.sessionID, "notifications/message", params); err != nil {
		return fmt.Errorf("sending to mcp session %s: %w", c.sessionID, err)
	}
	return nil
}

func mcpLevel(eventType string) string {
	if eventType == "TASK_DELETED" {
		return "warning"
	}
	return "info"
}

// MCPSessions binds MCP client sessions to users on a Registry. The most
// recently bound session of a user is its live channel.
type MCPSessions struct {
	registry *Registry
	sender   MCPSender

	mu    sync.Mutex
	users map[string]string // sessionID → userID
}

// NewMCPSessions creates an MCPSessions registering channels on r.
func NewMCPSessions(r *Registry, sender MCPSender) *MCPSessions {
	return &MCPSessions{
		registry: r,
		sender:   sender,
		users:    make(map[string]string),
	}
}

// Bind makes sessionID the live MCP channel of userID.
func (m *MCPSessions) Bind(userID, sessionID string) {
	if userID == "" || sessionID == "" {
		return
	}
	m.mu.Lock()
	m.users[sessionID] = userID
	m.mu.Unlock()

	m.registry.Register(userID, NewMCPChannel(m.sender, sessionID))
	slog.Debug("mcp session bound", "user_id", userID, "session_id", sessionID)
}

// Release forgets sessionID. The user's live channel is removed only if
// it is still this session.
func (m *MCPSessions) Release(sessionID string) {
	m.mu.Lock()
	userID, ok := m.users[sessionID]
	delete(m.users, sessionID)
	m.mu.Unlock()

	if !ok {
		return
	}
	m.registry.Unregister(userID, NewMCPChannel(m.sender, sessionID))
	slog.Debug("mcp session released", "user_id", userID, "session_id", sessionID)
}
