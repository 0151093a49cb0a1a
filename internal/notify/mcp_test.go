package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentNotification struct {
	sessionID string
	method    string
	params    map[string]any
}

// fakeMCPSender records notifications and fails for unknown sessions.
type fakeMCPSender struct {
	mu       sync.Mutex
	sent     []sentNotification
	sessions map[string]bool
}

func newFakeMCPSender(sessions ...string) *fakeMCPSender {
	f := &fakeMCPSender{sessions: make(map[string]bool)}
	for _, s := range sessions {
		f.sessions[s] = true
	}
	return f
}

func (f *fakeMCPSender) SendNotificationToSpecificClient(sessionID, method string, params map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.sessions[sessionID] {
		return errors.New("session not found")
	}
	f.sent = append(f.sent, sentNotification{sessionID: sessionID, method: method, params: params})
	return nil
}

func (f *fakeMCPSender) all() []sentNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentNotification(nil), f.sent...)
}

func TestMCPChannel_Send_WrapsPayloadAsLogMessage(t *testing.T) {
	t.Parallel()

	sender := newFakeMCPSender("s1")
	ch := NewMCPChannel(sender, "s1")

	require.NoError(t, ch.Send(context.Background(), Payload{ID: "n1", EventType: "TASK_STATUS_CHANGED"}))

	sent := sender.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "s1", sent[0].sessionID)
	assert.Equal(t, "notifications/message", sent[0].method)
	assert.Equal(t, "info", sent[0].params["level"])
	assert.Equal(t, "tandem", sent[0].params["logger"])
	p, ok := sent[0].params["data"].(Payload)
	require.True(t, ok)
	assert.Equal(t, "n1", p.ID)
}

func TestMCPChannel_Send_DeletionIsWarning(t *testing.T) {
	t.Parallel()

	sender := newFakeMCPSender("s1")
	require.NoError(t, NewMCPChannel(sender, "s1").Send(context.Background(), Payload{EventType: "TASK_DELETED"}))
	assert.Equal(t, "warning", sender.all()[0].params["level"])
}

func TestMCPChannel_Send_ReportsSenderError(t *testing.T) {
	t.Parallel()

	err := NewMCPChannel(newFakeMCPSender(), "gone").Send(context.Background(), Payload{ID: "n1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone")
}

func TestMCPSessions_BindAndRelease(t *testing.T) {
	t.Parallel()

	r := NewRegistry(2)
	sender := newFakeMCPSender("s1")
	sessions := NewMCPSessions(r, sender)

	sessions.Bind("u1", "s1")
	assert.True(t, r.Connected("u1"))
	assert.Equal(t, Delivered, r.Push(context.Background(), "u1", Payload{ID: "n1"}))
	require.Len(t, sender.all(), 1)

	sessions.Release("s1")
	assert.False(t, r.Connected("u1"))
	assert.Equal(t, Skipped, r.Push(context.Background(), "u1", Payload{ID: "n2"}))
}

func TestMCPSessions_ReleaseOfSupersededSessionKeepsSuccessor(t *testing.T) {
	t.Parallel()

	r := NewRegistry(2)
	sender := newFakeMCPSender("old", "new")
	sessions := NewMCPSessions(r, sender)

	sessions.Bind("u1", "old")
	sessions.Bind("u1", "new")
	sessions.Release("old")

	require.True(t, r.Connected("u1"))
	require.Equal(t, Delivered, r.Push(context.Background(), "u1", Payload{ID: "n1"}))
	assert.Equal(t, "new", sender.all()[0].sessionID)
}

func TestMCPSessions_IgnoresAnonymousAndUnknownSessions(t *testing.T) {
	t.Parallel()

	r := NewRegistry(2)
	sessions := NewMCPSessions(r, newFakeMCPSender("s1"))

	sessions.Bind("", "s1")
	assert.Equal(t, 0, r.Count())

	sessions.Release("never-bound")
	assert.Equal(t, 0, r.Count())
}

func TestHub_Push_DeliveredWhenAnyTransportDelivers(t *testing.T) {
	t.Parallel()

	ws := NewRegistry(1)
	mcp := NewRegistry(1)
	wsCh := &fakeChannel{}
	mcpCh := &fakeChannel{}
	ws.Register("u1", wsCh)
	mcp.Register("u1", mcpCh)
	mcp.Register("u2", &fakeChannel{fail: errors.New("full")})

	h := NewHub(ws, mcp)
	ctx := context.Background()

	assert.Equal(t, Delivered, h.Push(ctx, "u1", Payload{ID: "n1"}))
	assert.Len(t, wsCh.payloads(), 1)
	assert.Len(t, mcpCh.payloads(), 1, "every transport gets the payload")

	assert.Equal(t, Skipped, h.Push(ctx, "u2", Payload{ID: "n1"}))
	assert.Equal(t, Skipped, h.Push(ctx, "nobody", Payload{ID: "n1"}))
}

func TestNotifier_Notify_ThroughHub(t *testing.T) {
	t.Parallel()

	ws := NewRegistry(1)
	mcp := NewRegistry(1)
	sender := newFakeMCPSender("s-bob")
	NewMCPSessions(mcp, sender).Bind("bob", "s-bob")
	aliceCh := &fakeChannel{}
	ws.Register("alice", aliceCh)

	rep := NewNotifier(NewHub(ws, mcp)).Notify(context.Background(), testEvent())

	assert.ElementsMatch(t, []string{"alice", "bob"}, rep.Delivered)
	assert.Len(t, aliceCh.payloads(), 1)
	assert.Len(t, sender.all(), 1)
}
