package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() Event {
	return Event{
		NotificationID: "n1",
		TaskID:         "t1",
		TaskName:       "Rotate certificates",
		WorkspaceID:    "w1",
		WorkspaceName:  "Platform",
		EventType:      "TASK_STATUS_CHANGED",
		Message:        `status changed from "To Do" to "In Progress"`,
		CreatorID:      "alice",
		CreatorName:    "Alice Martin",
		Recipients:     []string{"bob", "carol"},
		CreatedAt:      time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestNotifier_Notify_PushesToRecipientsAndCreator(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4)
	alice, bob := &fakeChannel{}, &fakeChannel{}
	r.Register("alice", alice)
	r.Register("bob", bob)

	rep := NewNotifier(r).Notify(context.Background(), testEvent())

	assert.ElementsMatch(t, []string{"alice", "bob"}, rep.Delivered)
	assert.Equal(t, []string{"carol"}, rep.Skipped, "offline recipients are skipped")

	require.Len(t, alice.payloads(), 1, "actor receives an echo")
	require.Len(t, bob.payloads(), 1)
	assert.Equal(t, alice.payloads()[0], bob.payloads()[0], "every user gets the same payload")
}

func TestNotifier_Notify_DeduplicatesCreatorAmongRecipients(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4)
	alice := &fakeChannel{}
	r.Register("alice", alice)

	ev := testEvent()
	ev.Recipients = []string{"alice", "alice"}
	rep := NewNotifier(r).Notify(context.Background(), ev)

	assert.Equal(t, []string{"alice"}, rep.Delivered)
	assert.Len(t, alice.payloads(), 1)
}

func TestNotifier_Notify_FailureIsIsolatedPerRecipient(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4)
	bob, carol := &fakeChannel{fail: ErrChannelClosed}, &fakeChannel{}
	r.Register("bob", bob)
	r.Register("carol", carol)

	rep := NewNotifier(r).Notify(context.Background(), testEvent())

	assert.Contains(t, rep.Skipped, "bob")
	assert.Contains(t, rep.Delivered, "carol")
	assert.Len(t, carol.payloads(), 1)
}

func TestNotifier_Notify_NoCreator(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4)
	ev := testEvent()
	ev.CreatorID = ""

	rep := NewNotifier(r).Notify(context.Background(), ev)

	assert.Empty(t, rep.Delivered)
	assert.ElementsMatch(t, []string{"bob", "carol"}, rep.Skipped)
}

func TestPayload_JSONFieldNames(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(testEvent().Payload())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	for _, key := range []string{
		"id", "taskId", "taskName", "workspaceId", "workspaceName",
		"eventType", "message", "creatorId", "creatorName", "notifiedAt",
	} {
		assert.Contains(t, m, key)
	}
	assert.Len(t, m, 10)
	assert.Equal(t, "2025-03-14T09:30:00Z", m["notifiedAt"])
}

func TestEvent_Payload_DefaultsTimestamp(t *testing.T) {
	t.Parallel()

	ev := testEvent()
	ev.CreatedAt = time.Time{}

	p := ev.Payload()
	assert.WithinDuration(t, time.Now(), p.NotifiedAt, 5*time.Second)
}
