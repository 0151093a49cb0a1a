package notify

import (
	"context"
	"log/slog"
	"time"
)

// Payload is the JSON object sent over a live channel. Field names are
// part of the client contract.
type Payload struct {
	ID            string    `json:"id"`
	TaskID        string    `json:"taskId"`
	TaskName      string    `json:"taskName"`
	WorkspaceID   string    `json:"workspaceId"`
	WorkspaceName string    `json:"workspaceName"`
	EventType     string    `json:"eventType"`
	Message       string    `json:"message"`
	CreatorID     string    `json:"creatorId"`
	CreatorName   string    `json:"creatorName"`
	NotifiedAt    time.Time `json:"notifiedAt"`
}

// Event is a committed task event ready for live fan-out.
type Event struct {
	NotificationID string
	TaskID         string
	TaskName       string
	WorkspaceID    string
	WorkspaceName  string
	EventType      string
	Message        string
	CreatorID      string // acting user; receives an echo of the event
	CreatorName    string
	Recipients     []string
	CreatedAt      time.Time
}

// Report tells which users got a live payload and which were skipped.
type Report struct {
	Delivered []string
	Skipped   []string
}

// Pusher delivers a payload to one user's live channel.
// Defined consumer-side; Registry implements it.
type Pusher interface {
	Push(ctx context.Context, userID string, p Payload) Delivery
}

// Notifier fans a committed event out to the live channels of its
// recipients and of the acting user.
type Notifier struct {
	pusher Pusher
}

// NewNotifier creates a Notifier pushing through p.
func NewNotifier(p Pusher) *Notifier {
	return &Notifier{pusher: p}
}

// Notify pushes one payload to every recipient plus the creator, each
// user at most once. A failure for one user does not affect the others.
func (n *Notifier) Notify(ctx context.Context, ev Event) Report {
	p := ev.Payload()

	targets := make([]string, 0, len(ev.Recipients)+1)
	seen := make(map[string]bool, len(ev.Recipients)+1)
	for _, id := range append(append([]string(nil), ev.Recipients...), ev.CreatorID) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		targets = append(targets, id)
	}

	var rep Report
	for _, id := range targets {
		switch n.pusher.Push(ctx, id, p) {
		case Delivered:
			rep.Delivered = append(rep.Delivered, id)
		default:
			rep.Skipped = append(rep.Skipped, id)
		}
	}

	slog.Debug("live notification fanned out",
		"notification_id", ev.NotificationID,
		"event_type", ev.EventType,
		"delivered", len(rep.Delivered),
		"skipped", len(rep.Skipped))

	return rep
}

// Payload builds the wire object for ev.
func (ev Event) Payload() Payload {
	at := ev.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return Payload{
		ID:            ev.NotificationID,
		TaskID:        ev.TaskID,
		TaskName:      ev.TaskName,
		WorkspaceID:   ev.WorkspaceID,
		WorkspaceName: ev.WorkspaceName,
		EventType:     ev.EventType,
		Message:       ev.Message,
		CreatorID:     ev.CreatorID,
		CreatorName:   ev.CreatorName,
		NotifiedAt:    at.UTC(),
	}
}
