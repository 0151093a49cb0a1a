package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type notificationRow struct {
	ID        string `db:"id"`
	TaskID    string `db:"task_id"`
	CreatorID string `db:"creator_id"`
	EventType string `db:"event_type"`
	Message   string `db:"message"`
	CreatedAt string `db:"created_at"`
}

type deliveryRow struct {
	NotificationID string `db:"notification_id"`
	RecipientID    string `db:"recipient_id"`
	IsRead         int    `db:"is_read"`
	NotifiedAt     string `db:"notified_at"`
}

type userNotificationRow struct {
	ID            string `db:"id"`
	Message       string `db:"message"`
	EventType     string `db:"event_type"`
	CreatedAt     string `db:"created_at"`
	TaskID        string `db:"task_id"`
	TaskName      string `db:"task_name"`
	WorkspaceID   string `db:"workspace_id"`
	WorkspaceName string `db:"workspace_name"`
	CreatorID     string `db:"creator_id"`
	CreatorName   string `db:"creator_name"`
	IsRead        int    `db:"is_read"`
	NotifiedAt    string `db:"notified_at"`
}

// Record persists n and then one unread delivery record per distinct
// recipient. The notification row is written first because delivery
// records reference it. An empty recipient list is valid.
// It returns the notification id, generating one when n.ID is empty.
func (q *Queries) Record(ctx context.Context, n *Notification, recipientIDs []string) (string, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	_, err := q.exec(ctx, `INSERT INTO notifications (id, task_id, creator_id, event_type, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.TaskID, nullString(n.CreatorID), n.EventType, n.Message, formatTime(n.CreatedAt))
	if err != nil {
		return "", fmt.Errorf("inserting notification: %w", err)
	}

	notifiedAt := formatTime(n.CreatedAt)
	seen := make(map[string]bool, len(recipientIDs))
	for _, rid := range recipientIDs {
		if seen[rid] {
			continue
		}
		seen[rid] = true

		_, err := q.exec(ctx, `INSERT INTO notification_recipients (notification_id, recipient_id, is_read, notified_at)
			VALUES (?, ?, ?, ?)`, n.ID, rid, boolToInt(false), notifiedAt)
		if err != nil {
			return "", fmt.Errorf("inserting delivery record for %s: %w", rid, err)
		}
	}

	return n.ID, nil
}

// MarkRead flags the (recipient, notification) delivery record as read.
// It returns ErrNotFound when recipientID was never a recipient of the
// notification. Marking an already read record succeeds.
func (q *Queries) MarkRead(ctx context.Context, notificationID, recipientID string) error {
	err := q.execAffecting(ctx, `UPDATE notification_recipients SET is_read = ?
		WHERE notification_id = ? AND recipient_id = ?`,
		boolToInt(true), notificationID, recipientID)
	if err != nil {
		return fmt.Errorf("marking notification %s read: %w", notificationID, err)
	}
	return nil
}

// ListUnread returns the unread notifications of recipientID, newest first.
func (q *Queries) ListUnread(ctx context.Context, recipientID string) ([]UserNotification, error) {
	return q.listForRecipient(ctx, recipientID, true)
}

// ListNotifications returns every notification delivered to recipientID,
// read or not, newest first.
func (q *Queries) ListNotifications(ctx context.Context, recipientID string) ([]UserNotification, error) {
	return q.listForRecipient(ctx, recipientID, false)
}

func (q *Queries) listForRecipient(ctx context.Context, recipientID string, unreadOnly bool) ([]UserNotification, error) {
	filter := ""
	if unreadOnly {
		filter = " AND r.is_read = 0"
	}

	var rows []userNotificationRow
	err := q.selectAll(ctx, &rows, `SELECT
			n.id, n.message, n.event_type, n.created_at, n.task_id,
			t.title AS task_name,
			w.id AS workspace_id, w.name AS workspace_name,
			COALESCE(n.creator_id, '') AS creator_id,
			COALESCE(u.full_name, '') AS creator_name,
			r.is_read, r.notified_at
		FROM notification_recipients r
		JOIN notifications n ON n.id = r.notification_id
		JOIN tasks t ON t.id = n.task_id
		JOIN workspaces w ON w.id = t.workspace_id
		LEFT JOIN users u ON u.id = n.creator_id
		WHERE r.recipient_id = ?`+filter+`
		ORDER BY n.created_at DESC, n.id DESC`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}

	out := make([]UserNotification, 0, len(rows))
	for _, r := range rows {
		out = append(out, UserNotification{
			ID:            r.ID,
			Message:       r.Message,
			EventType:     r.EventType,
			CreatedAt:     parseTime(r.CreatedAt),
			TaskID:        r.TaskID,
			TaskName:      r.TaskName,
			WorkspaceID:   r.WorkspaceID,
			WorkspaceName: r.WorkspaceName,
			CreatorID:     r.CreatorID,
			CreatorName:   r.CreatorName,
			IsRead:        r.IsRead != 0,
			NotifiedAt:    parseTime(r.NotifiedAt),
		})
	}
	return out, nil
}

func (q *Queries) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	var n int
	if err := q.get(ctx, &n, `SELECT COUNT(*) FROM notification_recipients WHERE recipient_id = ? AND is_read = 0`,
		recipientID); err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return n, nil
}

// TaskNotifications returns every notification owned by the task, oldest first.
func (q *Queries) TaskNotifications(ctx context.Context, taskID string) ([]Notification, error) {
	var rows []notificationRow
	err := q.selectAll(ctx, &rows, `SELECT id, task_id, COALESCE(creator_id, '') AS creator_id, event_type, message, created_at
		FROM notifications WHERE task_id = ? ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing task notifications: %w", err)
	}

	out := make([]Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, Notification{
			ID:        r.ID,
			TaskID:    r.TaskID,
			CreatorID: r.CreatorID,
			EventType: r.EventType,
			Message:   r.Message,
			CreatedAt: parseTime(r.CreatedAt),
		})
	}
	return out, nil
}

// Deliveries returns the delivery records of a notification.
func (q *Queries) Deliveries(ctx context.Context, notificationID string) ([]Delivery, error) {
	var rows []deliveryRow
	err := q.selectAll(ctx, &rows, `SELECT notification_id, recipient_id, is_read, notified_at
		FROM notification_recipients WHERE notification_id = ? ORDER BY recipient_id`, notificationID)
	if err != nil {
		return nil, fmt.Errorf("listing delivery records: %w", err)
	}

	out := make([]Delivery, 0, len(rows))
	for _, r := range rows {
		out = append(out, Delivery{
			NotificationID: r.NotificationID,
			RecipientID:    r.RecipientID,
			IsRead:         r.IsRead != 0,
			NotifiedAt:     parseTime(r.NotifiedAt),
		})
	}
	return out, nil
}

// DeleteTaskNotifications removes the notifications owned by a task along
// with their delivery records.
func (q *Queries) DeleteTaskNotifications(ctx context.Context, taskID string) error {
	if _, err := q.exec(ctx, `DELETE FROM notification_recipients
		WHERE notification_id IN (SELECT id FROM notifications WHERE task_id = ?)`, taskID); err != nil {
		return fmt.Errorf("deleting delivery records: %w", err)
	}
	if _, err := q.exec(ctx, `DELETE FROM notifications WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("deleting notifications: %w", err)
	}
	return nil
}
