package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write would duplicate a unique value
	// such as a user's email or username.
	ErrConflict = errors.New("conflict")
)

// User is a person who can belong to workspaces and be assigned tasks.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	FullName  string    `json:"fullName"`
	CreatedAt time.Time `json:"createdAt"`
}

// Workspace groups members, task statuses and tasks.
type Workspace struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TaskStatus is a workspace-defined task state such as "To Do".
type TaskStatus struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspaceId" db:"workspace_id"`
	Name        string `json:"name" db:"name"`
	Position    int    `json:"position" db:"position"`
}

// Task is a persisted task with its ordered assignee ids.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	WorkspaceID string     `json:"workspaceId"`
	StatusID    string     `json:"statusId"`
	Assignees   []string   `json:"assignees"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Notification is the immutable record of one task event.
type Notification struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	CreatorID string    `json:"creatorId,omitempty"` // empty when the actor is unknown
	EventType string    `json:"eventType"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Delivery is the per-recipient read state of a notification.
type Delivery struct {
	NotificationID string
	RecipientID    string
	IsRead         bool
	NotifiedAt     time.Time
}

// UserNotification is a notification joined with the display data a
// client needs to render it.
type UserNotification struct {
	ID            string    `json:"id"`
	Message       string    `json:"message"`
	EventType     string    `json:"eventType"`
	CreatedAt     time.Time `json:"createdAt"`
	TaskID        string    `json:"taskId"`
	TaskName      string    `json:"taskName"`
	WorkspaceID   string    `json:"workspaceId"`
	WorkspaceName string    `json:"workspaceName"`
	CreatorID     string    `json:"creatorId"`
	CreatorName   string    `json:"creatorName"`
	IsRead        bool      `json:"isRead"`
	NotifiedAt    time.Time `json:"notifiedAt"`
}

// Summary holds dashboard counters for one user.
type Summary struct {
	WorkspaceCount      int `json:"workspaceCount"`
	TaskCount           int `json:"taskCount"`
	UnreadNotifications int `json:"unreadNotifications"`
}
