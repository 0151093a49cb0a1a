package task

import (
	"errors"
	"time"
)

var (
	// ErrValidation marks a request that references unknown or foreign
	// entities, or carries an invalid field value.
	ErrValidation = errors.New("validation failed")

	// ErrForbidden marks an actor acting on a workspace they do not belong to.
	ErrForbidden = errors.New("forbidden")
)

// Kind is the event kind carried by a notification.
type Kind string

const (
	KindTitleChanged       Kind = "TASK_TITLE_CHANGED"
	KindDescriptionChanged Kind = "TASK_DESCRIPTION_CHANGED"
	KindDueDateChanged     Kind = "TASK_DUE_DATE_CHANGED"
	KindStatusChanged      Kind = "TASK_STATUS_CHANGED"
	KindAssigned           Kind = "TASK_ASSIGNED"
	KindUnassigned         Kind = "TASK_UNASSIGNED"
	KindUpdated            Kind = "TASK_UPDATED"
	KindDeleted            Kind = "TASK_DELETED"
	KindCreated            Kind = "TASK_CREATED"
	KindCompleted          Kind = "TASK_COMPLETED"
)

// dateLayout is the calendar-date format used in messages and inputs.
const dateLayout = "2006-01-02"

// Status is a task status reference with its display name.
type Status struct {
	ID   string
	Name string
}

// Snapshot is the state of a task before an update is applied.
type Snapshot struct {
	ID          string
	Title       string
	Description string
	DueDate     *time.Time
	Status      Status
	Assignees   []string
	WorkspaceID string
}

// Update holds the fields a caller wants to change. A nil field is absent
// and is left untouched. Status must carry the resolved display name.
// Assignees, when present, is the complete new assignee set.
type Update struct {
	Title       *string
	Description *string
	DueDate     *time.Time
	Status      *Status
	Assignees   *[]string
}

// Change is one notification-worthy event produced by a diff.
type Change struct {
	Kind       Kind
	Message    string
	Recipients []string
}

// Apply returns the snapshot with the present fields of upd written over it.
func (s Snapshot) Apply(upd Update) Snapshot {
	out := s
	if upd.Title != nil {
		out.Title = *upd.Title
	}
	if upd.Description != nil {
		out.Description = *upd.Description
	}
	if upd.DueDate != nil {
		d := *upd.DueDate
		out.DueDate = &d
	}
	if upd.Status != nil {
		out.Status = *upd.Status
	}
	if upd.Assignees != nil {
		out.Assignees = append([]string(nil), (*upd.Assignees)...)
	}
	return out
}

// Patch is the caller-facing form of an update, as decoded from JSON.
// StatusID and DueDate ("YYYY-MM-DD") are resolved by the service.
type Patch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	DueDate     *string   `json:"dueDate,omitempty"`
	StatusID    *string   `json:"statusId,omitempty"`
	Assignees   *[]string `json:"assignees,omitempty"`
}

// NewTask is the input of Service.Create.
type NewTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	DueDate     string   `json:"dueDate,omitempty"`
	WorkspaceID string   `json:"workspaceId"`
	StatusID    string   `json:"statusId,omitempty"`
	Assignees   []string `json:"assignees"`
}
