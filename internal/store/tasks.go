package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type taskRow struct {
	ID          string         `db:"id"`
	Title       string         `db:"title"`
	Description string         `db:"description"`
	DueDate     sql.NullString `db:"due_date"`
	WorkspaceID string         `db:"workspace_id"`
	StatusID    sql.NullString `db:"status_id"`
	CreatedAt   string         `db:"created_at"`
	UpdatedAt   string         `db:"updated_at"`
}

func (r taskRow) task() Task {
	return Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		DueDate:     parseDate(r.DueDate),
		WorkspaceID: r.WorkspaceID,
		StatusID:    r.StatusID.String,
		CreatedAt:   parseTime(r.CreatedAt),
		UpdatedAt:   parseTime(r.UpdatedAt),
	}
}

const taskColumns = `id, title, description, due_date, workspace_id, status_id, created_at, updated_at`

// CreateTask inserts t and its assignees, assigning an id and timestamps
// when unset.
func (q *Queries) CreateTask(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.UpdatedAt = t.CreatedAt

	_, err := q.exec(ctx, `INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, formatDate(t.DueDate), t.WorkspaceID, nullString(t.StatusID),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}

	return q.insertAssignees(ctx, t.ID, t.Assignees)
}

// GetTask returns the task with its assignees in assignment order.
func (q *Queries) GetTask(ctx context.Context, id string) (*Task, error) {
	return q.getTask(ctx, id, "")
}

// GetTaskForUpdate is GetTask for a transaction that is about to modify
// the task: concurrent modifiers of the same task wait for it to end.
func (q *Queries) GetTaskForUpdate(ctx context.Context, id string) (*Task, error) {
	return q.getTask(ctx, id, q.forUpdate())
}

func (q *Queries) getTask(ctx context.Context, id, suffix string) (*Task, error) {
	var r taskRow
	if err := q.get(ctx, &r, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`+suffix, id); err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}
	t := r.task()

	assignees, err := q.TaskAssignees(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Assignees = assignees
	return &t, nil
}

// UpdateTask writes the scalar fields of t. Assignees are left untouched;
// use SetAssignees for those.
func (q *Queries) UpdateTask(ctx context.Context, t *Task) error {
	t.UpdatedAt = time.Now()
	err := q.execAffecting(ctx, `UPDATE tasks SET
		title = ?, description = ?, due_date = ?, status_id = ?, updated_at = ?
		WHERE id = ?`,
		t.Title, t.Description, formatDate(t.DueDate), nullString(t.StatusID), formatTime(t.UpdatedAt),
		t.ID)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", t.ID, err)
	}
	return nil
}

// SetAssignees replaces the assignee set of the task.
func (q *Queries) SetAssignees(ctx context.Context, taskID string, userIDs []string) error {
	if _, err := q.exec(ctx, `DELETE FROM task_assignees WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("clearing assignees: %w", err)
	}
	return q.insertAssignees(ctx, taskID, userIDs)
}

func (q *Queries) insertAssignees(ctx context.Context, taskID string, userIDs []string) error {
	for i, userID := range userIDs {
		_, err := q.exec(ctx, `INSERT INTO task_assignees (task_id, user_id, position) VALUES (?, ?, ?)`,
			taskID, userID, i)
		if err != nil {
			return fmt.Errorf("assigning %s: %w", userID, err)
		}
	}
	return nil
}

func (q *Queries) TaskAssignees(ctx context.Context, taskID string) ([]string, error) {
	ids := []string{}
	if err := q.selectAll(ctx, &ids, `SELECT user_id FROM task_assignees WHERE task_id = ? ORDER BY position`, taskID); err != nil {
		return nil, fmt.Errorf("listing assignees: %w", err)
	}
	return ids, nil
}

func (q *Queries) ListWorkspaceTasks(ctx context.Context, workspaceID string) ([]Task, error) {
	var rows []taskRow
	if err := q.selectAll(ctx, &rows, `SELECT `+taskColumns+` FROM tasks WHERE workspace_id = ? ORDER BY created_at DESC`,
		workspaceID); err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	tasks := make([]Task, 0, len(rows))
	for _, r := range rows {
		t := r.task()
		assignees, err := q.TaskAssignees(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		t.Assignees = assignees
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// DeleteTask removes the task together with everything it owns, child
// rows first: delivery records, notifications, assignees, then the task.
func (q *Queries) DeleteTask(ctx context.Context, id string) error {
	if err := q.DeleteTaskNotifications(ctx, id); err != nil {
		return err
	}
	if _, err := q.exec(ctx, `DELETE FROM task_assignees WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("deleting assignees: %w", err)
	}
	if err := q.execAffecting(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	return nil
}
