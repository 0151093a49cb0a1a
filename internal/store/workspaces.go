package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type userRow struct {
	ID        string `db:"id"`
	Email     string `db:"email"`
	Username  string `db:"username"`
	FullName  string `db:"full_name"`
	CreatedAt string `db:"created_at"`
}

func (r userRow) user() User {
	return User{
		ID:        r.ID,
		Email:     r.Email,
		Username:  r.Username,
		FullName:  r.FullName,
		CreatedAt: parseTime(r.CreatedAt),
	}
}

type workspaceRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Status      string `db:"status"`
	CreatedAt   string `db:"created_at"`
}

func (r workspaceRow) workspace() Workspace {
	return Workspace{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Status:      r.Status,
		CreatedAt:   parseTime(r.CreatedAt),
	}
}

// --- Users ---

// CreateUser inserts u, assigning an id and creation time when unset.
func (q *Queries) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := q.exec(ctx, `INSERT INTO users (id, email, username, full_name, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Username, u.FullName, formatTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting user: %w", uniqueViolation(err))
	}
	return nil
}

// UpdateUser writes the profile fields of u. A taken email or username
// yields ErrConflict.
func (q *Queries) UpdateUser(ctx context.Context, u *User) error {
	res, err := q.exec(ctx, `UPDATE users SET email = ?, username = ?, full_name = ? WHERE id = ?`,
		u.Email, u.Username, u.FullName, u.ID)
	if err != nil {
		return fmt.Errorf("updating user %s: %w", u.ID, uniqueViolation(err))
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	} else if n == 0 {
		return fmt.Errorf("updating user %s: %w", u.ID, ErrNotFound)
	}
	return nil
}

// DeleteUser removes the user and everything that only exists for them.
// Notifications they created survive with no creator; their own delivery
// records, assignments and memberships are deleted first.
func (q *Queries) DeleteUser(ctx context.Context, id string) error {
	steps := []struct{ what, query string }{
		{"detaching created notifications", `UPDATE notifications SET creator_id = NULL WHERE creator_id = ?`},
		{"deleting delivery records", `DELETE FROM notification_recipients WHERE recipient_id = ?`},
		{"deleting assignments", `DELETE FROM task_assignees WHERE user_id = ?`},
		{"deleting memberships", `DELETE FROM workspace_members WHERE user_id = ?`},
	}
	for _, st := range steps {
		if _, err := q.exec(ctx, st.query, id); err != nil {
			return fmt.Errorf("%s: %w", st.what, err)
		}
	}
	if err := q.execAffecting(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting user %s: %w", id, err)
	}
	return nil
}

func (q *Queries) GetUser(ctx context.Context, id string) (*User, error) {
	var r userRow
	if err := q.get(ctx, &r, `SELECT id, email, username, full_name, created_at FROM users WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("getting user %s: %w", id, err)
	}
	u := r.user()
	return &u, nil
}

func (q *Queries) ListUsers(ctx context.Context) ([]User, error) {
	var rows []userRow
	if err := q.selectAll(ctx, &rows, `SELECT id, email, username, full_name, created_at FROM users ORDER BY username`); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	users := make([]User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.user())
	}
	return users, nil
}

// --- Workspaces ---

// CreateWorkspace inserts w, makes creatorID its first member and creates
// one status per name in statuses, in order.
func (q *Queries) CreateWorkspace(ctx context.Context, w *Workspace, creatorID string, statuses []string) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	_, err := q.exec(ctx, `INSERT INTO workspaces (id, name, description, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.Description, w.Status, formatTime(w.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting workspace: %w", err)
	}

	if err := q.AddMember(ctx, w.ID, creatorID); err != nil {
		return err
	}

	for i, name := range statuses {
		if err := q.CreateStatus(ctx, &TaskStatus{WorkspaceID: w.ID, Name: name, Position: i}); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queries) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	var r workspaceRow
	if err := q.get(ctx, &r, `SELECT id, name, description, status, created_at FROM workspaces WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("getting workspace %s: %w", id, err)
	}
	w := r.workspace()
	return &w, nil
}

// DeleteWorkspace removes the workspace with its tasks (and their
// notifications), statuses and memberships, child rows first.
func (q *Queries) DeleteWorkspace(ctx context.Context, id string) error {
	var taskIDs []string
	if err := q.selectAll(ctx, &taskIDs, `SELECT id FROM tasks WHERE workspace_id = ?`, id); err != nil {
		return fmt.Errorf("listing workspace tasks: %w", err)
	}
	for _, taskID := range taskIDs {
		if err := q.DeleteTask(ctx, taskID); err != nil {
			return err
		}
	}
	if _, err := q.exec(ctx, `DELETE FROM task_statuses WHERE workspace_id = ?`, id); err != nil {
		return fmt.Errorf("deleting statuses: %w", err)
	}
	if _, err := q.exec(ctx, `DELETE FROM workspace_members WHERE workspace_id = ?`, id); err != nil {
		return fmt.Errorf("deleting memberships: %w", err)
	}
	if err := q.execAffecting(ctx, `DELETE FROM workspaces WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting workspace %s: %w", id, err)
	}
	return nil
}

// ListWorkspacesForUser returns the workspaces userID is a member of.
func (q *Queries) ListWorkspacesForUser(ctx context.Context, userID string) ([]Workspace, error) {
	var rows []workspaceRow
	err := q.selectAll(ctx, &rows, `SELECT w.id, w.name, w.description, w.status, w.created_at
		FROM workspaces w
		JOIN workspace_members m ON m.workspace_id = w.id
		WHERE m.user_id = ?
		ORDER BY w.created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	out := make([]Workspace, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.workspace())
	}
	return out, nil
}

// AddMember adds userID to the workspace. Adding an existing member is a no-op.
func (q *Queries) AddMember(ctx context.Context, workspaceID, userID string) error {
	_, err := q.exec(ctx, `INSERT INTO workspace_members (workspace_id, user_id, joined_at) VALUES (?, ?, ?)
		ON CONFLICT (workspace_id, user_id) DO NOTHING`,
		workspaceID, userID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("adding member: %w", err)
	}
	return nil
}

// RemoveMember takes userID out of the workspace and unassigns them from
// every task of that workspace, so a former member receives no further
// task events from it.
func (q *Queries) RemoveMember(ctx context.Context, workspaceID, userID string) error {
	if err := q.execAffecting(ctx, `DELETE FROM workspace_members WHERE workspace_id = ? AND user_id = ?`,
		workspaceID, userID); err != nil {
		return fmt.Errorf("removing member: %w", err)
	}
	_, err := q.exec(ctx, `DELETE FROM task_assignees
		WHERE user_id = ? AND task_id IN (SELECT id FROM tasks WHERE workspace_id = ?)`,
		userID, workspaceID)
	if err != nil {
		return fmt.Errorf("removing assignments: %w", err)
	}
	return nil
}

func (q *Queries) IsMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	var n int
	if err := q.get(ctx, &n, `SELECT COUNT(*) FROM workspace_members WHERE workspace_id = ? AND user_id = ?`,
		workspaceID, userID); err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return n > 0, nil
}

func (q *Queries) ListMembers(ctx context.Context, workspaceID string) ([]User, error) {
	var rows []userRow
	err := q.selectAll(ctx, &rows, `SELECT u.id, u.email, u.username, u.full_name, u.created_at
		FROM users u
		JOIN workspace_members m ON m.user_id = u.id
		WHERE m.workspace_id = ?
		ORDER BY m.joined_at, u.username`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	users := make([]User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.user())
	}
	return users, nil
}

// --- Task statuses ---

func (q *Queries) CreateStatus(ctx context.Context, s *TaskStatus) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := q.exec(ctx, `INSERT INTO task_statuses (id, workspace_id, name, position) VALUES (?, ?, ?, ?)`,
		s.ID, s.WorkspaceID, s.Name, s.Position)
	if err != nil {
		return fmt.Errorf("inserting task status: %w", err)
	}
	return nil
}

func (q *Queries) GetStatus(ctx context.Context, id string) (*TaskStatus, error) {
	var s TaskStatus
	err := q.get(ctx, &s, `SELECT id, workspace_id, name, position FROM task_statuses WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("getting task status %s: %w", id, err)
	}
	return &s, nil
}

func (q *Queries) ListStatuses(ctx context.Context, workspaceID string) ([]TaskStatus, error) {
	var out []TaskStatus
	err := q.selectAll(ctx, &out, `SELECT id, workspace_id, name, position
		FROM task_statuses WHERE workspace_id = ? ORDER BY position, name`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing task statuses: %w", err)
	}
	return out, nil
}

// --- Dashboard ---

// Summary counts the workspaces, assigned tasks and unread notifications of userID.
func (q *Queries) Summary(ctx context.Context, userID string) (*Summary, error) {
	var s Summary
	if err := q.get(ctx, &s.WorkspaceCount, `SELECT COUNT(*) FROM workspace_members WHERE user_id = ?`, userID); err != nil {
		return nil, fmt.Errorf("counting workspaces: %w", err)
	}
	if err := q.get(ctx, &s.TaskCount, `SELECT COUNT(*) FROM task_assignees WHERE user_id = ?`, userID); err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}
	n, err := q.UnreadCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.UnreadNotifications = n
	return &s, nil
}
