package store

// migrations are applied in order; index i is schema version i+1.
// Statements stay within the SQL subset shared by SQLite and PostgreSQL.
// Foreign keys carry no ON DELETE actions: cascades are explicit steps in
// DeleteTask, DeleteWorkspace, DeleteUser and RemoveMember.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		username TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workspace_members (
		workspace_id TEXT NOT NULL REFERENCES workspaces(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		joined_at TEXT NOT NULL,
		PRIMARY KEY (workspace_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS task_statuses (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL REFERENCES workspaces(id),
		name TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_task_statuses_workspace ON task_statuses(workspace_id);`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		due_date TEXT,
		workspace_id TEXT NOT NULL REFERENCES workspaces(id),
		status_id TEXT REFERENCES task_statuses(id),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_workspace ON tasks(workspace_id);

	CREATE TABLE IF NOT EXISTS task_assignees (
		task_id TEXT NOT NULL REFERENCES tasks(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		position INTEGER NOT NULL,
		PRIMARY KEY (task_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_task_assignees_user ON task_assignees(user_id);`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL REFERENCES tasks(id),
		creator_id TEXT REFERENCES users(id),
		event_type TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_task ON notifications(task_id);

	CREATE TABLE IF NOT EXISTS notification_recipients (
		notification_id TEXT NOT NULL REFERENCES notifications(id),
		recipient_id TEXT NOT NULL REFERENCES users(id),
		is_read INTEGER NOT NULL DEFAULT 0,
		notified_at TEXT NOT NULL,
		PRIMARY KEY (recipient_id, notification_id)
	);

	CREATE INDEX IF NOT EXISTS idx_notification_recipients_unread
		ON notification_recipients(recipient_id, is_read);`,
}
