package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/tandem/internal/mcp/handlers"
)

func registerTools(s *server.MCPServer, deps *Deps) {
	// list_unread_notifications: Unread notifications of the caller
	s.AddTool(
		mcp.NewTool("list_unread_notifications",
			mcp.WithDescription("List your unread task notifications, newest first."),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of notifications to return"),
			),
		),
		handlers.ListUnreadNotifications(deps.Notifications),
	)

	// mark_notification_read: Mark one notification as read
	s.AddTool(
		mcp.NewTool("mark_notification_read",
			mcp.WithDescription("Mark one of your notifications as read. Marking an already read notification succeeds."),
			mcp.WithString("notification_id",
				mcp.Required(),
				mcp.Description("The notification ID from list_unread_notifications"),
			),
		),
		handlers.MarkNotificationRead(deps.Notifications),
	)

	// get_task: Show a task
	s.AddTool(
		mcp.NewTool("get_task",
			mcp.WithDescription("Show a task of one of your workspaces."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task ID"),
			),
		),
		handlers.GetTask(deps.Tasks),
	)

	// update_task: Change task fields and notify assignees
	s.AddTool(
		mcp.NewTool("update_task",
			mcp.WithDescription("Update a task. Only the fields you pass are changed. Assignees are notified of the changes."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task ID"),
			),
			mcp.WithString("title",
				mcp.Description("New title"),
			),
			mcp.WithString("description",
				mcp.Description("New description"),
			),
			mcp.WithString("due_date",
				mcp.Description("New due date, YYYY-MM-DD"),
			),
			mcp.WithString("status_id",
				mcp.Description("ID of a status of the task's workspace"),
			),
			mcp.WithArray("assignees",
				mcp.Description("Complete new list of assignee user IDs"),
				mcp.WithStringItems(),
			),
		),
		handlers.UpdateTask(deps.Tasks),
	)
}
