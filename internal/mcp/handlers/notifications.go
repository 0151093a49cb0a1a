package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/tandem/internal/auth"
	"github.com/btouchard/tandem/internal/store"
)

// NotificationStore is the part of the store the notification tools use.
type NotificationStore interface {
	ListUnread(ctx context.Context, recipientID string) ([]store.UserNotification, error)
	MarkRead(ctx context.Context, notificationID, recipientID string) error
}

// ListUnreadNotifications returns a handler listing the caller's unread
// notifications, newest first.
func ListUnreadNotifications(st NotificationStore) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, ok := auth.UserIDFromContext(ctx)
		if !ok {
			return mcp.NewToolResultError("not authenticated"), nil
		}

		list, err := st.ListUnread(ctx, userID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Listing notifications failed: %s", err)), nil
		}

		if limit, ok := req.GetArguments()["limit"].(float64); ok && limit > 0 && int(limit) < len(list) {
			list = list[:int(limit)]
		}

		if len(list) == 0 {
			return mcp.NewToolResultText("No unread notifications."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Unread notifications (%d)\n\n", len(list))
		for _, n := range list {
			fmt.Fprintf(&sb, "- [%s] %s\n", n.EventType, n.Message)
			fmt.Fprintf(&sb, "  Task: %s (%s) | Workspace: %s\n", n.TaskName, n.TaskID, n.WorkspaceName)
			if n.CreatorName != "" {
				fmt.Fprintf(&sb, "  By: %s", n.CreatorName)
			} else {
				sb.WriteString("  By: unknown")
			}
			fmt.Fprintf(&sb, " | At: %s | ID: %s\n", n.CreatedAt.Format("2006-01-02 15:04"), n.ID)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// MarkNotificationRead returns a handler flagging one of the caller's
// notifications as read.
func MarkNotificationRead(st NotificationStore) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, ok := auth.UserIDFromContext(ctx)
		if !ok {
			return mcp.NewToolResultError("not authenticated"), nil
		}

		id, _ := req.GetArguments()["notification_id"].(string)
		if id == "" {
			return mcp.NewToolResultError("notification_id is required"), nil
		}

		if err := st.MarkRead(ctx, id, userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return mcp.NewToolResultError(fmt.Sprintf("Notification not found: %s", id)), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("Marking notification failed: %s", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Notification %s marked as read.", id)), nil
	}
}
