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
	"github.com/btouchard/tandem/internal/task"
)

// TaskService is the part of task.Service the task tools use.
type TaskService interface {
	Get(ctx context.Context, actorID, taskID string) (*store.Task, error)
	Update(ctx context.Context, actorID, taskID string, p task.Patch) (*store.Task, error)
}

// GetTask returns a handler describing one task.
func GetTask(svc TaskService) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, ok := auth.UserIDFromContext(ctx)
		if !ok {
			return mcp.NewToolResultError("not authenticated"), nil
		}

		taskID, _ := req.GetArguments()["task_id"].(string)
		if taskID == "" {
			return mcp.NewToolResultError("task_id is required"), nil
		}

		t, err := svc.Get(ctx, userID, taskID)
		if err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText(formatTask(t)), nil
	}
}

// UpdateTask returns a handler applying a partial update to a task. Only
// the arguments present are changed; assignees replaces the whole set.
func UpdateTask(svc TaskService) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, ok := auth.UserIDFromContext(ctx)
		if !ok {
			return mcp.NewToolResultError("not authenticated"), nil
		}

		args := req.GetArguments()
		taskID, _ := args["task_id"].(string)
		if taskID == "" {
			return mcp.NewToolResultError("task_id is required"), nil
		}

		var p task.Patch
		if v, ok := args["title"].(string); ok {
			p.Title = &v
		}
		if v, ok := args["description"].(string); ok {
			p.Description = &v
		}
		if v, ok := args["due_date"].(string); ok {
			p.DueDate = &v
		}
		if v, ok := args["status_id"].(string); ok {
			p.StatusID = &v
		}
		if raw, ok := args["assignees"].([]any); ok {
			ids := make([]string, 0, len(raw))
			for _, item := range raw {
				s, ok := item.(string)
				if !ok {
					return mcp.NewToolResultError("assignees must be a list of user ids"), nil
				}
				ids = append(ids, s)
			}
			p.Assignees = &ids
		}

		t, err := svc.Update(ctx, userID, taskID, p)
		if err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText("Task updated.\n\n" + formatTask(t)), nil
	}
}

func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("Task not found: %s", err))
	case errors.Is(err, task.ErrForbidden):
		return mcp.NewToolResultError(fmt.Sprintf("Access denied: %s", err))
	case errors.Is(err, task.ErrValidation):
		return mcp.NewToolResultError(fmt.Sprintf("Invalid request: %s", err))
	default:
		return mcp.NewToolResultError(fmt.Sprintf("Request failed: %s", err))
	}
}

func formatTask(t *store.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", t.Title)
	fmt.Fprintf(&b, "ID: %s\n", t.ID)
	fmt.Fprintf(&b, "Workspace: %s\n", t.WorkspaceID)
	if t.StatusID != "" {
		fmt.Fprintf(&b, "Status ID: %s\n", t.StatusID)
	}
	if t.DueDate != nil {
		fmt.Fprintf(&b, "Due: %s\n", t.DueDate.Format("2006-01-02"))
	}
	if len(t.Assignees) > 0 {
		fmt.Fprintf(&b, "Assignees: %s\n", strings.Join(t.Assignees, ", "))
	}
	if t.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", t.Description)
	}
	return b.String()
}
