package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/btouchard/tandem/internal/notify"
	"github.com/btouchard/tandem/internal/store"
)

// TxRunner runs a function inside one database transaction.
// Defined consumer-side; store.SQLStore implements it.
type TxRunner interface {
	InTx(ctx context.Context, fn func(q *store.Queries) error) error
}

// Publisher delivers committed events to live channels.
type Publisher interface {
	Notify(ctx context.Context, ev notify.Event) notify.Report
}

// Service applies task mutations and records the notifications they cause.
// Every mutation and its notifications commit together; live pushes
// happen only after the commit.
type Service struct {
	db        TxRunner
	detector  *Detector
	publisher Publisher
}

// NewService creates a Service. publisher may be nil to disable live pushes.
func NewService(db TxRunner, detector *Detector, publisher Publisher) *Service {
	if detector == nil {
		detector = NewDetector(PolicyCollapse, "")
	}
	return &Service{db: db, detector: detector, publisher: publisher}
}

// eventContext is the display data shared by every event of one mutation.
type eventContext struct {
	taskID        string
	taskName      string
	workspaceID   string
	workspaceName string
	actorID       string
	actorName     string
}

func (ec eventContext) event(id string, kind Kind, msg string, recipients []string, at time.Time) notify.Event {
	return notify.Event{
		NotificationID: id,
		TaskID:         ec.taskID,
		TaskName:       ec.taskName,
		WorkspaceID:    ec.workspaceID,
		WorkspaceName:  ec.workspaceName,
		EventType:      string(kind),
		Message:        msg,
		CreatorID:      ec.actorID,
		CreatorName:    ec.actorName,
		Recipients:     recipients,
		CreatedAt:      at,
	}
}

// Get returns a task the actor can see.
func (s *Service) Get(ctx context.Context, actorID, taskID string) (*store.Task, error) {
	var out *store.Task
	err := s.db.InTx(ctx, func(q *store.Queries) error {
		t, err := q.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if _, err := authorize(ctx, q, t.WorkspaceID, actorID); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

// Activity returns the notification history of a task the actor can see,
// oldest first.
func (s *Service) Activity(ctx context.Context, actorID, taskID string) ([]store.Notification, error) {
	var out []store.Notification
	err := s.db.InTx(ctx, func(q *store.Queries) error {
		t, err := q.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if _, err := authorize(ctx, q, t.WorkspaceID, actorID); err != nil {
			return err
		}
		out, err = q.TaskNotifications(ctx, taskID)
		return err
	})
	return out, err
}

// List returns the tasks of a workspace the actor belongs to.
func (s *Service) List(ctx context.Context, actorID, workspaceID string) ([]store.Task, error) {
	var out []store.Task
	err := s.db.InTx(ctx, func(q *store.Queries) error {
		if _, err := authorize(ctx, q, workspaceID, actorID); err != nil {
			return err
		}
		tasks, err := q.ListWorkspaceTasks(ctx, workspaceID)
		out = tasks
		return err
	})
	return out, err
}

// Create inserts a task and notifies its assignees, except the actor.
// An empty status defaults to the first status of the workspace.
func (s *Service) Create(ctx context.Context, actorID string, in NewTask) (*store.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}

	var (
		out    *store.Task
		events []notify.Event
	)
	err := s.db.InTx(ctx, func(q *store.Queries) error {
		ws, err := authorize(ctx, q, in.WorkspaceID, actorID)
		if err != nil {
			return err
		}

		t := &store.Task{
			Title:       title,
			Description: in.Description,
			WorkspaceID: ws.ID,
		}

		if in.DueDate != "" {
			d, err := parseDate(in.DueDate)
			if err != nil {
				return err
			}
			t.DueDate = &d
		}

		if in.StatusID != "" {
			st, err := resolveStatus(ctx, q, ws.ID, in.StatusID)
			if err != nil {
				return err
			}
			t.StatusID = st.ID
		} else {
			statuses, err := q.ListStatuses(ctx, ws.ID)
			if err != nil {
				return err
			}
			if len(statuses) > 0 {
				t.StatusID = statuses[0].ID
			}
		}

		assignees, err := resolveAssignees(ctx, q, ws.ID, in.Assignees, nil)
		if err != nil {
			return err
		}
		t.Assignees = assignees

		if err := q.CreateTask(ctx, t); err != nil {
			return err
		}

		ec := eventContext{
			taskID:        t.ID,
			taskName:      t.Title,
			workspaceID:   ws.ID,
			workspaceName: ws.Name,
			actorID:       actorID,
			actorName:     userName(ctx, q, actorID),
		}
		msg := fmt.Sprintf("Task '%s' created.", t.Title)
		recipients := without(assignees, actorID)
		n := &store.Notification{TaskID: t.ID, CreatorID: actorID, EventType: string(KindCreated), Message: msg}
		id, err := q.Record(ctx, n, recipients)
		if err != nil {
			return err
		}
		events = append(events, ec.event(id, KindCreated, msg, recipients, n.CreatedAt))

		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("task created", "task_id", out.ID, "workspace_id", out.WorkspaceID, "actor", actorID)
	s.publish(ctx, events)
	return out, nil
}

// Update applies p to the task, records one notification per detected
// change and pushes them live once committed.
func (s *Service) Update(ctx context.Context, actorID, taskID string, p Patch) (*store.Task, error) {
	var (
		out    *store.Task
		events []notify.Event
	)
	err := s.db.InTx(ctx, func(q *store.Queries) error {
		t, err := q.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		ws, err := authorize(ctx, q, t.WorkspaceID, actorID)
		if err != nil {
			return err
		}

		old, err := snapshot(ctx, q, t)
		if err != nil {
			return err
		}
		upd, err := resolveUpdate(ctx, q, ws.ID, p, old.Assignees)
		if err != nil {
			return err
		}

		changes := s.detector.Diff(old, upd, actorID)
		next := old.Apply(upd)

		t.Title = next.Title
		t.Description = next.Description
		t.DueDate = next.DueDate
		t.StatusID = next.Status.ID
		if err := q.UpdateTask(ctx, t); err != nil {
			return err
		}
		if upd.Assignees != nil {
			if err := q.SetAssignees(ctx, t.ID, next.Assignees); err != nil {
				return err
			}
			t.Assignees = next.Assignees
		}

		ec := eventContext{
			taskID:        t.ID,
			taskName:      t.Title,
			workspaceID:   ws.ID,
			workspaceName: ws.Name,
			actorID:       actorID,
			actorName:     userName(ctx, q, actorID),
		}
		for _, c := range changes {
			n := &store.Notification{TaskID: t.ID, CreatorID: actorID, EventType: string(c.Kind), Message: c.Message}
			id, err := q.Record(ctx, n, c.Recipients)
			if err != nil {
				return err
			}
			events = append(events, ec.event(id, c.Kind, c.Message, c.Recipients, n.CreatedAt))
		}

		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("task updated", "task_id", taskID, "actor", actorID, "events", len(events))
	s.publish(ctx, events)
	return out, nil
}

// Delete removes the task with its notifications and delivery records.
// Former assignees and the actor get a live TASK_DELETED payload that is
// not persisted, since no notification can outlive its task.
func (s *Service) Delete(ctx context.Context, actorID, taskID string) error {
	var events []notify.Event
	err := s.db.InTx(ctx, func(q *store.Queries) error {
		t, err := q.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		ws, err := authorize(ctx, q, t.WorkspaceID, actorID)
		if err != nil {
			return err
		}
		if err := q.DeleteTask(ctx, t.ID); err != nil {
			return err
		}

		ec := eventContext{
			taskID:        t.ID,
			taskName:      t.Title,
			workspaceID:   ws.ID,
			workspaceName: ws.Name,
			actorID:       actorID,
			actorName:     userName(ctx, q, actorID),
		}
		msg := fmt.Sprintf("Task '%s' deleted.", t.Title)
		events = append(events, ec.event(uuid.NewString(), KindDeleted, msg, without(t.Assignees, actorID), time.Now()))
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("task deleted", "task_id", taskID, "actor", actorID)
	s.publish(ctx, events)
	return nil
}

func (s *Service) publish(ctx context.Context, events []notify.Event) {
	if s.publisher == nil {
		return
	}
	for _, ev := range events {
		s.publisher.Notify(ctx, ev)
	}
}

// authorize loads the workspace and checks that actorID is a member.
func authorize(ctx context.Context, q *store.Queries, workspaceID, actorID string) (*store.Workspace, error) {
	ws, err := q.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	ok, err := q.IsMember(ctx, ws.ID, actorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: user %s is not a member of workspace %s", ErrForbidden, actorID, ws.ID)
	}
	return ws, nil
}

func snapshot(ctx context.Context, q *store.Queries, t *store.Task) (Snapshot, error) {
	snap := Snapshot{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		DueDate:     t.DueDate,
		Assignees:   t.Assignees,
		WorkspaceID: t.WorkspaceID,
	}
	if t.StatusID != "" {
		st, err := q.GetStatus(ctx, t.StatusID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("loading current status: %w", err)
		}
		snap.Status = Status{ID: st.ID, Name: st.Name}
	}
	return snap, nil
}

// resolveUpdate validates p against the workspace and turns it into an Update.
// current is the assignee set before the update.
func resolveUpdate(ctx context.Context, q *store.Queries, workspaceID string, p Patch, current []string) (Update, error) {
	var upd Update

	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return Update{}, fmt.Errorf("%w: title cannot be empty", ErrValidation)
		}
		upd.Title = &title
	}

	upd.Description = p.Description

	if p.DueDate != nil {
		d, err := parseDate(*p.DueDate)
		if err != nil {
			return Update{}, err
		}
		upd.DueDate = &d
	}

	if p.StatusID != nil {
		st, err := resolveStatus(ctx, q, workspaceID, *p.StatusID)
		if err != nil {
			return Update{}, err
		}
		upd.Status = &Status{ID: st.ID, Name: st.Name}
	}

	if p.Assignees != nil {
		ids, err := resolveAssignees(ctx, q, workspaceID, *p.Assignees, current)
		if err != nil {
			return Update{}, err
		}
		upd.Assignees = &ids
	}

	return upd, nil
}

func resolveStatus(ctx context.Context, q *store.Queries, workspaceID, statusID string) (*store.TaskStatus, error) {
	st, err := q.GetStatus(ctx, statusID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown status %s", ErrValidation, statusID)
	}
	if err != nil {
		return nil, err
	}
	if st.WorkspaceID != workspaceID {
		return nil, fmt.Errorf("%w: status %s belongs to another workspace", ErrValidation, statusID)
	}
	return st, nil
}

// resolveAssignees drops repeats and checks that every id not already in
// current is a workspace member. Keeping an existing assignee needs no check.
func resolveAssignees(ctx context.Context, q *store.Queries, workspaceID string, ids, current []string) ([]string, error) {
	out := dedupe(ids)
	for _, id := range out {
		if slices.Contains(current, id) {
			continue
		}
		ok, err := q.IsMember(ctx, workspaceID, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: assignee %s is not a member of the workspace", ErrValidation, id)
		}
	}
	return out, nil
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: due date %q is not YYYY-MM-DD", ErrValidation, s)
	}
	return d, nil
}

func userName(ctx context.Context, q *store.Queries, id string) string {
	u, err := q.GetUser(ctx, id)
	if err != nil {
		slog.Debug("creator lookup failed", "user_id", id, "error", err)
		return ""
	}
	return u.FullName
}
