package task

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Field-change policies understood by the Detector.
const (
	PolicyCollapse = "collapse"
	PolicyPerField = "per_field"
)

// Detector turns an update into the ordered list of events it causes.
// It is a pure function of its inputs and safe for concurrent use.
type Detector struct {
	// Policy is PolicyCollapse or PolicyPerField. Anything else collapses.
	Policy string

	// CompletedStatus is the status name that turns a status change into
	// TASK_COMPLETED. Empty disables the distinction.
	CompletedStatus string
}

// NewDetector returns a Detector with the given field-change policy and
// completion status name.
func NewDetector(policy, completedStatus string) *Detector {
	return &Detector{Policy: policy, CompletedStatus: completedStatus}
}

// Diff compares upd against old on behalf of actorID. Fields are checked
// in a fixed order (title, description, due date, status) followed by the
// assignment set; unassignments come before assignments. Field events are
// addressed to the assignees after the update, assignment events to the
// single affected user. The actor is never a recipient.
func (d *Detector) Diff(old Snapshot, upd Update, actorID string) []Change {
	var fields []Change

	if upd.Title != nil && *upd.Title != old.Title {
		fields = append(fields, Change{
			Kind:    KindTitleChanged,
			Message: fmt.Sprintf("title changed from %q to %q", old.Title, *upd.Title),
		})
	}

	if upd.Description != nil && *upd.Description != old.Description {
		fields = append(fields, Change{
			Kind:    KindDescriptionChanged,
			Message: "description updated",
		})
	}

	if upd.DueDate != nil && !sameDate(old.DueDate, upd.DueDate) {
		msg := "due date set to " + upd.DueDate.Format(dateLayout)
		if old.DueDate != nil {
			msg = fmt.Sprintf("due date changed from %s to %s",
				old.DueDate.Format(dateLayout), upd.DueDate.Format(dateLayout))
		}
		fields = append(fields, Change{Kind: KindDueDateChanged, Message: msg})
	}

	if upd.Status != nil && upd.Status.ID != old.Status.ID {
		msg := fmt.Sprintf("status set to %q", upd.Status.Name)
		if old.Status.ID != "" {
			msg = fmt.Sprintf("status changed from %q to %q", old.Status.Name, upd.Status.Name)
		}
		kind := KindStatusChanged
		if d.CompletedStatus != "" && upd.Status.Name == d.CompletedStatus {
			kind = KindCompleted
		}
		fields = append(fields, Change{Kind: kind, Message: msg})
	}

	after := old.Assignees
	if upd.Assignees != nil {
		after = *upd.Assignees
	}
	fieldRecipients := without(dedupe(after), actorID)

	var changes []Change
	if len(fields) > 1 && d.Policy != PolicyPerField {
		msgs := make([]string, len(fields))
		for i, c := range fields {
			msgs[i] = c.Message
		}
		changes = append(changes, Change{
			Kind:       KindUpdated,
			Message:    strings.Join(msgs, "; "),
			Recipients: fieldRecipients,
		})
	} else {
		for _, c := range fields {
			c.Recipients = slices.Clone(fieldRecipients)
			changes = append(changes, c)
		}
	}

	if upd.Assignees != nil {
		changes = append(changes, assignmentChanges(old.Apply(upd).Title, old.Assignees, *upd.Assignees, actorID)...)
	}

	return changes
}

func assignmentChanges(title string, prev, next []string, actorID string) []Change {
	before := dedupe(prev)
	after := dedupe(next)

	var out []Change
	for _, id := range before {
		if !slices.Contains(after, id) {
			out = append(out, Change{
				Kind:       KindUnassigned,
				Message:    fmt.Sprintf("you were unassigned from task '%s'", title),
				Recipients: without([]string{id}, actorID),
			})
		}
	}
	for _, id := range after {
		if !slices.Contains(before, id) {
			out = append(out, Change{
				Kind:       KindAssigned,
				Message:    fmt.Sprintf("you were assigned to task '%s'", title),
				Recipients: without([]string{id}, actorID),
			})
		}
	}
	return out
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Format(dateLayout) == b.Format(dateLayout)
}

// dedupe returns ids without repeats, keeping first occurrences in order.
func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
