package models

import (
	"fmt"
	"time"
)

// Action is the kind of write a queued mutation replays.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Update is the payload of an update mutation.
type Update struct {
	Path   DocumentPath `json:"path"`
	Fields Fields       `json:"fields"`
}

// Mutation is a durable record of a local write that still has to reach the
// remote store. Mutations are replayed strictly in ID order.
//
// Exactly one payload field is set, matching Action: Document for add,
// Update for update, Delete for delete. A delete carries every path of a
// cascade so the whole batch replays as one unit.
type Mutation struct {
	ID        uint64         `json:"id"`
	Target    Kind           `json:"target"`
	Action    Action         `json:"action"`
	Document  *Document      `json:"document,omitempty"`
	Update    *Update        `json:"update,omitempty"`
	Delete    []DocumentPath `json:"delete,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	// Attempts counts failed replays; LastError holds the most recent reason.
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

// AddMutation records the creation of a document.
func AddMutation(doc Document, now time.Time) Mutation {
	return Mutation{Target: doc.Kind, Action: ActionAdd, Document: &doc, Timestamp: now}
}

// UpdateMutation records a partial update of a document.
func UpdateMutation(path DocumentPath, fields Fields, now time.Time) Mutation {
	return Mutation{
		Target:    path.Collection.Kind,
		Action:    ActionUpdate,
		Update:    &Update{Path: path, Fields: fields},
		Timestamp: now,
	}
}

// DeleteMutation records an all-or-nothing delete of paths. The first path
// names the root of the cascade and decides the target kind.
func DeleteMutation(paths []DocumentPath, now time.Time) Mutation {
	target := KindNote
	if len(paths) > 0 {
		target = paths[0].Collection.Kind
	}
	return Mutation{Target: target, Action: ActionDelete, Delete: paths, Timestamp: now}
}

// Validate checks that the payload matches the action.
func (m *Mutation) Validate() error {
	switch m.Action {
	case ActionAdd:
		if m.Document == nil {
			return fmt.Errorf("add mutation %d has no document", m.ID)
		}
	case ActionUpdate:
		if m.Update == nil {
			return fmt.Errorf("update mutation %d has no update", m.ID)
		}
	case ActionDelete:
		if len(m.Delete) == 0 {
			return fmt.Errorf("delete mutation %d has no paths", m.ID)
		}
	default:
		return fmt.Errorf("mutation %d has unknown action %q", m.ID, m.Action)
	}
	return nil
}

// MarkError records a failed replay attempt.
func (m *Mutation) MarkError(errorMsg string) {
	m.LastError = errorMsg
	m.Attempts++
}

func (m Mutation) String() string {
	return fmt.Sprintf("%s %s #%d", m.Action, m.Target, m.ID)
}
