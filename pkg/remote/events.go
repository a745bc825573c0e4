package remote

import (
	"errors"
	"fmt"

	"github.com/codenotes/notesync/pkg/models"
)

// ErrorEvent reports a remote write that failed for good, such as a
// permission denial. Local state is not rolled back; the event is the only
// signal the caller gets.
type ErrorEvent struct {
	Op   string
	Path string
	Err  error

	// MutationID is set when the write came from the replay queue.
	MutationID uint64
}

func (e ErrorEvent) String() string {
	if e.MutationID != 0 {
		return fmt.Sprintf("%s %s (queued #%d): %v", e.Op, e.Path, e.MutationID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// ErrorHandler receives error events. It must not block.
type ErrorHandler func(ErrorEvent)

// EventFromError builds an event from err, taking Op and Path from an
// OpError when there is one.
func EventFromError(op, path string, err error) ErrorEvent {
	ev := ErrorEvent{Op: op, Path: path, Err: err}
	var opErr *OpError
	if errors.As(err, &opErr) {
		ev.Op = opErr.Op
		if opErr.Path != "" {
			ev.Path = opErr.Path
		}
	}
	return ev
}

// MutationPath returns the document path a mutation writes, or the root of
// its cascade for a delete.
func MutationPath(owner models.UserID, m models.Mutation) string {
	switch m.Action {
	case models.ActionAdd:
		if m.Document != nil {
			if path, err := m.Document.Path(owner); err == nil {
				return path.String()
			}
		}
	case models.ActionUpdate:
		if m.Update != nil {
			return m.Update.Path.String()
		}
	case models.ActionDelete:
		if len(m.Delete) > 0 {
			return m.Delete[0].String()
		}
	}
	return ""
}
