package tree

import "errors"

var (
	// ErrNotFound is returned when an ID names no loaded topic or note.
	ErrNotFound = errors.New("tree: not found")

	// ErrCycle rejects a move that would put a note under its own descendant.
	ErrCycle = errors.New("tree: move would create a cycle")

	// ErrCrossTopic rejects parenting a note under a note of another topic.
	ErrCrossTopic = errors.New("tree: parent belongs to another topic")

	// ErrNotSibling rejects a reorder relative to a note with another parent.
	ErrNotSibling = errors.New("tree: not a sibling")

	// ErrNoActiveTopic is returned by note operations while no topic is active.
	ErrNoActiveTopic = errors.New("tree: no active topic")

	// ErrEmptyName rejects blank topic names.
	ErrEmptyName = errors.New("tree: name is empty")

	// ErrInvalidType rejects unknown note types.
	ErrInvalidType = errors.New("tree: invalid note type")

	// ErrNoDrag is returned by DropTarget.Drop without a drag in progress.
	ErrNoDrag = errors.New("tree: no drag in progress")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("tree: closed")
)
