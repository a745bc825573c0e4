// Package testenv holds helpers shared by notesync tests: a deterministic
// log recorder and the SurrealDB endpoint used by integration tests.
package testenv

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// LogRecorder is a slog.Handler that keeps every record as a line of the
// form "LEVEL: message k=v, k=v" without timestamps, so tests can assert on
// what was logged.
type LogRecorder struct {
	state  *recorderState
	attrs  []slog.Attr
	groups []string
}

type recorderState struct {
	mu          sync.Mutex
	lines       []string
	ignoreDebug bool
}

// LogRecorderOption configures a LogRecorder.
type LogRecorderOption func(*recorderState)

// WithIgnoreDebug drops DEBUG records.
func WithIgnoreDebug() LogRecorderOption {
	return func(s *recorderState) {
		s.ignoreDebug = true
	}
}

func NewLogRecorder(opts ...LogRecorderOption) *LogRecorder {
	state := &recorderState{}
	for _, opt := range opts {
		opt(state)
	}
	return &LogRecorder{state: state}
}

// Logger returns a logger writing into the recorder. *slog.Logger already
// satisfies logger.Logger.
func (h *LogRecorder) Logger() *slog.Logger {
	return slog.New(h)
}

// Lines returns a copy of every recorded line.
func (h *LogRecorder) Lines() []string {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	return append([]string(nil), h.state.lines...)
}

// Contains reports whether any recorded line contains substr.
func (h *LogRecorder) Contains(substr string) bool {
	for _, line := range h.Lines() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

//nolint:gocritic
func (h *LogRecorder) Handle(_ context.Context, r slog.Record) error {
	if r.Level == slog.LevelDebug && h.state.ignoreDebug {
		return nil
	}

	line := fmt.Sprintf("%s: %s", r.Level, r.Message)
	if attrs := h.attrsToString(&r); attrs != "" {
		line += " " + attrs
	}

	h.state.mu.Lock()
	h.state.lines = append(h.state.lines, line)
	h.state.mu.Unlock()
	return nil
}

func (h *LogRecorder) attrsToString(r *slog.Record) string {
	parts := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, attr := range h.attrs {
		parts = append(parts, formatAttr(attr, ""))
	}

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, formatAttr(a, prefix))
		return true
	})
	return strings.Join(parts, ", ")
}

func formatAttr(a slog.Attr, prefix string) string {
	if a.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix + a.Key + "."
		parts := make([]string, 0, len(a.Value.Group()))
		for _, ga := range a.Value.Group() {
			parts = append(parts, formatAttr(ga, groupPrefix))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprintf("%s%s=%v", prefix, a.Key, a.Value)
}

func (h *LogRecorder) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *LogRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	newAttrs := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		if prefix != "" && attr.Value.Kind() != slog.KindGroup {
			attr = slog.Any(prefix+attr.Key, attr.Value)
		}
		newAttrs = append(newAttrs, attr)
	}
	return &LogRecorder{
		state:  h.state,
		attrs:  append(h.attrs[:len(h.attrs):len(h.attrs)], newAttrs...),
		groups: h.groups,
	}
}

func (h *LogRecorder) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &LogRecorder{
		state:  h.state,
		attrs:  h.attrs,
		groups: append(h.groups[:len(h.groups):len(h.groups)], name),
	}
}
