package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// LogEntry is a single captured log record.
type LogEntry struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// LogBuffer is a fixed-size ring buffer of recent log entries backing the
// debug log endpoint. It is safe for concurrent use.
type LogBuffer struct {
	mu      sync.Mutex
	entries []LogEntry
	next    int
	full    bool
}

// NewLogBuffer creates a ring buffer holding up to size entries.
func NewLogBuffer(size int) *LogBuffer {
	if size < 1 {
		size = 1
	}
	return &LogBuffer{entries: make([]LogEntry, size)}
}

// Append adds an entry, evicting the oldest when the buffer is full.
func (b *LogBuffer) Append(e LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.next] = e
	b.next++
	if b.next == len(b.entries) {
		b.next = 0
		b.full = true
	}
}

// Entries returns a copy of the buffered entries, oldest first.
func (b *LogBuffer) Entries() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]LogEntry, b.next)
		copy(out, b.entries[:b.next])
		return out
	}

	out := make([]LogEntry, 0, len(b.entries))
	out = append(out, b.entries[b.next:]...)
	out = append(out, b.entries[:b.next]...)
	return out
}

// Handler serves the buffered entries as a JSON array.
func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(b.Entries())
	})
}

// BufferHandler is a slog.Handler that tees records into a LogBuffer while
// delegating formatting and output to an inner handler.
type BufferHandler struct {
	inner slog.Handler
	buf   *LogBuffer
	attrs []slog.Attr
}

var _ slog.Handler = (*BufferHandler)(nil)

// NewBufferHandler wraps inner so that every record it handles is also
// captured in buf.
func NewBufferHandler(inner slog.Handler, buf *LogBuffer) *BufferHandler {
	return &BufferHandler{inner: inner, buf: buf}
}

// Enabled delegates to the inner handler.
func (h *BufferHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle captures the record into the ring buffer and forwards it.
func (h *BufferHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := LogEntry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
	}

	if len(h.attrs) > 0 || r.NumAttrs() > 0 {
		entry.Attrs = make(map[string]string, len(h.attrs)+r.NumAttrs())
		for _, a := range h.attrs {
			entry.Attrs[a.Key] = a.Value.Resolve().String()
		}
		r.Attrs(func(a slog.Attr) bool {
			entry.Attrs[a.Key] = a.Value.Resolve().String()
			return true
		})
	}

	h.buf.Append(entry)
	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a handler that includes the given attrs in captured entries.
func (h *BufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &BufferHandler{inner: h.inner.WithAttrs(attrs), buf: h.buf, attrs: merged}
}

// WithGroup delegates grouping to the inner handler. Captured entries keep
// attribute keys ungrouped.
func (h *BufferHandler) WithGroup(name string) slog.Handler {
	return &BufferHandler{inner: h.inner.WithGroup(name), buf: h.buf, attrs: h.attrs}
}
