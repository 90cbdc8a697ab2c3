package observability

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLogBufferAppendAndEntries(t *testing.T) {
	buf := NewLogBuffer(3)

	for _, msg := range []string{"one", "two"} {
		buf.Append(LogEntry{Message: msg})
	}

	entries := buf.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Message != "one" || entries[1].Message != "two" {
		t.Errorf("unexpected order: %+v", entries)
	}
}

func TestLogBufferEvictsOldest(t *testing.T) {
	buf := NewLogBuffer(3)

	for _, msg := range []string{"one", "two", "three", "four", "five"} {
		buf.Append(LogEntry{Message: msg})
	}

	entries := buf.Entries()
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	want := []string{"three", "four", "five"}
	for i, e := range entries {
		if e.Message != want[i] {
			t.Errorf("entries[%d] = %q, want %q", i, e.Message, want[i])
		}
	}
}

func TestBufferHandlerCapturesRecords(t *testing.T) {
	buf := NewLogBuffer(10)
	logger := slog.New(NewBufferHandler(slog.NewTextHandler(io.Discard, nil), buf))

	logger.Info("request completed", "model", "gemini-2.5-flash")
	logger.With("request_id", "req-1").Warn("slow request")

	entries := buf.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}

	if entries[0].Message != "request completed" || entries[0].Level != "INFO" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[0].Attrs["model"] != "gemini-2.5-flash" {
		t.Errorf("missing model attr: %+v", entries[0].Attrs)
	}
	if entries[1].Attrs["request_id"] != "req-1" {
		t.Errorf("WithAttrs attr not captured: %+v", entries[1].Attrs)
	}
}

func TestLogBufferHandlerServesJSON(t *testing.T) {
	buf := NewLogBuffer(10)
	buf.Append(LogEntry{Message: "hello", Level: "INFO"})

	rec := httptest.NewRecorder()
	buf.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/logs", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var entries []LogEntry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "hello" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}
