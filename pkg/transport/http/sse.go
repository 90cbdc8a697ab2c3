package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/mkallner/gemlink/pkg/api"
	"github.com/mkallner/gemlink/pkg/transport"
)

// writerState tracks the state of an SSE ChunkWriter.
type writerState int

const (
	writerIdle      writerState = iota // Initial state, no writes yet
	writerStreaming                    // WriteChunk has been called at least once
	writerCompleted                    // [DONE] sent or WriteResponse called
)

// sseChunkWriter implements transport.ChunkWriter for HTTP/SSE responses.
// It handles both streaming (SSE) and non-streaming (JSON) output.
type sseChunkWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu    sync.Mutex
	state writerState
}

var _ transport.ChunkWriter = (*sseChunkWriter)(nil)

// newSSEChunkWriter creates a new ChunkWriter wrapping an http.ResponseWriter.
func newSSEChunkWriter(w http.ResponseWriter) *sseChunkWriter {
	return &sseChunkWriter{
		w:  w,
		rc: http.NewResponseController(w),
	}
}

// WriteChunk sends a single completion chunk. The chunk is formatted as:
//
//	data: {json}\n
//	\n
func (s *sseChunkWriter) WriteChunk(ctx context.Context, chunk *api.ChatCompletionChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return errors.New("cannot write chunk: writer is completed")
	}

	// First chunk: set SSE headers.
	if s.state == writerIdle {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.state = writerStreaming
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}

	// Flush immediately.
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return nil
}

// WriteDone sends the stream terminator:
//
//	data: [DONE]\n
//	\n
//
// and marks the writer completed. Calling WriteDone before any chunk has
// been written is an error.
func (s *sseChunkWriter) WriteDone(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return errors.New("cannot write [DONE]: writer is completed")
	}
	if s.state == writerIdle {
		return errors.New("cannot write [DONE]: no chunks written")
	}

	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("failed to write [DONE]: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush [DONE]: %w", err)
	}
	s.state = writerCompleted

	return nil
}

// WriteResponse sends a complete non-streaming JSON completion.
// This is mutually exclusive with WriteChunk.
func (s *sseChunkWriter) WriteResponse(ctx context.Context, resp *api.ChatCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerStreaming {
		return errors.New("cannot write response: streaming has already started")
	}
	if s.state == writerCompleted {
		return errors.New("cannot write response: writer is completed")
	}

	s.w.Header().Set("Content-Type", "application/json")
	s.state = writerCompleted

	if err := json.NewEncoder(s.w).Encode(resp); err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	return nil
}

// Flush ensures buffered data is sent to the client.
func (s *sseChunkWriter) Flush() error {
	return s.rc.Flush()
}

// hasStartedStreaming returns true if at least one chunk has been written.
func (s *sseChunkWriter) hasStartedStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == writerStreaming || (s.state == writerCompleted && s.w.Header().Get("Content-Type") == "text/event-stream")
}
