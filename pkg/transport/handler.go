package transport

import (
	"context"

	"github.com/mkallner/gemlink/pkg/api"
)

// ChatHandler handles the core chat completion operation. The implementation
// receives a validated request and writes the result (streaming chunks or a
// complete completion) to the ChunkWriter.
type ChatHandler interface {
	ChatCompletion(ctx context.Context, req *api.ChatCompletionRequest, w ChunkWriter) error
}

// ChatHandlerFunc is an adapter that allows using an ordinary function as a
// ChatHandler.
type ChatHandlerFunc func(ctx context.Context, req *api.ChatCompletionRequest, w ChunkWriter) error

// ChatCompletion calls f(ctx, req, w).
func (f ChatHandlerFunc) ChatCompletion(ctx context.Context, req *api.ChatCompletionRequest, w ChunkWriter) error {
	return f(ctx, req, w)
}

// ModelLister provides the model catalog for GET /v1/models.
type ModelLister interface {
	ListModels(ctx context.Context) api.ModelList
}

// ChunkWriter abstracts streaming and non-streaming output for the handler.
// The transport layer creates a ChunkWriter for each request and provides it
// to the handler.
//
// WriteChunk and WriteResponse are mutually exclusive on a single writer
// instance. Calling WriteChunk after WriteResponse (or vice versa) returns
// an error, as does any write after WriteDone.
type ChunkWriter interface {
	// WriteChunk sends a single streaming completion chunk.
	WriteChunk(ctx context.Context, chunk *api.ChatCompletionChunk) error

	// WriteDone sends the stream terminator and completes the writer.
	WriteDone(ctx context.Context) error

	// WriteResponse sends a complete non-streaming completion. Returns an
	// error if called after WriteChunk was called on this writer.
	WriteResponse(ctx context.Context, resp *api.ChatCompletion) error

	// Flush ensures buffered data is sent to the client. Returns an error
	// if the client has disconnected.
	Flush() error
}
