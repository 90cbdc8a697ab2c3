// Package transport defines the handler interfaces and middleware chain for
// the gemlink HTTP/SSE transport layer.
//
// The transport layer bridges OpenAI-compatible clients and the gateway. It
// deserializes incoming chat completion requests into the types defined in
// pkg/api, dispatches them to a ChatHandler, and serializes the result back
// to the client as either a buffered JSON completion or a stream of SSE
// chunks.
//
// The ChunkWriter interface abstracts streaming and non-streaming output,
// allowing the handler to emit completion chunks or a complete response
// without knowing the underlying transport protocol.
//
// The middleware chain wraps ChatHandler with cross-cutting concerns. Built-in
// middleware provides panic recovery, request ID assignment (X-Request-ID),
// and structured logging via log/slog.
package transport
