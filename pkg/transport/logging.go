package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/mkallner/gemlink/pkg/api"
)

// Logging returns middleware that emits structured log entries for each
// chat completion. The log entry includes model, stream flag, duration,
// request ID (from context), and whether the request succeeded or failed.
//
// Error messages surface here verbatim, so handlers must never fold token
// material or credential JSON into the errors they return.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next ChatHandler) ChatHandler {
		return ChatHandlerFunc(func(ctx context.Context, req *api.ChatCompletionRequest, w ChunkWriter) error {
			start := time.Now()
			requestID := RequestIDFromContext(ctx)

			err := next.ChatCompletion(ctx, req, w)

			attrs := []slog.Attr{
				slog.String("request_id", requestID),
				slog.String("model", req.Model),
				slog.Bool("stream", req.Stream),
				slog.Duration("duration", time.Since(start)),
			}

			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "request failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "request completed", attrs...)
			}

			return err
		})
	}
}
