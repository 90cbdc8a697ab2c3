package translate

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mkallner/gemlink/pkg/api"
	"github.com/mkallner/gemlink/pkg/upstream"
)

// Transcoder converts upstream event frames into caller-facing completion
// chunks for one stream. The output sequence always starts with a single
// role-open chunk, preserves the relative order of upstream deltas, and
// ends with exactly one finish chunk. Closing the output channel is the
// done marker; the transport layer renders it as the [DONE] event.
type Transcoder struct {
	id      string
	model   string
	created int64
	mode    ThinkingMode
	logger  *slog.Logger
}

// NewTranscoder creates a Transcoder for one completion stream. The
// thinking mode is bound here and holds for the whole stream.
func NewTranscoder(id, model string, created int64, mode ThinkingMode, logger *slog.Logger) *Transcoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcoder{
		id:      id,
		model:   model,
		created: created,
		mode:    mode,
		logger:  logger,
	}
}

// Run consumes frames and produces chunks until a finish chunk has been
// emitted, then closes the output channel. Frames arriving after the
// finish are discarded. A frames channel that closes without a terminal
// frame still yields a finish chunk, with reason error.
func (t *Transcoder) Run(ctx context.Context, frames <-chan upstream.EventFrame) <-chan api.ChatCompletionChunk {
	out := make(chan api.ChatCompletionChunk, 16)
	go func() {
		defer close(out)
		t.run(ctx, frames, out)
	}()
	return out
}

func (t *Transcoder) run(ctx context.Context, frames <-chan upstream.EventFrame, out chan<- api.ChatCompletionChunk) {
	emit := func(chunk api.ChatCompletionChunk) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// Role-open chunk starts the stream.
	if !emit(t.chunk(api.ChunkDelta{Role: api.RoleAssistant}, nil, nil)) {
		return
	}

	// Synthetic reasoning preamble: only when real thinking is off, and
	// always ahead of any content.
	if t.mode.Fake && !t.mode.Real {
		if !emit(t.preambleChunk()) {
			return
		}
	}

	// thoughtOpen tracks an unclosed thinking delimiter in merged mode.
	thoughtOpen := false
	finished := false

	closeThought := func() bool {
		if !thoughtOpen {
			return true
		}
		thoughtOpen = false
		return emit(t.contentChunk(thinkingClose))
	}

	for frame := range frames {
		if finished {
			continue // terminal: discard trailing frames
		}
		if ctx.Err() != nil {
			return
		}

		switch frame.Type {
		case upstream.FrameContent:
			if !closeThought() {
				return
			}
			if !emit(t.contentChunk(frame.Text)) {
				return
			}

		case upstream.FrameThought:
			switch {
			case t.mode.Real && t.mode.StreamAsContent:
				text := frame.Text
				if !thoughtOpen {
					thoughtOpen = true
					text = thinkingOpen + text
				}
				if !emit(t.contentChunk(text)) {
					return
				}
			case t.mode.Real:
				if !emit(t.chunk(api.ChunkDelta{ReasoningContent: frame.Text}, nil, nil)) {
					return
				}
			default:
				// Thinking not requested; drop upstream thoughts.
			}

		case upstream.FrameFunctionCall:
			t.logger.Warn("discarding function call delta, tool calls are not surfaced",
				"function", frame.FunctionCall.Name)

		case upstream.FrameFinish:
			if !closeThought() {
				return
			}
			reason := mapFinishReason(frame.FinishReason, t.logger)
			if !emit(t.finishChunk(reason, frame.Usage)) {
				return
			}
			finished = true

		case upstream.FrameError:
			if !closeThought() {
				return
			}
			t.logger.Warn("upstream stream error, finishing with error reason", "error", frame.Err)
			if !emit(t.finishChunk(api.FinishReasonError, nil)) {
				return
			}
			finished = true
		}
	}

	// Producer closed without a terminal frame.
	if !finished {
		if !closeThought() {
			return
		}
		emit(t.finishChunk(api.FinishReasonError, nil))
	}
}

// chunk builds a chunk with this stream's envelope fields.
func (t *Transcoder) chunk(delta api.ChunkDelta, finishReason *string, usage *api.Usage) api.ChatCompletionChunk {
	return api.ChatCompletionChunk{
		ID:      t.id,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Model:   t.model,
		Choices: []api.ChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
		Usage: usage,
	}
}

func (t *Transcoder) contentChunk(text string) api.ChatCompletionChunk {
	return t.chunk(api.ChunkDelta{Content: &text}, nil, nil)
}

// preambleChunk carries the synthetic fake-thinking preamble, shaped the
// same way real reasoning would be under the current mode.
func (t *Transcoder) preambleChunk() api.ChatCompletionChunk {
	if t.mode.StreamAsContent {
		return t.contentChunk(thinkingOpen + fakePreamble + thinkingClose)
	}
	return t.chunk(api.ChunkDelta{ReasoningContent: fakePreamble}, nil, nil)
}

func (t *Transcoder) finishChunk(reason string, usage *upstream.UsageMetadata) api.ChatCompletionChunk {
	var u *api.Usage
	if usage != nil {
		u = &api.Usage{
			PromptTokens:     usage.PromptTokenCount,
			CompletionTokens: usage.CandidatesTokenCount,
			TotalTokens:      usage.TotalTokenCount,
		}
		if u.TotalTokens == 0 {
			u.TotalTokens = u.PromptTokens + u.CompletionTokens
		}
	}
	return t.chunk(api.ChunkDelta{}, &reason, u)
}

// mapFinishReason translates upstream finish reasons onto the caller's
// vocabulary.
func mapFinishReason(reason string, logger *slog.Logger) string {
	switch reason {
	case "STOP", "FINISH_REASON_STOP":
		return api.FinishReasonStop
	case "MAX_TOKENS":
		return api.FinishReasonLength
	case "SAFETY", "RECITATION", "PROHIBITED_CONTENT", "BLOCKLIST", "SPII", "IMAGE_SAFETY":
		return api.FinishReasonContentFilter
	default:
		logger.Warn("unknown upstream finish reason", "finish_reason", reason)
		return api.FinishReasonError
	}
}

// Aggregate collects a chunk stream into one buffered completion. Used
// for stream=false requests so both paths share the transcoder.
func Aggregate(id, model string, created int64, chunks <-chan api.ChatCompletionChunk) *api.ChatCompletion {
	var contentB, reasoningB strings.Builder
	finishReason := api.FinishReasonError
	var usage *api.Usage

	for chunk := range chunks {
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != nil {
			contentB.WriteString(*choice.Delta.Content)
		}
		if choice.Delta.ReasoningContent != "" {
			reasoningB.WriteString(choice.Delta.ReasoningContent)
		}
		if choice.FinishReason != nil {
			finishReason = *choice.FinishReason
		}
	}

	return &api.ChatCompletion{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []api.CompletionChoice{{
			Index: 0,
			Message: api.CompletionMessage{
				Role:             api.RoleAssistant,
				Content:          contentB.String(),
				ReasoningContent: reasoningB.String(),
			},
			FinishReason: finishReason,
		}},
		Usage: usage,
	}
}
