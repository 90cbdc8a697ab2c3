package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
)

// FrameType identifies one decoded unit of the upstream event stream.
type FrameType int

const (
	FrameContent FrameType = iota
	FrameThought
	FrameFunctionCall
	FrameFinish
	FrameError
)

// FunctionCall is a function-call delta emitted by the model.
type FunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// UsageMetadata carries upstream token accounting.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// EventFrame is one decoded unit from the generation stream.
// Exactly one of the payload fields is meaningful, selected by Type:
// Text for FrameContent and FrameThought, FunctionCall for
// FrameFunctionCall, FinishReason and Usage for FrameFinish, Err for
// FrameError.
type EventFrame struct {
	Type         FrameType
	Text         string
	FunctionCall *FunctionCall
	FinishReason string
	Usage        *UsageMetadata
	Err          error
}

// ErrAbruptEnd indicates the upstream stream ended without a finish frame.
var ErrAbruptEnd = errors.New("upstream stream ended without a finish frame")

// framePart is one part inside a streamed candidate.
type framePart struct {
	Text         string        `json:"text,omitempty"`
	Thought      bool          `json:"thought,omitempty"`
	FunctionCall *FunctionCall `json:"functionCall,omitempty"`
}

// generationChunk is one decoded streamGenerateContent SSE payload.
type generationChunk struct {
	Candidates []struct {
		Content struct {
			Parts []framePart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// responseEnvelope handles the Code Assist wrapping: payloads arrive as
// {"response": {...}} but bare chunks have been observed too.
type responseEnvelope struct {
	Response *generationChunk `json:"response"`
}

// parseSSEStream reads streamGenerateContent SSE payloads from body,
// decodes them into EventFrames, and sends them on ch. The channel is NOT
// closed by this function; the caller is responsible for closing it.
//
// Malformed frames are logged and skipped. End of body without a finish
// frame produces a FrameError carrying ErrAbruptEnd. Context cancellation
// stops reading without emitting an error frame.
func parseSSEStream(ctx context.Context, body io.Reader, ch chan<- EventFrame, logger *slog.Logger) {
	scanner := bufio.NewScanner(body)
	// Thought dumps and inline data can produce very long SSE lines.
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	sawFinish := false
	var usage *UsageMetadata

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Text()

		// SSE lines that don't start with "data: " are ignored
		// (empty lines, comments starting with ":").
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		if payload == "[DONE]" {
			break
		}

		chunk, ok := decodeChunk(payload, logger)
		if !ok {
			continue
		}

		if chunk.UsageMetadata != nil {
			usage = chunk.UsageMetadata
		}

		if len(chunk.Candidates) == 0 {
			continue
		}
		candidate := chunk.Candidates[0]

		for _, part := range candidate.Content.Parts {
			var frame EventFrame
			switch {
			case part.FunctionCall != nil:
				frame = EventFrame{Type: FrameFunctionCall, FunctionCall: part.FunctionCall}
			case part.Thought:
				frame = EventFrame{Type: FrameThought, Text: part.Text}
			case part.Text != "":
				frame = EventFrame{Type: FrameContent, Text: part.Text}
			default:
				continue
			}
			if !send(ctx, ch, frame) {
				return
			}
		}

		if candidate.FinishReason != "" {
			sawFinish = true
			if !send(ctx, ch, EventFrame{Type: FrameFinish, FinishReason: candidate.FinishReason, Usage: usage}) {
				return
			}
			// Later frames for this candidate carry nothing we surface.
			break
		}
	}

	if ctx.Err() != nil {
		return
	}

	if err := scanner.Err(); err != nil {
		logger.Warn("generation stream read error", "error", err)
		send(ctx, ch, EventFrame{Type: FrameError, Err: err})
		return
	}

	if !sawFinish {
		logger.Warn("generation stream ended without finish frame")
		send(ctx, ch, EventFrame{Type: FrameError, Err: ErrAbruptEnd})
	}
}

// send delivers frame on ch, giving up when ctx is canceled so a consumer
// that stopped receiving never strands this producer on a full channel.
func send(ctx context.Context, ch chan<- EventFrame, frame EventFrame) bool {
	select {
	case ch <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

// decodeChunk parses one SSE payload, unwrapping the response envelope
// when present. Returns false for frames that fail to parse.
func decodeChunk(payload string, logger *slog.Logger) (*generationChunk, bool) {
	var envelope responseEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err == nil && envelope.Response != nil {
		return envelope.Response, true
	}

	var bare generationChunk
	if err := json.Unmarshal([]byte(payload), &bare); err != nil {
		logger.Warn("skipping malformed stream frame",
			"error", err.Error(),
			"data", truncate(payload, 200),
		)
		return nil, false
	}
	return &bare, true
}

// truncate limits a string to maxLen characters for log output.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
