package upstream

import (
	"context"
	"strings"
	"testing"
	"time"
)

// longStreamBody builds an SSE body with n identical content frames and no
// finish frame.
func longStreamBody(n int) string {
	payloads := make([]string, n)
	for i := range payloads {
		payloads[i] = `{"response":{"candidates":[{"content":{"parts":[{"text":"x"}]}}]}}`
	}
	return sseBody(payloads...)
}

func TestParseSSEStreamReturnsAfterCancel(t *testing.T) {
	// Far more frames than the channel can buffer, so the producer is
	// blocked on a send when the consumer walks away.
	body := longStreamBody(100) + sseBody(`{"response":{"candidates":[{"content":{"parts":[]},"finishReason":"STOP"}]}}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan EventFrame, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		parseSSEStream(ctx, strings.NewReader(body), ch, testLogger())
	}()

	// Consume a few frames, then stop receiving entirely.
	for i := 0; i < 3; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("no frame received")
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("parseSSEStream still running after cancellation")
	}
}

func TestStreamGenerateReleasesOnCancel(t *testing.T) {
	srv := streamServer(t, longStreamBody(100))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newTestClient(t, srv, "proj-1")
	ch, err := c.StreamGenerate(ctx, map[string]any{})
	if err != nil {
		t.Fatalf("StreamGenerate() error: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}
	cancel()

	// The producer goroutine must close the channel without pushing the
	// rest of the stream; only frames already buffered may still arrive.
	received := 1
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				if received >= 50 {
					t.Errorf("received %d frames after cancellation, producer kept streaming", received)
				}
				return
			}
			received++
		case <-deadline:
			t.Fatal("frame channel not closed after cancellation")
		}
	}
}
