// Package gateway orchestrates a chat completion: it validates the request,
// resolves the upstream project, translates the request, opens the upstream
// generation stream, and transcodes frames back into OpenAI-shaped output.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mkallner/gemlink/pkg/api"
	"github.com/mkallner/gemlink/pkg/observability"
	"github.com/mkallner/gemlink/pkg/translate"
	"github.com/mkallner/gemlink/pkg/transport"
	"github.com/mkallner/gemlink/pkg/upstream"
)

// ThinkingProvider returns the current thinking mode and budget. It is read
// per request so settings changes apply without a restart.
type ThinkingProvider func() (translate.ThinkingMode, int)

// Gateway implements transport.ChatHandler and transport.ModelLister on top
// of the upstream Code Assist client.
type Gateway struct {
	client   *upstream.Client
	adapter  *translate.Adapter
	thinking ThinkingProvider
	logger   *slog.Logger
	now      func() time.Time
}

var (
	_ transport.ChatHandler = (*Gateway)(nil)
	_ transport.ModelLister = (*Gateway)(nil)
)

// New creates a Gateway. The thinking provider may be nil, in which case
// thinking output is discarded.
func New(client *upstream.Client, adapter *translate.Adapter, thinking ThinkingProvider, logger *slog.Logger) *Gateway {
	if thinking == nil {
		thinking = func() (translate.ThinkingMode, int) { return translate.ThinkingMode{}, -1 }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		client:   client,
		adapter:  adapter,
		thinking: thinking,
		logger:   logger,
		now:      time.Now,
	}
}

// ChatCompletion handles one completion request, streaming or buffered.
func (g *Gateway) ChatCompletion(ctx context.Context, req *api.ChatCompletionRequest, w transport.ChunkWriter) error {
	if err := api.ValidateChatRequest(req); err != nil {
		return err
	}

	projectID, err := g.client.DiscoverProjectID(ctx)
	if err != nil {
		return err
	}

	mode, budget := g.thinking()
	payload, err := g.adapter.BuildGenerateRequest(ctx, req, projectID, mode, budget)
	if err != nil {
		return err
	}

	// Cancelling on exit releases the transcoder and the upstream stream.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames, err := g.client.StreamGenerate(ctx, payload)
	if err != nil {
		return err
	}

	id := "chatcmpl-" + uuid.NewString()
	created := g.now().Unix()
	chunks := translate.NewTranscoder(id, req.Model, created, mode, g.logger).Run(ctx, frames)

	if req.Stream {
		return g.streamChunks(ctx, req.Model, chunks, w)
	}

	completion := translate.Aggregate(id, req.Model, created, chunks)
	recordTokens(req.Model, completion.Usage)
	return w.WriteResponse(ctx, completion)
}

// streamChunks forwards transcoded chunks to the client and terminates the
// stream.
func (g *Gateway) streamChunks(ctx context.Context, model string, chunks <-chan api.ChatCompletionChunk, w transport.ChunkWriter) error {
	for chunk := range chunks {
		recordTokens(model, chunk.Usage)
		if err := w.WriteChunk(ctx, &chunk); err != nil {
			return fmt.Errorf("writing chunk: %w", err)
		}
	}
	return w.WriteDone(ctx)
}

// ListModels returns the supported model catalog.
func (g *Gateway) ListModels(context.Context) api.ModelList {
	return translate.ModelList()
}

// TestPrompt sends a one-shot buffered prompt upstream and returns the
// generated text. Backs the connectivity test endpoint.
func (g *Gateway) TestPrompt(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = "gemini-2.5-flash"
	}

	projectID, err := g.client.DiscoverProjectID(ctx)
	if err != nil {
		return "", err
	}

	req := &api.ChatCompletionRequest{
		Model: model,
		Messages: []api.ChatMessage{
			{Role: api.RoleUser, Content: api.MessageContent{Parts: []api.ContentPart{{Type: api.PartTypeText, Text: prompt}}}},
		},
	}
	payload, err := g.adapter.BuildGenerateRequest(ctx, req, projectID, translate.ThinkingMode{}, -1)
	if err != nil {
		return "", err
	}

	resp, err := g.client.Generate(ctx, payload)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// recordTokens updates the token counters from a usage block, if present.
func recordTokens(model string, usage *api.Usage) {
	if usage == nil {
		return
	}
	observability.TokensTotal.WithLabelValues(model, "input").Add(float64(usage.PromptTokens))
	observability.TokensTotal.WithLabelValues(model, "output").Add(float64(usage.CompletionTokens))
}
