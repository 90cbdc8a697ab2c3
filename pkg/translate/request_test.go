package translate

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mkallner/gemlink/pkg/api"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func userText(text string) api.ChatMessage {
	return api.ChatMessage{
		Role:    api.RoleUser,
		Content: api.MessageContent{Parts: []api.ContentPart{{Type: api.PartTypeText, Text: text}}},
	}
}

func TestBuildGenerateRequestBasic(t *testing.T) {
	a := NewAdapter(nil)
	temp := 0.7
	maxTokens := 256

	req := &api.ChatCompletionRequest{
		Model: "gemini-2.5-pro",
		Messages: []api.ChatMessage{
			{Role: api.RoleSystem, Content: api.MessageContent{Parts: []api.ContentPart{{Type: api.PartTypeText, Text: "Be terse."}}}},
			userText("Hello"),
			{Role: api.RoleAssistant, Content: api.MessageContent{Parts: []api.ContentPart{{Type: api.PartTypeText, Text: "Hi."}}}},
			userText("Bye"),
		},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Stop:        []string{"END"},
	}

	out, err := a.BuildGenerateRequest(context.Background(), req, "proj-1", ThinkingMode{}, -1)
	if err != nil {
		t.Fatalf("BuildGenerateRequest() error: %v", err)
	}

	if out.Project != "proj-1" || out.Model != "gemini-2.5-pro" {
		t.Errorf("envelope = %q/%q", out.Project, out.Model)
	}
	if out.Request.SystemInstruction == nil || out.Request.SystemInstruction.Parts[0].Text != "Be terse." {
		t.Errorf("systemInstruction = %+v", out.Request.SystemInstruction)
	}

	roles := make([]string, 0, len(out.Request.Contents))
	for _, c := range out.Request.Contents {
		roles = append(roles, c.Role)
	}
	if len(roles) != 3 || roles[0] != "user" || roles[1] != "model" || roles[2] != "user" {
		t.Errorf("content roles = %v, want user, model, user", roles)
	}

	cfg := out.Request.GenerationConfig
	if cfg == nil {
		t.Fatal("generationConfig missing")
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.7 {
		t.Errorf("temperature = %v", cfg.Temperature)
	}
	if cfg.MaxOutputTokens == nil || *cfg.MaxOutputTokens != 256 {
		t.Errorf("maxOutputTokens = %v", cfg.MaxOutputTokens)
	}
	if len(cfg.StopSequences) != 1 || cfg.StopSequences[0] != "END" {
		t.Errorf("stopSequences = %v", cfg.StopSequences)
	}
	if cfg.ThinkingConfig != nil {
		t.Error("thinkingConfig attached without real thinking")
	}
}

func TestBuildGenerateRequestUnknownModel(t *testing.T) {
	a := NewAdapter(nil)
	req := &api.ChatCompletionRequest{
		Model:    "gpt-4o",
		Messages: []api.ChatMessage{userText("hi")},
	}

	_, err := a.BuildGenerateRequest(context.Background(), req, "proj-1", ThinkingMode{}, -1)
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != api.ErrorTypeInvalidRequest || apiErr.Param != "model" {
		t.Fatalf("error = %v, want invalid_request_error on model", err)
	}
}

func TestBuildGenerateRequestThinkingConfig(t *testing.T) {
	a := NewAdapter(nil)
	req := &api.ChatCompletionRequest{
		Model:    "gemini-2.5-pro",
		Messages: []api.ChatMessage{userText("hi")},
	}

	out, err := a.BuildGenerateRequest(context.Background(), req, "proj-1", ThinkingMode{Real: true}, 8192)
	if err != nil {
		t.Fatalf("BuildGenerateRequest() error: %v", err)
	}
	tc := out.Request.GenerationConfig.ThinkingConfig
	if tc == nil {
		t.Fatal("thinkingConfig missing with real thinking enabled")
	}
	if tc.ThinkingBudget != 8192 || !tc.IncludeThoughts {
		t.Errorf("thinkingConfig = %+v, want budget 8192 with thoughts", tc)
	}

	// Fake and stream-as-content are output-side only and must not alter
	// the upstream request.
	out, err = a.BuildGenerateRequest(context.Background(), req, "proj-1",
		ThinkingMode{Fake: true, StreamAsContent: true}, 8192)
	if err != nil {
		t.Fatalf("BuildGenerateRequest() error: %v", err)
	}
	if out.Request.GenerationConfig.ThinkingConfig != nil {
		t.Error("thinkingConfig attached for output-side thinking modes")
	}
}

func TestBuildGenerateRequestDataURLImage(t *testing.T) {
	a := NewAdapter(nil)
	payload := base64.StdEncoding.EncodeToString([]byte("tiny-png"))

	req := &api.ChatCompletionRequest{
		Model: "gemini-2.5-pro",
		Messages: []api.ChatMessage{{
			Role: api.RoleUser,
			Content: api.MessageContent{Parts: []api.ContentPart{
				{Type: api.PartTypeText, Text: "what is this?"},
				{Type: api.PartTypeImageURL, ImageURL: &api.ImageURL{URL: "data:image/png;base64," + payload}},
			}},
		}},
	}

	out, err := a.BuildGenerateRequest(context.Background(), req, "proj-1", ThinkingMode{}, -1)
	if err != nil {
		t.Fatalf("BuildGenerateRequest() error: %v", err)
	}

	parts := out.Request.Contents[0].Parts
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(parts))
	}
	img := parts[1].InlineData
	if img == nil || img.MimeType != "image/png" || img.Data != payload {
		t.Errorf("inlineData = %+v, want decoded data URL", img)
	}
}

func TestBuildGenerateRequestMalformedDataURL(t *testing.T) {
	a := NewAdapter(nil)
	req := &api.ChatCompletionRequest{
		Model: "gemini-2.5-pro",
		Messages: []api.ChatMessage{{
			Role: api.RoleUser,
			Content: api.MessageContent{Parts: []api.ContentPart{
				{Type: api.PartTypeImageURL, ImageURL: &api.ImageURL{URL: "data:image/png;base64,!!!not-base64!!!"}},
			}},
		}},
	}

	_, err := a.BuildGenerateRequest(context.Background(), req, "proj-1", ThinkingMode{}, -1)
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != api.ErrorTypeInvalidRequest {
		t.Fatalf("error = %v, want invalid_request_error", err)
	}
}

func TestBuildGenerateRequestRemoteImage(t *testing.T) {
	raw := []byte("fake image bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(raw)
	}))
	defer srv.Close()

	a := NewAdapter(srv.Client())
	req := &api.ChatCompletionRequest{
		Model: "gemini-2.5-pro",
		Messages: []api.ChatMessage{{
			Role: api.RoleUser,
			Content: api.MessageContent{Parts: []api.ContentPart{
				{Type: api.PartTypeImageURL, ImageURL: &api.ImageURL{URL: srv.URL + "/cat.jpg"}},
			}},
		}},
	}

	out, err := a.BuildGenerateRequest(context.Background(), req, "proj-1", ThinkingMode{}, -1)
	if err != nil {
		t.Fatalf("BuildGenerateRequest() error: %v", err)
	}
	img := out.Request.Contents[0].Parts[0].InlineData
	if img == nil || img.MimeType != "image/jpeg" {
		t.Fatalf("inlineData = %+v", img)
	}
	if img.Data != base64.StdEncoding.EncodeToString(raw) {
		t.Error("inlineData payload does not match fetched bytes")
	}
}

func TestBuildGenerateRequestRemoteImageFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	a := NewAdapter(srv.Client())
	req := &api.ChatCompletionRequest{
		Model: "gemini-2.5-pro",
		Messages: []api.ChatMessage{{
			Role: api.RoleUser,
			Content: api.MessageContent{Parts: []api.ContentPart{
				{Type: api.PartTypeImageURL, ImageURL: &api.ImageURL{URL: srv.URL + "/missing.jpg"}},
			}},
		}},
	}

	_, err := a.BuildGenerateRequest(context.Background(), req, "proj-1", ThinkingMode{}, -1)
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != api.ErrorTypeInvalidRequest {
		t.Fatalf("error = %v, want invalid_request_error for failed image fetch", err)
	}
}

func TestLookupModel(t *testing.T) {
	if _, ok := LookupModel("gemini-2.5-flash"); !ok {
		t.Error("gemini-2.5-flash missing from model table")
	}
	if _, ok := LookupModel("nonexistent"); ok {
		t.Error("unknown model id found in table")
	}

	list := ModelList()
	if list.Object != "list" || len(list.Data) != 3 {
		t.Errorf("model list = %+v", list)
	}
	for _, m := range list.Data {
		if m.Object != "model" || m.OwnedBy != "google" {
			t.Errorf("model entry = %+v", m)
		}
	}
}
