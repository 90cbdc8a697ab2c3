package translate

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mkallner/gemlink/pkg/api"
)

// GenerateRequest is the Code Assist request envelope.
type GenerateRequest struct {
	Project string          `json:"project"`
	Model   string          `json:"model"`
	Request generatePayload `json:"request"`
}

type generatePayload struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	MaxOutputTokens *int            `json:"maxOutputTokens,omitempty"`
	StopSequences   []string        `json:"stopSequences,omitempty"`
	ThinkingConfig  *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type thinkingConfig struct {
	ThinkingBudget  int  `json:"thinkingBudget"`
	IncludeThoughts bool `json:"includeThoughts"`
}

// maxImageBytes caps remote image downloads.
const maxImageBytes = 20 * 1024 * 1024

// Adapter builds upstream generation requests from caller requests.
// Remote image references are fetched synchronously at build time; a
// fetch failure fails the request as a validation error rather than
// silently dropping the image.
type Adapter struct {
	client *http.Client
}

// NewAdapter creates an Adapter. A nil client gets a 30s-timeout default.
func NewAdapter(client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{client: client}
}

// BuildGenerateRequest maps a validated caller request onto the Code
// Assist envelope. System messages become the systemInstruction; user and
// assistant turns become user/model contents. The thinking config is
// attached only when real thinking is enabled; fake and stream-as-content
// are output-side concerns and never change the upstream request.
func (a *Adapter) BuildGenerateRequest(ctx context.Context, req *api.ChatCompletionRequest, projectID string, mode ThinkingMode, thinkingBudget int) (*GenerateRequest, error) {
	model, ok := LookupModel(req.Model)
	if !ok {
		return nil, api.NewInvalidRequestError("model", fmt.Sprintf("unknown model %q", req.Model))
	}

	var system []part
	var contents []content

	for i, msg := range req.Messages {
		parts, err := a.buildParts(ctx, i, msg.Content.Parts)
		if err != nil {
			return nil, err
		}

		switch msg.Role {
		case api.RoleSystem:
			system = append(system, parts...)
		case api.RoleUser:
			contents = append(contents, content{Role: "user", Parts: parts})
		case api.RoleAssistant:
			contents = append(contents, content{Role: "model", Parts: parts})
		}
	}

	payload := generatePayload{Contents: contents}
	if len(system) > 0 {
		payload.SystemInstruction = &content{Parts: system}
	}

	genCfg := &generationConfig{
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
	}
	if req.MaxTokens != nil {
		genCfg.MaxOutputTokens = req.MaxTokens
	}
	if mode.Real && model.Thinking {
		genCfg.ThinkingConfig = &thinkingConfig{
			ThinkingBudget:  thinkingBudget,
			IncludeThoughts: true,
		}
	}
	payload.GenerationConfig = genCfg

	return &GenerateRequest{
		Project: projectID,
		Model:   model.ID,
		Request: payload,
	}, nil
}

// buildParts maps one message's content parts. msgIndex is only used to
// point error params at the offending message.
func (a *Adapter) buildParts(ctx context.Context, msgIndex int, in []api.ContentPart) ([]part, error) {
	parts := make([]part, 0, len(in))
	for _, p := range in {
		switch p.Type {
		case api.PartTypeText:
			parts = append(parts, part{Text: p.Text})
		case api.PartTypeImageURL:
			data, err := a.resolveImage(ctx, msgIndex, p.ImageURL.URL)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part{InlineData: data})
		}
	}
	return parts, nil
}

// resolveImage turns an image reference into inline data. Data URLs are
// decoded in place; other URLs are fetched synchronously.
func (a *Adapter) resolveImage(ctx context.Context, msgIndex int, url string) (*inlineData, error) {
	param := fmt.Sprintf("messages[%d].content", msgIndex)

	if strings.HasPrefix(url, "data:") {
		mimeType, data, ok := parseDataURL(url)
		if !ok {
			return nil, api.NewInvalidRequestError(param, "malformed image data URL")
		}
		return &inlineData{MimeType: mimeType, Data: data}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, api.NewInvalidRequestError(param, "invalid image URL: "+err.Error())
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, api.NewInvalidRequestError(param, "fetching image failed: "+err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, api.NewInvalidRequestError(param,
			fmt.Sprintf("fetching image returned status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, api.NewInvalidRequestError(param, "reading image failed: "+err.Error())
	}
	if len(raw) > maxImageBytes {
		return nil, api.NewInvalidRequestError(param, "image exceeds the 20MB limit")
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(raw)
	}

	return &inlineData{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// parseDataURL splits a data:<mime>;base64,<payload> URL. The payload is
// kept base64-encoded, which is the form the upstream expects.
func parseDataURL(url string) (mimeType, data string, ok bool) {
	rest, found := strings.CutPrefix(url, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found || payload == "" {
		return "", "", false
	}
	if !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	mimeType = strings.TrimSuffix(meta, ";base64")
	if mimeType == "" {
		mimeType = "text/plain"
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return "", "", false
	}
	return mimeType, payload, true
}
