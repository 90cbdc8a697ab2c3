// Package translate maps the caller's OpenAI-shaped requests onto the Code
// Assist generation schema and transcodes the upstream event stream back
// into caller-facing completion chunks.
package translate

import "github.com/mkallner/gemlink/pkg/api"

// ModelInfo describes one servable model.
type ModelInfo struct {
	ID       string
	Thinking bool // model emits thought parts when asked
	Created  int64
}

// modelTable lists the models the gateway accepts. Unknown model ids are
// rejected before any upstream call.
var modelTable = []ModelInfo{
	{ID: "gemini-2.5-pro", Thinking: true, Created: 1750118400},
	{ID: "gemini-2.5-flash", Thinking: true, Created: 1750118400},
	{ID: "gemini-2.5-flash-lite", Thinking: true, Created: 1753142400},
}

// LookupModel returns the table entry for a model id.
func LookupModel(id string) (ModelInfo, bool) {
	for _, m := range modelTable {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// ModelList returns the model table in the OpenAI list shape.
func ModelList() api.ModelList {
	list := api.ModelList{Object: "list", Data: make([]api.Model, 0, len(modelTable))}
	for _, m := range modelTable {
		list.Data = append(list.Data, api.Model{
			ID:      m.ID,
			Object:  "model",
			Created: m.Created,
			OwnedBy: "google",
		})
	}
	return list
}
