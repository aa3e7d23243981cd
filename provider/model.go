// Package provider abstracts the language-model call: streaming generation,
// one-shot generation and structured (schema-constrained) generation. The
// rest of the system only depends on the Model interface; vendor adapters
// live in subpackages.
package provider

import (
	"context"
	"encoding/json"

	"github.com/habiliai/parley/entity"
)

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized model input.
type Request struct {
	System   string           `json:"system,omitempty"`
	Messages []entity.Message `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

// StreamEvent is one fragment of a streaming generation. Types reuse the
// part-type vocabulary so sessions can persist events without translation.
type StreamEvent struct {
	Type entity.PartType `json:"type"`

	Text       string             `json:"text,omitempty"`
	ToolCall   *entity.ToolCall   `json:"toolCall,omitempty"`
	ToolResult *entity.ToolResult `json:"toolResult,omitempty"`
}

// Response is the final result of a non-streaming generation.
type Response struct {
	Text      string            `json:"text,omitempty"`
	ToolCalls []entity.ToolCall `json:"toolCalls,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Model is the minimal capability required to drive generation.
type Model interface {
	// Generate runs a single non-streaming generation.
	Generate(ctx context.Context, req Request) (*Response, error)

	// GenerateStream runs a streaming generation. Events are delivered on
	// the first channel; a terminal failure on the second. Both close when
	// the generation ends.
	GenerateStream(ctx context.Context, req Request) (<-chan StreamEvent, <-chan error)

	// GenerateStructured runs a one-shot generation constrained to the
	// given JSON schema and returns the raw structured payload.
	GenerateStructured(ctx context.Context, req Request, schema map[string]any) (json.RawMessage, error)

	// Info returns information about the model implementation.
	Info() Info
}
