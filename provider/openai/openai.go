// Package openai adapts the OpenAI Chat Completions API (streaming and tool
// calling included) to the generic provider.Model interface.
package openai

import (
	"context"
	"encoding/json"

	"github.com/habiliai/parley/entity"
	"github.com/habiliai/parley/errors"
	"github.com/habiliai/parley/provider"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const structuredToolName = "structured_output"

// aggCall aggregates partial tool call streaming deltas (id, name,
// arguments) so a complete tool-call event can be emitted at block end.
type aggCall struct{ id, name, args string }

// Options configures the OpenAI model adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
}

// Model wraps the OpenAI Chat Completions API behind provider.Model.
type Model struct {
	client *openai.Client
	opts   Options
}

var _ provider.Model = (*Model)(nil)

func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := openai.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	return &Model{client: client, opts: defaultOptions(optFns)}
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

func (m *Model) Info() provider.Info {
	return provider.Info{Name: m.opts.Model, Provider: "openai"}
}

func (m *Model) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	params := m.buildParams(req)

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices returned")
	}

	choice := resp.Choices[0]
	out := &provider.Response{Text: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, entity.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	return out, nil
}

func (m *Model) GenerateStructured(ctx context.Context, req provider.Request, schema map[string]any) (json.RawMessage, error) {
	params := m.buildParams(req)
	params.Tools = []openai.ChatCompletionToolParam{{
		Type: "function",
		Function: openai.FunctionDefinitionParam{
			Name:        structuredToolName,
			Description: openai.String("Return the structured result."),
			Parameters:  schema,
		},
	}}
	params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
		OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
			Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: structuredToolName},
		},
	}

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices returned")
	}

	for _, tc := range resp.Choices[0].Message.ToolCalls {
		if tc.Function.Name == structuredToolName {
			return json.RawMessage(tc.Function.Arguments), nil
		}
	}

	return nil, errors.New("no structured output call in response")
}

func (m *Model) GenerateStream(ctx context.Context, req provider.Request) (<-chan provider.StreamEvent, <-chan error) {
	out := make(chan provider.StreamEvent, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		emit := func(ev provider.StreamEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		stream := m.client.Chat.Completions.NewStreaming(ctx, m.buildParams(req))

		textOpen := false
		toolAgg := map[int64]*aggCall{}

		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					if !textOpen {
						textOpen = true
						if !emit(provider.StreamEvent{Type: entity.PartTextStart}) {
							return
						}
					}
					if !emit(provider.StreamEvent{Type: entity.PartTextDelta, Text: choice.Delta.Content}) {
						return
					}
				}

				for _, tc := range choice.Delta.ToolCalls {
					ac, ok := toolAgg[tc.Index]
					if !ok {
						ac = &aggCall{}
						toolAgg[tc.Index] = ac
					}
					if tc.ID != "" {
						ac.id = tc.ID
					}
					if tc.Function.Name != "" {
						ac.name = tc.Function.Name
					}
					ac.args += tc.Function.Arguments
				}

				if choice.FinishReason != "" {
					if textOpen {
						textOpen = false
						if !emit(provider.StreamEvent{Type: entity.PartTextEnd}) {
							return
						}
					}
					for _, ac := range toolAgg {
						args := ac.args
						if args == "" {
							args = "{}"
						}
						ev := provider.StreamEvent{
							Type: entity.PartToolCall,
							ToolCall: &entity.ToolCall{
								ID:        ac.id,
								Name:      ac.name,
								Arguments: json.RawMessage(args),
							},
						}
						if !emit(ev) {
							return
						}
					}
					toolAgg = map[int64]*aggCall{}
				}
			}
		}

		if err := stream.Err(); err != nil {
			errCh <- wrapError(err)
		}
	}()

	return out, errCh
}

func (m *Model) buildParams(req provider.Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion

	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	for _, msg := range req.Messages {
		content := msg.Content.Data()

		switch msg.Role {
		case entity.RoleSystem:
			if content.Text != "" {
				messages = append(messages, openai.SystemMessage(content.Text))
			}
		case entity.RoleUser:
			messages = append(messages, openai.UserMessage(flattenText(content)))
		case entity.RoleTool:
			for _, block := range content.Blocks {
				if block.Type == entity.BlockToolResult && block.ToolResult != nil {
					messages = append(messages, openai.ToolMessage(string(block.ToolResult.Result), block.ToolResult.ID))
				}
			}
		case entity.RoleAssistant:
			toolCalls := extractToolCalls(content)
			text := flattenText(content)
			if len(toolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(text))
				continue
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
			if text != "" {
				assistant.Content.OfString = openai.String(text)
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
			// Results embedded in the same assistant turn follow their call.
			for _, block := range content.Blocks {
				if block.Type == entity.BlockToolResult && block.ToolResult != nil {
					messages = append(messages, openai.ToolMessage(string(block.ToolResult.Result), block.ToolResult.ID))
				}
			}
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, tool := range req.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  tool.Parameters,
				},
			}
		}
		params.Tools = tools
	}

	return params
}

func flattenText(content entity.MessageContent) string {
	text := content.Text
	for _, block := range content.Blocks {
		if block.Type == entity.BlockText {
			text += block.Text
		}
	}
	return text
}

func extractToolCalls(content entity.MessageContent) []openai.ChatCompletionMessageToolCallParam {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, block := range content.Blocks {
		if block.Type != entity.BlockToolCall || block.ToolCall == nil {
			continue
		}
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   block.ToolCall.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      block.ToolCall.Name,
				Arguments: string(block.ToolCall.Arguments),
			},
		})
	}
	return toolCalls
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return &provider.Error{StatusCode: apierr.StatusCode, Message: apierr.Error()}
	}

	return err
}
