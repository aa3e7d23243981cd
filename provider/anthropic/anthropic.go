// Package anthropic adapts the Anthropic Messages API to the generic
// provider.Model interface, including streaming and tool calling.
package anthropic

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/habiliai/parley/entity"
	"github.com/habiliai/parley/errors"
	"github.com/habiliai/parley/provider"
)

const structuredToolName = "structured_output"

// Options configures the Anthropic model adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind provider.Model.
type Model struct {
	client *anthropic.Client
	opts   Options
}

var _ provider.Model = (*Model)(nil)

func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	return &Model{client: client, opts: defaultOptions(optFns)}
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:       anthropic.ModelClaudeSonnet4_0,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

func (m *Model) Info() provider.Info {
	return provider.Info{Name: string(m.opts.Model), Provider: "anthropic"}
}

func (m *Model) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	params, err := m.buildParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}

	return translateResponse(resp), nil
}

func (m *Model) GenerateStructured(ctx context.Context, req provider.Request, schema map[string]any) (json.RawMessage, error) {
	params, err := m.buildParams(req)
	if err != nil {
		return nil, err
	}

	params.Tools = []anthropic.ToolUnionParam{{
		OfTool: &anthropic.ToolParam{
			Name:        structuredToolName,
			Description: anthropic.String("Return the structured result."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: schema["properties"],
			},
		},
	}}
	params.ToolChoice = anthropic.ToolChoiceUnionParam{
		OfTool: &anthropic.ToolChoiceToolParam{Name: structuredToolName},
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}

	for _, content := range resp.Content {
		if block, ok := content.AsAny().(anthropic.ToolUseBlock); ok && block.Name == structuredToolName {
			return json.RawMessage(block.Input), nil
		}
	}

	return nil, errors.New("no structured output block in response")
}

func (m *Model) GenerateStream(ctx context.Context, req provider.Request) (<-chan provider.StreamEvent, <-chan error) {
	out := make(chan provider.StreamEvent, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params, err := m.buildParams(req)
		if err != nil {
			errCh <- err
			return
		}

		stream := m.client.Messages.NewStreaming(ctx, params)

		type openBlock struct {
			kind entity.PartType
			id   string
			name string
			args string
		}
		blocks := map[int64]*openBlock{}

		emit := func(ev provider.StreamEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for stream.Next() {
			switch event := stream.Current().AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				switch block := event.ContentBlock.AsAny().(type) {
				case anthropic.TextBlock:
					blocks[event.Index] = &openBlock{kind: entity.PartTextStart}
					if !emit(provider.StreamEvent{Type: entity.PartTextStart}) {
						return
					}
				case anthropic.ThinkingBlock:
					blocks[event.Index] = &openBlock{kind: entity.PartReasoningStart}
					if !emit(provider.StreamEvent{Type: entity.PartReasoningStart}) {
						return
					}
				case anthropic.ToolUseBlock:
					blocks[event.Index] = &openBlock{
						kind: entity.PartToolCall,
						id:   block.ID,
						name: block.Name,
					}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := event.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if !emit(provider.StreamEvent{Type: entity.PartTextDelta, Text: delta.Text}) {
						return
					}
				case anthropic.ThinkingDelta:
					if !emit(provider.StreamEvent{Type: entity.PartReasoningDelta, Text: delta.Thinking}) {
						return
					}
				case anthropic.InputJSONDelta:
					if block, ok := blocks[event.Index]; ok {
						block.args += delta.PartialJSON
					}
				}
			case anthropic.ContentBlockStopEvent:
				block, ok := blocks[event.Index]
				if !ok {
					continue
				}
				delete(blocks, event.Index)

				switch block.kind {
				case entity.PartTextStart:
					if !emit(provider.StreamEvent{Type: entity.PartTextEnd}) {
						return
					}
				case entity.PartReasoningStart:
					if !emit(provider.StreamEvent{Type: entity.PartReasoningEnd}) {
						return
					}
				case entity.PartToolCall:
					args := block.args
					if args == "" {
						args = "{}"
					}
					ev := provider.StreamEvent{
						Type: entity.PartToolCall,
						ToolCall: &entity.ToolCall{
							ID:        block.id,
							Name:      block.name,
							Arguments: json.RawMessage(args),
						},
					}
					if !emit(ev) {
						return
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			errCh <- wrapError(err)
		}
	}()

	return out, errCh
}

func (m *Model) buildParams(req provider.Request) (anthropic.MessageNewParams, error) {
	messages, systems, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    messages,
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}

	if req.System != "" {
		params.System = append(params.System, anthropic.TextBlockParam{Text: req.System})
	}
	for _, system := range systems {
		params.System = append(params.System, anthropic.TextBlockParam{Text: system})
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, len(req.Tools))
		for i, tool := range req.Tools {
			tools[i] = convertTool(tool)
		}
		params.Tools = tools
	}

	return params, nil
}

func convertMessages(messages []entity.Message) ([]anthropic.MessageParam, []string, error) {
	var systems []string
	var anthropicMessages []anthropic.MessageParam

	for _, msg := range messages {
		content := msg.Content.Data()

		var role anthropic.MessageParamRole
		switch msg.Role {
		case entity.RoleUser, entity.RoleTool:
			role = anthropic.MessageParamRoleUser
		case entity.RoleAssistant:
			role = anthropic.MessageParamRoleAssistant
		case entity.RoleSystem:
			if content.Text != "" {
				systems = append(systems, content.Text)
			}
			continue
		default:
			return nil, nil, errors.Errorf("unsupported message role: %s", msg.Role)
		}

		blocks, err := convertContent(content)
		if err != nil {
			return nil, nil, err
		}
		if len(blocks) == 0 {
			continue
		}

		anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
			Role:    role,
			Content: blocks,
		})
	}

	return anthropicMessages, systems, nil
}

func convertContent(content entity.MessageContent) ([]anthropic.ContentBlockParamUnion, error) {
	var blocks []anthropic.ContentBlockParamUnion

	if content.Text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(content.Text))
	}

	for _, block := range content.Blocks {
		switch block.Type {
		case entity.BlockText:
			if block.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(block.Text))
			}
		case entity.BlockToolCall:
			if block.ToolCall == nil {
				continue
			}
			input := block.ToolCall.Arguments
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(block.ToolCall.ID, input, block.ToolCall.Name))
		case entity.BlockToolResult:
			if block.ToolResult == nil {
				continue
			}
			blocks = append(blocks, anthropic.NewToolResultBlock(
				block.ToolResult.ID,
				string(block.ToolResult.Result),
				block.ToolResult.IsError,
			))
		default:
			return nil, errors.Errorf("unsupported content block type: %s", block.Type)
		}
	}

	return blocks, nil
}

func convertTool(tool provider.ToolDefinition) anthropic.ToolUnionParam {
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: tool.Parameters["properties"],
			},
		},
	}
}

func translateResponse(resp *anthropic.Message) *provider.Response {
	out := &provider.Response{}

	for _, content := range resp.Content {
		switch block := content.AsAny().(type) {
		case anthropic.TextBlock:
			out.Text += block.Text
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, entity.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: json.RawMessage(block.Input),
			})
		}
	}

	return out
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return &provider.Error{StatusCode: apierr.StatusCode, Message: apierr.Error()}
	}

	return err
}
