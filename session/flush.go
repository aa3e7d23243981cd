package session

import (
	"context"
	"strings"

	"github.com/habiliai/parley/entity"
	"github.com/habiliai/parley/internal/mylog"
	"github.com/habiliai/parley/store"
	"gorm.io/datatypes"
)

// Flush converts the agent's buffered parts into finalized messages and
// clears the buffer. Flushing an empty buffer is a no-op. Tool-call blocks
// whose id already exists in the thread history are dropped, not renamed;
// this is the second line of defense behind the spawn-time history repair.
func Flush(ctx context.Context, st store.Store, logger *mylog.Logger, threadID, agentID string) error {
	unlock := lockThread(threadID)
	defer unlock()

	parts, err := st.ReadAgentParts(ctx, threadID, agentID)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return nil
	}

	// Lifecycle events and user-input markers are written to messages
	// directly elsewhere and must never be folded into history.
	var modelParts []entity.Part
	for _, part := range parts {
		if part.IsModelOutput() {
			modelParts = append(modelParts, part)
		}
	}

	assembled := assembleMessages(modelParts, agentID)

	existing, err := st.ReadMessages(ctx, threadID)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, msg := range existing {
		for _, id := range msg.Content.Data().ToolCallIDs() {
			seen[id] = true
		}
	}

	var appended []entity.Message
	for _, msg := range assembled {
		content := msg.Content.Data()

		var blocks []entity.ContentBlock
		for _, block := range content.Blocks {
			if block.Type == entity.BlockToolCall && block.ToolCall != nil {
				if seen[block.ToolCall.ID] {
					logger.Warn("dropping duplicate tool call at flush",
						"threadId", threadID, "agentId", agentID, "toolCallId", block.ToolCall.ID)
					continue
				}
				seen[block.ToolCall.ID] = true
			}
			blocks = append(blocks, block)
		}

		content.Blocks = blocks
		if content.IsEmpty() {
			continue
		}

		msg.Content = datatypes.NewJSONType(content)
		appended = append(appended, msg)
	}

	if len(appended) > 0 {
		if err := st.WriteMessages(ctx, threadID, append(existing, appended...)); err != nil {
			return err
		}
	}

	return st.TruncateAgentParts(ctx, threadID, agentID)
}

// assembleMessages folds streaming parts back into message objects: text
// deltas accumulate into one text block closed by text-end, a tool-call
// closes the pending assistant message, and each tool-result becomes its own
// tool-role message. Reasoning parts are ephemeral and never reach history.
func assembleMessages(parts []entity.Part, agentID string) []entity.Message {
	var out []entity.Message
	var blocks []entity.ContentBlock
	var textBuf strings.Builder
	textOpen := false

	closeText := func() {
		if !textOpen {
			return
		}
		if text := textBuf.String(); text != "" {
			blocks = append(blocks, entity.ContentBlock{Type: entity.BlockText, Text: text})
		}
		textBuf.Reset()
		textOpen = false
	}

	closeAssistant := func() {
		if len(blocks) == 0 {
			return
		}
		content := entity.MessageContent{Blocks: blocks}
		if len(blocks) == 1 && blocks[0].Type == entity.BlockText {
			content = entity.MessageContent{Text: blocks[0].Text}
		}
		out = append(out, entity.Message{
			Role:    entity.RoleAssistant,
			Sender:  agentID,
			Content: datatypes.NewJSONType(content),
		})
		blocks = nil
	}

	for _, part := range parts {
		content := part.Content.Data()

		switch part.Type {
		case entity.PartTextStart:
			closeText()
			textOpen = true
		case entity.PartTextDelta:
			if !textOpen {
				textOpen = true
			}
			textBuf.WriteString(content.Text)
		case entity.PartTextEnd:
			closeText()
			closeAssistant()
		case entity.PartToolCall:
			if content.ToolCall == nil {
				continue
			}
			closeText()
			blocks = append(blocks, entity.ContentBlock{Type: entity.BlockToolCall, ToolCall: content.ToolCall})
			closeAssistant()
		case entity.PartToolResult:
			if content.ToolResult == nil {
				continue
			}
			closeText()
			closeAssistant()
			out = append(out, entity.Message{
				Role:   entity.RoleTool,
				Sender: agentID,
				Content: datatypes.NewJSONType(entity.MessageContent{
					Blocks: []entity.ContentBlock{{Type: entity.BlockToolResult, ToolResult: content.ToolResult}},
				}),
			})
		case entity.PartReasoningStart, entity.PartReasoningDelta, entity.PartReasoningEnd:
			// Dropped on purpose.
		}
	}

	// Salvage a text segment interrupted by a crash before its text-end.
	closeText()
	closeAssistant()

	return out
}
