package session

import (
	"github.com/habiliai/parley/entity"
	"github.com/habiliai/parley/internal/mylog"
	"gorm.io/datatypes"
)

// repairDuplicateToolCalls drops every duplicate occurrence of a tool-call
// id across the message list, keeping the first. Messages left without any
// content are dropped entirely. The duplicate call is discarded, never
// renamed: renaming would change conversation semantics downstream.
func repairDuplicateToolCalls(messages []entity.Message, logger *mylog.Logger) ([]entity.Message, bool) {
	seen := make(map[string]bool)
	changed := false

	var repaired []entity.Message
	for _, msg := range messages {
		content := msg.Content.Data()
		if len(content.Blocks) == 0 {
			repaired = append(repaired, msg)
			continue
		}

		var blocks []entity.ContentBlock
		for _, block := range content.Blocks {
			if block.Type == entity.BlockToolCall && block.ToolCall != nil {
				if seen[block.ToolCall.ID] {
					logger.Warn("dropping duplicate tool call from history",
						"threadId", msg.ThreadID, "toolCallId", block.ToolCall.ID)
					changed = true
					continue
				}
				seen[block.ToolCall.ID] = true
			}
			blocks = append(blocks, block)
		}

		content.Blocks = blocks
		if content.IsEmpty() {
			changed = true
			continue
		}

		msg.Content = datatypes.NewJSONType(content)
		repaired = append(repaired, msg)
	}

	return repaired, changed
}
