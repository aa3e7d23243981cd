package entity

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolCall   BlockType = "tool-call"
	BlockToolResult BlockType = "tool-result"
)

// ToolCall is a model-invoked external action. The ID correlates the call
// with its result and must be unique across a thread's message history.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is the outcome of a ToolCall, correlated by ID.
type ToolResult struct {
	ID      string          `json:"id"`
	Name    string          `json:"name,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	IsError bool            `json:"isError,omitempty"`
}

// ContentBlock is one typed element of a message body.
type ContentBlock struct {
	Type BlockType `json:"type"`

	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"toolCall,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
}

// MessageContent is the serialized message body. Text is a shortcut for a
// single text block; Blocks carries structured content.
type MessageContent struct {
	Text   string         `json:"text,omitempty"`
	Blocks []ContentBlock `json:"blocks,omitempty"`
}

// IsEmpty reports whether the content carries neither text nor blocks.
func (c MessageContent) IsEmpty() bool {
	return c.Text == "" && len(c.Blocks) == 0
}

// ToolCallIDs returns the ids of all tool-call blocks in order.
func (c MessageContent) ToolCallIDs() []string {
	var ids []string
	for _, b := range c.Blocks {
		if b.Type == BlockToolCall && b.ToolCall != nil {
			ids = append(ids, b.ToolCall.ID)
		}
	}
	return ids
}

// Message is a finalized turn in a thread. Immutable once appended, except
// when the whole list is rewritten by compaction or history repair.
type Message struct {
	ID       uint   `gorm:"primaryKey"`
	ThreadID string `gorm:"column:thread_id;index"`

	Role     Role                               `gorm:"column:role"`
	Content  datatypes.JSONType[MessageContent] `gorm:"column:content"`
	Position int64                              `gorm:"column:position"`
	// Sender is the agent id that produced the message; empty means human.
	Sender string `gorm:"column:sender"`

	CreatedAt time.Time
}

func (Message) TableName() string { return "messages" }

// NewTextMessage builds a plain text message.
func NewTextMessage(role Role, text string, sender string) Message {
	return Message{
		Role:    role,
		Sender:  sender,
		Content: datatypes.NewJSONType(MessageContent{Text: text}),
	}
}
