package entity

import (
	"time"

	"gorm.io/datatypes"
)

type PartType string

const (
	PartTextStart      PartType = "text-start"
	PartTextDelta      PartType = "text-delta"
	PartTextEnd        PartType = "text-end"
	PartToolCall       PartType = "tool-call"
	PartToolResult     PartType = "tool-result"
	PartReasoningStart PartType = "reasoning-start"
	PartReasoningDelta PartType = "reasoning-delta"
	PartReasoningEnd   PartType = "reasoning-end"
	PartUserInput      PartType = "user-input"

	PartCoordinatorThinking       PartType = "coordinator-thinking"
	PartCoordinatorInvoke         PartType = "coordinator-invoke"
	PartCoordinatorInvokeComplete PartType = "coordinator-invoke-complete"
)

// PartContent is the serialized payload of a part. Which fields are set
// depends on the part type.
type PartContent struct {
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"toolCall,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`

	// AgentIDs is the invoke set of a coordinator-invoke part.
	AgentIDs []string `json:"agentIds,omitempty"`
	// AgentID is the subject of a coordinator-invoke-complete part.
	AgentID string `json:"agentId,omitempty"`
}

// Part is an in-flight fragment of an agent's streaming turn, or a
// coordinator lifecycle event, or a user-input marker. Parts are a recovery
// buffer, not a log of record: once flushed into messages they are truncated.
type Part struct {
	ID       uint   `gorm:"primaryKey"`
	ThreadID string `gorm:"column:thread_id;index"`

	Type     PartType                        `gorm:"column:type"`
	Content  datatypes.JSONType[PartContent] `gorm:"column:content"`
	Position int64                           `gorm:"column:position"`
	// Sender scopes the buffer to the agent whose turn produced the part so
	// concurrent agents in one thread do not clobber each other.
	Sender string `gorm:"column:sender"`

	CreatedAt time.Time
}

func (Part) TableName() string { return "parts" }

// IsMessageBoundary reports whether flushing should run after this part is
// appended. Boundaries keep the buffer aligned to logical turn boundaries.
func (p Part) IsMessageBoundary() bool {
	switch p.Type {
	case PartUserInput, PartTextEnd, PartReasoningEnd, PartToolCall, PartToolResult:
		return true
	}
	return false
}

// IsModelOutput reports whether the part belongs to an agent's streamed turn
// as opposed to lifecycle events and user-input markers.
func (p Part) IsModelOutput() bool {
	switch p.Type {
	case PartUserInput, PartCoordinatorThinking, PartCoordinatorInvoke, PartCoordinatorInvokeComplete:
		return false
	}
	return true
}
