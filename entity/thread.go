package entity

import (
	"time"
)

// ConversationKind classifies the higher-level grouping a thread belongs to.
type ConversationKind string

const (
	ConversationDM        ConversationKind = "dm"
	ConversationChannel   ConversationKind = "channel"
	ConversationGroupChat ConversationKind = "group-chat"
)

// Thread is a single linear conversation. It is created implicitly on the
// first message or part write and only removed by an explicit delete.
type Thread struct {
	ThreadID string `gorm:"column:thread_id;primaryKey"`

	// Kind and ConversationKey are bookkeeping for the conversation the
	// thread belongs to (DM key, channel id or group-chat id).
	Kind            ConversationKind `gorm:"column:kind"`
	ConversationKey string           `gorm:"column:conversation_key"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Thread) TableName() string { return "threads" }
