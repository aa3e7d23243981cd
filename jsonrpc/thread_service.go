package jsonrpc

import (
	"net/http"
	"time"

	"github.com/gorilla/rpc/v2"
	"github.com/habiliai/parley/entity"
	"github.com/habiliai/parley/errors"
	"github.com/habiliai/parley/store"
)

type (
	ThreadService struct {
		store store.Store
	}

	Thread struct {
		ThreadId        string    `json:"threadId"`
		Kind            string    `json:"kind"`
		ConversationKey string    `json:"conversationKey,omitempty"`
		CreatedAt       time.Time `json:"createdAt"`
		UpdatedAt       time.Time `json:"updatedAt"`
	}

	MessageToolCall struct {
		Id        string `json:"id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments,omitempty"`
		Result    string `json:"result,omitempty"`
		IsError   bool   `json:"isError,omitempty"`
	}

	Message struct {
		Id        uint32             `json:"id"`
		Role      string             `json:"role"`
		Sender    string             `json:"sender,omitempty"`
		Content   string             `json:"content,omitempty"`
		ToolCalls []*MessageToolCall `json:"toolCalls,omitempty"`
		CreatedAt time.Time          `json:"createdAt"`
	}

	ListThreadsRequest  struct{}
	ListThreadsResponse struct {
		Threads []*Thread `json:"threads"`
	}

	// Cursor is the thread position of the first message to return. History
	// rewrites reassign row ids but keep the positions of an unchanged
	// prefix, so a cursor stays valid across flushes.
	GetMessagesRequest struct {
		ThreadId string `json:"threadId"`
		Cursor   uint32 `json:"cursor,omitempty"`
		Limit    uint32 `json:"limit,omitempty"`
	}
	GetMessagesResponse struct {
		Messages   []*Message `json:"messages"`
		NextCursor uint32     `json:"nextCursor"`
	}

	AddMessageRequest struct {
		ThreadId string `json:"threadId"`
		Content  string `json:"content"`
		Sender   string `json:"sender,omitempty"`
	}
	AddMessageResponse struct {
		MessageId uint32 `json:"messageId"`
	}

	GetTypingAgentsRequest struct {
		ThreadId string `json:"threadId"`
	}
	GetTypingAgentsResponse struct {
		AgentIds []string `json:"agentIds"`
	}

	DeleteThreadRequest struct {
		ThreadId string `json:"threadId"`
	}
	DeleteThreadResponse struct{}
)

func (s *ThreadService) ListThreads(r *http.Request, args *ListThreadsRequest, reply *ListThreadsResponse) error {
	threads, err := s.store.ListThreads(r.Context())
	if err != nil {
		return err
	}

	for _, thr := range threads {
		reply.Threads = append(reply.Threads, &Thread{
			ThreadId:        thr.ThreadID,
			Kind:            string(thr.Kind),
			ConversationKey: thr.ConversationKey,
			CreatedAt:       thr.CreatedAt,
			UpdatedAt:       thr.UpdatedAt,
		})
	}

	return nil
}

func (s *ThreadService) GetMessages(r *http.Request, args *GetMessagesRequest, reply *GetMessagesResponse) error {
	if args.ThreadId == "" {
		return errors.Wrapf(errors.ErrInvalidParams, "threadId is required")
	}

	messages, err := s.store.ReadMessages(r.Context(), args.ThreadId)
	if err != nil {
		return err
	}

	limit := int(args.Limit)
	if limit <= 0 {
		limit = 50
	}

	cursor := args.Cursor
	for _, msg := range messages {
		if uint32(msg.Position) < args.Cursor {
			continue
		}
		if len(reply.Messages) >= limit {
			break
		}

		content := msg.Content.Data()
		res := Message{
			Id:        uint32(msg.ID),
			Role:      string(msg.Role),
			Sender:    msg.Sender,
			Content:   content.Text,
			CreatedAt: msg.CreatedAt,
		}
		for _, block := range content.Blocks {
			switch block.Type {
			case entity.BlockText:
				if res.Content == "" {
					res.Content = block.Text
				}
			case entity.BlockToolCall:
				res.ToolCalls = append(res.ToolCalls, &MessageToolCall{
					Id:        block.ToolCall.ID,
					Name:      block.ToolCall.Name,
					Arguments: string(block.ToolCall.Arguments),
				})
			case entity.BlockToolResult:
				res.ToolCalls = append(res.ToolCalls, &MessageToolCall{
					Id:      block.ToolResult.ID,
					Name:    block.ToolResult.Name,
					Result:  string(block.ToolResult.Result),
					IsError: block.ToolResult.IsError,
				})
			}
		}

		reply.Messages = append(reply.Messages, &res)
		cursor = uint32(msg.Position) + 1
	}
	reply.NextCursor = cursor

	return nil
}

func (s *ThreadService) AddMessage(r *http.Request, args *AddMessageRequest, reply *AddMessageResponse) error {
	if args.ThreadId == "" {
		return errors.Wrapf(errors.ErrInvalidParams, "threadId is required")
	}
	if args.Content == "" {
		return errors.Wrapf(errors.ErrInvalidParams, "content is required")
	}

	messages, err := s.store.ReadMessages(r.Context(), args.ThreadId)
	if err != nil {
		return err
	}

	messages = append(messages, entity.NewTextMessage(entity.RoleUser, args.Content, args.Sender))
	if err := s.store.WriteMessages(r.Context(), args.ThreadId, messages); err != nil {
		return err
	}

	written, err := s.store.ReadMessages(r.Context(), args.ThreadId)
	if err != nil {
		return err
	}
	if len(written) > 0 {
		reply.MessageId = uint32(written[len(written)-1].ID)
	}

	return nil
}

func (s *ThreadService) GetTypingAgents(r *http.Request, args *GetTypingAgentsRequest, reply *GetTypingAgentsResponse) error {
	if args.ThreadId == "" {
		return errors.Wrapf(errors.ErrInvalidParams, "threadId is required")
	}

	agentIDs, err := s.store.GetTypingAgents(r.Context(), args.ThreadId)
	if err != nil {
		return err
	}

	reply.AgentIds = agentIDs
	return nil
}

func (s *ThreadService) DeleteThread(r *http.Request, args *DeleteThreadRequest, reply *DeleteThreadResponse) error {
	if args.ThreadId == "" {
		return errors.Wrapf(errors.ErrInvalidParams, "threadId is required")
	}

	return s.store.DeleteThread(r.Context(), args.ThreadId)
}

var (
	servicePrefix = "habiliai.parley.thread.v1"
)

func WithThreads(st store.Store) ServerOption {
	return func(server *rpc.Server) {
		svc := &ThreadService{store: st}
		if err := server.RegisterService(svc, servicePrefix); err != nil {
			panic(err)
		}
	}
}
