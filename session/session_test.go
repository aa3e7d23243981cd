package session_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/habiliai/parley/entity"
	"github.com/habiliai/parley/errors"
	"github.com/habiliai/parley/internal/mylog"
	"github.com/habiliai/parley/internal/mytesting"
	"github.com/habiliai/parley/provider"
	"github.com/habiliai/parley/session"
	"github.com/habiliai/parley/store"
	"github.com/stretchr/testify/suite"
	"gorm.io/datatypes"
)

// repairWindowStore runs fn once, concurrently, the first time the message
// list is read, which lands inside the spawn-time history repair.
type repairWindowStore struct {
	store.Store

	once sync.Once
	fn   func()
	done chan struct{}
}

func (s *repairWindowStore) ReadMessages(ctx context.Context, threadID string) ([]entity.Message, error) {
	s.once.Do(func() {
		go func() {
			defer close(s.done)
			s.fn()
		}()
		time.Sleep(50 * time.Millisecond)
	})
	return s.Store.ReadMessages(ctx, threadID)
}

// appendRefusedStore fails every part append.
type appendRefusedStore struct {
	store.Store
}

func (s *appendRefusedStore) AppendPart(ctx context.Context, threadID string, part entity.Part) (entity.Part, error) {
	return entity.Part{}, errors.New("append refused")
}

type SessionTestSuite struct {
	mytesting.Suite

	store  store.Store
	model  *provider.MockModel
	logger *mylog.Logger
	agent  entity.Agent
}

func (s *SessionTestSuite) SetupTest() {
	s.Suite.SetupTest()

	s.logger = mylog.NewLogger("error", "default")
	st, err := store.NewStore(s.NewDatabasePath(), s.logger)
	s.Require().NoError(err)
	s.store = st

	s.model = provider.NewMockModel()
	s.agent = entity.Agent{
		ID:          "sunny",
		Name:        "Sunny",
		Description: "A cheerful generalist.",
		System:      "You are Sunny.",
	}
}

func (s *SessionTestSuite) spawn(opts ...session.Option) *session.Session {
	sess, err := session.Spawn(s.Context, s.store, s.model, s.logger, s.agent, "thread-1", opts...)
	s.Require().NoError(err)
	return sess
}

func (s *SessionTestSuite) collect(parts <-chan entity.Part, errs <-chan error) []entity.Part {
	var got []entity.Part
	for part := range parts {
		got = append(got, part)
	}
	s.Require().NoError(<-errs)
	return got
}

func (s *SessionTestSuite) TestSendStreamsAndPersists() {
	s.model.EnqueueTextStream("Hello ", "world")

	sess := s.spawn()
	parts := s.collect(sess.Send(s.Context, "hi @sunny"))

	types := make([]entity.PartType, 0, len(parts))
	for _, part := range parts {
		types = append(types, part.Type)
	}
	s.Equal([]entity.PartType{
		entity.PartUserInput,
		entity.PartTextStart,
		entity.PartTextDelta,
		entity.PartTextDelta,
		entity.PartTextEnd,
	}, types)

	messages, err := s.store.ReadMessages(s.Context, "thread-1")
	s.Require().NoError(err)
	s.Require().Len(messages, 3)
	s.Equal(entity.RoleSystem, messages[0].Role)
	s.Equal("sunny", messages[0].Sender)
	s.Equal(entity.RoleUser, messages[1].Role)
	s.Equal("hi @sunny", messages[1].Content.Data().Text)
	s.Equal(entity.RoleAssistant, messages[2].Role)
	s.Equal("Hello world", messages[2].Content.Data().Text)

	buffered, err := s.store.ReadAgentParts(s.Context, "thread-1", "sunny")
	s.Require().NoError(err)
	s.Empty(buffered)
}

func (s *SessionTestSuite) TestContextPrimedOncePerThread() {
	s.model.EnqueueTextStream("first")
	s.model.EnqueueTextStream("second")

	sess := s.spawn()
	s.collect(sess.Send(s.Context, "one"))
	s.collect(sess.Send(s.Context, "two"))

	messages, err := s.store.ReadMessages(s.Context, "thread-1")
	s.Require().NoError(err)

	systemCount := 0
	for _, msg := range messages {
		if msg.Role == entity.RoleSystem {
			systemCount++
		}
	}
	s.Equal(1, systemCount)
}

func (s *SessionTestSuite) TestContextPrimedDetectedAcrossSpawns() {
	s.model.EnqueueTextStream("first")
	s.model.EnqueueTextStream("second")

	s.collect(s.spawn().Send(s.Context, "one"))

	// A fresh session on the same thread must not prime again.
	s.collect(s.spawn().Send(s.Context, "two"))

	messages, err := s.store.ReadMessages(s.Context, "thread-1")
	s.Require().NoError(err)

	systemCount := 0
	for _, msg := range messages {
		if msg.Role == entity.RoleSystem {
			systemCount++
		}
	}
	s.Equal(1, systemCount)
}

func (s *SessionTestSuite) TestSkipUserInput() {
	s.model.EnqueueTextStream("reply")

	sess := s.spawn(session.WithSkipUserInput())
	parts := s.collect(sess.Send(s.Context, "already persisted elsewhere"))

	s.Require().NotEmpty(parts)
	s.Equal(entity.PartTextStart, parts[0].Type)

	messages, err := s.store.ReadMessages(s.Context, "thread-1")
	s.Require().NoError(err)
	for _, msg := range messages {
		s.NotEqual(entity.RoleUser, msg.Role)
	}
}

func (s *SessionTestSuite) TestSpawnFlushesCrashLeftovers() {
	for _, part := range []entity.Part{
		{Type: entity.PartTextStart, Sender: "sunny"},
		{Type: entity.PartTextDelta, Sender: "sunny", Content: datatypes.NewJSONType(entity.PartContent{Text: "partial answer"})},
	} {
		_, err := s.store.AppendPart(s.Context, "thread-1", part)
		s.Require().NoError(err)
	}

	s.spawn()

	messages, err := s.store.ReadMessages(s.Context, "thread-1")
	s.Require().NoError(err)
	s.Require().Len(messages, 1)
	s.Equal("partial answer", messages[0].Content.Data().Text)

	buffered, err := s.store.ReadAgentParts(s.Context, "thread-1", "sunny")
	s.Require().NoError(err)
	s.Empty(buffered)
}

func (s *SessionTestSuite) TestSpawnRepairsDuplicateToolCallIDs() {
	dup := func() entity.Message {
		return entity.Message{
			Role:   entity.RoleAssistant,
			Sender: "sunny",
			Content: datatypes.NewJSONType(entity.MessageContent{Blocks: []entity.ContentBlock{
				{Type: entity.BlockToolCall, ToolCall: &entity.ToolCall{ID: "call-1", Name: "search"}},
			}}),
		}
	}
	s.Require().NoError(s.store.WriteMessages(s.Context, "thread-1", []entity.Message{
		entity.NewTextMessage(entity.RoleUser, "look it up", ""),
		dup(),
		dup(),
	}))

	s.spawn()

	messages, err := s.store.ReadMessages(s.Context, "thread-1")
	s.Require().NoError(err)
	s.Require().Len(messages, 2)
	s.Equal("call-1", messages[1].Content.Data().Blocks[0].ToolCall.ID)
}

func (s *SessionTestSuite) TestSpawnRepairKeepsConcurrentFlush() {
	dup := func() entity.Message {
		return entity.Message{
			Role:   entity.RoleAssistant,
			Sender: "sunny",
			Content: datatypes.NewJSONType(entity.MessageContent{Blocks: []entity.ContentBlock{
				{Type: entity.BlockToolCall, ToolCall: &entity.ToolCall{ID: "call-1", Name: "search"}},
			}}),
		}
	}
	s.Require().NoError(s.store.WriteMessages(s.Context, "thread-1", []entity.Message{dup(), dup()}))

	// Another agent finished a turn; its flush contends with the repair
	// rewrite and must not be lost.
	for _, part := range []entity.Part{
		{Type: entity.PartTextDelta, Sender: "eric", Content: datatypes.NewJSONType(entity.PartContent{Text: "from eric"})},
		{Type: entity.PartTextEnd, Sender: "eric"},
	} {
		_, err := s.store.AppendPart(s.Context, "thread-1", part)
		s.Require().NoError(err)
	}

	ws := &repairWindowStore{Store: s.store, done: make(chan struct{})}
	ws.fn = func() {
		s.NoError(session.Flush(s.Context, s.store, s.logger, "thread-1", "eric"))
	}

	_, err := session.Spawn(s.Context, ws, s.model, s.logger, s.agent, "thread-1")
	s.Require().NoError(err)
	<-ws.done

	messages, err := s.store.ReadMessages(s.Context, "thread-1")
	s.Require().NoError(err)
	s.Require().Len(messages, 2)
	s.Equal("call-1", messages[0].Content.Data().Blocks[0].ToolCall.ID)
	s.Equal("from eric", messages[1].Content.Data().Text)
}

func (s *SessionTestSuite) TestSendRetriesTransientFailures() {
	s.model.EnqueueFailure(&provider.Error{StatusCode: 529, Message: "overloaded"})
	s.model.EnqueueTextStream("recovered")

	sess := s.spawn()
	s.collect(sess.Send(s.Context, "hi"))

	s.Len(s.model.Requests(), 2)

	messages, err := s.store.ReadMessages(s.Context, "thread-1")
	s.Require().NoError(err)
	s.Equal("recovered", messages[len(messages)-1].Content.Data().Text)
}

func (s *SessionTestSuite) TestSendRetryDiscardsPartialStream() {
	s.model.EnqueueBrokenStream(&provider.Error{StatusCode: 529, Message: "overloaded"},
		provider.StreamEvent{Type: entity.PartTextStart},
		provider.StreamEvent{Type: entity.PartTextDelta, Text: "Hel"},
	)
	s.model.EnqueueTextStream("Hello")

	sess := s.spawn()
	s.collect(sess.Send(s.Context, "hi"))

	s.Len(s.model.Requests(), 2)

	// Only the retried attempt's text reaches history.
	messages, err := s.store.ReadMessages(s.Context, "thread-1")
	s.Require().NoError(err)
	s.Equal("Hello", messages[len(messages)-1].Content.Data().Text)

	buffered, err := s.store.ReadAgentParts(s.Context, "thread-1", "sunny")
	s.Require().NoError(err)
	s.Empty(buffered)
}

func (s *SessionTestSuite) TestSendStoreFailureDoesNotStrandStream() {
	events := []provider.StreamEvent{{Type: entity.PartTextStart}}
	for i := 0; i < 40; i++ {
		events = append(events, provider.StreamEvent{Type: entity.PartTextDelta, Text: "x"})
	}
	s.model.EnqueueStream(events...)

	sess, err := session.Spawn(s.Context, &appendRefusedStore{Store: s.store},
		s.model, s.logger, s.agent, "thread-1", session.WithSkipUserInput())
	s.Require().NoError(err)

	parts, errs := sess.Send(s.Context, "hi")
	for range parts {
	}
	s.Require().Error(<-errs)

	s.Require().Eventually(func() bool { return s.model.OpenStreams() == 0 },
		time.Second, 10*time.Millisecond)
}

func (s *SessionTestSuite) TestSendDoesNotRetryClientErrors() {
	s.model.EnqueueFailure(&provider.Error{StatusCode: 400, Message: "bad request"})

	sess := s.spawn()
	parts, errs := sess.Send(s.Context, "hi")
	for range parts {
	}
	s.Require().Error(<-errs)

	s.Len(s.model.Requests(), 1)
}

func (s *SessionTestSuite) TestQueryStructured() {
	s.model.EnqueueStructured(json.RawMessage(`{"answer": 42}`))

	sess := s.spawn()

	var result struct {
		Answer int `json:"answer"`
	}
	s.Require().NoError(sess.Query(s.Context, "what is the answer?", &result))
	s.Equal(42, result.Answer)

	// Query never touches the part buffer.
	parts, err := s.store.ReadParts(s.Context, "thread-1")
	s.Require().NoError(err)
	s.Empty(parts)
}

func TestSession(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
