package coordinator_test

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/habiliai/parley/coordinator"
	"github.com/habiliai/parley/entity"
	"github.com/habiliai/parley/internal/mylog"
	"github.com/habiliai/parley/internal/mytesting"
	"github.com/habiliai/parley/provider"
	"github.com/habiliai/parley/store"
	"github.com/stretchr/testify/suite"
	"gorm.io/datatypes"
)

type CoordinatorTestSuite struct {
	mytesting.Suite

	store  store.Store
	model  *provider.MockModel
	logger *mylog.Logger

	participants []entity.Agent
}

func (s *CoordinatorTestSuite) SetupTest() {
	s.Suite.SetupTest()

	s.logger = mylog.NewLogger("error", "default")
	st, err := store.NewStore(s.NewDatabasePath(), s.logger)
	s.Require().NoError(err)
	s.store = st

	s.model = provider.NewMockModel()
	s.participants = []entity.Agent{
		{ID: "dev", Name: "Dev", Description: "Writes code.", System: "You are Dev."},
		{ID: "qa", Name: "QA", Description: "Tests code.", System: "You are QA."},
	}
}

func (s *CoordinatorTestSuite) newCoordinator() *coordinator.Coordinator {
	return coordinator.New(s.store, s.model, s.logger, "thread-1", s.participants)
}

func (s *CoordinatorTestSuite) respondCall(agentID string) entity.ToolCall {
	args, err := json.Marshal(map[string]string{"agentId": agentID})
	s.Require().NoError(err)
	return entity.ToolCall{ID: "route-" + agentID, Name: "respond", Arguments: args}
}

func (s *CoordinatorTestSuite) writeUserMessage(text string) {
	messages, err := s.store.ReadMessages(s.Context, "thread-1")
	s.Require().NoError(err)
	messages = append(messages, entity.NewTextMessage(entity.RoleUser, text, ""))
	s.Require().NoError(s.store.WriteMessages(s.Context, "thread-1", messages))
}

func (s *CoordinatorTestSuite) drain(routed <-chan coordinator.RoutedPart) map[string][]entity.Part {
	byAgent := make(map[string][]entity.Part)
	for rp := range routed {
		byAgent[rp.AgentID] = append(byAgent[rp.AgentID], rp.Part)
	}
	return byAgent
}

func (s *CoordinatorTestSuite) TestProcessInvokesSelectedAgent() {
	s.writeUserMessage("can someone fix the build?")
	s.model.EnqueueResponse(&provider.Response{ToolCalls: []entity.ToolCall{s.respondCall("dev")}})
	s.model.EnqueueTextStream("On it.")

	routed, err := s.newCoordinator().Process(s.Context, "can someone fix the build?")
	s.Require().NoError(err)

	byAgent := s.drain(routed)
	s.Require().Contains(byAgent, "dev")
	s.NotContains(byAgent, "qa")

	// The agent turn landed in history without duplicating the user message.
	messages, err := s.store.ReadMessages(s.Context, "thread-1")
	s.Require().NoError(err)

	userCount := 0
	for _, msg := range messages {
		if msg.Role == entity.RoleUser {
			userCount++
		}
	}
	s.Equal(1, userCount)
	s.Equal("On it.", messages[len(messages)-1].Content.Data().Text)
}

func (s *CoordinatorTestSuite) TestProcessAlwaysInvokesMentioned() {
	s.writeUserMessage("@qa please take a look")
	// Routing model picks nobody; the mention still wins.
	s.model.EnqueueResponse(&provider.Response{Text: "nobody needs to respond"})
	s.model.EnqueueTextStream("Looking.")

	routed, err := s.newCoordinator().Process(s.Context, "@qa please take a look")
	s.Require().NoError(err)

	byAgent := s.drain(routed)
	s.Require().Contains(byAgent, "qa")
	s.NotContains(byAgent, "dev")
}

func (s *CoordinatorTestSuite) TestProcessEmptyRespondSet() {
	s.writeUserMessage("just shipped the release, celebrating!")
	s.model.EnqueueResponse(&provider.Response{Text: "announcement, no response needed"})

	routed, err := s.newCoordinator().Process(s.Context, "just shipped the release, celebrating!")
	s.Require().NoError(err)

	s.Empty(s.drain(routed))

	// Thinking is recorded even when nobody is invoked.
	parts, err := s.store.ReadParts(s.Context, "thread-1")
	s.Require().NoError(err)
	s.Require().NotEmpty(parts)
	s.Equal(entity.PartCoordinatorThinking, parts[0].Type)
	for _, part := range parts {
		s.NotEqual(entity.PartCoordinatorInvoke, part.Type)
	}
}

func (s *CoordinatorTestSuite) TestProcessSkipsUnknownAgents() {
	s.writeUserMessage("ping")
	s.model.EnqueueResponse(&provider.Response{ToolCalls: []entity.ToolCall{
		s.respondCall("nobody-by-that-name"),
		s.respondCall("dev"),
	}})
	s.model.EnqueueTextStream("pong")

	routed, err := s.newCoordinator().Process(s.Context, "ping")
	s.Require().NoError(err)

	byAgent := s.drain(routed)
	s.Require().Len(byAgent, 1)
	s.Contains(byAgent, "dev")
}

func (s *CoordinatorTestSuite) TestProcessDeduplicatesRespondCalls() {
	s.writeUserMessage("@dev ping")
	s.model.EnqueueResponse(&provider.Response{ToolCalls: []entity.ToolCall{
		s.respondCall("dev"),
		s.respondCall("dev"),
	}})
	s.model.EnqueueTextStream("pong")

	routed, err := s.newCoordinator().Process(s.Context, "@dev ping")
	s.Require().NoError(err)

	byAgent := s.drain(routed)
	s.Require().Len(byAgent, 1)

	// One invocation means exactly one invoke-complete.
	parts, err := s.store.ReadParts(s.Context, "thread-1")
	s.Require().NoError(err)

	completes := 0
	for _, part := range parts {
		if part.Type == entity.PartCoordinatorInvokeComplete {
			completes++
			s.Equal("dev", part.Content.Data().AgentID)
		}
	}
	s.Equal(1, completes)
}

func (s *CoordinatorTestSuite) TestProcessConcurrentFanOut() {
	s.writeUserMessage("@dev @qa standup time")
	s.model.EnqueueResponse(&provider.Response{Text: "mentions cover it"})
	s.model.EnqueueTextStream("dev here")
	s.model.EnqueueTextStream("qa here")

	routed, err := s.newCoordinator().Process(s.Context, "@dev @qa standup time")
	s.Require().NoError(err)

	byAgent := s.drain(routed)
	s.Require().Len(byAgent, 2)
	s.Contains(byAgent, "dev")
	s.Contains(byAgent, "qa")

	// Lifecycle bookkeeping: one invoke with both agents, two completes.
	parts, err := s.store.ReadParts(s.Context, "thread-1")
	s.Require().NoError(err)

	var invokes, completes int
	for _, part := range parts {
		switch part.Type {
		case entity.PartCoordinatorInvoke:
			invokes++
			s.ElementsMatch([]string{"dev", "qa"}, part.Content.Data().AgentIDs)
		case entity.PartCoordinatorInvokeComplete:
			completes++
		}
	}
	s.Equal(1, invokes)
	s.Equal(2, completes)
}

func (s *CoordinatorTestSuite) TestRoutingPromptExcerptsHistory() {
	// The odd leading byte makes a naive 240-byte cut land mid-rune.
	long := "a" + strings.Repeat("é", 200)
	s.writeUserMessage(long)

	messages, err := s.store.ReadMessages(s.Context, "thread-1")
	s.Require().NoError(err)
	messages = append(messages, entity.Message{
		Role:   entity.RoleAssistant,
		Sender: "dev",
		Content: datatypes.NewJSONType(entity.MessageContent{Blocks: []entity.ContentBlock{
			{Type: entity.BlockText, Text: "blocks only answer"},
		}}),
	})
	s.Require().NoError(s.store.WriteMessages(s.Context, "thread-1", messages))

	s.model.EnqueueResponse(&provider.Response{Text: "nobody needs to respond"})

	routed, err := s.newCoordinator().Process(s.Context, "anything new?")
	s.Require().NoError(err)
	s.Empty(s.drain(routed))

	requests := s.model.Requests()
	s.Require().Len(requests, 1)
	s.True(utf8.ValidString(requests[0].System))
	s.Contains(requests[0].System, "blocks only answer")
}

func TestCoordinator(t *testing.T) {
	suite.Run(t, new(CoordinatorTestSuite))
}
