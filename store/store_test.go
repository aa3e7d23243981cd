package store_test

import (
	"sync"
	"testing"

	"github.com/habiliai/parley/entity"
	"github.com/habiliai/parley/errors"
	"github.com/habiliai/parley/internal/mylog"
	"github.com/habiliai/parley/internal/mytesting"
	"github.com/habiliai/parley/store"
	"github.com/stretchr/testify/suite"
	"gorm.io/datatypes"
)

type StoreTestSuite struct {
	mytesting.Suite

	store store.Store
}

func (s *StoreTestSuite) SetupTest() {
	s.Suite.SetupTest()

	logger := mylog.NewLogger("error", "default")
	st, err := store.NewStore(s.NewDatabasePath(), logger)
	s.Require().NoError(err)
	s.store = st
}

func (s *StoreTestSuite) TestMessageRoundTrip() {
	messages := []entity.Message{
		entity.NewTextMessage(entity.RoleUser, "Message 1", ""),
		entity.NewTextMessage(entity.RoleAssistant, "Message 2", "sunny"),
		entity.NewTextMessage(entity.RoleUser, "Message 3", ""),
	}

	s.Require().NoError(s.store.WriteMessages(s.Context, "thread-1", messages))

	got, err := s.store.ReadMessages(s.Context, "thread-1")
	s.Require().NoError(err)
	s.Require().Len(got, 3)

	for i, msg := range got {
		s.Equal(int64(i), msg.Position)
	}
	s.Equal("Message 2", got[1].Content.Data().Text)
	s.Equal("sunny", got[1].Sender)
}

func (s *StoreTestSuite) TestWriteMessagesReplaces() {
	s.Require().NoError(s.store.WriteMessages(s.Context, "thread-1", []entity.Message{
		entity.NewTextMessage(entity.RoleUser, "old 1", ""),
		entity.NewTextMessage(entity.RoleUser, "old 2", ""),
	}))

	s.Require().NoError(s.store.WriteMessages(s.Context, "thread-1", []entity.Message{
		entity.NewTextMessage(entity.RoleUser, "new", ""),
	}))

	got, err := s.store.ReadMessages(s.Context, "thread-1")
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("new", got[0].Content.Data().Text)
	s.Equal(int64(0), got[0].Position)
}

func (s *StoreTestSuite) TestReadMessagesEmptyThread() {
	got, err := s.store.ReadMessages(s.Context, "no-such-thread")
	s.Require().NoError(err)
	s.Empty(got)
}

func (s *StoreTestSuite) TestAppendPartAssignsPositions() {
	for i := 0; i < 3; i++ {
		_, err := s.store.AppendPart(s.Context, "thread-1", entity.Part{
			Type:   entity.PartTextDelta,
			Sender: "sunny",
		})
		s.Require().NoError(err)
	}

	parts, err := s.store.ReadParts(s.Context, "thread-1")
	s.Require().NoError(err)
	s.Require().Len(parts, 3)
	for i, part := range parts {
		s.Equal(int64(i), part.Position)
	}
}

func (s *StoreTestSuite) TestAppendPartConcurrent() {
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.AppendPart(s.Context, "thread-1", entity.Part{
				Type:   entity.PartTextDelta,
				Sender: "sunny",
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	parts, err := s.store.ReadParts(s.Context, "thread-1")
	s.Require().NoError(err)
	s.Require().Len(parts, n)

	seen := make(map[int64]bool)
	for _, part := range parts {
		s.False(seen[part.Position], "position %d assigned twice", part.Position)
		seen[part.Position] = true
		s.GreaterOrEqual(part.Position, int64(0))
		s.Less(part.Position, int64(n))
	}
}

func (s *StoreTestSuite) TestAgentScopedParts() {
	for _, sender := range []string{"sunny", "eric", "sunny"} {
		_, err := s.store.AppendPart(s.Context, "thread-1", entity.Part{
			Type:   entity.PartTextDelta,
			Sender: sender,
		})
		s.Require().NoError(err)
	}

	parts, err := s.store.ReadAgentParts(s.Context, "thread-1", "sunny")
	s.Require().NoError(err)
	s.Len(parts, 2)

	s.Require().NoError(s.store.TruncateAgentParts(s.Context, "thread-1", "sunny"))

	parts, err = s.store.ReadParts(s.Context, "thread-1")
	s.Require().NoError(err)
	s.Require().Len(parts, 1)
	s.Equal("eric", parts[0].Sender)
}

func (s *StoreTestSuite) TestTruncateParts() {
	for _, sender := range []string{"sunny", "eric"} {
		_, err := s.store.AppendPart(s.Context, "thread-1", entity.Part{
			Type:   entity.PartTextDelta,
			Sender: sender,
		})
		s.Require().NoError(err)
	}

	s.Require().NoError(s.store.TruncateParts(s.Context, "thread-1"))

	parts, err := s.store.ReadParts(s.Context, "thread-1")
	s.Require().NoError(err)
	s.Empty(parts)
}

func (s *StoreTestSuite) TestSubscribeDeliversAppendedParts() {
	ch := s.store.Subscribe(s.Context, "thread-1")

	want, err := s.store.AppendPart(s.Context, "thread-1", entity.Part{
		Type:    entity.PartTextDelta,
		Sender:  "sunny",
		Content: datatypes.NewJSONType(entity.PartContent{Text: "hi"}),
	})
	s.Require().NoError(err)

	got := <-ch
	s.Equal(want.Position, got.Position)
	s.Equal("hi", got.Content.Data().Text)

	// Other threads never leak in.
	_, err = s.store.AppendPart(s.Context, "thread-2", entity.Part{Type: entity.PartTextDelta, Sender: "eric"})
	s.Require().NoError(err)

	select {
	case part, ok := <-ch:
		s.Require().True(ok, "channel closed early")
		s.Fail("unexpected part", "got part for %s", part.ThreadID)
	default:
	}
}

func (s *StoreTestSuite) TestSubscribeClosesOnCancel() {
	ch := s.store.Subscribe(s.Context, "thread-1")
	s.Cancel()

	for range ch {
	}
}

func (s *StoreTestSuite) TestPublishPartDoesNotPersist() {
	ch := s.store.Subscribe(s.Context, "thread-1")

	s.store.PublishPart(s.Context, "thread-1", entity.Part{
		Type:    entity.PartUserInput,
		Content: datatypes.NewJSONType(entity.PartContent{Text: "hello"}),
	})

	got := <-ch
	s.Equal(entity.PartUserInput, got.Type)

	parts, err := s.store.ReadParts(s.Context, "thread-1")
	s.Require().NoError(err)
	s.Empty(parts)
}

func (s *StoreTestSuite) TestGetTypingAgents() {
	add := func(partType entity.PartType, sender string) {
		_, err := s.store.AppendPart(s.Context, "thread-1", entity.Part{Type: partType, Sender: sender})
		s.Require().NoError(err)
	}

	add(entity.PartTextStart, "sunny")
	add(entity.PartTextDelta, "sunny")
	add(entity.PartTextStart, "eric")
	add(entity.PartTextDelta, "eric")
	add(entity.PartTextEnd, "eric")
	// Markers never count as typing.
	add(entity.PartUserInput, "sunny")

	typing, err := s.store.GetTypingAgents(s.Context, "thread-1")
	s.Require().NoError(err)
	s.Equal([]string{"sunny"}, typing)
}

func (s *StoreTestSuite) TestListAndDeleteThreads() {
	s.Require().NoError(s.store.WriteMessages(s.Context, "thread-1", []entity.Message{
		entity.NewTextMessage(entity.RoleUser, "hello", ""),
	}))
	_, err := s.store.AppendPart(s.Context, "thread-1", entity.Part{Type: entity.PartTextDelta, Sender: "sunny"})
	s.Require().NoError(err)
	s.Require().NoError(s.store.WriteMessages(s.Context, "thread-2", nil))

	threads, err := s.store.ListThreads(s.Context)
	s.Require().NoError(err)
	s.Len(threads, 2)

	s.Require().NoError(s.store.DeleteThread(s.Context, "thread-1"))

	threads, err = s.store.ListThreads(s.Context)
	s.Require().NoError(err)
	s.Require().Len(threads, 1)
	s.Equal("thread-2", threads[0].ThreadID)

	messages, err := s.store.ReadMessages(s.Context, "thread-1")
	s.Require().NoError(err)
	s.Empty(messages)

	parts, err := s.store.ReadParts(s.Context, "thread-1")
	s.Require().NoError(err)
	s.Empty(parts)
}

func (s *StoreTestSuite) TestStoreErrorsAreTagged() {
	s.Cancel()

	_, err := s.store.ReadMessages(s.Context, "thread-1")
	if err != nil {
		s.True(errors.Is(err, errors.ErrStore))
	}
}

func TestStore(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}
