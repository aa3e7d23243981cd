// Package session runs one agent's conversational turn loop against the
// store: at most one model call in flight per (thread, agent), streamed parts
// buffered for crash recovery, and flushes into finalized messages at
// message boundaries.
package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/habiliai/parley/entity"
	"github.com/habiliai/parley/internal/mylog"
	"github.com/habiliai/parley/org"
	"github.com/habiliai/parley/provider"
	"github.com/habiliai/parley/store"
	"gorm.io/datatypes"
)

const (
	retryMaxAttempts    = 3
	retryInitialBackoff = time.Second
)

type (
	Options struct {
		// SkipUserInput is set by the coordinator: its caller already wrote
		// the human message to the store, persisting it again here would
		// duplicate it.
		SkipUserInput bool
		Tools         []provider.ToolDefinition
		Roster        *org.Roster
	}
	Option func(*Options)

	Session struct {
		logger   *mylog.Logger
		store    store.Store
		model    provider.Model
		agent    entity.Agent
		threadID string
		opts     Options

		// sendMu serializes send/query calls; flushMu serializes flushes.
		// Flush needs its own permit because it is triggered both
		// synchronously mid-stream and externally at spawn time.
		sendMu  sync.Mutex
		flushMu sync.Mutex

		contextSent bool
	}
)

func WithSkipUserInput() Option {
	return func(o *Options) { o.SkipUserInput = true }
}

func WithTools(tools ...provider.ToolDefinition) Option {
	return func(o *Options) { o.Tools = append(o.Tools, tools...) }
}

func WithRoster(roster *org.Roster) Option {
	return func(o *Options) { o.Roster = roster }
}

// Spawn prepares a session for one (thread, agent) pair: it first flushes any
// parts left over from a previous, possibly crashed, run, then hydrates the
// thread history and repairs duplicate tool-call ids in place.
func Spawn(
	ctx context.Context,
	st store.Store,
	model provider.Model,
	logger *mylog.Logger,
	agent entity.Agent,
	threadID string,
	optFns ...Option,
) (*Session, error) {
	s := &Session{
		logger:   logger,
		store:    st,
		model:    model,
		agent:    agent,
		threadID: threadID,
	}
	for _, fn := range optFns {
		fn(&s.opts)
	}

	// Crash recovery comes before anything else.
	if err := s.flush(ctx); err != nil {
		return nil, err
	}

	// The repair is a full-list rewrite and holds the thread lock like every
	// other read-modify-write on the message list.
	unlock := lockThread(threadID)
	messages, err := st.ReadMessages(ctx, threadID)
	if err != nil {
		unlock()
		return nil, err
	}

	repaired, changed := repairDuplicateToolCalls(messages, logger)
	if changed {
		if err := st.WriteMessages(ctx, threadID, repaired); err != nil {
			unlock()
			return nil, err
		}
	}
	unlock()

	// The context preamble is sent once per thread. A persisted system
	// message from this agent means an earlier turn already primed it.
	for _, msg := range repaired {
		if msg.Role == entity.RoleSystem && msg.Sender == agent.ID {
			s.contextSent = true
			break
		}
	}

	return s, nil
}

func (s *Session) Agent() entity.Agent { return s.agent }

func (s *Session) ThreadID() string { return s.threadID }

// Send streams one conversational turn. Every emitted part is tagged with
// the agent id, appended to the store's part buffer and re-emitted to the
// caller; message-boundary parts trigger a synchronous flush before the next
// part is processed.
func (s *Session) Send(ctx context.Context, prompt string) (<-chan entity.Part, <-chan error) {
	out := make(chan entity.Part, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		s.sendMu.Lock()
		defer s.sendMu.Unlock()

		if err := s.primeContext(ctx); err != nil {
			errCh <- err
			return
		}

		if !s.opts.SkipUserInput {
			if err := s.writeUserInput(ctx, prompt, out); err != nil {
				errCh <- err
				return
			}
		}

		req, err := s.buildRequest(ctx)
		if err != nil {
			errCh <- err
			return
		}

		if err := s.streamWithRetry(ctx, req, out); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

// Query runs a one-shot structured generation under the same send permit and
// retry policy as Send. It does not go through the parts buffer and does not
// trigger a flush. The result schema is reflected from result's type.
func (s *Session) Query(ctx context.Context, prompt string, result any) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.primeContext(ctx); err != nil {
		return err
	}

	schema, err := provider.ReflectSchema(result)
	if err != nil {
		return err
	}

	req, err := s.buildRequest(ctx)
	if err != nil {
		return err
	}
	req.Messages = append(req.Messages, entity.NewTextMessage(entity.RoleUser, prompt, ""))

	var raw json.RawMessage
	backoff := retryInitialBackoff
	for attempt := 1; ; attempt++ {
		raw, err = s.model.GenerateStructured(ctx, req, schema)
		if err == nil {
			break
		}
		if !provider.IsRetryable(err) || attempt >= retryMaxAttempts {
			return err
		}
		s.logger.Warn("retrying structured model call",
			"agentId", s.agent.ID, "threadId", s.threadID, "attempt", attempt, mylog.Err(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}

	return json.Unmarshal(raw, result)
}

// primeContext persists the agent's system framing and collaborator context
// as a system message, exactly once per thread.
func (s *Session) primeContext(ctx context.Context) error {
	if s.contextSent {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(s.agent.System)
	if s.agent.ContextBlock != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(s.agent.ContextBlock)
	}

	if sb.Len() > 0 {
		unlock := lockThread(s.threadID)
		messages, err := s.store.ReadMessages(ctx, s.threadID)
		if err != nil {
			unlock()
			return err
		}
		messages = append(messages, entity.NewTextMessage(entity.RoleSystem, sb.String(), s.agent.ID))
		if err := s.store.WriteMessages(ctx, s.threadID, messages); err != nil {
			unlock()
			return err
		}
		unlock()
	}

	s.contextSent = true
	return nil
}

// writeUserInput persists the human prompt as a message and appends a
// user-input marker part, which is itself a message boundary.
func (s *Session) writeUserInput(ctx context.Context, prompt string, out chan<- entity.Part) error {
	unlock := lockThread(s.threadID)
	messages, err := s.store.ReadMessages(ctx, s.threadID)
	if err != nil {
		unlock()
		return err
	}
	messages = append(messages, entity.NewTextMessage(entity.RoleUser, prompt, ""))
	if err := s.store.WriteMessages(ctx, s.threadID, messages); err != nil {
		unlock()
		return err
	}
	unlock()

	marker := entity.Part{
		Type:    entity.PartUserInput,
		Sender:  s.agent.ID,
		Content: datatypes.NewJSONType(entity.PartContent{Text: prompt}),
	}
	stored, err := s.store.AppendPart(ctx, s.threadID, marker)
	if err != nil {
		return err
	}
	if err := s.flush(ctx); err != nil {
		return err
	}
	s.emit(ctx, out, stored)

	return nil
}

func (s *Session) buildRequest(ctx context.Context) (provider.Request, error) {
	messages, err := s.store.ReadMessages(ctx, s.threadID)
	if err != nil {
		return provider.Request{}, err
	}

	return provider.Request{
		Messages: messages,
		Tools:    s.opts.Tools,
	}, nil
}

func (s *Session) streamWithRetry(ctx context.Context, req provider.Request, out chan<- entity.Part) error {
	backoff := retryInitialBackoff
	for attempt := 1; ; attempt++ {
		err := s.streamOnce(ctx, req, out)
		if err == nil {
			return nil
		}
		if !provider.IsRetryable(err) || attempt >= retryMaxAttempts {
			return err
		}
		// The retry regenerates the whole turn; the failed attempt's
		// unflushed parts must not be folded into the retried flush.
		if terr := s.store.TruncateAgentParts(ctx, s.threadID, s.agent.ID); terr != nil {
			return terr
		}
		s.logger.Warn("retrying model call",
			"agentId", s.agent.ID, "threadId", s.threadID, "attempt", attempt, mylog.Err(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
}

func (s *Session) streamOnce(ctx context.Context, req provider.Request, out chan<- entity.Part) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, errs := s.model.GenerateStream(streamCtx, req)

	// Bailing out on a store error must not strand the provider goroutine
	// behind a full event channel.
	fail := func(err error) error {
		cancel()
		for range events {
		}
		return err
	}

	for ev := range events {
		part := eventToPart(ev, s.agent.ID)

		stored, err := s.store.AppendPart(ctx, s.threadID, part)
		if err != nil {
			return fail(err)
		}

		if stored.IsMessageBoundary() {
			if err := s.flush(ctx); err != nil {
				return fail(err)
			}
		}

		s.emit(ctx, out, stored)
	}

	return <-errs
}

// emit forwards a part to the caller without letting an absent reader stall
// persistence: when the caller is gone, parts keep flowing to the store.
func (s *Session) emit(ctx context.Context, out chan<- entity.Part, part entity.Part) {
	select {
	case out <- part:
	case <-ctx.Done():
	}
}

func (s *Session) flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	return Flush(ctx, s.store, s.logger, s.threadID, s.agent.ID)
}

func eventToPart(ev provider.StreamEvent, agentID string) entity.Part {
	return entity.Part{
		Type:   ev.Type,
		Sender: agentID,
		Content: datatypes.NewJSONType(entity.PartContent{
			Text:       ev.Text,
			ToolCall:   ev.ToolCall,
			ToolResult: ev.ToolResult,
		}),
	}
}
