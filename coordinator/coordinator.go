// Package coordinator decides, via a routing model call, which subset of a
// multi-party thread's agents should respond to an incoming message, runs
// the selected agents concurrently and merges their streams into one.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/habiliai/parley/entity"
	"github.com/habiliai/parley/internal/msgutils"
	"github.com/habiliai/parley/internal/mylog"
	"github.com/habiliai/parley/provider"
	"github.com/habiliai/parley/session"
	"github.com/habiliai/parley/store"
	"github.com/samber/lo"
	"gorm.io/datatypes"
)

const (
	respondToolName   = "respond"
	recentMessageMax  = 10
	recentExcerptSize = 240
)

// RoutedPart pairs a merged stream element with the agent that produced it.
type RoutedPart struct {
	AgentID string      `json:"agentId"`
	Part    entity.Part `json:"part"`
}

type Coordinator struct {
	logger   *mylog.Logger
	store    store.Store
	model    provider.Model
	threadID string

	participants []entity.Agent
	byID         map[string]entity.Agent

	sessionOpts []session.Option
}

// New builds a coordinator for one channel or group-chat thread. The
// participant set is precomputed by the org resolver and consumed as data.
func New(
	st store.Store,
	model provider.Model,
	logger *mylog.Logger,
	threadID string,
	participants []entity.Agent,
	sessionOpts ...session.Option,
) *Coordinator {
	byID := make(map[string]entity.Agent, len(participants))
	for _, agent := range participants {
		byID[agent.ID] = agent
	}

	return &Coordinator{
		logger:       logger,
		store:        st,
		model:        model,
		threadID:     threadID,
		participants: participants,
		byID:         byID,
		sessionOpts:  sessionOpts,
	}
}

// Process routes one incoming message: Idle → Thinking → Invoking(N) →
// Draining → Idle. The caller has already written the human message to the
// store. The returned stream ends when every spawned agent's stream ends;
// interrupting the read does not abort the agents' writes to the store.
func (c *Coordinator) Process(ctx context.Context, message string) (<-chan RoutedPart, error) {
	// Sessions and store writes outlive an interrupted subscriber.
	workCtx := context.WithoutCancel(ctx)

	if err := c.appendLifecyclePart(workCtx, entity.PartCoordinatorThinking, entity.PartContent{Text: message}); err != nil {
		return nil, err
	}

	mentions := msgutils.ExtractMentions(message)

	agentIDs, err := c.route(workCtx, message, mentions)
	if err != nil {
		return nil, err
	}

	out := make(chan RoutedPart, 16)

	if len(agentIDs) == 0 {
		close(out)
		return out, nil
	}

	if err := c.appendLifecyclePart(workCtx, entity.PartCoordinatorInvoke, entity.PartContent{AgentIDs: agentIDs}); err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	for _, agentID := range agentIDs {
		agent := c.byID[agentID]

		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runAgent(ctx, workCtx, agent, message, out)
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

// route runs the single non-streaming routing call and returns the
// de-duplicated respond set in first-seen order, restricted to participants.
// Explicitly mentioned participants are always part of the set.
func (c *Coordinator) route(ctx context.Context, message string, mentions []string) ([]string, error) {
	recent, err := c.recentMessages(ctx)
	if err != nil {
		return nil, err
	}

	req := provider.Request{
		System: c.routingPrompt(recent, message, mentions),
		Messages: []entity.Message{
			entity.NewTextMessage(entity.RoleUser, message, ""),
		},
		Tools: []provider.ToolDefinition{{
			Name:        respondToolName,
			Description: "Select one agent that should respond to the message. Call once per agent; zero calls means nobody responds.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agentId": map[string]any{
						"type":        "string",
						"description": "The id of the agent that should respond.",
					},
				},
				"required": []string{"agentId"},
			},
		}},
	}

	resp, err := c.model.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	var selected []string
	for _, call := range resp.ToolCalls {
		if call.Name != respondToolName {
			continue
		}
		var args struct {
			AgentID string `json:"agentId"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			c.logger.Warn("unparsable respond call", "threadId", c.threadID, mylog.Err(err))
			continue
		}
		if args.AgentID != "" {
			selected = append(selected, args.AgentID)
		}
	}

	// Mentioned participants respond regardless of the model's picks.
	for _, mention := range mentions {
		if _, ok := c.byID[mention]; ok {
			selected = append(selected, mention)
		}
	}

	selected = lo.Uniq(selected)

	// Unknown agents are skipped with a warning, never a failure.
	agentIDs := make([]string, 0, len(selected))
	for _, agentID := range selected {
		if _, ok := c.byID[agentID]; !ok {
			c.logger.Warn("routing selected unknown agent",
				"threadId", c.threadID, "agentId", agentID)
			continue
		}
		agentIDs = append(agentIDs, agentID)
	}

	return agentIDs, nil
}

func (c *Coordinator) routingPrompt(recent []entity.Message, message string, mentions []string) string {
	var sb strings.Builder

	sb.WriteString("You route an incoming message in a multi-party conversation to the agents that should respond.\n\n")

	sb.WriteString("Participants:\n")
	for _, agent := range c.participants {
		fmt.Fprintf(&sb, "- %s: %s\n", agent.ID, agent.Description)
	}

	if len(recent) > 0 {
		sb.WriteString("\nRecent conversation:\n")
		for _, msg := range recent {
			sender := msg.Sender
			if sender == "" {
				sender = string(msg.Role)
			}
			excerpt := excerptOf(msg.Content.Data())
			fmt.Fprintf(&sb, "[%s] %s\n", sender, excerpt)
		}
	}

	fmt.Fprintf(&sb, "\nIncoming message:\n%s\n", message)

	if len(mentions) > 0 {
		fmt.Fprintf(&sb, "\nDetected mentions: %s\n", strings.Join(mentions, ", "))
	}

	sb.WriteString("\nAlways invoke explicitly-@mentioned agents. Otherwise invoke by topical relevance, " +
		"continuation of an open thread, or explicit delegation. Never invoke on pure announcements or " +
		"chatter directed at humans. Call respond once per agent that should reply; zero, one or many calls are all valid.")

	return sb.String()
}

// excerptOf condenses a message for the routing prompt, falling back to the
// first text block for blocks-only messages and truncating on a rune
// boundary.
func excerptOf(content entity.MessageContent) string {
	excerpt := content.Text
	if excerpt == "" {
		for _, block := range content.Blocks {
			if block.Type == entity.BlockText && block.Text != "" {
				excerpt = block.Text
				break
			}
		}
	}

	if len(excerpt) > recentExcerptSize {
		cut := recentExcerptSize
		for cut > 0 && !utf8.RuneStart(excerpt[cut]) {
			cut--
		}
		excerpt = excerpt[:cut]
	}

	return excerpt
}

func (c *Coordinator) recentMessages(ctx context.Context) ([]entity.Message, error) {
	messages, err := c.store.ReadMessages(ctx, c.threadID)
	if err != nil {
		return nil, err
	}
	if len(messages) > recentMessageMax {
		messages = messages[len(messages)-recentMessageMax:]
	}
	return messages, nil
}

// runAgent spawns one agent's session and forwards its stream. Completion or
// interruption appends a coordinator-invoke-complete part; that cleanup is
// best-effort and its failures are swallowed.
func (c *Coordinator) runAgent(ctx, workCtx context.Context, agent entity.Agent, message string, out chan<- RoutedPart) {
	defer func() {
		err := c.appendLifecyclePart(workCtx, entity.PartCoordinatorInvokeComplete, entity.PartContent{AgentID: agent.ID})
		if err != nil {
			c.logger.Warn("failed to append invoke-complete part",
				"threadId", c.threadID, "agentId", agent.ID, mylog.Err(err))
		}
	}()

	opts := append([]session.Option{session.WithSkipUserInput()}, c.sessionOpts...)
	sess, err := session.Spawn(workCtx, c.store, c.model, c.logger, agent, c.threadID, opts...)
	if err != nil {
		c.logger.Warn("failed to spawn agent session",
			"threadId", c.threadID, "agentId", agent.ID, mylog.Err(err))
		return
	}

	parts, errs := sess.Send(workCtx, message)
	for part := range parts {
		select {
		case out <- RoutedPart{AgentID: agent.ID, Part: part}:
		case <-ctx.Done():
			// Reader is gone; keep draining so store writes continue.
		}
	}

	if err := <-errs; err != nil {
		c.logger.Warn("agent turn failed",
			"threadId", c.threadID, "agentId", agent.ID, mylog.Err(err))
	}
}

func (c *Coordinator) appendLifecyclePart(ctx context.Context, partType entity.PartType, content entity.PartContent) error {
	_, err := c.store.AppendPart(ctx, c.threadID, entity.Part{
		Type:    partType,
		Content: datatypes.NewJSONType(content),
	})
	return err
}
