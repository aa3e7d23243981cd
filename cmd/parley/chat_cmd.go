package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/habiliai/parley"
	"github.com/habiliai/parley/config"
	"github.com/habiliai/parley/entity"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	kvargs := &struct {
		rosterFile string
		agent      string
	}{}

	cmd := &cobra.Command{
		Use:   "chat <thread-id|new> <message>",
		Short: "Send a message to a thread and stream the responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return errors.Errorf("thread-id and message are required")
			}
			threadID, message := args[0], args[1]
			if threadID == "new" {
				threadID = uuid.NewString()
				fmt.Println("thread:", threadID)
			}

			modelConfig, err := config.ResolveModelConfig(false)
			if err != nil {
				return err
			}

			p, err := parley.New(cmd.Context(),
				parley.WithRosterFile(kvargs.rosterFile),
				parley.WithModelConfig(modelConfig),
			)
			if err != nil {
				return err
			}

			// Direct mode talks to one agent without routing.
			if kvargs.agent != "" {
				sess, err := p.Session(cmd.Context(), kvargs.agent, threadID)
				if err != nil {
					return err
				}

				parts, errs := sess.Send(cmd.Context(), message)
				for part := range parts {
					printPart(kvargs.agent, part)
				}
				return <-errs
			}

			// Channel mode: persist the human message, then let the
			// coordinator pick who responds.
			messages, err := p.Store().ReadMessages(cmd.Context(), threadID)
			if err != nil {
				return err
			}
			messages = append(messages, entity.NewTextMessage(entity.RoleUser, message, ""))
			if err := p.Store().WriteMessages(cmd.Context(), threadID, messages); err != nil {
				return err
			}

			var participantIDs []string
			for _, agent := range p.Roster().Agents() {
				participantIDs = append(participantIDs, agent.ID)
			}

			coord, err := p.Coordinator(threadID, participantIDs)
			if err != nil {
				return err
			}

			routed, err := coord.Process(cmd.Context(), message)
			if err != nil {
				return err
			}

			for rp := range routed {
				printPart(rp.AgentID, rp.Part)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&kvargs.rosterFile, "roster", "agents.yaml", "Roster YAML file")
	cmd.Flags().StringVar(&kvargs.agent, "agent", "", "Talk directly to one agent instead of routing")

	return cmd
}

func printPart(agentID string, part entity.Part) {
	content := part.Content.Data()

	switch part.Type {
	case entity.PartTextDelta, entity.PartReasoningDelta:
		fmt.Print(content.Text)
	case entity.PartTextEnd, entity.PartReasoningEnd:
		fmt.Println()
	case entity.PartToolCall:
		if content.ToolCall != nil {
			fmt.Printf("[%s] tool call: %s\n", agentID, content.ToolCall.Name)
		}
	case entity.PartToolResult:
		if content.ToolResult != nil {
			fmt.Printf("[%s] tool result: %s\n", agentID, content.ToolResult.Name)
		}
	}
}
