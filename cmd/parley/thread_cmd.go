package main

import (
	"fmt"
	"strings"

	"github.com/habiliai/parley/config"
	"github.com/habiliai/parley/internal/mylog"
	"github.com/habiliai/parley/store"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func openStore(cmd *cobra.Command) (store.Store, error) {
	logConfig, err := config.ResolveLogConfig(false)
	if err != nil {
		return nil, err
	}
	databaseConfig, err := config.ResolveDatabaseConfig(false)
	if err != nil {
		return nil, err
	}

	logger := mylog.NewLogger(logConfig.LogLevel, logConfig.LogHandler)
	return store.NewStore(databaseConfig.DatabasePath, logger)
}

func newThreadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "thread",
		Short:   "Thread commands",
		Aliases: []string{"threads"},
	}

	listCmd := func() *cobra.Command {
		return &cobra.Command{
			Use:   "list",
			Short: "List threads",
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := openStore(cmd)
				if err != nil {
					return err
				}

				threads, err := st.ListThreads(cmd.Context())
				if err != nil {
					return err
				}

				for _, thr := range threads {
					fmt.Printf("%s\t%s\t%s\n", thr.ThreadID, thr.Kind, thr.UpdatedAt.Format("2006-01-02 15:04:05"))
				}

				return nil
			},
		}
	}

	listMessagesCmd := func() *cobra.Command {
		return &cobra.Command{
			Use:   "list-messages <thread-id>",
			Short: "List messages in a thread",
			RunE: func(cmd *cobra.Command, args []string) error {
				if len(args) < 1 {
					return errors.Errorf("thread-id is required")
				}

				st, err := openStore(cmd)
				if err != nil {
					return err
				}

				messages, err := st.ReadMessages(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				for _, msg := range messages {
					sender := msg.Sender
					if sender == "" {
						sender = string(msg.Role)
					}

					content := msg.Content.Data()
					text := content.Text
					if text == "" && len(content.Blocks) > 0 {
						var parts []string
						for _, block := range content.Blocks {
							switch {
							case block.Text != "":
								parts = append(parts, block.Text)
							case block.ToolCall != nil:
								parts = append(parts, fmt.Sprintf("<tool-call %s>", block.ToolCall.Name))
							case block.ToolResult != nil:
								parts = append(parts, fmt.Sprintf("<tool-result %s>", block.ToolResult.Name))
							}
						}
						text = strings.Join(parts, " ")
					}

					fmt.Printf("[%s] %s\n", sender, text)
				}

				return nil
			},
		}
	}

	typingCmd := func() *cobra.Command {
		return &cobra.Command{
			Use:   "typing <thread-id>",
			Short: "Show agents currently typing in a thread",
			RunE: func(cmd *cobra.Command, args []string) error {
				if len(args) < 1 {
					return errors.Errorf("thread-id is required")
				}

				st, err := openStore(cmd)
				if err != nil {
					return err
				}

				agentIDs, err := st.GetTypingAgents(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				for _, agentID := range agentIDs {
					fmt.Println(agentID)
				}

				return nil
			},
		}
	}

	deleteCmd := func() *cobra.Command {
		return &cobra.Command{
			Use:   "delete <thread-id>",
			Short: "Delete a thread and all its messages",
			RunE: func(cmd *cobra.Command, args []string) error {
				if len(args) < 1 {
					return errors.Errorf("thread-id is required")
				}

				st, err := openStore(cmd)
				if err != nil {
					return err
				}

				return st.DeleteThread(cmd.Context(), args[0])
			},
		}
	}

	cmd.AddCommand(
		listCmd(),
		listMessagesCmd(),
		typingCmd(),
		deleteCmd(),
	)

	return cmd
}
