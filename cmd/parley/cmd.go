package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/habiliai/parley/config"
	"github.com/habiliai/parley/internal/mylog"
	"github.com/habiliai/parley/store"
	"github.com/spf13/cobra"
)

func newCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parley",
		Short: "Parley multi-agent conversation backbone by HabiliAI",
	}

	cmd.AddCommand(
		newServeCmd(),
		newThreadCmd(),
		newChatCmd(),
	)

	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the thread JSON-RPC API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logConfig, err := config.ResolveLogConfig(false)
			if err != nil {
				return err
			}
			serverConfig, err := config.ResolveServerConfig(false)
			if err != nil {
				return err
			}
			databaseConfig, err := config.ResolveDatabaseConfig(false)
			if err != nil {
				return err
			}

			logger := mylog.NewLogger(logConfig.LogLevel, logConfig.LogHandler)

			st, err := store.NewStore(databaseConfig.DatabasePath, logger)
			if err != nil {
				return err
			}

			server := http.Server{
				Addr: fmt.Sprintf("%s:%d", serverConfig.Host, serverConfig.Port),
				Handler: handlers.CORS(
					handlers.AllowedOrigins([]string{"*"}),
					handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
					handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "Accept"}),
				)(newRouter(logger, st)),
			}

			go func() {
				<-cmd.Context().Done()
				if err := server.Shutdown(context.Background()); err != nil {
					logger.Error("failed to shutdown server", "err", err)
				}
			}()

			logger.Info("Starting server", "addr", serverConfig.Host, "port", serverConfig.Port)
			return server.ListenAndServe()
		},
	}
}
