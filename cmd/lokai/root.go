package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lukaszKielar/lokai-web/internal/config"
	"github.com/lukaszKielar/lokai-web/pkg/logger"
)

type rootOptions struct {
	envFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "lokai",
		Short:         "Chat with locally hosted language models",
		Long:          `lokai serves a WebSocket chat API backed by a local inference server such as Ollama.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional dotenv file loaded before the environment")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newConversationCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	var log *logger.Logger
	if os.Getenv("ENV") == "development" {
		log, err = logger.NewDevelopment()
	} else {
		log, err = logger.New(cfg.LogLevel)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.SetGlobal(log)

	return cfg, log, nil
}
