package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lukaszKielar/lokai-web/internal/model"
	"github.com/lukaszKielar/lokai-web/internal/service"
	"github.com/lukaszKielar/lokai-web/internal/storage"
)

func newConversationCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversation",
		Short: "Manage conversations",
	}

	var req model.CreateConversationRequest
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a conversation if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConversationCreate(cmd.Context(), opts, &req, cmd.OutOrStdout())
		},
	}
	create.Flags().StringVar(&req.Name, "name", "", "conversation name")
	create.Flags().StringVar(&req.ID, "id", "", "conversation id (UUID); generated when empty")
	_ = create.MarkFlagRequired("name")

	cmd.AddCommand(create)
	return cmd
}

func runConversationCreate(ctx context.Context, opts *rootOptions, req *model.CreateConversationRequest, out io.Writer) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	conv, err := service.NewConversationService(store, log).Create(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(conv)
}
