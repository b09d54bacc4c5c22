package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shohag/mediarelay/internal/models"
	"github.com/shohag/mediarelay/internal/queue"
)

func queueCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and reprocess failed requests",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show failed request counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, log, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := queue.New(store, nil, nil, log).Stats(context.Background())
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	})

	var status string
	var limit int
	pending := &cobra.Command{
		Use:   "pending",
		Short: "List failed requests, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := models.FailedRequestStatus(status)
			if !st.Known() {
				return fmt.Errorf("unknown status %q", status)
			}

			_, store, log, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			rows, err := queue.New(store, nil, nil, log).List(context.Background(), st, limit)
			if err != nil {
				return err
			}
			if rows == nil {
				rows = []models.FailedRequest{}
			}
			return printJSON(rows)
		},
	}
	pending.Flags().StringVar(&status, "status", string(models.FailedPending), "status to list")
	pending.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.AddCommand(pending)

	cmd.AddCommand(&cobra.Command{
		Use:   "reprocess <id>",
		Short: "Re-run one failed request through the full handler stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, log, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			a, err := buildApp(ctx, cfg, store, log)
			if err != nil {
				return err
			}

			ok, msg := a.queue.Reprocess(ctx, args[0])
			if !ok {
				return fmt.Errorf("reprocess %s: %s", args[0], msg)
			}
			fmt.Printf("%s: %s\n", args[0], msg)
			return nil
		},
	})

	return cmd
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
