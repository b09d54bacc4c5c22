package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shohag/mediarelay/internal/credential"
	"github.com/shohag/mediarelay/internal/models"
)

func credentialCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage imported cookie credentials",
	}

	var name, source string
	importCmd := &cobra.Command{
		Use:   "import <cookies.txt>",
		Short: "Import a Netscape cookie file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if name == "" {
				name = args[0]
			}

			return withCredentials(*configPath, func(ctx context.Context, pool *credential.Pool) error {
				c, err := pool.Import(ctx, name, source, string(raw))
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	importCmd.Flags().StringVar(&name, "name", "", "display name (defaults to the file path)")
	importCmd.Flags().StringVar(&source, "source", "file", "source kind: file, browser or manual")
	cmd.AddCommand(importCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List credentials and their usage counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCredentials(*configPath, func(ctx context.Context, pool *credential.Pool) error {
				creds := pool.List()
				if creds == nil {
					creds = []models.Credential{}
				}
				return printJSON(creds)
			})
		},
	})

	cmd.AddCommand(statusCmd(configPath, "disable", models.CredentialDisabled))
	cmd.AddCommand(statusCmd(configPath, "enable", models.CredentialUnknown))

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a credential and its cookie file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCredentials(*configPath, func(ctx context.Context, pool *credential.Pool) error {
				if err := pool.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	})

	return cmd
}

func statusCmd(configPath *string, use string, status models.CredentialStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: fmt.Sprintf("Set a credential's status to %s", status),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCredentials(*configPath, func(ctx context.Context, pool *credential.Pool) error {
				if err := pool.SetStatus(ctx, args[0], status); err != nil {
					return err
				}
				fmt.Printf("%s is now %s\n", args[0], status)
				return nil
			})
		},
	}
}

func withCredentials(configPath string, fn func(ctx context.Context, pool *credential.Pool) error) error {
	cfg, store, log, cleanup, err := storeFromConfig(configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	pool := credential.NewPool(store, cfg.Credentials.CookiesDir, log)
	if err := pool.Load(ctx); err != nil {
		return err
	}
	return fn(ctx, pool)
}
