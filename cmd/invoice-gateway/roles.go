package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/auth"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/infra/adapters/storage"
)

func rolesCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Grant or revoke the invoicer role",
	}
	cmd.AddCommand(roleChangeCmd(load, "grant", "Grant the invoicer role to a user",
		func(ctx context.Context, s storage.Store, userID string) error {
			return s.GrantRole(ctx, userID, auth.RoleInvoicer, time.Now().UTC())
		}))
	cmd.AddCommand(roleChangeCmd(load, "revoke", "Revoke the invoicer role from a user",
		func(ctx context.Context, s storage.Store, userID string) error {
			return s.RevokeRole(ctx, userID, auth.RoleInvoicer, time.Now().UTC())
		}))
	return cmd
}

func roleChangeCmd(load loader, verb, short string, apply func(context.Context, storage.Store, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <user-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := storage.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := apply(ctx, store, args[0]); err != nil {
				return fmt.Errorf("%s %s: %w", verb, args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %s\n", args[0], verb, auth.RoleInvoicer)
			return nil
		},
	}
}
