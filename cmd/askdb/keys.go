package main

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
)

func newCreateKeyCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "create-key",
		Short: "Create an API key for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			plain, key, err := a.auth.GenerateAPIKey(cmd.Context(), userID)
			if err != nil {
				return errors.Wrap(err, "create api key")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key for %s (id %s):\n\n  %s\n\nStore it now; it cannot be shown again.\n", key.UserID, key.ID, plain)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id that owns the key")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
