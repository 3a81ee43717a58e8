package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/shex1627/warcraftlogs/internal/wcl"
	"github.com/spf13/cobra"
)

var errTokenRejected = errors.New("token rejected")

func newValidateCmd(newClient clientFactory) *cobra.Command {
	var accessToken string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that an access token is accepted by the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, newClient, func(ctx context.Context, client *wcl.Client) error {
				if !client.Executor.ValidateToken(ctx, accessToken) {
					fmt.Fprintln(cmd.OutOrStdout(), "invalid")
					return errTokenRejected
				}

				_, err := fmt.Fprintln(cmd.OutOrStdout(), "valid")
				return err
			})
		},
	}

	cmd.Flags().StringVar(&accessToken, "token", "", "Access token to check")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func newClearCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, newClient, func(ctx context.Context, client *wcl.Client) error {
				client.Acquirer.ClearTokens(ctx)

				_, err := fmt.Fprintln(cmd.OutOrStdout(), "token cache cleared")
				return err
			})
		},
	}
}
