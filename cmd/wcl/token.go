package main

import (
	"context"
	"fmt"

	"github.com/shex1627/warcraftlogs/internal/wcl"
	"github.com/spf13/cobra"
)

func newTokenCmd(newClient clientFactory) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Print an access token",
	}

	tokenCmd.AddCommand(
		&cobra.Command{
			Use:   "client",
			Short: "Print a client-credentials token for the public API",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(cmd, newClient, func(ctx context.Context, client *wcl.Client) error {
					accessToken, err := client.Acquirer.ClientToken(ctx)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(cmd.OutOrStdout(), accessToken)
					return err
				})
			},
		},
		newUserTokenCmd(newClient),
	)

	return tokenCmd
}

func newUserTokenCmd(newClient clientFactory) *cobra.Command {
	var refreshToken, userID string

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Print a user token, refreshing it when needed",
		Long: `Print an access token for a user's private API scope.

The cached token for the user is printed while it is valid. Otherwise the
refresh token is exchanged for a new one.

Examples:
  wcl token user --user 42 --refresh-token "$REFRESH"
  wcl token user --user 42      # cached token only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, newClient, func(ctx context.Context, client *wcl.Client) error {
				accessToken, err := client.Acquirer.UserToken(ctx, refreshToken, userID)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), accessToken)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "Refresh token for the user")
	cmd.Flags().StringVar(&userID, "user", "", "User identifier (default \"default\")")

	return cmd
}
