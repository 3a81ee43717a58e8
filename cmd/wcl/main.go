// Command wcl obtains Warcraft Logs API tokens and runs GraphQL queries with
// them, sharing the token cache configured for the service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shex1627/warcraftlogs/internal/config"
	"github.com/shex1627/warcraftlogs/internal/wcl"
	"github.com/spf13/cobra"
)

// clientFactory builds the credential components for a command.
type clientFactory func(ctx context.Context) (*wcl.Client, error)

func loadClient(ctx context.Context) (*wcl.Client, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("configuration load failed: %w", err)
	}

	return wcl.New(ctx, cfg, nil)
}

func newRootCmd(newClient clientFactory) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "wcl",
		Short: "Warcraft Logs API credentials and queries",
		Long: `wcl manages OAuth credentials for the Warcraft Logs v2 API and runs
GraphQL queries with them.

Configuration is read from the environment (WCL_CLIENT_ID, WCL_CLIENT_SECRET,
TOKEN_DIR and friends), the same as the service.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(cmd.ErrOrStderr(), verbose)
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log progress to stderr")

	root.AddCommand(
		newTokenCmd(newClient),
		newAuthorizeCmd(newClient),
		newExchangeCmd(newClient),
		newQueryCmd(newClient),
		newValidateCmd(newClient),
		newClearCmd(newClient),
	)

	return root
}

func main() {
	if err := newRootCmd(loadClient).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func configureLogging(w io.Writer, verbose bool) {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).
		Level(level).
		With().Timestamp().Logger()

	zerolog.DefaultContextLogger = &log.Logger
}

// withClient builds the client for the duration of fn.
func withClient(cmd *cobra.Command, newClient clientFactory, fn func(ctx context.Context, client *wcl.Client) error) error {
	ctx := cmd.Context()

	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("token cache close failed")
		}
	}()

	return fn(ctx, client)
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
