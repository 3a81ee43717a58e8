package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shex1627/warcraftlogs/internal/graphql"
	"github.com/shex1627/warcraftlogs/internal/wcl"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newQueryCmd(newClient clientFactory) *cobra.Command {
	var (
		file         string
		varsFile     string
		userID       string
		refreshToken string
		accessToken  string
		userScope    bool
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a GraphQL query",
		Long: `Run a GraphQL query against the public API, or the user API when a
user or refresh token is given, and print the response document.

Variables are read from a YAML or JSON file.

Examples:
  wcl query --file expansions.graphql
  wcl query --file report.graphql --vars report.yaml
  echo '{ userData { currentUser { id } } }' | wcl query --file - --user 42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := readQuery(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			variables, err := readVariables(varsFile)
			if err != nil {
				return err
			}

			return withClient(cmd, newClient, func(ctx context.Context, client *wcl.Client) error {
				resp, err := client.Executor.Execute(ctx, graphql.Request{
					Query:        query,
					Variables:    variables,
					Token:        accessToken,
					RefreshToken: refreshToken,
					UserID:       userID,
					UserScope:    userScope || userID != "" || refreshToken != "",
				})
				if err != nil {
					return err
				}

				for _, gqlErr := range resp.Errors {
					fmt.Fprintf(cmd.ErrOrStderr(), "graphql error: %s\n", gqlErr.Message)
				}

				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(resp.Raw))
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "File holding the query, - for stdin")
	cmd.Flags().StringVar(&varsFile, "vars", "", "YAML or JSON file holding the variables")
	cmd.Flags().StringVar(&userID, "user", "", "User whose token is used")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "Refresh token for the user")
	cmd.Flags().StringVar(&accessToken, "token", "", "Access token to send instead of a cached one")
	cmd.Flags().BoolVar(&userScope, "user-scope", false, "Send the query to the user API")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func readQuery(stdin io.Reader, file string) (string, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("reading query: %w", err)
	}

	query := strings.TrimSpace(string(data))
	if query == "" {
		return "", errors.New("query is empty")
	}

	return query, nil
}

// readVariables decodes a variables file. JSON documents are valid YAML, so
// both formats go through the YAML decoder.
func readVariables(file string) (map[string]any, error) {
	if file == "" {
		return nil, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading variables: %w", err)
	}

	var variables map[string]any
	if err := yaml.Unmarshal(data, &variables); err != nil {
		return nil, fmt.Errorf("parsing variables %s: %w", file, err)
	}

	return variables, nil
}
