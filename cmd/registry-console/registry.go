package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/upb/registry-console/app"
)

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registry resources",
	}

	var layer string
	variables := &cobra.Command{
		Use:   "variables",
		Short: "List clinical variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
				items, err := deps.Registry.ListVariables(ctx, layer)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), items)
			})
		},
	}
	variables.Flags().StringVar(&layer, "layer", "", "Restrict to one layer")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "layers",
			Short: "List research layers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
					items, err := deps.Registry.ListLayers(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), items)
				})
			},
		},
		variables,
	)

	return cmd
}

func queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query [file]",
		Short: "Run a dynamic query read from a file or stdin",
		Long: `Run a dynamic query. The query is a JSON document read from the given
file, or from stdin when the file is omitted or "-".

Examples:
  registry-console query seizures-by-age.json
  echo '{"layer":"demographics"}' | registry-console query`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readQuery(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
				result, err := deps.Registry.RunQuery(ctx, raw)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func readQuery(stdin io.Reader, args []string) (json.RawMessage, error) {
	var (
		raw []byte
		err error
	)
	if len(args) == 0 || args[0] == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(args[0])
	}
	if err != nil {
		return nil, fmt.Errorf("read query: %w", err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("query is not valid JSON")
	}
	return json.RawMessage(raw), nil
}
