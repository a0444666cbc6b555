// Package rba provides the on-demand rare bird alert command
package rba

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/dipper-go/internal/app"
	"github.com/tphakala/dipper-go/internal/conf"
	"github.com/tphakala/dipper-go/internal/pipeline"
)

// Command creates and returns the rba command
func Command(settings *conf.Settings) *cobra.Command {
	var (
		deliver bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "rba <region name or code...>",
		Short: "Run the rare bird alert for one region",
		Long: `Fetch notable sightings for a region, render the alert and print it.
With --deliver the messages are also posted to the region's configured destination.

Examples:
  dipper rba boulder
  dipper rba el paso --deliver
  dipper rba US-CO-013 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.RequirePipeline()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			query := strings.Join(args, " ")
			code, err := a.Directory.Lookup(ctx, query)
			if err != nil {
				return fmt.Errorf("%s: %w", query, err)
			}

			route := pipeline.Route{Region: code, Name: query}
			if deliver {
				routes, err := a.Routes(ctx)
				if err != nil {
					return err
				}
				r, ok := routes.Lookup(code)
				if !ok {
					return fmt.Errorf("no destination configured for %s", code)
				}
				route = r
			}

			res, runErr := p.RunRegion(ctx, route)
			if err := printResult(cmd.OutOrStdout(), res, asJSON); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&deliver, "deliver", false, "Post the messages to the configured destination")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	return cmd
}

func printResult(w io.Writer, res pipeline.RegionResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if len(res.Messages) == 0 {
		fmt.Fprintf(w, "No notable sightings for %s\n", res.Region)
	}
	for i, msg := range res.Messages {
		if i > 0 {
			fmt.Fprintln(w, "---")
		}
		fmt.Fprintln(w, msg)
	}
	fmt.Fprintf(w, "\n%s: fetched=%d converted=%d skipped=%d delivered=%d status=%s\n",
		res.Region, res.Fetched, res.Converted, res.Skipped, res.Delivered, res.Status)
	return nil
}
