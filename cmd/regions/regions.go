// Package regions provides the region directory commands
package regions

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/dipper-go/internal/app"
	"github.com/tphakala/dipper-go/internal/conf"
	"github.com/tphakala/dipper-go/internal/regions"
)

// Command creates and returns the regions command with its subcommands
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regions",
		Short: "Manage the region directory",
	}

	cmd.AddCommand(syncCommand(settings), lookupCommand(settings), listCommand(settings))
	return cmd
}

func syncCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [parent]",
		Short: "Fetch county regions from eBird into the directory",
		Long:  `Sync fetches the subnational2 regions of parent (default regions.parent) and upserts them.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := settings.Regions.Parent
			if len(args) == 1 {
				parent = args[0]
			}
			if parent == "" {
				return fmt.Errorf("parent region is required, pass one or set regions.parent")
			}

			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Directory.Sync(cmd.Context(), parent)
			if err != nil {
				return fmt.Errorf("region sync failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced %d regions under %s\n", n, parent)
			return nil
		},
	}
}

func lookupCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <name...>",
		Short: "Resolve a region name to its code",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			name := strings.Join(args, " ")
			code, err := a.Directory.Lookup(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}
}

func listCommand(settings *conf.Settings) *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List directory regions under a code prefix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			if prefix == "" {
				prefix = settings.Regions.Prefix
			}
			rows, err := a.Directory.Counties(cmd.Context(), prefix)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tNAME\tCHANNEL")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.Code, r.Name, regions.ChannelName(r.Name))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "Region code prefix, default regions.prefix")
	return cmd
}
