// Package species provides the banding code lookup commands
package species

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/dipper-go/internal/app"
	"github.com/tphakala/dipper-go/internal/conf"
	"github.com/tphakala/dipper-go/internal/species"
)

type lookupFunc func(ctx context.Context, l *species.Lookup, query string) (species.Match, error)

// Command creates and returns the species command with its subcommands
func Command(settings *conf.Settings) *cobra.Command {
	var locale string

	cmd := &cobra.Command{
		Use:   "species",
		Short: "Look up banding codes and common names",
	}

	cmd.PersistentFlags().StringVar(&locale, "locale", "", "Common name locale, default ebird.locale")

	cmd.AddCommand(
		lookupCommand(settings, &locale, "name <code>", "Resolve a banding code to its common name",
			"  dipper species name AMDI",
			func(ctx context.Context, l *species.Lookup, q string) (species.Match, error) {
				return l.NameForCode(ctx, q)
			}),
		lookupCommand(settings, &locale, "code <common name...>", "Resolve a common name to its banding codes",
			"  dipper species code American Dipper",
			func(ctx context.Context, l *species.Lookup, q string) (species.Match, error) {
				return l.CodeForName(ctx, q)
			}),
	)
	return cmd
}

func lookupCommand(settings *conf.Settings, locale *string, use, short, example string, lookup lookupFunc) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     use,
		Short:   short,
		Example: example,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if *locale != "" {
				settings.EBird.Locale = *locale
			}

			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			l, err := a.RequireSpecies()
			if err != nil {
				return err
			}

			query := strings.Join(args, " ")
			m, err := lookup(cmd.Context(), l, query)
			if err != nil {
				return fmt.Errorf("%s: %w", query, err)
			}
			return printMatch(cmd.OutOrStdout(), m, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the match as JSON")
	return cmd
}

func printMatch(w io.Writer, m species.Match, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}

	if !m.Ambiguous {
		_, err := fmt.Fprintln(w, strings.Join(m.Results, "\n"))
		return err
	}
	if _, err := fmt.Fprintf(w, "%q needs disambiguation, possible answers:\n", m.Query); err != nil {
		return err
	}
	for _, r := range m.Results {
		if _, err := fmt.Fprintf(w, "  %s\n", r); err != nil {
			return err
		}
	}
	return nil
}
