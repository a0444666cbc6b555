// Package threads provides commands for tracked species threads
package threads

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/dipper-go/internal/app"
	"github.com/tphakala/dipper-go/internal/conf"
	"github.com/tphakala/dipper-go/internal/notification"
	"github.com/tphakala/dipper-go/internal/observation"
	"github.com/tphakala/dipper-go/internal/recency"
)

// Command creates and returns the threads command with its subcommands
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Manage tracked species threads",
	}

	cmd.AddCommand(
		listCommand(settings),
		refreshCommand(settings),
		addCommand(settings),
		deleteCommand(settings),
	)
	return cmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked threads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			threads, err := a.Store.GetAllThreads(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TRACKER KEY\tTYPE\tBUCKET\tLAST SEEN\tDESTINATION")
			for i := range threads {
				th := &threads[i]
				lastSeen := "-"
				if th.LastSeenAt != nil {
					lastSeen = th.LastSeenAt.UTC().Format("2006-01-02 15:04")
				}
				dest := "-"
				if th.ThreadID != "" {
					dest = notification.DestinationLabel(th.ThreadID)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", th.TrackerKey, th.Type, th.StatusBucket, lastSeen, dest)
			}
			return w.Flush()
		},
	}
}

func refreshCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [region...]",
		Short: "Recompute thread recency buckets",
		Long:  `Refresh recomputes the recency bucket of every thread in the given regions, or in every region with tracked threads when none are given.`,
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
			targets := args
			if len(targets) == 0 {
				if targets, err = p.ThreadRegions(ctx); err != nil {
					return err
				}
			}

			var failed int
			for _, region := range targets {
				region = strings.ToUpper(region)
				res, err := p.RefreshThreads(ctx, region)
				fmt.Fprintf(cmd.OutOrStdout(), "%s: checked=%d changed=%d notified=%d failed=%d\n",
					region, res.Checked, res.Changed, res.Notified, res.Failed)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", region, err)
				}
			}
			if failed > 0 {
				return fmt.Errorf("refresh failed for %d of %d regions", failed, len(targets))
			}
			return nil
		},
	}
}

func addCommand(settings *conf.Settings) *cobra.Command {
	var (
		destination string
		threadType  string
	)

	cmd := &cobra.Command{
		Use:   "add <species> <region>",
		Short: "Start tracking a species in a region",
		Long: `Add creates a thread for species|region. Observations of the species in the
region are linked to it on later runs.

Examples:
  dipper threads add "Red-eyed Vireo" US-CO-013 --destination https://discord.com/api/webhooks/...`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			thread, err := newThread(args[0], args[1], destination, threadType)
			if err != nil {
				return err
			}

			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Store.SaveThread(cmd.Context(), &thread); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tracking %s\n", thread.TrackerKey)
			return nil
		},
	}

	cmd.Flags().StringVar(&destination, "destination", "", "Webhook or shoutrrr URL for recency updates")
	cmd.Flags().StringVar(&threadType, "type", observation.ThreadTypeUser, "Thread type: user or bot")
	return cmd
}

// newThread validates the arguments of threads add.
func newThread(species, region, destination, threadType string) (observation.Thread, error) {
	species = strings.TrimSpace(species)
	region = strings.ToUpper(strings.TrimSpace(region))
	if species == "" || region == "" {
		return observation.Thread{}, fmt.Errorf("species and region are required")
	}
	if strings.Contains(region, "|") {
		return observation.Thread{}, fmt.Errorf("invalid region %q", region)
	}
	switch threadType {
	case observation.ThreadTypeUser, observation.ThreadTypeBot:
	default:
		return observation.Thread{}, fmt.Errorf("invalid thread type %q, want %s or %s",
			threadType, observation.ThreadTypeUser, observation.ThreadTypeBot)
	}

	return observation.Thread{
		TrackerKey:   observation.TrackerKey(species, region),
		ThreadID:     destination,
		Type:         threadType,
		StatusBucket: string(recency.NoReports),
	}, nil
}

func deleteCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <tracker key>",
		Short: "Stop tracking a thread",
		Long:  `Delete removes the thread with the given "species|region" key and unlinks its checklists.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Store.DeleteThread(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}
