// Package notify provides the delivery test command
package notify

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/dipper-go/internal/app"
	"github.com/tphakala/dipper-go/internal/conf"
	"github.com/tphakala/dipper-go/internal/notification"
)

// Command returns a cobra command that sends a test message to a destination
func Command(settings *conf.Settings) *cobra.Command {
	var silent bool

	cmd := &cobra.Command{
		Use:   "notify <destination> <message...>",
		Short: "Send a test message to a destination",
		Long: `Send a message through the same delivery path as the alerts.

The destination is a Discord webhook URL, a shoutrrr URL, or a region code whose
configured destination is used.

Examples:
  dipper notify https://discord.com/api/webhooks/ID/TOKEN "hello"
  dipper notify telegram://token@telegram?chats=@birds "hello"
  dipper notify US-CO-013 "hello" --silent`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args[1:], " ")
			if strings.TrimSpace(message) == "" {
				return fmt.Errorf("message is empty")
			}

			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			destination := args[0]
			if !isURL(destination) {
				routes, err := a.Routes(ctx)
				if err != nil {
					return err
				}
				route, ok := routes.Lookup(destination)
				if !ok {
					return fmt.Errorf("no destination configured for %s", destination)
				}
				destination = route.Destination
			}

			label := notification.DestinationLabel(destination)
			if err := a.Sender.Send(ctx, destination, message, silent); err != nil {
				return fmt.Errorf("failed to send to %s: %w", label, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Message sent to %s\n", label)
			return nil
		},
	}

	cmd.Flags().BoolVar(&silent, "silent", false, "Suppress chat notifications where supported")
	return cmd
}

func isURL(s string) bool {
	return strings.Contains(s, "://")
}
