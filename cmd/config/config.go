// Package config provides the configuration file commands
package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tphakala/dipper-go/internal/conf"
)

// Command creates and returns the config command with its subcommands
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration files",
	}

	cmd.AddCommand(showCommand(settings), initCommand())
	return cmd
}

func showCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with credentials redacted",
		Long:  `Show prints the settings after defaults, the config file and DIPPER_ environment variables are merged.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := conf.RedactedYAML(settings)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func initCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration file",
		Long:  `Init writes the commented default config.yaml to path, or to the first default search path.`,
		Args:  cobra.MaximumNArgs(1),
		// the file may not exist yet, so skip the root's config loading
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := initPath(args)
			if err != nil {
				return err
			}
			if err := conf.WriteDefaultConfig(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing file")
	return cmd
}

func initPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	paths, err := conf.GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}
	return filepath.Join(paths[0], "config.yaml"), nil
}
