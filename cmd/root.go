package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/dipper-go/cmd/config"
	"github.com/tphakala/dipper-go/cmd/notify"
	"github.com/tphakala/dipper-go/cmd/rba"
	"github.com/tphakala/dipper-go/cmd/regions"
	"github.com/tphakala/dipper-go/cmd/serve"
	"github.com/tphakala/dipper-go/cmd/species"
	"github.com/tphakala/dipper-go/cmd/threads"
	"github.com/tphakala/dipper-go/internal/buildinfo"
	"github.com/tphakala/dipper-go/internal/conf"
	"github.com/tphakala/dipper-go/internal/logger"
	"github.com/tphakala/dipper-go/internal/telemetry"
)

// RootCommand creates and returns the root command. Settings are loaded
// before any subcommand runs and shared through the settings pointer.
func RootCommand(build *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "dipper",
		Short:         "Rare bird alerts from eBird to Discord",
		Version:       build.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	if err := setupFlags(rootCmd, &configFile); err != nil {
		// flag definitions are static, binding cannot fail at runtime
		panic(err)
	}

	rootCmd.AddCommand(
		serve.Command(settings, build),
		rba.Command(settings),
		regions.Command(settings),
		threads.Command(settings),
		notify.Command(settings),
		species.Command(settings),
		config.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(settings, configFile, build)
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		telemetry.Flush(telemetry.DefaultFlushTimeout)
		if err := logger.Global().Flush(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed to flush logs: %v\n", err)
		}
	}

	return rootCmd
}

// initialize loads the configuration, then sets up logging and error telemetry.
func initialize(settings *conf.Settings, configFile string, build *buildinfo.Context) error {
	loaded, err := conf.LoadFile(configFile)
	if err != nil {
		return err
	}
	*settings = *loaded

	if settings.Debug && settings.Logging.DefaultLevel == "" {
		settings.Logging.DefaultLevel = "debug"
	}
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	if err := telemetry.InitSentry(settings, build.GetVersion()); err != nil {
		// telemetry is optional, keep running without it
		central.Module("telemetry").Warn("failed to initialize sentry", logger.Error(err))
	}

	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	rootCmd.PersistentFlags().StringVarP(configFile, "config", "c", "", "Path to config.yaml, default search paths when empty")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
