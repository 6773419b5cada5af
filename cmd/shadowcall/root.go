package main

import (
	"fmt"

	"github.com/opd-ai/shadowcall"
	"github.com/opd-ai/shadowcall/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// app carries the settings resolved before any subcommand runs.
type app struct {
	configPath string
	logLevel   string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "shadowcall",
		Short:         "Cloud signaled audio/video calls to devices",
		Long:          "shadowcall logs into the call cloud, keeps device shadows in sync and signals calls to doorbells, cameras and other users.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(a),
		newDemoCmd(a),
	)
	return rootCmd
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.ApplyLogLevel(); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	a.cfg = cfg

	logrus.WithFields(logrus.Fields{
		"function":  "load",
		"config":    a.configPath,
		"log_level": cfg.LogLevel,
	}).Debug("Configuration resolved")
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), shadowcall.Version)
			return err
		},
	}
}
