package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/opd-ai/shadowcall/config"
	"github.com/spf13/cobra"
)

const defaultConfigFile = "shadowcall.toml"

var errConfigExists = errors.New("config file already exists")

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(a),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfigFile
			if len(args) == 1 {
				path = args[0]
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s: %w (use --force to replace it)", path, errConfigExists)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing file")
	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "endpoint\t%s\n", cfg.Endpoint)
			_, _ = fmt.Fprintf(out, "api_endpoint\t%s\n", cfg.APIEndpoint)
			_, _ = fmt.Fprintf(out, "product_key\t%s\n", cfg.ProductKey)
			_, _ = fmt.Fprintf(out, "use_simulation\t%t\n", cfg.UseSimulation)
			_, _ = fmt.Fprintf(out, "request_timeout\t%d\n", cfg.RequestTimeout)
			_, _ = fmt.Fprintf(out, "retry_attempts\t%d\n", cfg.RetryAttempts)
			_, _ = fmt.Fprintf(out, "callback_workers\t%d\n", cfg.CallbackWorkers)
			_, _ = fmt.Fprintf(out, "call_timeout\t%d\n", cfg.CallTimeout)
			_, _ = fmt.Fprintf(out, "log_level\t%s\n", cfg.LogLevel)
			_, _ = fmt.Fprintf(out, "vault_dir\t%s\n", cfg.VaultDir)
			return nil
		},
	}
}
