package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var configFile string
	rootCmd := &cobra.Command{
		Use:          "clinicflow",
		Short:        "Offline-first clinic workflow server",
		SilenceUsage: true,
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional config file (yaml, json or toml)")

	rootCmd.AddCommand(serveCmd(&configFile))
	rootCmd.AddCommand(migrateCmd(&configFile))
	rootCmd.AddCommand(exportRegisterCmd(&configFile))
	return rootCmd
}

func serveCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and sync adapter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configFile)
		},
	}
}

func migrateCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Open the record store and build its indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap(cmd.Context(), *configFile, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.close(cmd.Context())
			if err := app.store.EnsureIndexes(cmd.Context()); err != nil {
				return fmt.Errorf("build indexes: %w", err)
			}
			app.logger.Info().Str("driver", app.cfg.Storage.Driver).Msg("indexes ready")
			return nil
		},
	}
}

func exportRegisterCmd(configFile *string) *cobra.Command {
	var (
		key  string
		keep int
	)
	cmd := &cobra.Command{
		Use:   "export-register",
		Short: "Write the encounter register workbook to the blob archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap(cmd.Context(), *configFile, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.close(cmd.Context())
			exporter := app.exporter()
			info, err := exporter.Export(cmd.Context(), key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), info.Key)
			if keep > 0 {
				if _, err := exporter.Prune(cmd.Context(), keep); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "out", "", "archive key; defaults to reports/register-<timestamp>.xlsx")
	cmd.Flags().IntVar(&keep, "keep", 0, "delete all but the newest N register exports afterwards; 0 keeps everything")
	return cmd
}
