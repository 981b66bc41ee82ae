package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/JonMunkholm/tabimport/internal/core/entities" // Register all kinds
	"github.com/JonMunkholm/tabimport/internal/logging"
)

// globalFlags are shared by every command.
type globalFlags struct {
	logLevel  string
	logFormat string
}

func newRootCommand() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   "tabimport",
		Short: "Import spreadsheet exports into a record collection",
		Long: `tabimport maps CSV and XLSX exports onto projects, leads, change orders
and purchases, then reconciles them against an existing collection.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// stdout carries results, so logs go to stderr.
			slog.SetDefault(logging.New(os.Stderr, flags.logLevel, flags.logFormat))
		},
	}

	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "text", "Log format (text, json)")

	cmd.AddCommand(
		newImportCommand(),
		newPreviewCommand(),
		newAutoMapCommand(),
		newKindsCommand(),
		newResetCommand(),
	)
	return cmd
}
