package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gwpipe/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	logLevel  string
	logFormat string
}

var rootCmd = &cobra.Command{
	Use:   "gwpipe",
	Short: "Data prep and run for gravitational-wave parameter estimation",
	Long: "gwpipe downloads the GW170817 strain frames and the inference\n" +
		"configuration, patches the configuration, and drives the external\n" +
		"inference and summary tools in a fixed order.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level, err := logging.ParseLevel(rootFlags.logLevel)
		if err != nil {
			return err
		}
		logging.Init(level, rootFlags.logFormat)
		return nil
	},
}

// exitCodeError carries a specific process exit code out of a RunE.
type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.logLevel, "log-level", envOr("GWPIPE_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	pf.StringVar(&rootFlags.logFormat, "log-format", envOr("GWPIPE_LOG_FORMAT", "text"), "Log format (text, json)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ec exitCodeError
		if errors.As(err, &ec) {
			// The run command already reported what failed; just carry
			// the tool's exit code out of the process.
			os.Exit(ec.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
