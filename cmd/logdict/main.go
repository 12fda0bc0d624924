package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var (
	logLevel  string
	logFormat string

	rootCmd = &cobra.Command{
		Use:   "logdict",
		Short: "Build token pair and triple dictionaries from log files",
		Long: `logdict scans log files in parallel and counts adjacent token pairs,
token triples and the vocabulary. It runs one-off builds from the
command line or serves builds over HTTP.`,
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output format (text, json)")

	rootCmd.AddCommand(newServeCmd(), newBuildCmd(), newInspectCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
