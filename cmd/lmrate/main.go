// Package main implements the lmrate CLI for rating documents offline.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	// verbose enables info-level progress logging on stderr
	verbose bool
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lmrate",
	Short: "Rescore OCR alternatives with a byte-level language model",
	Long: `lmrate decodes the competing readings of an OCR document with a
byte-level language model and reports a confidence for every element
together with the document's perplexity.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log decoding progress to stderr")
	rootCmd.AddCommand(rateCmd)
	rootCmd.AddCommand(trainCmd)
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
