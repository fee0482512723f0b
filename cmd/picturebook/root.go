package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/picturebook/internal/api"
	"github.com/jackzampolin/picturebook/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "picturebook",
	Short: "Collaborative picture book editor with generated illustrations",
	Long: `Picturebook is a server for writing picture books together.

Editors type page text over a live session. Text is committed once typing
pauses, and every page of the book is then re-illustrated in the background:
  - Page text is summarized into an illustration prompt by an LLM
  - The prompt is rendered by an image provider
  - Illustrations for text that changed meanwhile are discarded`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.picturebook/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "picturebook home directory (default: ~/.picturebook)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml, json or table",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
