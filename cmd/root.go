// Package cmd implements the webquery command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "webquery",
	Short: "webquery - question answering over crawled websites",
	Long: `webquery indexes website content into a vector database and answers
questions about it with cited sources.

Typical workflow:

  webquery crawl https://docs.example.com   index a site
  webquery serve                            start the HTTP API
  webquery ask "how do I configure X?"      one-off question from the terminal`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
