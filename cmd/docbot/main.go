package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "docbot",
	Short: "Question answering over internal company documentation",
	Long: `docbot indexes internal documents (HR policies, manuals) and answers
questions about them per chat session.

Run "docbot serve" to start the HTTP server; the other commands talk to it
or, where noted, run in-process.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(serveCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(queryCmd, chatCmd, historyCmd)
	rootCmd.AddCommand(ingestCmd, tasksCmd)
	rootCmd.AddCommand(statsCmd, faqsCmd, qgenCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
