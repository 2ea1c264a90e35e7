package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "querytalk",
	Short:   "Conversational natural-language interface to a Postgres database",
	Version: version,
	Long: `querytalk answers plain-language questions about a Postgres database.

Each question is translated into a read-only SQL query, executed, and
summarized back in natural language. The conversation keeps context, so
follow-up questions like "and what about last week?" work as expected.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
