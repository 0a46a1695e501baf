package cmd

import (
	"github.com/spf13/cobra"
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Work with server-computed duplicate groups",
}

func init() {
	rootCmd.AddCommand(dedupeCmd)
}
