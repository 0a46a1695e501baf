package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"immich-deduper/internal/config"
	"immich-deduper/internal/dedupe"
)

var dedupeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List duplicate groups with their computed merge decisions",
	Long: `Fetch duplicate groups from the Immich server and print the merge
decision for each: which asset would be kept, which would be deleted, and
the reconciled metadata.

Nothing is changed on the server.`,
	RunE: runDedupeList,
}

func init() {
	dedupeCmd.AddCommand(dedupeListCmd)
}

func runDedupeList(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	client, err := newImmichClient(cfg)
	if err != nil {
		return err
	}

	groups, err := client.GetDuplicateGroups()
	if err != nil {
		return fmt.Errorf("failed to fetch duplicate groups: %w", err)
	}
	if len(groups) == 0 {
		fmt.Println("No duplicate groups found.")
		return nil
	}

	fmt.Printf("Found %d duplicate group(s)\n\n", len(groups))
	for _, group := range groups {
		decision, err := dedupe.Resolve(group)
		if err != nil {
			fmt.Printf("Group %s: cannot resolve: %v\n\n", group.DuplicateID, err)
			continue
		}
		printDecision(decision)
	}

	return nil
}

func printDecision(d *dedupe.MergeDecision) {
	fmt.Printf("Group %s\n", d.GroupID)
	for _, member := range d.Members() {
		marker := "delete"
		if member.ID == d.KeepID {
			marker = "keep  "
		}
		fmt.Printf("  [%s] %s  %dx%d  %d bytes  %s\n",
			marker, member.ID,
			member.ExifInfo.ExifImageWidth, member.ExifInfo.ExifImageHeight,
			member.ExifInfo.FileSizeInByte, member.OriginalFileName)
	}

	fmt.Printf("  merged: favorite=%v visibility=%s", d.Merged.IsFavorite, d.Merged.Visibility)
	if d.Merged.DateTimeOriginal != "" {
		fmt.Printf(" date=%s", d.Merged.DateTimeOriginal)
	}
	if d.Merged.Rating != nil {
		fmt.Printf(" rating=%d", *d.Merged.Rating)
	}
	if d.Merged.Latitude != nil && d.Merged.Longitude != nil {
		fmt.Printf(" location=%.5f,%.5f", *d.Merged.Latitude, *d.Merged.Longitude)
	}
	if desc := strings.TrimSpace(d.Merged.Description); desc != "" {
		fmt.Printf(" description=%q", desc)
	}
	fmt.Print("\n\n")
}
