package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"immich-deduper/internal/config"
	"immich-deduper/internal/dedupe"
)

var dedupeApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Resolve and commit duplicate groups",
	Long: `Resolve each duplicate group and commit the decision: the canonical
asset's metadata is updated with the merged fields, then the remaining
members are deleted from the server.

The metadata update always happens before any deletion. If the update
fails, the group is left untouched. If some deletions fail after a
successful update, their identifiers are printed for manual retry.

Examples:
  # Show what would happen without changing anything
  immich-deduper dedupe apply --dry-run

  # Commit a single group
  immich-deduper dedupe apply --group 8a9f...`,
	RunE: runDedupeApply,
}

func init() {
	dedupeCmd.AddCommand(dedupeApplyCmd)

	dedupeApplyCmd.Flags().Bool("dry-run", false, "Print decisions without changing anything")
	dedupeApplyCmd.Flags().String("group", "", "Apply only the group with this ID")
}

func runDedupeApply(cmd *cobra.Command, args []string) error {
	dryRun := mustGetBool(cmd, "dry-run")
	onlyGroup := mustGetString(cmd, "group")

	cfg := config.Load()

	client, err := newImmichClient(cfg)
	if err != nil {
		return err
	}

	groups, err := client.GetDuplicateGroups()
	if err != nil {
		return fmt.Errorf("failed to fetch duplicate groups: %w", err)
	}

	applier := dedupe.NewApplier(client)
	var applied, partial, failed int

	for _, group := range groups {
		if onlyGroup != "" && group.DuplicateID != onlyGroup {
			continue
		}

		decision, err := dedupe.Resolve(group)
		if err != nil {
			fmt.Printf("Group %s: cannot resolve: %v\n", group.DuplicateID, err)
			failed++
			continue
		}

		if dryRun {
			printDecision(decision)
			continue
		}

		err = applier.Apply(decision)
		var perr *dedupe.PartialDeleteError
		switch {
		case errors.As(err, &perr):
			partial++
			fmt.Printf("Group %s: metadata merged into %s, but some deletions failed:\n",
				decision.GroupID, decision.KeepID)
			for _, id := range perr.FailedIDs {
				fmt.Printf("  - %s\n", id)
			}
		case err != nil:
			failed++
			fmt.Printf("Group %s: %v\n", decision.GroupID, err)
		default:
			applied++
			fmt.Printf("Group %s: kept %s, deleted %d asset(s)\n",
				decision.GroupID, decision.KeepID, len(decision.DeleteIDs))
		}
	}

	if dryRun {
		fmt.Println("Dry run, nothing was changed.")
		return nil
	}

	fmt.Printf("\nApplied: %d  Partial: %d  Failed: %d\n", applied, partial, failed)
	if onlyGroup != "" && applied+partial+failed == 0 {
		return fmt.Errorf("duplicate group %s not found", onlyGroup)
	}
	return nil
}
