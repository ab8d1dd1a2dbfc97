package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trellishq/trellis/internal/engine"
	"github.com/trellishq/trellis/internal/models"
	"github.com/trellishq/trellis/internal/ui"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge branches: request, resolve conflicts, complete, abort",
}

var mergeRequestCmd = &cobra.Command{
	Use:   "request <source> <target>",
	Short: "Request a merge of source into target",
	Long: `Request a merge of one branch into another.

When the branches have no overlapping edits the merge completes in the same
call. Otherwise the conflicts are listed and the merge waits for resolution:

  trellis merge resolve <conflict-id> --keep source
  trellis merge complete <merge-id>`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy, _ := cmd.Flags().GetString("strategy")
		squashMessage, _ := cmd.Flags().GetString("squash-message")
		deleteSource, _ := cmd.Flags().GetBool("delete-source")
		autoResolve, _ := cmd.Flags().GetString("auto-resolve")

		eng, closer, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		source, err := eng.GetBranchByName(cmd.Context(), flagProject, args[0])
		if err != nil {
			return err
		}
		target, err := eng.GetBranchByName(cmd.Context(), flagProject, args[1])
		if err != nil {
			return err
		}

		var policy models.ConflictResolution
		switch autoResolve {
		case "":
		case "source":
			policy = models.ResolutionKeepSource
		case "target":
			policy = models.ResolutionKeepTarget
		default:
			return fmt.Errorf("--auto-resolve must be 'source' or 'target'")
		}

		merge, conflicts, err := eng.RequestMerge(cmd.Context(), engine.MergeRequest{
			SourceBranchID: source.ID,
			TargetBranchID: target.ID,
			Strategy:       models.MergeStrategy(strategy),
			InitiatedBy:    flagAuthor,
			SquashMessage:  squashMessage,
			DeleteSource:   deleteSource,
			AutoResolve:    policy,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Merge %s: %s\n", merge.ID, merge.Status)
		if merge.Status == models.MergeStatusConflicted {
			fmt.Printf("%d conflicts need resolution:\n", len(conflicts))
			for _, c := range conflicts {
				fmt.Println("  " + ui.RenderConflict(c))
			}
		}
		return nil
	},
}

var mergeResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Resolve one merge conflict",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetString("keep")
		valueJSON, _ := cmd.Flags().GetString("value")

		var resolution models.ConflictResolution
		var manual map[string]any
		switch {
		case keep == "source":
			resolution = models.ResolutionKeepSource
		case keep == "target":
			resolution = models.ResolutionKeepTarget
		case valueJSON != "":
			resolution = models.ResolutionManual
			if err := json.Unmarshal([]byte(valueJSON), &manual); err != nil {
				return fmt.Errorf("invalid --value JSON: %w", err)
			}
		default:
			return fmt.Errorf("pass --keep source|target or --value '{\"prop\": ...}'")
		}

		eng, closer, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		conflict, err := eng.ResolveConflict(cmd.Context(), args[0], resolution, manual, flagAuthor)
		if err != nil {
			return err
		}
		fmt.Println(ui.RenderConflict(conflict))
		return nil
	},
}

var mergeCompleteCmd = &cobra.Command{
	Use:   "complete <merge-id>",
	Short: "Complete a merge once every conflict is resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, closer, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		if err := eng.CompleteMerge(cmd.Context(), args[0], flagAuthor); err != nil {
			return err
		}
		merge, _, err := eng.GetMerge(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Merge %s completed with commit %s\n", merge.ID, merge.MergeCommitID)
		return nil
	},
}

var mergeAbortCmd = &cobra.Command{
	Use:   "abort <merge-id>",
	Short: "Abort an unfinished merge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, closer, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		if err := eng.AbortMerge(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Merge %s aborted\n", args[0])
		return nil
	},
}

var mergeStatusCmd = &cobra.Command{
	Use:   "status <merge-id>",
	Short: "Show a merge and its conflicts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, closer, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		merge, conflicts, err := eng.GetMerge(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Merge %s: %s (%s, %s)\n", merge.ID, merge.Status, merge.Strategy, formatAge(merge.CreatedAt))
		for _, c := range conflicts {
			fmt.Println("  " + ui.RenderConflict(c))
		}
		return nil
	},
}

func init() {
	mergeRequestCmd.Flags().String("strategy", "merge-commit", "Merge strategy (fast-forward/merge-commit/squash/rebase)")
	mergeRequestCmd.Flags().String("squash-message", "", "Commit message for the squash strategy")
	mergeRequestCmd.Flags().Bool("delete-source", false, "Close the source branch after merging")
	mergeRequestCmd.Flags().String("auto-resolve", "", "Resolve all conflicts automatically ('source' or 'target')")

	mergeResolveCmd.Flags().String("keep", "", "Keep 'source' or 'target' value")
	mergeResolveCmd.Flags().String("value", "", "Manual resolution as JSON {property: value}")

	mergeCmd.AddCommand(mergeRequestCmd)
	mergeCmd.AddCommand(mergeResolveCmd)
	mergeCmd.AddCommand(mergeCompleteCmd)
	mergeCmd.AddCommand(mergeAbortCmd)
	mergeCmd.AddCommand(mergeStatusCmd)
	rootCmd.AddCommand(mergeCmd)
}
