package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trellishq/trellis/internal/engine"
	"github.com/trellishq/trellis/internal/models"
	"github.com/trellishq/trellis/internal/ui"
)

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Branch lifecycle: fork, list, archive, restore, set-default",
}

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a project's first branch",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := "main"
		if len(args) == 1 {
			name = args[0]
		}

		eng, closer, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		branch, err := eng.CreateRootBranch(cmd.Context(), flagProject, name, flagAuthor)
		if err != nil {
			return err
		}
		fmt.Printf("Initialized project %s with branch %s\n", flagProject, branch.Name)
		return nil
	},
}

var branchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the project's branches",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, closer, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		branches, err := eng.ListBranches(cmd.Context(), flagProject)
		if err != nil {
			return err
		}
		if len(branches) == 0 {
			fmt.Println("No branches. Run 'trellis branch init' first.")
			return nil
		}
		for _, b := range branches {
			fmt.Println(ui.RenderBranch(b))
		}
		return nil
	},
}

var branchForkCmd = &cobra.Command{
	Use:   "fork <parent> <name>",
	Short: "Fork a new branch from an existing one",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		branchType, _ := cmd.Flags().GetString("type")
		fromCommit, _ := cmd.Flags().GetString("from-commit")
		protected, _ := cmd.Flags().GetBool("protected")

		eng, closer, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		parent, err := eng.GetBranchByName(cmd.Context(), flagProject, args[0])
		if err != nil {
			return err
		}
		branch, err := eng.Fork(cmd.Context(), engine.ForkRequest{
			ParentBranchID: parent.ID,
			Name:           args[1],
			Type:           models.BranchType(branchType),
			FromCommitID:   fromCommit,
			CreatedBy:      flagAuthor,
			IsProtected:    protected,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Forked %s from %s\n", branch.Name, parent.Name)
		return nil
	},
}

var branchArchiveCmd = &cobra.Command{
	Use:   "archive <name>",
	Short: "Archive a branch",
	Args:  cobra.ExactArgs(1),
	RunE:  branchStatusRun(func(eng *engine.Engine) branchOp { return eng.Archive }, "Archived"),
}

var branchRestoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Restore an archived branch",
	Args:  cobra.ExactArgs(1),
	RunE:  branchStatusRun(func(eng *engine.Engine) branchOp { return eng.Restore }, "Restored"),
}

var branchSetDefaultCmd = &cobra.Command{
	Use:   "set-default <name>",
	Short: "Make a branch the project default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, closer, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		branch, err := eng.GetBranchByName(cmd.Context(), flagProject, args[0])
		if err != nil {
			return err
		}
		if err := eng.SetDefault(cmd.Context(), branch.ID); err != nil {
			return err
		}
		fmt.Printf("Default branch is now %s\n", branch.Name)
		return nil
	},
}

var branchDivergenceCmd = &cobra.Command{
	Use:   "ahead-behind <branch-a> <branch-b>",
	Short: "Show how far two branches have diverged",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, closer, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		branchA, err := eng.GetBranchByName(cmd.Context(), flagProject, args[0])
		if err != nil {
			return err
		}
		branchB, err := eng.GetBranchByName(cmd.Context(), flagProject, args[1])
		if err != nil {
			return err
		}
		div, err := eng.AheadBehind(cmd.Context(), branchA.ID, branchB.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s is %d ahead, %d behind %s\n", branchA.Name, div.Ahead, div.Behind, branchB.Name)
		if div.MergeBaseID != "" {
			base, err := eng.GetCommit(cmd.Context(), div.MergeBaseID)
			if err == nil {
				fmt.Printf("Merge base: %s (%s)\n", base.Hash, base.Message)
			}
		}
		return nil
	},
}

type branchOp func(ctx context.Context, branchID string) (*models.Branch, error)

func branchStatusRun(pick func(*engine.Engine) branchOp, verb string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		eng, closer, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		branch, err := eng.GetBranchByName(cmd.Context(), flagProject, args[0])
		if err != nil {
			return err
		}
		updated, err := pick(eng)(cmd.Context(), branch.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s branch %s\n", verb, updated.Name)
		return nil
	}
}

func init() {
	branchForkCmd.Flags().String("type", "feature", "Branch type (main/feature/experiment/hotfix/review)")
	branchForkCmd.Flags().String("from-commit", "", "Fork from a specific commit instead of the parent head")
	branchForkCmd.Flags().Bool("protected", false, "Mark the new branch protected")

	branchCmd.AddCommand(initCmd)
	branchCmd.AddCommand(branchListCmd)
	branchCmd.AddCommand(branchForkCmd)
	branchCmd.AddCommand(branchArchiveCmd)
	branchCmd.AddCommand(branchRestoreCmd)
	branchCmd.AddCommand(branchSetDefaultCmd)
	branchCmd.AddCommand(branchDivergenceCmd)
	rootCmd.AddCommand(branchCmd)
}
