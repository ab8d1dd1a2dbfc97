package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/trellishq/trellis/internal/engine"
	"github.com/trellishq/trellis/internal/snapshot"
	"github.com/trellishq/trellis/internal/ui"
)

var commitCmd = &cobra.Command{
	Use:   "commit <branch>",
	Short: "Record a document snapshot on a branch",
	Long: `Record a full document snapshot on a branch and advance its head.

The snapshot file is YAML mapping node ids to property bags:

  n1:
    type: frame
    x: 10
    y: 20
  n2:
    type: text
    content: "hello"

The stored diff is computed against the branch's previous head.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		message, _ := cmd.Flags().GetString("message")
		description, _ := cmd.Flags().GetString("description")
		autoSave, _ := cmd.Flags().GetBool("auto-save")
		tags, _ := cmd.Flags().GetStringSlice("tag")

		snap, err := loadSnapshotFile(file)
		if err != nil {
			return err
		}

		eng, closer, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		branch, err := eng.GetBranchByName(cmd.Context(), flagProject, args[0])
		if err != nil {
			return err
		}
		commit, err := eng.Commit(cmd.Context(), engine.CommitRequest{
			BranchID:    branch.ID,
			Snapshot:    snap,
			Message:     message,
			Description: description,
			Author:      flagAuthor,
			IsAutoSave:  autoSave,
			Tags:        tags,
		})
		if err != nil {
			return err
		}

		fmt.Printf("[%s] %s\n", branch.Name, commit.Hash)
		fmt.Println(ui.RenderDeltaSummary(
			len(commit.Delta.Added), len(commit.Delta.Modified), len(commit.Delta.Deleted)))
		return nil
	},
}

var logCmd = &cobra.Command{
	Use:   "log <branch>",
	Short: "Show a branch's commit history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		fromHash, _ := cmd.Flags().GetString("from")

		eng, closer, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		branch, err := eng.GetBranchByName(cmd.Context(), flagProject, args[0])
		if err != nil {
			return err
		}
		commits, err := eng.Log(cmd.Context(), branch.ID, limit, fromHash)
		if err != nil {
			return err
		}
		if len(commits) == 0 {
			fmt.Println("No commits yet.")
			return nil
		}
		for _, c := range commits {
			fmt.Println(ui.RenderCommit(c))
		}
		return nil
	},
}

var cherryPickCmd = &cobra.Command{
	Use:   "cherry-pick <commit-hash> <branch>",
	Short: "Re-apply a commit's snapshot onto another branch",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, closer, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		original, err := eng.GetCommitByHash(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		target, err := eng.GetBranchByName(cmd.Context(), flagProject, args[1])
		if err != nil {
			return err
		}
		picked, err := eng.CherryPick(cmd.Context(), original.ID, target.ID, flagAuthor)
		if err != nil {
			return err
		}
		fmt.Printf("[%s] %s\n", target.Name, picked.Hash)
		return nil
	},
}

// loadSnapshotFile parses a YAML snapshot file into the engine's snapshot
// form, normalizing nested YAML maps to string-keyed maps.
func loadSnapshotFile(path string) (snapshot.Snapshot, error) {
	if path == "" {
		return nil, fmt.Errorf("a snapshot file is required (--file)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot file: %w", err)
	}

	snap := make(snapshot.Snapshot, len(raw))
	for id, props := range raw {
		bag := make(snapshot.Properties, len(props))
		for k, v := range props {
			bag[k] = normalizeYAML(v)
		}
		snap[id] = bag
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// normalizeYAML converts yaml.v3's map[string]any/[]any trees, leaving
// scalars alone so diffing sees the same shapes as JSON round-trips.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = normalizeYAML(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalizeYAML(inner)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return val
	}
}

func init() {
	commitCmd.Flags().StringP("file", "f", "", "YAML snapshot file (required)")
	commitCmd.Flags().StringP("message", "m", "", "Commit message (required)")
	commitCmd.Flags().StringP("description", "d", "", "Longer description")
	commitCmd.Flags().Bool("auto-save", false, "Mark the commit as an auto-save")
	commitCmd.Flags().StringSlice("tag", nil, "Tags to attach (repeatable)")
	_ = commitCmd.MarkFlagRequired("file")
	_ = commitCmd.MarkFlagRequired("message")

	logCmd.Flags().IntP("limit", "n", 20, "Maximum commits to show (0 = all)")
	logCmd.Flags().String("from", "", "Start after this commit hash")

	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(cherryPickCmd)
}
