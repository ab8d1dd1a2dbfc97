package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trellishq/trellis/internal/ui"
)

var compareCmd = &cobra.Command{
	Use:   "compare <base> <compare>",
	Short: "Show the cached diff summary between two branches",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, closer, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		base, err := eng.GetBranchByName(cmd.Context(), flagProject, args[0])
		if err != nil {
			return err
		}
		compare, err := eng.GetBranchByName(cmd.Context(), flagProject, args[1])
		if err != nil {
			return err
		}

		cmp, err := eng.Compare(cmd.Context(), base.ID, compare.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s...%s\n", base.Name, compare.Name)
		fmt.Println(ui.RenderComparison(cmp))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(compareCmd)
}
