package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gogpu/gstate"
)

func newMergeCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "merge -o OUT FILE...",
		Short:   "Write the union of several collection files",
		Example: "  gstate merge -o all.graphicsstate level1.graphicsstate level2.graphicsstate",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return errors.New("merge requires -o OUT")
			}

			merged := gstate.NewCollection()
			for _, path := range args {
				c := gstate.NewCollection()
				if err := c.LoadFromFile(path); err != nil {
					return err
				}
				for _, d := range c.Variants() {
					merged.Add(d)
				}
			}
			if err := merged.SaveToFile(output); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "merged %d variants from %d files into %s\n",
				merged.VariantCount(), len(args), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output collection file")
	return cmd
}
