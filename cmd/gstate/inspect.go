package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gogpu/gstate"
)

func newInspectCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:     "inspect FILE",
		Short:   "Print the header and variants of a collection file",
		Example: "  gstate inspect GraphicsStateCollection.graphicsstate",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			h, err := gstate.ReadHeader(f)
			_ = f.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "file:     %s\n", path)
			fmt.Fprintf(out, "format:   %d\n", h.Format)
			fmt.Fprintf(out, "id:       %s\n", h.ID)
			fmt.Fprintf(out, "version:  %d\n", h.Version)
			fmt.Fprintf(out, "variants: %d\n", h.Count)
			if quiet {
				return nil
			}

			c := gstate.NewCollection()
			if err := c.LoadFromFile(path); err != nil {
				return err
			}
			for _, d := range c.Variants() {
				fmt.Fprintf(out, "  %s\n", d.String())
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print the header only")
	return cmd
}
