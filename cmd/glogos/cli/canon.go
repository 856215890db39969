package cli

import (
	"github.com/spf13/cobra"

	"github.com/glogos/glogos/internal/canon"
)

type canonOutput struct {
	Name       string `json:"name"`
	ID         string `json:"id"`
	WellFormed bool   `json:"well_formed"`
	Standard   bool   `json:"standard"`
}

func newCanonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "canon",
		Short: "Canon names and ids",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "id <name>",
		Short: "Print the canon id of a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := canon.New(args[0])
			_, standard := canon.Lookup(c.ID)
			return printJSON(cmd.OutOrStdout(), canonOutput{
				Name:       c.Name,
				ID:         c.ID.String(),
				WellFormed: canon.IsWellFormedName(c.Name),
				Standard:   standard,
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List well-known canons",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list := canon.Standard()
			out := make([]canonOutput, 0, len(list))
			for _, c := range list {
				out = append(out, canonOutput{Name: c.Name, ID: c.ID.String(), WellFormed: canon.IsWellFormedName(c.Name), Standard: true})
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	})
	return cmd
}
