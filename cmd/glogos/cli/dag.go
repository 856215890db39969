package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glogos/glogos/internal/dag"
	"github.com/glogos/glogos/internal/protocol"
)

func newDAGCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Inspect attestation graphs",
	}
	cmd.AddCommand(newDAGValidateCmd())
	return cmd
}

func newDAGValidateCmd() *cobra.Command {
	var file string
	var workers int
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate causal ordering of a JSON array of attestations",
		Long: `Validate a set of attestations read as a JSON array.

Refs are resolved within the set only; refs to attestations outside it are
reported as DANGLING. Signatures are not checked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			var set []protocol.Attestation
			if err := json.Unmarshal(data, &set); err != nil {
				return fmt.Errorf("parse attestation array: %w", err)
			}
			report, err := dag.Validate(cmd.Context(), set, dag.Options{Workers: workers})
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Valid {
				return fmt.Errorf("%d of %d attestations invalid", report.Invalid, report.Checked)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "-", "JSON array file, - for stdin")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel link checks (0 = GOMAXPROCS)")
	return cmd
}
