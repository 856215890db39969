package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glogos/glogos/internal/attestation"
	"github.com/glogos/glogos/internal/crypto"
	"github.com/glogos/glogos/internal/protocol"
)

func newVerifyCmd() *cobra.Command {
	var file, pubArg string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an attestation against a zone public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			a, err := protocol.DecodeAttestation(data)
			if err != nil {
				return err
			}
			keyText, err := readKeyArg(pubArg)
			if err != nil {
				return err
			}
			pub, err := crypto.ParsePublicKey(keyText)
			if err != nil {
				return err
			}
			res := attestation.Verify(a, pub)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Valid {
				return fmt.Errorf("attestation invalid at step %s", res.FailedStep)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "-", "attestation wire JSON file, - for stdin")
	cmd.Flags().StringVar(&pubArg, "public-key", "", "zone public key file or literal (PEM, hex or base64)")
	_ = cmd.MarkFlagRequired("public-key")
	return cmd
}
