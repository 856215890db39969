package cli

import (
	"encoding/hex"

	"github.com/spf13/cobra"

	"github.com/glogos/glogos/internal/attestation"
	"github.com/glogos/glogos/internal/protocol"
)

type genesisOutput struct {
	Attestation  protocol.Attestation        `json:"attestation"`
	Seed         string                      `json:"seed"`
	PublicKey    string                      `json:"public_key"`
	Verification protocol.VerificationResult `json:"verification"`
}

func newGenesisCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genesis",
		Short: "Derive and check the genesis attestation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			zone, a := attestation.Genesis()
			return printJSON(cmd.OutOrStdout(), genesisOutput{
				Attestation:  a,
				Seed:         hex.EncodeToString(attestation.GenesisSeed()),
				PublicKey:    hex.EncodeToString(zone.PublicKey),
				Verification: attestation.VerifyGenesis(a),
			})
		},
	}
}
