package cli

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/glogos/glogos/internal/crypto"
)

type keygenOutput struct {
	Zone           string `json:"zone"`
	PublicKey      string `json:"public_key"`
	PrivateKeyPEM  string `json:"private_key_pem,omitempty"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
	PublicKeyPath  string `json:"public_key_path,omitempty"`
}

func newKeygenCmd() *cobra.Command {
	var seedHex, outDir string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a zone key pair",
		Long: `Generate an Ed25519 zone key pair and print the zone id.

With --seed-hex the key is derived deterministically from a 32-byte seed.
With --out-dir the keys are written as zone.key (PKCS#8 PEM) and zone.pub
(PKIX PEM); otherwise the private key PEM is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				signer *crypto.Signer
				err    error
			)
			if seedHex != "" {
				seed, decodeErr := hex.DecodeString(seedHex)
				if decodeErr != nil {
					return fmt.Errorf("decode --seed-hex: %w", decodeErr)
				}
				signer, err = crypto.ZoneFromSeed(seed)
			} else {
				signer, err = crypto.GenerateZone()
			}
			if err != nil {
				return err
			}
			privPEM, err := crypto.EncodePrivateKeyPEM(signer.PrivateKey())
			if err != nil {
				return err
			}
			out := keygenOutput{
				Zone:      signer.ID.String(),
				PublicKey: hex.EncodeToString(signer.PublicKey),
			}
			if outDir == "" {
				out.PrivateKeyPEM = string(privPEM)
				return printJSON(cmd.OutOrStdout(), out)
			}
			pubPEM, err := crypto.EncodePublicKeyPEM(signer.PublicKey)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o700); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
			out.PrivateKeyPath = filepath.Join(outDir, "zone.key")
			out.PublicKeyPath = filepath.Join(outDir, "zone.pub")
			if err := os.WriteFile(out.PrivateKeyPath, privPEM, 0o600); err != nil {
				return fmt.Errorf("write private key: %w", err)
			}
			if err := os.WriteFile(out.PublicKeyPath, pubPEM, 0o644); err != nil {
				return fmt.Errorf("write public key: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&seedHex, "seed-hex", "", "32-byte seed in hex")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "directory to write zone.key and zone.pub")
	return cmd
}
