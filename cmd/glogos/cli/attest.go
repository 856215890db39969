package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/glogos/glogos/internal/attestation"
	"github.com/glogos/glogos/internal/canon"
	"github.com/glogos/glogos/internal/crypto"
	"github.com/glogos/glogos/internal/protocol"
)

func newAttestCmd() *cobra.Command {
	var (
		keyArg      string
		subjectText string
		subjectHex  string
		canonName   string
		canonHex    string
		at          uint64
		refs        []string
	)
	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Create a signed attestation",
		Long: `Create a signed attestation and print its wire JSON.

The subject is either the SHA-256 of --subject-text or a precomputed
--subject-hex digest. The canon is named by --canon-name (hashed) or given
as --canon-hex. --time defaults to the current unix time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keyText, err := readKeyArg(keyArg)
			if err != nil {
				return err
			}
			priv, err := crypto.ParsePrivateKey(keyText)
			if err != nil {
				return err
			}
			signer, err := crypto.NewSigner(priv)
			if err != nil {
				return err
			}

			var in protocol.Input
			switch {
			case subjectText != "" && subjectHex != "":
				return errors.New("use one of --subject-text or --subject-hex")
			case subjectHex != "":
				if in.Subject, err = protocol.ParseHash(subjectHex); err != nil {
					return fmt.Errorf("--subject-hex: %w", err)
				}
			case subjectText != "":
				in.Subject = protocol.DigestString(subjectText)
			default:
				return errors.New("one of --subject-text or --subject-hex is required")
			}
			switch {
			case canonName != "" && canonHex != "":
				return errors.New("use one of --canon-name or --canon-hex")
			case canonHex != "":
				if in.Canon, err = protocol.ParseCanonID(canonHex); err != nil {
					return fmt.Errorf("--canon-hex: %w", err)
				}
			default:
				if canonName == "" {
					canonName = canon.RawSHA256
				}
				in.Canon = canon.ComputeID(canonName)
			}
			in.Time = at
			if !cmd.Flags().Changed("time") {
				in.Time = uint64(time.Now().Unix())
			}
			for i, raw := range refs {
				ref, err := protocol.ParseAttestationID(raw)
				if err != nil {
					return fmt.Errorf("--ref[%d]: %w", i, err)
				}
				in.Refs = append(in.Refs, ref)
			}
			return printJSON(cmd.OutOrStdout(), attestation.Issue(signer, in))
		},
	}
	cmd.Flags().StringVar(&keyArg, "key", "", "private key file or literal (PKCS#8 PEM, hex or base64)")
	cmd.Flags().StringVar(&subjectText, "subject-text", "", "text whose SHA-256 is the subject")
	cmd.Flags().StringVar(&subjectHex, "subject-hex", "", "subject digest in lowercase hex")
	cmd.Flags().StringVar(&canonName, "canon-name", "", "canon name (default "+canon.RawSHA256+")")
	cmd.Flags().StringVar(&canonHex, "canon-hex", "", "canon id in lowercase hex")
	cmd.Flags().Uint64Var(&at, "time", 0, "unix time in seconds")
	cmd.Flags().StringArrayVar(&refs, "ref", nil, "referenced attestation id (repeatable)")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
