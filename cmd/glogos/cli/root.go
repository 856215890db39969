package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the glogos command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "glogos",
		Short: "Create and verify content-addressed attestations",
		Long: `glogos manages zone keys and signed attestations.

Attestations are printed and read as wire JSON. Verification and DAG
validation print the full check list and exit non-zero when invalid.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newKeygenCmd(),
		newAttestCmd(),
		newVerifyCmd(),
		newDAGCmd(),
		newGenesisCmd(),
		newCanonCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// readKeyArg returns the contents of arg when it names a file, else arg itself.
func readKeyArg(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", fmt.Errorf("key is required")
	}
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		buf, err := os.ReadFile(arg)
		if err != nil {
			return "", fmt.Errorf("read key file: %w", err)
		}
		return string(buf), nil
	}
	return arg, nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
