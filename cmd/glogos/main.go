package main

import (
	"os"

	"github.com/glogos/glogos/cmd/glogos/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
