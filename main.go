package main

import (
	"fmt"
	"os"

	"github.com/NamanBalaji/rdm/internal/cli"
)

func main() {
	if err := cli.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "rdm: %v\n", err)
		os.Exit(1)
	}
}
