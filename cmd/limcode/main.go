// Package main provides the entry point for the Lim-Code CLI.
package main

import (
	"fmt"
	"os"

	"github.com/HCPTangHY/Lim-Code/cmd/limcode/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
