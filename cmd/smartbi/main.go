// Package main is the entry point for the smartbi CLI binary.
package main

import (
	"os"

	cli "smartbi/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
