// Package main is the entry point for the fieldsync binary.
package main

import (
	"os"

	cli "fieldsync/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
