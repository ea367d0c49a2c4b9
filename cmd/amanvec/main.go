// Package main provides the entry point for the amanvec CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/amanvec/cmd/amanvec/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
