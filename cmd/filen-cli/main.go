// Command filen-cli is the command-line client for the encrypted object
// store implemented by internal/backend, internal/resolver,
// internal/transfer, and internal/batch. Its command-tree layout (one
// file per verb or closely related verb family, a root command that
// wires global flags before any subcommand runs) follows azcopy's
// cmd/root.go convention, scaled down to this spec's smaller verb set
// and without azcopy's separate out-of-process transfer-engine launch.
package main

import "os"

func main() {
	os.Exit(Execute())
}
