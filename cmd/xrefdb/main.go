// Command xrefdb builds and inspects identifier mapping stores.
package main

import (
	"fmt"
	"os"

	"git.canoozie.net/riddling/xrefdb/pkg/cli"
)

func main() {
	rootCmd := cli.NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
