// Command nsscache maintains local NSS caches (passwd, group, shadow,
// netgroup, automount, sshkey) reconciled against remote directories.
// Grounded on cmd/template-validator/cmd/root.go's cobra scaffold.
package main

import (
	"fmt"
	"os"

	"github.com/nsscache/nsscache-go/cmd/nsscache/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
