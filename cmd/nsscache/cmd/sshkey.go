package cmd

import (
	"fmt"

	"github.com/nsscache/nsscache-go/internal/config"
	"github.com/nsscache/nsscache-go/internal/sshkeycommand"
	"github.com/spf13/cobra"
)

var sshkeyCmd = &cobra.Command{
	Use:   "sshkey-lookup <username>",
	Short: "Print a user's authorized keys from the sshkey cache (for sshd's AuthorizedKeysCommand)",
	Args:  cobra.ExactArgs(1),
	RunE:  runSSHKeyLookup,
}

func init() {
	rootCmd.AddCommand(sshkeyCmd)
}

func runSSHKeyLookup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	mc, ok := cfg.Maps["sshkey"]
	if !ok {
		return fmt.Errorf("no [sshkey] map configured")
	}
	keys, err := sshkeycommand.Lookup(mc.Options["dir"], args[0])
	if err != nil {
		return err
	}
	if keys != "" {
		fmt.Println(keys)
	}
	return nil
}
