package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rexlx/marconilink/forum"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a new admin API key and the hash to configure",
	Long: `Generates a random key for the broadcast endpoint. Give the key to the
administrator and set the hash as admin.api_key_hash (or
MARCONILINK_ADMIN_KEY_HASH).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, hash, err := forum.GenerateAPIKey()
		if err != nil {
			return fmt.Errorf("could not generate key: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "key:  %s\n", key)
		fmt.Fprintf(out, "hash: %s\n", hash)
		return nil
	},
}
