package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ongarde/ongarde/internal/domain/auth"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate an argon2id hash for an API key",
	Long: `Generate an argon2id hash of an API key for seeding state.json
or for comparing against a stored hash during troubleshooting.

Example:
  ongarde hash-key "ong-abc123..."

Security note: the key will appear in shell history. Consider clearing
history after use or pass it via an environment variable instead:
  ongarde hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashKeyArgon2id(args[0])
		if err != nil {
			return fmt.Errorf("hash key: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}
