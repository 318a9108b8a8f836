package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/auth"
)

var hashKeyArgon2id bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate a hash for an admin API key",
	Long: `Generate a hash of an API key for use in config.

The default output format is "sha256:<hex>", which can be used
directly in the admin.api_keys.hash field. With --argon2id the
output is a salted Argon2id hash in PHC format, which is slower
to verify but resistant to offline brute force.

Example:
  aussie-gate hash-key "my-secret-api-key"
  # Output: sha256:7d5e8c...

Security note: The key will appear in shell history.
Consider clearing history after use or using an environment variable:
  aussie-gate hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if hashKeyArgon2id {
			hash, err := auth.HashKeyArgon2id(args[0])
			if err != nil {
				return fmt.Errorf("hash key: %w", err)
			}
			fmt.Println(hash)
			return nil
		}
		fmt.Printf("sha256:%s\n", auth.HashKey(args[0]))
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeyArgon2id, "argon2id", false, "emit a salted Argon2id hash instead of SHA-256")
	rootCmd.AddCommand(hashKeyCmd)
}
