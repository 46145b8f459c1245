package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantai/surveyflow/internal/auth"
)

var (
	keygenRole   string
	keygenPrefix string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an admin API key and its bcrypt hash",
	Long: `Generate a new API key for the surveyflow admin API.

The plaintext key is shown once and handed to the key holder; the server only
needs the bcrypt hash (ADMIN_API_KEY_HASH) and the granted role
(ADMIN_API_ROLE).

Examples:
  surveyctl keygen
  surveyctl keygen --role readonly
  surveyctl keygen --prefix sfk_ --role superadmin`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !auth.ValidateRole(keygenRole) {
			return fmt.Errorf("invalid role %q: must be readonly, admin, or superadmin", keygenRole)
		}

		key, err := auth.GenerateAPIKey(keygenPrefix)
		if err != nil {
			return fmt.Errorf("key generation failed: %w", err)
		}
		hash, err := auth.HashAPIKey(key)
		if err != nil {
			return fmt.Errorf("key hashing failed: %w", err)
		}

		if quiet {
			fmt.Println(key)
			return nil
		}
		fmt.Printf("API key (store securely, shown once):\n  %s\n\n", key)
		fmt.Printf("Server configuration:\n")
		fmt.Printf("  ADMIN_API_KEY_HASH=%s\n", hash)
		fmt.Printf("  ADMIN_API_ROLE=%s\n", keygenRole)
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenRole, "role", string(auth.RoleAdmin), "Role granted to the key (readonly, admin, superadmin)")
	keygenCmd.Flags().StringVar(&keygenPrefix, "prefix", auth.KeyPrefix, "Prefix for the generated key")
	rootCmd.AddCommand(keygenCmd)
}
