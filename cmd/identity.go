// File: cmd/identity.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/romirom11/agentpass/api/schemas"
	"github.com/romirom11/agentpass/internal/vault"
)

// newIdentityCmd groups the agent identity management commands.
func newIdentityCmd() *cobra.Command {
	identityCmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage agent identity passports",
	}
	identityCmd.AddCommand(newIdentityListCmd())
	identityCmd.AddCommand(newIdentityImportCmd())
	identityCmd.AddCommand(newIdentityDeleteCmd())
	return identityCmd
}

func newIdentityListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered agent identities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, func(v *vault.Vault) error {
				infos, err := v.ListIdentities(cmd.Context())
				if err != nil {
					return err
				}
				out, err := json.MarshalIndent(infos, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, string(out))
				return nil
			})
		},
	}
}

func newIdentityImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <passport.json>",
		Short: "Import an identity passport from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read passport file: %w", err)
			}
			var identity schemas.StoredIdentity
			if err := json.Unmarshal(raw, &identity); err != nil {
				return fmt.Errorf("failed to parse passport file: %w", err)
			}
			if identity.Passport.ID == "" {
				return fmt.Errorf("passport file is missing an id")
			}
			return withVault(cmd, func(v *vault.Vault) error {
				if err := v.StoreIdentity(cmd.Context(), identity); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "imported identity %s\n", identity.Passport.ID)
				return nil
			})
		},
	}
}

func newIdentityDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <passport-id>",
		Short: "Delete a registered agent identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, func(v *vault.Vault) error {
				existed, err := v.DeleteIdentity(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !existed {
					fmt.Fprintf(os.Stdout, "no identity registered as %s\n", args[0])
					return nil
				}
				fmt.Fprintf(os.Stdout, "deleted identity %s\n", args[0])
				return nil
			})
		},
	}
}
