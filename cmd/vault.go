// File: cmd/vault.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/romirom11/agentpass/internal/observability"
	"github.com/romirom11/agentpass/internal/vault"
)

// newVaultCmd groups the credential store maintenance commands.
func newVaultCmd() *cobra.Command {
	vaultCmd := &cobra.Command{
		Use:   "vault",
		Short: "Inspect and maintain the encrypted credential store",
	}
	vaultCmd.AddCommand(newVaultListCmd())
	vaultCmd.AddCommand(newVaultDeleteCmd())
	return vaultCmd
}

// withVault opens the store, runs fn, and always closes it.
func withVault(cmd *cobra.Command, fn func(v *vault.Vault) error) error {
	logger := observability.GetLogger()
	v, err := openVault(cmd.Context(), appConfig, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := v.Close(); closeErr != nil {
			logger.Warn("Vault close failed", zap.Error(closeErr))
		}
	}()
	return fn(v)
}

func newVaultListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored credentials (passwords and cookies are never shown)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, func(v *vault.Vault) error {
				infos, err := v.List(cmd.Context())
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

func newVaultDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <service>",
		Short: "Delete the credential stored for a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, func(v *vault.Vault) error {
				existed, err := v.Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !existed {
					fmt.Fprintf(os.Stdout, "no credential stored for %s\n", args[0])
					return nil
				}
				fmt.Fprintf(os.Stdout, "deleted credential for %s\n", args[0])
				return nil
			})
		},
	}
}
