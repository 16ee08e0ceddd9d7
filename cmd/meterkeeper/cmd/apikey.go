package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/meterkeeper/internal/core/auth"
	"github.com/solatis/meterkeeper/internal/core/config"
	"github.com/solatis/meterkeeper/internal/core/db"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Issue, list and revoke API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue a key for a tenant; the key is printed once",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		name, _ := cmd.Flags().GetString("name")
		secretID, _ := cmd.Flags().GetString("secret-id")
		if tenant == "" {
			return fmt.Errorf("--tenant required")
		}

		return withAuthenticator(func(a *auth.Authenticator) error {
			key, info, err := a.IssueKey(cmd.Context(), tenant, name, secretID)
			if err != nil {
				return err
			}
			logger.Info("api key issued", "api_key_id", info.ID, "tenant_id", info.TenantID, "secret_id", info.SecretID)
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		})
	},
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a tenant's keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		if tenant == "" {
			return fmt.Errorf("--tenant required")
		}

		return withAuthenticator(func(a *auth.Authenticator) error {
			keys, err := a.ListKeys(cmd.Context(), tenant)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSECRET\tCREATED\tLAST USED\tREVOKED")
			for _, k := range keys {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.SecretID,
					k.CreatedAt.Format(time.RFC3339), formatTime(k.LastUsedAt), formatTime(k.RevokedAt))
			}
			return tw.Flush()
		})
	},
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke KEY_ID",
	Short: "Revoke a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAuthenticator(func(a *auth.Authenticator) error {
			if err := a.RevokeKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			logger.Info("api key revoked", "api_key_id", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyListCmd, apikeyRevokeCmd)

	apikeyCreateCmd.Flags().String("tenant", "", "tenant the key authenticates as")
	apikeyCreateCmd.Flags().String("name", "", "label for the key")
	apikeyCreateCmd.Flags().String("secret-id", "", "HMAC secret to sign with (default: newest)")
	apikeyListCmd.Flags().String("tenant", "", "tenant to list")
}

func withAuthenticator(fn func(*auth.Authenticator) error) error {
	database, err := openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	queries, err := db.LoadQueries(database)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}
	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	return fn(auth.NewAuthenticator(secrets, queries, logger))
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
