package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/meterkeeper/internal/core/server"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe a running server's gRPC health service",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		status, err := server.CheckHealth(ctx, addr)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), status)
		if status != "SERVING" {
			return fmt.Errorf("%s is %s", addr, status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().String("addr", "127.0.0.1:50051", "gRPC health address")
	healthCmd.Flags().Duration("timeout", 5*time.Second, "probe timeout")
}
