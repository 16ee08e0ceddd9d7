package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/meterkeeper/internal/catalog"
	"github.com/solatis/meterkeeper/internal/types"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect classification decision tables",
}

var catalogOptionsCmd = &cobra.Command{
	Use:   "options FIELD",
	Short: "Resolve a metric field's options locally",
	Example: `  meterkeeper catalog options unit_of_measure --set entity_type=API
  meterkeeper catalog options operator --set dimension=AMOUNT`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		resolver, err := loadResolver(cfg)
		if err != nil {
			return err
		}

		set, _ := cmd.Flags().GetStringToString("set")
		values := types.FieldValues{}
		for k, v := range set {
			values[types.Field(k)] = types.Text(v)
		}
		opts, err := resolver.ResolveField(types.Field(args[0]), values)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(opts)
	},
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Check a catalog file without loading it into a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := catalog.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entity types, %d classification pairs\n",
			args[0], len(c.EntityTypes()), len(c.Pairs()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogOptionsCmd, catalogValidateCmd)
	catalogOptionsCmd.Flags().StringToString("set", nil, "known field values, e.g. entity_type=API")
}
