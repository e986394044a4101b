package cli

import (
	"github.com/spf13/cobra"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the relationship types valid in a domain",
	RunE:  runTypes,
}

func init() {
	rootCmd.AddCommand(typesCmd)
}

func runTypes(cmd *cobra.Command, args []string) error {
	defs := application.Keeper.RelationshipTypes(domainFlag)
	if jsonOutput {
		return printJSON(cmd, defs)
	}
	for _, d := range defs {
		inverse := ""
		if d.Inverse != "" {
			inverse = " (inverse " + d.Inverse + ")"
		}
		cmd.Printf("%-20s %s%s\n", d.Type, d.Description, inverse)
	}
	return nil
}
