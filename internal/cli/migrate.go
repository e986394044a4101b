package cli

import (
	"github.com/spf13/cobra"

	"github.com/agenthands/graphkeeper/internal/core/migration"
)

var migrateDryRun bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Upgrade stored entity sets and backfill relationships",
	Long: `Upgrades legacy entity sets to the relationship schema and infers relationships
between the sets of each domain. Domains run concurrently. Use --dry-run to report
without writing. Without --domain every stored domain is processed.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "Report without writing")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	opts := migration.Options{DryRun: migrateDryRun}
	if domainFlag != "" {
		opts.Domains = []string{domainFlag}
	}
	report, err := application.Migrator.Run(ctxOf(cmd), opts)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, report)
	}

	if report.DryRun {
		cmd.Println("Dry run: nothing was written.")
	}
	for _, d := range report.Domains {
		cmd.Printf("%s: %d sets, %d migrated, %d relationships applied (%d skipped), %d saved\n",
			d.Domain, d.SetsLoaded, d.SetsMigrated, d.RelationshipsApplied, d.RelationshipsSkipped, d.SetsSaved)
		for _, issue := range d.Issues {
			cmd.Printf("  issue: %s\n", issue)
		}
	}
	if len(report.Domains) == 0 {
		cmd.Println("No domains found.")
	}
	return nil
}
