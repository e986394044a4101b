package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agenthands/graphkeeper/internal/core/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <entity-set.json>",
	Short: "Ingest an entity set file and infer its relationships",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <entity-set-id>",
	Short: "Delete an entity set and the relationships pointing at it",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Project the consolidated graph of a domain into Memgraph",
	RunE:  runSync,
}

var clustersSummarize bool

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "List groups of related entity sets",
	RunE:  runClusters,
}

func init() {
	rootCmd.AddCommand(ingestCmd, deleteCmd, syncCmd, clustersCmd)
	clustersCmd.Flags().BoolVar(&clustersSummarize, "summarize", false, "Name and describe each cluster with the LLM")
}

func runIngest(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var set model.EntitySet
	if err := json.Unmarshal(data, &set); err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}
	if set.Domain == "" {
		set.Domain = domain()
	}

	res, err := application.Keeper.Ingest(ctxOf(cmd), &set)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, res)
	}
	cmd.Printf("Ingested %s into %s: %d entities, %d relationships applied.\n",
		res.Set.ID, res.Set.Domain, res.Set.Total(), res.Applied)
	for _, issue := range res.Issues {
		cmd.Printf("  issue: %s\n", issue)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	updated, err := application.Keeper.DeleteEntitySet(ctxOf(cmd), domain(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, map[string]any{"deleted": args[0], "updatedSets": updated})
	}
	cmd.Printf("Deleted %s from %s.\n", args[0], domain())
	if len(updated) > 0 {
		cmd.Printf("  relationships removed from: %s\n", strings.Join(updated, ", "))
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	res, err := application.Keeper.SyncGraph(ctxOf(cmd), domain())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, res)
	}
	cmd.Printf("Synced %s: %d sets, %d entities, %d relationships.\n", res.Domain, res.Sets, res.Entities, res.Relationships)
	return nil
}

func runClusters(cmd *cobra.Command, args []string) error {
	if clustersSummarize {
		summaries, err := application.Keeper.SummarizeClusters(ctxOf(cmd), domain())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, summaries)
		}
		for _, s := range summaries {
			cmd.Printf("%s  %d sets  %s\n", s.ID, len(s.Members), s.Name)
			if s.Summary != "" {
				cmd.Printf("  %s\n", s.Summary)
			}
		}
		return nil
	}

	clusters, err := application.Keeper.Clusters(ctxOf(cmd), domain())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, clusters)
	}
	if len(clusters) == 0 {
		cmd.Println("No clusters.")
	}
	for _, c := range clusters {
		names := make([]string, len(c.Members))
		for i, m := range c.Members {
			names[i] = m.Name
		}
		cmd.Printf("%s  %s\n", c.ID, strings.Join(names, ", "))
	}
	return nil
}
