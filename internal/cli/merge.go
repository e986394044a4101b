package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/agenthands/graphkeeper/internal/core/history"
	"github.com/agenthands/graphkeeper/internal/core/model"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
)

var (
	mergeUser     string
	historyEntity string
	historyType   string
	historyLimit  int
)

var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "List duplicate entities that could be merged",
	RunE:  runCandidates,
}

var autoMergeCmd = &cobra.Command{
	Use:   "auto-merge",
	Short: "Merge every auto-mergeable candidate of a domain",
	RunE:  runAutoMerge,
}

var mergeCmd = &cobra.Command{
	Use:   "merge <primary-id> <secondary-id>",
	Short: "Merge one entity into another",
	Args:  cobra.ExactArgs(2),
	RunE:  runMerge,
}

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Undo the most recent merge",
	RunE:  runUndo,
}

var redoCmd = &cobra.Command{
	Use:   "redo",
	Short: "Redo the most recently undone merge",
	RunE:  runRedo,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show merge history, newest first",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(candidatesCmd, autoMergeCmd, mergeCmd, undoCmd, redoCmd, historyCmd)

	for _, c := range []*cobra.Command{autoMergeCmd, mergeCmd} {
		c.Flags().StringVar(&mergeUser, "user", "", "User recorded on the merge")
	}
	historyCmd.Flags().StringVar(&historyEntity, "entity", "", "Only merges touching this entity id")
	historyCmd.Flags().StringVar(&historyType, "type", "", "Only merges of this type (auto, manual, batch)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", history.DefaultPageLimit, "Maximum records to show")
}

func runCandidates(cmd *cobra.Command, args []string) error {
	candidates, err := application.Merges.Candidates(ctxOf(cmd), domain())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, candidates)
	}
	if len(candidates) == 0 {
		cmd.Println("No merge candidates.")
		return nil
	}
	for _, c := range candidates {
		auto := ""
		if c.AutoMergeable {
			auto = " [auto]"
		}
		cmd.Printf("%.3f  %s (%s) <- %s (%s)%s\n",
			c.Similarity.Overall, c.Primary.Name, c.Primary.ID, c.Secondary.Name, c.Secondary.ID, auto)
	}
	return nil
}

func runAutoMerge(cmd *cobra.Command, args []string) error {
	res, err := application.Merges.AutoMerge(ctxOf(cmd), domain(), mergeUser)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, res)
	}
	cmd.Printf("Performed %d merges (batch %s).\n", res.MergesPerformed, res.BatchID)
	for _, key := range res.MergedPairs {
		cmd.Printf("  %s\n", key)
	}
	return nil
}

func runMerge(cmd *cobra.Command, args []string) error {
	entity, rec, err := application.Merges.ManualMerge(ctxOf(cmd), domain(), args[0], args[1], mergeUser)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, rec)
	}
	cmd.Printf("Merged %s into %s (%s), record %s.\n", args[1], entity.Name, entity.ID, rec.ID)
	return nil
}

func runUndo(cmd *cobra.Command, args []string) error {
	rec, err := application.Merges.Undo(ctxOf(cmd))
	if errors.Is(err, apperrors.ErrNothingToUndo) {
		cmd.Println("Nothing to undo.")
		return nil
	}
	if err != nil {
		return err
	}
	return printRecord(cmd, "Undid", rec)
}

func runRedo(cmd *cobra.Command, args []string) error {
	rec, err := application.Merges.Redo(ctxOf(cmd))
	if errors.Is(err, apperrors.ErrNothingToRedo) {
		cmd.Println("Nothing to redo.")
		return nil
	}
	if err != nil {
		return err
	}
	return printRecord(cmd, "Redid", rec)
}

func printRecord(cmd *cobra.Command, verb string, rec model.MergeRecord) error {
	if jsonOutput {
		return printJSON(cmd, rec)
	}
	cmd.Printf("%s merge %s: %s <- %s\n", verb, rec.ID, rec.PrimaryEntity.Name, rec.SecondaryEntity.Name)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	page := application.Merges.Records(history.Filter{
		EntityID: historyEntity,
		Type:     model.MergeType(historyType),
		Limit:    historyLimit,
	})
	if jsonOutput {
		return printJSON(cmd, page)
	}
	if page.Total == 0 {
		cmd.Println("No merges recorded.")
		return nil
	}
	for _, r := range page.Records {
		cmd.Printf("%s  %-6s %-9s %s <- %s\n",
			r.Timestamp.Format("2006-01-02 15:04:05"), r.Type, r.Status, r.PrimaryEntity.Name, r.SecondaryEntity.Name)
	}
	cmd.Printf("%d of %d merges\n", len(page.Records), page.Total)
	return nil
}
