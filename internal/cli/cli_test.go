package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agenthands/graphkeeper/internal/app"
	"github.com/agenthands/graphkeeper/internal/config"
)

const seedSet = `{
	"id": "doc-1",
	"domain": "cybersecurity",
	"timestamp": "2024-01-01T00:00:00Z",
	"entities": {
		"security_tools": [
			{"id": "e1", "name": "SIEM", "confidence": 0.85},
			{"id": "e2", "name": "Security Information and Event Management", "confidence": 0.78}
		]
	}
}`

func withApp(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default()
	cfg.Storage.Backend = "memory"
	a, err := app.New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)

	application, ownsApp = a, false
	t.Cleanup(func() {
		_ = a.Close(ctx)
		application = nil
	})
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	cfgPath, domainFlag, jsonOutput = "", "", false
	migrateDryRun = false
	mergeUser, historyEntity, historyType, historyLimit = "", "", "", 0
	clustersSummarize = false

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), buf.String())
	return buf.String()
}

func writeSeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "set.json")
	require.NoError(t, os.WriteFile(path, []byte(seedSet), 0o644))
	return path
}

func TestMergeCommands(t *testing.T) {
	withApp(t)

	out := run(t, "ingest", writeSeed(t))
	assert.Contains(t, out, "Ingested doc-1 into cybersecurity: 2 entities")

	out = run(t, "candidates")
	assert.Contains(t, out, "SIEM (e1) <- Security Information and Event Management (e2) [auto]")

	out = run(t, "merge", "e1", "e2", "--user", "analyst")
	assert.Contains(t, out, "Merged e2 into SIEM (e1)")

	out = run(t, "history", "--entity", "e2")
	assert.Contains(t, out, "manual")
	assert.Contains(t, out, "1 of 1 merges")

	out = run(t, "undo")
	assert.Contains(t, out, "Undid merge")
	out = run(t, "undo")
	assert.Equal(t, "Nothing to undo.\n", out)

	out = run(t, "redo")
	assert.Contains(t, out, "Redid merge")
	out = run(t, "redo")
	assert.Equal(t, "Nothing to redo.\n", out)
}

func TestDeleteCommand(t *testing.T) {
	withApp(t)
	run(t, "ingest", writeSeed(t))

	out := run(t, "delete", "doc-1", "-d", "cybersecurity")
	assert.Equal(t, "Deleted doc-1 from cybersecurity.\n", out)

	sets, err := application.Keeper.EntitySets(context.Background(), "cybersecurity")
	require.NoError(t, err)
	assert.Empty(t, sets)
}

func TestAutoMergeJSON(t *testing.T) {
	withApp(t)
	run(t, "ingest", writeSeed(t))

	out := run(t, "auto-merge", "--json")
	var res struct {
		MergesPerformed int      `json:"mergesPerformed"`
		MergedPairs     []string `json:"mergedPairs"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.MergesPerformed)
	assert.Equal(t, []string{"e1|e2"}, res.MergedPairs)

	out = run(t, "candidates", "--domain", "cybersecurity")
	assert.Equal(t, "No merge candidates.\n", out)
}

func TestTypesAndMigrate(t *testing.T) {
	withApp(t)

	out := run(t, "types", "--domain", "construction")
	assert.Contains(t, out, "supplies")
	assert.Contains(t, out, "manages")
	assert.NotContains(t, out, "monitors")

	run(t, "ingest", writeSeed(t))
	out = run(t, "migrate", "--dry-run")
	assert.Contains(t, out, "Dry run: nothing was written.")
	assert.Contains(t, out, "cybersecurity: 1 sets, 0 migrated")
}

func TestSyncWithoutGraph(t *testing.T) {
	withApp(t)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"sync"})
	assert.Error(t, rootCmd.Execute())

	out := run(t, "clusters")
	assert.Equal(t, "No clusters.\n", out)
}
