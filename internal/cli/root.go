// Package cli implements the graphkeeper command line.
package cli

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/agenthands/graphkeeper/internal/app"
	"github.com/agenthands/graphkeeper/internal/config"
	"github.com/agenthands/graphkeeper/internal/logger"
)

var (
	cfgPath    string
	domainFlag string
	jsonOutput bool

	// application is built by the root command unless a test injected one.
	application *app.App
	ownsApp     bool
)

var rootCmd = &cobra.Command{
	Use:   "graphkeeper",
	Short: "Maintain entity sets, their relationships and merges",
	Long: `graphkeeper manages extracted entity sets: it backfills typed relationships,
finds duplicate entities, merges them and keeps an undoable merge history.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file (defaults to CONFIG_PATH or "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVarP(&domainFlag, "domain", "d", "", "Domain to operate on (defaults to server.default_domain)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of text")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func setup(cmd *cobra.Command, args []string) error {
	if application != nil {
		return nil
	}
	path := cfgPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Server.Env); err != nil {
		return err
	}

	a, err := app.New(cmd.Context(), cfg, logger.Get())
	if err != nil {
		return err
	}
	application, ownsApp = a, true
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if !ownsApp || application == nil {
		return nil
	}
	err := application.Close(context.Background())
	application, ownsApp = nil, false
	logger.Sync()
	return err
}

func domain() string {
	if domainFlag != "" {
		return domainFlag
	}
	return application.Config.Server.DefaultDomain
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
