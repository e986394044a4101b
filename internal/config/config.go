package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/agenthands/graphkeeper/internal/core/community"
	"github.com/agenthands/graphkeeper/internal/core/dedupe"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "config/config.toml"

type ServerConfig struct {
	Port          string `toml:"port" yaml:"port"`
	Env           string `toml:"env" yaml:"env"`
	DefaultDomain string `toml:"default_domain" yaml:"default_domain"`
}

type StorageConfig struct {
	// Backend is one of file, badger or memory.
	Backend   string `toml:"backend" yaml:"backend"`
	DataDir   string `toml:"data_dir" yaml:"data_dir"`
	HistoryDB string `toml:"history_db" yaml:"history_db"`
}

type HistoryConfig struct {
	MaxHistorySize int `toml:"max_history_size" yaml:"max_history_size"`
	MaxUndoSize    int `toml:"max_undo_size" yaml:"max_undo_size"`
}

type LLMConfig struct {
	Provider string `toml:"provider" yaml:"provider"`
	Model    string `toml:"model" yaml:"model"`
	APIKey   string `toml:"api_key" yaml:"api_key"`
	BaseURL  string `toml:"base_url" yaml:"base_url"`
}

type MemgraphConfig struct {
	URI      string `toml:"uri" yaml:"uri"`
	User     string `toml:"user" yaml:"user"`
	Password string `toml:"password" yaml:"password"`
}

type ConcurrencyConfig struct {
	MigrationWorkers int `toml:"migration_workers" yaml:"migration_workers"`
}

type ExtractionConfig struct {
	// Prompt overrides the built-in extraction prompt. It takes %s for the domain, the
	// suggested categories and the text, in that order.
	Prompt string `toml:"prompt" yaml:"prompt"`
}

type SummaryConfig struct {
	// Prompt overrides the cluster summary prompt. It takes %s for the domain and the member
	// lines.
	Prompt string `toml:"prompt" yaml:"prompt"`
}

type CommunityConfig struct {
	// Detector is lpa for label propagation or components for connected components.
	Detector string `toml:"detector" yaml:"detector"`
}

type Config struct {
	Server      ServerConfig      `toml:"server" yaml:"server"`
	Storage     StorageConfig     `toml:"storage" yaml:"storage"`
	History     HistoryConfig     `toml:"history" yaml:"history"`
	Merge       dedupe.Config     `toml:"merge" yaml:"merge"`
	LLM         LLMConfig         `toml:"llm" yaml:"llm"`
	Memgraph    MemgraphConfig    `toml:"memgraph" yaml:"memgraph"`
	Concurrency ConcurrencyConfig `toml:"concurrency" yaml:"concurrency"`
	Extraction  ExtractionConfig  `toml:"extraction" yaml:"extraction"`
	Summary     SummaryConfig     `toml:"summary" yaml:"summary"`
	Community   CommunityConfig   `toml:"community" yaml:"community"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			Env:           "development",
			DefaultDomain: "universal",
		},
		Storage: StorageConfig{
			Backend:   "file",
			DataDir:   "data",
			HistoryDB: "data/history.db",
		},
		History: HistoryConfig{
			MaxHistorySize: 1000,
			MaxUndoSize:    50,
		},
		Merge: dedupe.DefaultConfig(),
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Concurrency: ConcurrencyConfig{
			MigrationWorkers: 4,
		},
		Community: CommunityConfig{
			Detector: community.DetectorLabelPropagation,
		},
	}
}

// Load reads path on top of Default. A missing file yields the defaults. Files ending in
// .yaml or .yml are decoded as YAML, everything else as TOML. Environment overrides are
// applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	default:
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode replaces the default keyword table only when the file declares one.
func decode(path string, data []byte, cfg *Config) error {
	defaults := cfg.Merge.Keywords
	cfg.Merge.Keywords = nil
	defer func() {
		if cfg.Merge.Keywords == nil {
			cfg.Merge.Keywords = defaults
		}
	}()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse TOML: %w", err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from the environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Server.Port, "PORT")
	set(&c.Server.Env, "ENV")
	set(&c.Server.DefaultDomain, "GRAPHKEEPER_DEFAULT_DOMAIN")
	set(&c.Storage.DataDir, "GRAPHKEEPER_DATA_DIR")
	set(&c.Storage.Backend, "GRAPHKEEPER_STORAGE")
	set(&c.Storage.HistoryDB, "GRAPHKEEPER_HISTORY_DB")
	set(&c.Memgraph.URI, "MEMGRAPH_URI")
	set(&c.Memgraph.User, "MEMGRAPH_USER")
	set(&c.Memgraph.Password, "MEMGRAPH_PASSWORD")
	set(&c.LLM.Provider, "LLM_PROVIDER")
	set(&c.LLM.Model, "LLM_MODEL")
	set(&c.LLM.APIKey, "LLM_API_KEY")
	set(&c.LLM.BaseURL, "LLM_BASE_URL")
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file", "badger", "memory":
	default:
		return apperrors.NewConfigValidationFailed("storage.backend", fmt.Sprintf("unknown backend %q", c.Storage.Backend))
	}
	if c.Storage.Backend != "memory" && c.Storage.DataDir == "" {
		return apperrors.NewConfigValidationFailed("storage.data_dir", "required")
	}
	if c.History.MaxHistorySize <= 0 {
		return apperrors.NewConfigValidationFailed("history.max_history_size", "must be positive")
	}
	if c.History.MaxUndoSize <= 0 {
		return apperrors.NewConfigValidationFailed("history.max_undo_size", "must be positive")
	}
	if c.Concurrency.MigrationWorkers <= 0 {
		return apperrors.NewConfigValidationFailed("concurrency.migration_workers", "must be positive")
	}
	if _, err := community.NewDetector(c.Community.Detector); err != nil {
		return apperrors.NewConfigValidationFailed("community.detector", err.Error())
	}

	m := c.Merge
	for field, v := range map[string]float64{
		"merge.default_threshold":            m.Threshold,
		"merge.default_auto_merge_threshold": m.AutoMergeThreshold,
		"merge.name_weight":                  m.NameWeight,
		"merge.category_weight":              m.CategoryWeight,
		"merge.category_mismatch_score":      m.CategoryMismatchScore,
	} {
		if v < 0 || v > 1 {
			return apperrors.NewConfigValidationFailed(field, fmt.Sprintf("%v outside [0,1]", v))
		}
	}
	if math.Abs(m.NameWeight+m.CategoryWeight-1) > 1e-9 {
		return apperrors.NewConfigValidationFailed("merge.name_weight", "name_weight and category_weight must sum to 1")
	}
	if m.MinWordLength <= 0 {
		return apperrors.NewConfigValidationFailed("merge.min_word_length", "must be positive")
	}
	seen := make(map[string]bool, len(m.Keywords))
	for i, kw := range m.Keywords {
		field := fmt.Sprintf("merge.keywords[%d]", i)
		if kw.Keyword == "" || strings.ContainsAny(kw.Keyword, " \t") || kw.Keyword != strings.ToLower(kw.Keyword) {
			return apperrors.NewConfigValidationFailed(field, "keyword must be a single lowercase token")
		}
		if seen[kw.Keyword] {
			return apperrors.NewConfigValidationFailed(field, "duplicate keyword "+kw.Keyword)
		}
		seen[kw.Keyword] = true
		if kw.Special && (kw.Threshold <= 0 || kw.Threshold > 1 || kw.AutoMergeThreshold < kw.Threshold || kw.AutoMergeThreshold > 1) {
			return apperrors.NewConfigValidationFailed(field, "special keywords need 0 < threshold <= auto_merge_threshold <= 1")
		}
	}
	return nil
}
