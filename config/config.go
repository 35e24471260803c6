package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingCredential     = errors.New("missing credential")
	ErrUnsupportedDimensions = errors.New("unsupported embedding dimensions")
)

type Config struct {
	Store       Store       `yaml:"store"`
	Embedding   Embedding   `yaml:"embedding"`
	Generation  Generation  `yaml:"generation"`
	Memory      Memory      `yaml:"memory"`
	Server      Server      `yaml:"server"`
	Maintenance Maintenance `yaml:"maintenance"`
}

type Store struct {
	Backend    string `yaml:"backend"`
	Location   string `yaml:"location"`
	Collection string `yaml:"collection"`
	ApiKey     string `yaml:"-"`
}

type Embedding struct {
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	BaseURL    string        `yaml:"base_url"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	// optional redis url so separate processes share cached vectors
	CacheLocation string `yaml:"cache_location"`
	ApiKey        string `yaml:"-"`
}

type Generation struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	ApiKey      string  `yaml:"-"`
}

type Memory struct {
	Window                 time.Duration `yaml:"window"`
	RecentWindow           time.Duration `yaml:"recent_window"`
	HalfLife               time.Duration `yaml:"half_life"`
	MaxEntries             int           `yaml:"max_entries"`
	DedupWindow            time.Duration `yaml:"dedup_window"`
	JaccardThreshold       float64       `yaml:"jaccard_threshold"`
	ClassifierRefs         int           `yaml:"classifier_refs"`
	MinUpdateLength        int           `yaml:"min_update_length"`
	MaxSummaryLength       int           `yaml:"max_summary_length"`
	RecentFetch            int           `yaml:"recent_fetch"`
	SearchFetch            int           `yaml:"search_fetch"`
	MinSimilarity          float64       `yaml:"min_similarity"`
	ConsolidationThreshold float64       `yaml:"consolidation_threshold"`
	MinMergeLength         int           `yaml:"min_merge_length"`
	EmbedRetries           int           `yaml:"embed_retries"`
}

type Server struct {
	Address     string        `yaml:"address"`
	HookTimeout time.Duration `yaml:"hook_timeout"`
}

type Maintenance struct {
	PruneSchedule       string `yaml:"prune_schedule"`
	ConsolidateSchedule string `yaml:"consolidate_schedule"`
	BackupDir           string `yaml:"backup_dir"`
}

func Default() Config {
	return Config{
		Store: Store{
			Backend:    "sqlite",
			Location:   defaultStoreLocation(),
			Collection: "memories",
		},
		Embedding: Embedding{
			Provider: "openai",
			Model:    "text-embedding-3-small",
			CacheTTL: 30 * time.Minute,
		},
		Generation: Generation{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			MaxTokens:   512,
			Temperature: 0.2,
		},
		Memory: Memory{
			Window:                 72 * time.Hour,
			RecentWindow:           12 * time.Hour,
			HalfLife:               24 * time.Hour,
			MaxEntries:             10,
			DedupWindow:            60 * time.Minute,
			JaccardThreshold:       0.55,
			ClassifierRefs:         3,
			MinUpdateLength:        10,
			MaxSummaryLength:       400,
			RecentFetch:            50,
			SearchFetch:            20,
			MinSimilarity:          0.25,
			ConsolidationThreshold: 0.85,
			MinMergeLength:         20,
			EmbedRetries:           3,
		},
		Server: Server{
			Address:     ":8089",
			HookTimeout: 30 * time.Second,
		},
		Maintenance: Maintenance{
			PruneSchedule:       "@hourly",
			ConsolidateSchedule: "30 3 * * *",
			BackupDir:           "backups",
		},
	}
}

// Load overlays the YAML file at path, when given, on the defaults and
// then reads credentials from the environment. A .env file in the working
// directory, or at envFile, is loaded first without overriding variables
// that are already set.
func Load(path string, envFile string) (Config, error) {
	cfg := Default()

	if len(path) > 0 {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := loadEnvFile(envFile); err != nil {
		return Config{}, err
	}

	cfg.applyEnv()

	return cfg, nil
}

func loadEnvFile(envFile string) error {
	if len(envFile) > 0 {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
		return nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}

	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("WORKMEM_STORE_LOCATION"); len(v) > 0 {
		c.Store.Location = v
	}

	if v := os.Getenv("WORKMEM_EMBEDDING_CACHE"); len(v) > 0 {
		c.Embedding.CacheLocation = v
	}

	c.Store.ApiKey = os.Getenv("QDRANT_API_KEY")
	c.Embedding.ApiKey = providerKey(c.Embedding.Provider)
	c.Generation.ApiKey = providerKey(c.Generation.Provider)
}

func providerKey(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "google":
		if v := os.Getenv("GOOGLE_API_KEY"); len(v) > 0 {
			return v
		}
		return os.Getenv("GEMINI_API_KEY")
	default:
		return ""
	}
}

func defaultStoreLocation() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "workmem.db"
	}
	return dir + "/.workmem/memory.db"
}
