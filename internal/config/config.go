package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed thresholds.yaml
var thresholdsYAML []byte

type Config struct {
	Immich     ImmichConfig
	Embedding  EmbeddingConfig
	Index      IndexConfig
	Thresholds ThresholdsConfig
}

type ImmichConfig struct {
	URL       string
	APIKey    string
	TimeoutMs int // request timeout in milliseconds
}

type EmbeddingConfig struct {
	URL string // embedding server base URL, empty disables embeddings
	Dim int    // defaults to 2048 (ResNet-style feature vector)
}

type IndexConfig struct {
	Path        string // path to the persisted similarity index
	ProcessedDB string // path to the SQLite idempotency record
}

type ThresholdsConfig struct {
	Similarity SimilarityThresholds `yaml:"similarity"`
}

type SimilarityThresholds struct {
	NearHamming int     `yaml:"near_hamming"`
	Embedding   float64 `yaml:"embedding"`
	SearchK     int     `yaml:"search_k"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envString reads an environment variable, falling back to a default.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var thresholds ThresholdsConfig
	if err := yaml.Unmarshal(thresholdsYAML, &thresholds); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded thresholds.yaml: " + err.Error())
	}

	return &Config{
		Immich: ImmichConfig{
			URL:       os.Getenv("IMMICH_URL"),
			APIKey:    os.Getenv("IMMICH_API_KEY"),
			TimeoutMs: envInt("IMMICH_TIMEOUT_MS", 2000),
		},
		Embedding: EmbeddingConfig{
			URL: os.Getenv("EMBEDDING_URL"),
			Dim: envInt("EMBEDDING_DIM", 2048),
		},
		Index: IndexConfig{
			Path:        envString("INDEX_PATH", "similarity_index.bin"),
			ProcessedDB: envString("PROCESSED_DB_PATH", "processed_assets.db"),
		},
		Thresholds: thresholds,
	}
}
