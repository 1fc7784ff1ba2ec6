// Package config loads the engine's configuration from environment variables.
// Every concern gets its own grouped struct (ASR, embedding, chunking, …)
// rather than one flat bag of fields.
package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all engine configuration.
type Config struct {
	DataDir      string
	Server       ServerConfig
	ASR          ASRConfig
	Embedding    EmbeddingGroupConfig
	Chunking     ChunkingConfig
	Scheduler    SchedulerConfig
	CatalogPath  string
	VectorPath   string
	VideoDir     string
	ClipDir      string
	ThumbnailDir string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Bind string
	Port int
}

// ASRConfig points at the external transcription capability: a CLI tool
// that accepts a 16kHz mono WAV path and prints a JSON segment list with
// word timestamps on stdout.
type ASRConfig struct {
	BinaryPath string
	Model      string
	FFmpegPath string
}

// EmbeddingGroupConfig holds the two independently configured embedding
// clients the model registry manages: one for dense retrieval, one for
// semantic chunking. They are never the same instance even if they point
// at the same endpoint, because the registry must be able to release and
// reload them independently.
type EmbeddingGroupConfig struct {
	Dense EmbeddingConfig
	Chunk EmbeddingConfig
}

// EmbeddingConfig holds configuration for a single OpenAI-compatible
// embedding endpoint.
type EmbeddingConfig struct {
	Endpoint  string
	APIKey    string
	ModelName string
}

// ChunkingConfig holds the semantic chunker's length/duration bounds and
// similarity threshold.
type ChunkingConfig struct {
	MinChars   int
	MaxChars   int
	MinSeconds float64
	MaxSeconds float64
	Threshold  float64
}

// SchedulerConfig holds the pipeline scheduler's pool sizes.
type SchedulerConfig struct {
	Workers     int
	GPUTokens   int
	SearchTopK  int
}

// Load builds a Config from environment variables, applying defaults for
// anything unset. Only DATA_DIR is expected to be set in the common case;
// everything else defaults to values that work with a local CLI ASR tool
// and an HTTP embedding endpoint pointed at by the remaining env vars.
func Load() *Config {
	dataDir := getEnv("DATA_DIR", "./data")

	secrets := newSecretStore(dataDir)
	denseAPIKey, err := secrets.resolve("dense_embedding_api_key", getEnv("DENSE_EMBEDDING_API_KEY", ""))
	if err != nil {
		// A broken encryption key or corrupt secrets file shouldn't stop
		// the process; fall back to whatever the environment provides
		// this run, unpersisted.
		denseAPIKey = getEnv("DENSE_EMBEDDING_API_KEY", "")
	}
	chunkAPIKey, err := secrets.resolve("chunk_embedding_api_key", getEnv("CHUNK_EMBEDDING_API_KEY", ""))
	if err != nil {
		chunkAPIKey = getEnv("CHUNK_EMBEDDING_API_KEY", "")
	}

	cfg := &Config{
		DataDir: dataDir,
		Server: ServerConfig{
			Bind: getEnv("ENGINE_BIND", "0.0.0.0"),
			Port: getEnvInt("ENGINE_PORT", 8080),
		},
		ASR: ASRConfig{
			BinaryPath: getEnv("ASR_BINARY_PATH", ""),
			Model:      getEnv("ASR_MODEL", ""),
			FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),
		},
		Embedding: EmbeddingGroupConfig{
			Dense: EmbeddingConfig{
				Endpoint:  getEnv("DENSE_EMBEDDING_ENDPOINT", ""),
				APIKey:    denseAPIKey,
				ModelName: getEnv("DENSE_EMBEDDING_MODEL", "multilingual-e5-large"),
			},
			Chunk: EmbeddingConfig{
				Endpoint:  getEnv("CHUNK_EMBEDDING_ENDPOINT", ""),
				APIKey:    chunkAPIKey,
				ModelName: getEnv("CHUNK_EMBEDDING_MODEL", "paraphrase-multilingual-MiniLM-L12-v2"),
			},
		},
		Chunking: ChunkingConfig{
			MinChars:   getEnvInt("CHUNK_MIN_CHARS", 80),
			MaxChars:   getEnvInt("CHUNK_MAX_CHARS", 350),
			MinSeconds: getEnvFloat("CHUNK_MIN_SECONDS", 5),
			MaxSeconds: getEnvFloat("CHUNK_MAX_SECONDS", 20),
			Threshold:  getEnvFloat("CHUNK_THRESHOLD", 0.55),
		},
		Scheduler: SchedulerConfig{
			Workers:    getEnvInt("SCHEDULER_WORKERS", 2),
			GPUTokens:  getEnvInt("SCHEDULER_GPU_TOKENS", 2),
			SearchTopK: getEnvInt("SEARCH_TOP_K", 20),
		},
	}

	cfg.CatalogPath = filepath.Join(dataDir, "catalog.db")
	cfg.VectorPath = filepath.Join(dataDir, "vectors.db")
	cfg.VideoDir = filepath.Join(dataDir, "videos")
	cfg.ClipDir = filepath.Join(dataDir, "clips")
	cfg.ThumbnailDir = filepath.Join(dataDir, "thumbnails")

	return cfg
}

// EnsureDirs creates the directories this config roots (data, videos,
// clips, thumbnails) so callers don't have to create them one by one.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.DataDir, c.VideoDir, c.ClipDir, c.ThumbnailDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
