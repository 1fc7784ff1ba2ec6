// Command video-search-editor runs the ingest/indexing/retrieval engine: it
// loads configuration from the environment, opens the catalog and vector
// stores, wires the pluggable ASR/embedding capabilities into the model
// registry, starts the pipeline scheduler's worker pool, and serves the
// HTTP surface over net/http.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	sqlitevec "github.com/nicexipi/sqlite-vec"

	"github.com/fralid/video-search-editor/internal/asr"
	"github.com/fralid/video-search-editor/internal/catalog"
	"github.com/fralid/video-search-editor/internal/chunker"
	"github.com/fralid/video-search-editor/internal/config"
	"github.com/fralid/video-search-editor/internal/embedding"
	"github.com/fralid/video-search-editor/internal/errlog"
	"github.com/fralid/video-search-editor/internal/handler"
	"github.com/fralid/video-search-editor/internal/modelregistry"
	"github.com/fralid/video-search-editor/internal/router"
	"github.com/fralid/video-search-editor/internal/scheduler"
	"github.com/fralid/video-search-editor/internal/search"
	"github.com/fralid/video-search-editor/internal/thumbnail"
)

func main() {
	cfg := config.Load()
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("create data directories: %v", err)
	}
	if err := errlog.Init(filepath.Join(cfg.DataDir, "logs")); err != nil {
		log.Fatalf("init error log: %v", err)
	}

	db, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("open catalog: %v", err)
	}
	defer db.Close()

	vectorDB, err := openVectorDB(cfg.VectorPath)
	if err != nil {
		log.Fatalf("open vector store: %v", err)
	}
	defer vectorDB.Close()
	if err := sqlitevec.EnsureTable(vectorDB); err != nil {
		log.Fatalf("ensure vector table: %v", err)
	}
	vectorStore := sqlitevec.NewSQLiteVectorStore(vectorDB)

	registry := modelregistry.New(
		asrFactory(cfg),
		embeddingFactory(cfg.Embedding.Dense),
		embeddingFactory(cfg.Embedding.Chunk),
	)

	ffmpeg := &asr.FFmpeg{BinaryPath: cfg.ASR.FFmpegPath}
	chunkCfg := chunker.Config{
		MinChars: cfg.Chunking.MinChars, MaxChars: cfg.Chunking.MaxChars,
		MinSeconds: cfg.Chunking.MinSeconds, MaxSeconds: cfg.Chunking.MaxSeconds,
		Threshold: cfg.Chunking.Threshold,
	}
	sched := scheduler.New(db, vectorStore, registry, ffmpeg, chunkCfg, cfg.Scheduler.Workers, cfg.Scheduler.GPUTokens)
	sched.WorkDir = cfg.DataDir
	sched.Start()
	defer sched.Stop()

	app := &handler.App{
		DB: db, VectorStore: vectorStore, Scheduler: sched,
		Searcher: &search.Searcher{
			DB: db, VectorStore: vectorStore,
			Embedder: denseEmbedderAdapter{
				registry: registry,
				modelID:  cfg.Embedding.Dense.ModelName,
				cache:    modelregistry.NewQueryEmbedCache(512),
			},
		},
		Prober:       ffmpeg,
		Thumbnail:    &thumbnail.Generator{FFmpegPath: cfg.ASR.FFmpegPath},
		VideoDir:     cfg.VideoDir,
		ThumbnailDir: cfg.ThumbnailDir,
	}

	cleanup := router.Register(app)
	defer cleanup()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Bind, cfg.Server.Port)
	srv := &http.Server{Addr: addr}

	go func() {
		errlog.Infof("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	errlog.Infof("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		errlog.Errorf("shutdown: %v", err)
	}
}

// openVectorDB opens the SQLite file backing the vector store. It applies
// the same connection pragmas as the catalog but never touches the
// catalog's schema: sqlitevec.EnsureTable owns this file's only table.
func openVectorDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping vector db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}
	return db, nil
}

// asrFactory builds the registry's lazy ASR capability loader from config.
func asrFactory(cfg *config.Config) func() (asr.Capability, error) {
	return func() (asr.Capability, error) {
		cap := &asr.CLICapability{BinaryPath: cfg.ASR.BinaryPath, ModelPath: cfg.ASR.Model}
		if err := cap.CheckAvailable(); err != nil {
			return nil, err
		}
		return cap, nil
	}
}

// embeddingFactory builds a lazy embedding-client loader for one of the
// registry's two independent embedding slots.
func embeddingFactory(ec config.EmbeddingConfig) func() (modelregistry.Embedder, error) {
	return func() (modelregistry.Embedder, error) {
		if ec.Endpoint == "" {
			return nil, fmt.Errorf("embedding endpoint not configured")
		}
		return embedding.NewAPIEmbeddingService(ec.Endpoint, ec.APIKey, ec.ModelName), nil
	}
}

// denseEmbedderAdapter satisfies search.Embedder by claiming and releasing
// the registry's dense-embedding slot around every query, consistent with
// how the scheduler borrows the chunk-embedding slot per job. A bounded
// query-embedding cache keyed on (modelID, text) sits in front of the
// registry so a repeated query never reloads the model at all.
type denseEmbedderAdapter struct {
	registry *modelregistry.Registry
	modelID  string
	cache    *modelregistry.QueryEmbedCache
}

func (d denseEmbedderAdapter) Embed(text string) ([]float64, error) {
	if vec, ok := d.cache.Get(d.modelID, text); ok {
		return vec, nil
	}
	embedder, err := d.registry.DenseEmbed()
	if err != nil {
		return nil, err
	}
	defer d.registry.ReleaseDenseEmbed()
	vec, err := embedder.Embed(text)
	if err != nil {
		return nil, err
	}
	d.cache.Put(d.modelID, text, vec)
	return vec, nil
}
