package handler

import (
	"path/filepath"
	"testing"

	sqlitevec "github.com/nicexipi/sqlite-vec"

	"github.com/fralid/video-search-editor/internal/asr"
	"github.com/fralid/video-search-editor/internal/catalog"
	"github.com/fralid/video-search-editor/internal/chunker"
	"github.com/fralid/video-search-editor/internal/modelregistry"
	"github.com/fralid/video-search-editor/internal/scheduler"
	"github.com/fralid/video-search-editor/internal/search"
)

type fakeVectorStore struct{}

func (fakeVectorStore) Store(string, []sqlitevec.VectorChunk) error { return nil }
func (fakeVectorStore) Search([]float64, int, float64, []string) ([]sqlitevec.SearchResult, error) {
	return nil, nil
}
func (fakeVectorStore) GetByID(string) (sqlitevec.SearchResult, bool, error) {
	return sqlitevec.SearchResult{}, false, nil
}
func (fakeVectorStore) ChunkIDsByVideoID(string) ([]string, error) { return nil, nil }
func (fakeVectorStore) DeleteByVideoID(string) error               { return nil }

// newTestApp wires an App over a real temp-dir catalog DB and an unstarted
// scheduler (Enqueue still records a waiting entry; nothing ever drains the
// job channel, so no pipeline stage actually runs during these handler
// tests).
func newTestApp(t *testing.T) *App {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	db, err := catalog.Open(dbPath)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	vs := fakeVectorStore{}
	registry := modelregistry.New(
		func() (asr.Capability, error) { return nil, nil },
		func() (modelregistry.Embedder, error) { return nil, nil },
		func() (modelregistry.Embedder, error) { return nil, nil },
	)
	chunkCfg := chunker.Config{MinChars: 10, MaxChars: 400, MinSeconds: 1, MaxSeconds: 60, Threshold: 0.3}
	sched := scheduler.New(db, vs, registry, nil, chunkCfg, 1, 1)

	return &App{
		DB: db, VectorStore: vs, Scheduler: sched,
		Searcher:     &search.Searcher{DB: db, VectorStore: vs, DisableLexical: true},
		VideoDir:     t.TempDir(),
		ThumbnailDir: t.TempDir(),
	}
}
