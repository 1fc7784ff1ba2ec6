package router

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	sqlitevec "github.com/nicexipi/sqlite-vec"

	"github.com/fralid/video-search-editor/internal/asr"
	"github.com/fralid/video-search-editor/internal/catalog"
	"github.com/fralid/video-search-editor/internal/chunker"
	"github.com/fralid/video-search-editor/internal/handler"
	"github.com/fralid/video-search-editor/internal/modelregistry"
	"github.com/fralid/video-search-editor/internal/scheduler"
	"github.com/fralid/video-search-editor/internal/search"
)

type noopVectorStore struct{}

func (noopVectorStore) Store(string, []sqlitevec.VectorChunk) error { return nil }
func (noopVectorStore) Search([]float64, int, float64, []string) ([]sqlitevec.SearchResult, error) {
	return nil, nil
}
func (noopVectorStore) GetByID(string) (sqlitevec.SearchResult, bool, error) {
	return sqlitevec.SearchResult{}, false, nil
}
func (noopVectorStore) ChunkIDsByVideoID(string) ([]string, error) { return nil, nil }
func (noopVectorStore) DeleteByVideoID(string) error               { return nil }

// TestRegister_RoutesHealthAndAppliesSecurityHeaders exercises the route
// table end-to-end through http.DefaultServeMux, the way main.go's
// http.Server would dispatch a real request.
func TestRegister_RoutesHealthAndAppliesSecurityHeaders(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	db, err := catalog.Open(dbPath)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	vs := noopVectorStore{}
	registry := modelregistry.New(
		func() (asr.Capability, error) { return nil, nil },
		func() (modelregistry.Embedder, error) { return nil, nil },
		func() (modelregistry.Embedder, error) { return nil, nil },
	)
	sched := scheduler.New(db, vs, registry, nil, chunker.Config{}, 1, 1)
	app := &handler.App{
		DB: db, VectorStore: vs, Scheduler: sched,
		Searcher: &search.Searcher{DB: db, VectorStore: vs, DisableLexical: true},
	}

	cleanup := Register(app)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	http.DefaultServeMux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers middleware to run")
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("expected request-id middleware to run")
	}
}
