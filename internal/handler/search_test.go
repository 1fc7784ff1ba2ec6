package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sqlitevec "github.com/nicexipi/sqlite-vec"

	"github.com/fralid/video-search-editor/internal/search"
)

type fakeSearchEmbedder struct{}

func (fakeSearchEmbedder) Embed(string) ([]float64, error) { return []float64{1, 0, 0}, nil }

type fakeSearchVectorStore struct{ hits []sqlitevec.SearchResult }

func (s fakeSearchVectorStore) Search(vec []float64, topK int, threshold float64, videoIDs []string) ([]sqlitevec.SearchResult, error) {
	return s.hits, nil
}
func (fakeSearchVectorStore) GetByID(string) (sqlitevec.SearchResult, bool, error) {
	return sqlitevec.SearchResult{}, false, nil
}
func (fakeSearchVectorStore) Store(string, []sqlitevec.VectorChunk) error { return nil }
func (fakeSearchVectorStore) ChunkIDsByVideoID(string) ([]string, error)  { return nil, nil }
func (fakeSearchVectorStore) DeleteByVideoID(string) error                { return nil }

func TestHandleSearch_ReturnsChunkIDField(t *testing.T) {
	app := newTestApp(t)
	app.Searcher = &search.Searcher{
		Embedder: fakeSearchEmbedder{},
		VectorStore: fakeSearchVectorStore{hits: []sqlitevec.SearchResult{
			{ChunkID: "c1", VideoID: "v1", ChunkText: "this chunk text is long enough to pass the floor", StartSec: 1, EndSec: 4},
		}},
		DisableLexical: true,
	}

	body, _ := json.Marshal(searchRequest{Query: "hello", TopK: 5})
	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	HandleSearch(app)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out []searchResultOut
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].ChunkID != "c1" {
		t.Fatalf("expected one result keyed by chunk_id, got %+v", out)
	}
}

func TestHandleSearch_EmptyQueryIsBadRequest(t *testing.T) {
	app := newTestApp(t)
	app.Searcher = &search.Searcher{Embedder: fakeSearchEmbedder{}, VectorStore: fakeSearchVectorStore{}, DisableLexical: true}

	body, _ := json.Marshal(searchRequest{Query: ""})
	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	HandleSearch(app)(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
