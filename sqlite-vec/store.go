// Package sqlitevec provides high-performance vector storage and similarity search
// backed by SQLite. It stores chunk embeddings alongside their source time range
// and supports cosine similarity based retrieval with an in-memory cache for fast
// search and concurrent similarity computation.
//
// Performance optimizations:
// - Contiguous float32 vector arena for CPU cache-friendly sequential access
// - Per-video index for O(video_size) instead of O(total) search
// - 8-way loop unrolling for dot product (maximizes ILP on modern CPUs)
// - SIMD acceleration: AVX-512 / AVX2+FMA / NEON / SSE with automatic detection
// - Adaptive worker count to avoid goroutine overhead on small datasets
// - Query result LRU cache to skip repeated searches
// - Per-worker top-K heap to reduce final merge cost
package sqlitevec

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// VectorStore defines the interface for storing and searching chunk embeddings.
// Metadata filtering is always over a set of video ids; an empty/nil set means
// "no filter, search everything".
type VectorStore interface {
	Store(videoID string, chunks []VectorChunk) error
	Search(queryVector []float64, topK int, threshold float64, videoIDs []string) ([]SearchResult, error)
	GetByID(chunkID string) (SearchResult, bool, error)
	ChunkIDsByVideoID(videoID string) ([]string, error)
	DeleteByVideoID(videoID string) error
}

// VectorChunk represents a single indexed chunk, ready to be stored with its
// embedding. ChunkID follows the catalog's "<video_id>-sem-<i>" convention so
// the dense and lexical stores can be joined by key.
type VectorChunk struct {
	ChunkID    string    `json:"chunk_id"`
	ChunkIndex int       `json:"chunk_index"`
	VideoID    string    `json:"video_id"`
	ChunkText  string    `json:"chunk_text"`
	Vector     []float64 `json:"vector"`
	StartSec   float64   `json:"start_sec"`
	EndSec     float64   `json:"end_sec"`
}

// SearchResult represents a search result with similarity score and the
// chunk's source time range, which is what lets a caller jump straight to
// the matching moment in the video.
type SearchResult struct {
	ChunkID    string  `json:"chunk_id"`
	ChunkIndex int     `json:"chunk_index"`
	VideoID    string  `json:"video_id"`
	ChunkText  string  `json:"chunk_text"`
	Score      float64 `json:"score"`
	StartSec   float64 `json:"start_sec"`
	EndSec     float64 `json:"end_sec"`
}

// chunkMeta holds a chunk's metadata (no vector — vectors live in the arena).
type chunkMeta struct {
	chunkID    string
	chunkIndex int
	videoID    string
	chunkText  string
	startSec   float64
	endSec     float64
}

// vectorArena stores all vectors contiguously in a single []float32 for
// CPU cache-friendly sequential access.
type vectorArena struct {
	data []float32
	dim  int
}

// queryCache provides an LRU cache for recent vector search results.
type queryCache struct {
	mu      sync.Mutex
	entries map[uint64]queryCacheEntry
	order   []uint64
	maxSize int
	ttl     time.Duration
}

type queryCacheEntry struct {
	results   []SearchResult
	timestamp time.Time
}

func newQueryCache(maxSize int, ttl time.Duration) *queryCache {
	return &queryCache{
		entries: make(map[uint64]queryCacheEntry, maxSize),
		order:   make([]uint64, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (qc *queryCache) get(key uint64) ([]SearchResult, bool) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	entry, ok := qc.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.timestamp) > qc.ttl {
		delete(qc.entries, key)
		return nil, false
	}
	for i, k := range qc.order {
		if k == key {
			qc.order = append(qc.order[:i], qc.order[i+1:]...)
			break
		}
	}
	qc.order = append(qc.order, key)
	return entry.results, true
}

func (qc *queryCache) put(key uint64, results []SearchResult) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	if _, ok := qc.entries[key]; !ok {
		if len(qc.order) >= qc.maxSize {
			oldest := qc.order[0]
			qc.order = qc.order[1:]
			delete(qc.entries, oldest)
		}
		qc.order = append(qc.order, key)
	}
	qc.entries[key] = queryCacheEntry{results: results, timestamp: time.Now()}
}

func (qc *queryCache) invalidate() {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	qc.entries = make(map[uint64]queryCacheEntry, qc.maxSize)
	qc.order = qc.order[:0]
}

// scoredItem is used by the per-worker min-heap to track top-K results efficiently.
type scoredItem struct {
	score float32
	idx   int
}

// SQLiteVectorStore implements VectorStore using SQLite for persistence
// with an in-memory vector cache for fast similarity search.
type SQLiteVectorStore struct {
	db          *sql.DB
	mu          sync.RWMutex
	meta        []chunkMeta
	norms       []float32
	arena       vectorArena
	videoIndex  map[string][]int
	chunkIndex  map[string]int // chunk_id -> index into meta, for point lookups
	loaded      bool
	searchCache *queryCache
}

// SIMDCapability returns a human-readable string describing the active SIMD
// acceleration path for vector operations. Used for startup diagnostics.
func SIMDCapability() string {
	return simdCapability()
}

// NewSQLiteVectorStore creates a new SQLiteVectorStore with the given database connection.
// The database must already have a "chunks" table with the expected schema.
// Use EnsureTable to create the table if needed.
func NewSQLiteVectorStore(db *sql.DB) *SQLiteVectorStore {
	return &SQLiteVectorStore{
		db:          db,
		videoIndex:  make(map[string][]int),
		chunkIndex:  make(map[string]int),
		searchCache: newQueryCache(256, 5*time.Minute),
	}
}

// EnsureTable creates the chunks table and indexes if they don't exist.
func EnsureTable(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS chunks (
		chunk_id    TEXT PRIMARY KEY,
		video_id    TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		chunk_text  TEXT NOT NULL,
		embedding   BLOB NOT NULL,
		start_sec   REAL NOT NULL DEFAULT 0,
		end_sec     REAL NOT NULL DEFAULT 0,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("failed to create chunks table: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_chunks_video_id ON chunks(video_id)`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// loadCache reads all chunks from the database into memory.
func (s *SQLiteVectorStore) loadCache() error {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to count chunks: %w", err)
	}
	if count == 0 {
		s.meta = nil
		s.norms = nil
		s.arena = vectorArena{}
		s.videoIndex = make(map[string][]int)
		s.chunkIndex = make(map[string]int)
		s.loaded = true
		return nil
	}

	rows, err := s.db.Query(`SELECT chunk_id, video_id, chunk_index, chunk_text, embedding, start_sec, end_sec FROM chunks`)
	if err != nil {
		return fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	meta := make([]chunkMeta, 0, count)
	norms := make([]float32, 0, count)
	videoIndex := make(map[string][]int)
	chunkIndex := make(map[string]int, count)
	dimDetected := false
	var arenaData []float32
	var dim int

	for rows.Next() {
		var chunkID, videoID, chunkText string
		var chunkIdx int
		var startSec, endSec float64
		var embeddingBytes []byte

		if err := rows.Scan(&chunkID, &videoID, &chunkIdx, &chunkText, &embeddingBytes, &startSec, &endSec); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}

		vec32 := DeserializeVectorF32(embeddingBytes)

		if !dimDetected && len(vec32) > 0 {
			dim = len(vec32)
			arenaData = make([]float32, 0, count*dim)
			dimDetected = true
		}

		idx := len(meta)
		norm := vectorNormSIMD(vec32)
		var invNorm float32
		if norm > 0 {
			invNorm = 1.0 / norm
		}

		meta = append(meta, chunkMeta{
			chunkID:    chunkID,
			chunkIndex: chunkIdx,
			videoID:    videoID,
			chunkText:  chunkText,
			startSec:   startSec,
			endSec:     endSec,
		})
		norms = append(norms, invNorm)
		arenaData = append(arenaData, vec32...)
		videoIndex[videoID] = append(videoIndex[videoID], idx)
		chunkIndex[chunkID] = idx
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}

	s.meta = meta
	s.norms = norms
	s.arena = vectorArena{data: arenaData, dim: dim}
	s.videoIndex = videoIndex
	s.chunkIndex = chunkIndex
	s.loaded = true
	return nil
}

func (s *SQLiteVectorStore) ensureCache() error {
	if s.loaded {
		return nil
	}
	return s.loadCache()
}

// vectorNorm computes the L2 norm of a float64 vector.
func vectorNorm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// Store inserts a batch of VectorChunks belonging to videoID and updates the cache.
func (s *SQLiteVectorStore) Store(videoID string, chunks []VectorChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO chunks (chunk_id, video_id, chunk_index, chunk_text, embedding, start_sec, end_sec)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	type newEntry struct {
		meta    chunkMeta
		invNorm float32
		vec32   []float32
	}
	newEntries := make([]newEntry, 0, len(chunks))

	for _, chunk := range chunks {
		embeddingBytes := SerializeVector(chunk.Vector)

		_, err := stmt.Exec(chunk.ChunkID, videoID, chunk.ChunkIndex, chunk.ChunkText, embeddingBytes, chunk.StartSec, chunk.EndSec)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ChunkID, err)
		}

		vec32 := toFloat32(chunk.Vector)
		norm := vectorNormSIMD(vec32)
		var invNorm float32
		if norm > 0 {
			invNorm = 1.0 / norm
		}
		newEntries = append(newEntries, newEntry{
			meta: chunkMeta{
				chunkID:    chunk.ChunkID,
				chunkIndex: chunk.ChunkIndex,
				videoID:    videoID,
				chunkText:  chunk.ChunkText,
				startSec:   chunk.StartSec,
				endSec:     chunk.EndSec,
			},
			invNorm: invNorm,
			vec32:   vec32,
		})
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if s.loaded {
		for _, ne := range newEntries {
			idx := len(s.meta)
			s.meta = append(s.meta, ne.meta)
			s.norms = append(s.norms, ne.invNorm)
			if s.arena.dim == 0 && len(ne.vec32) > 0 {
				s.arena.dim = len(ne.vec32)
			}
			s.arena.data = append(s.arena.data, ne.vec32...)
			s.videoIndex[ne.meta.videoID] = append(s.videoIndex[ne.meta.videoID], idx)
			s.chunkIndex[ne.meta.chunkID] = idx
		}
	} else {
		if err := s.loadCache(); err != nil {
			return err
		}
	}

	s.searchCache.invalidate()
	return nil
}

func hashQueryVector(qv []float32, topK int, threshold float64, videoIDs []string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	n := len(qv)
	if n > 8 {
		n = 8
	}
	for i := 0; i < n; i++ {
		bits := math.Float32bits(qv[i])
		h ^= uint64(bits)
		h *= prime64
		h ^= uint64(bits >> 16)
		h *= prime64
	}
	h ^= uint64(topK)
	h *= prime64
	h ^= math.Float64bits(threshold)
	h *= prime64
	for _, id := range videoIDs {
		for i := 0; i < len(id); i++ {
			h ^= uint64(id[i])
			h *= prime64
		}
		h ^= 0xa5
	}
	return h
}

const minWorkersThreshold = 500

func adaptiveWorkers(n int) int {
	if n < minWorkersThreshold {
		return 1
	}
	w := n / minWorkersThreshold
	cpus := runtime.NumCPU()
	if w > cpus {
		w = cpus
	}
	if w < 1 {
		w = 1
	}
	return w
}

// Search uses the in-memory arena with concurrent cosine similarity computation.
// videoIDs, if non-empty, restricts the search to chunks owned by those videos.
func (s *SQLiteVectorStore) Search(queryVector []float64, topK int, threshold float64, videoIDs []string) ([]SearchResult, error) {
	queryF32 := toFloat32(queryVector)

	cacheKey := hashQueryVector(queryF32, topK, threshold, videoIDs)
	if cached, ok := s.searchCache.get(cacheKey); ok {
		return cached, nil
	}

	s.mu.Lock()
	if err := s.ensureCache(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	meta := s.meta
	normsArr := s.norms
	arena := s.arena
	indices := s.getRelevantIndices(videoIDs)
	s.mu.Unlock()

	if len(meta) == 0 || len(indices) == 0 || arena.dim == 0 {
		return nil, nil
	}

	queryNorm := vectorNormSIMD(queryF32)
	if queryNorm == 0 {
		return nil, nil
	}

	invQueryNorm := float32(1.0) / queryNorm
	thresholdF32 := float32(threshold)
	dim := arena.dim

	numWorkers := adaptiveWorkers(len(indices))
	chunkSize := (len(indices) + numWorkers - 1) / numWorkers
	type partialResult struct {
		items []scoredItem
	}
	resultsCh := make(chan partialResult, numWorkers)

	for w := 0; w < numWorkers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > len(indices) {
			end = len(indices)
		}
		go func(idxSlice []int) {
			h := make([]scoredItem, 0, topK+1)
			hLen := 0

			arenaData := arena.data
			norms := normsArr
			for _, idx := range idxSlice {
				invNorm := norms[idx]
				if invNorm == 0 {
					continue
				}
				vecStart := idx * dim
				vecEnd := vecStart + dim
				if vecEnd > len(arenaData) {
					continue
				}
				vec := arenaData[vecStart:vecEnd]

				dot := dotProductSIMD(queryF32, vec)
				score := dot * invQueryNorm * invNorm

				if score >= thresholdF32 {
					if hLen < topK {
						h = append(h, scoredItem{score: score, idx: idx})
						hLen++
						i := hLen - 1
						for i > 0 {
							parent := (i - 1) / 2
							if h[parent].score <= h[i].score {
								break
							}
							h[parent], h[i] = h[i], h[parent]
							i = parent
						}
					} else if score > h[0].score {
						h[0] = scoredItem{score: score, idx: idx}
						i := 0
						for {
							left := 2*i + 1
							if left >= hLen {
								break
							}
							smallest := left
							right := left + 1
							if right < hLen && h[right].score < h[left].score {
								smallest = right
							}
							if h[i].score <= h[smallest].score {
								break
							}
							h[i], h[smallest] = h[smallest], h[i]
							i = smallest
						}
					}
				}
			}
			resultsCh <- partialResult{items: h[:hLen]}
		}(indices[start:end])
	}

	merged := make([]scoredItem, 0, topK+1)
	mergedLen := 0
	for w := 0; w < numWorkers; w++ {
		pr := <-resultsCh
		for _, item := range pr.items {
			if mergedLen < topK {
				merged = append(merged, item)
				mergedLen++
				i := mergedLen - 1
				for i > 0 {
					parent := (i - 1) / 2
					if merged[parent].score <= merged[i].score {
						break
					}
					merged[parent], merged[i] = merged[i], merged[parent]
					i = parent
				}
			} else if item.score > merged[0].score {
				merged[0] = item
				i := 0
				for {
					left := 2*i + 1
					if left >= mergedLen {
						break
					}
					smallest := left
					right := left + 1
					if right < mergedLen && merged[right].score < merged[left].score {
						smallest = right
					}
					if merged[i].score <= merged[smallest].score {
						break
					}
					merged[i], merged[smallest] = merged[smallest], merged[i]
					i = smallest
				}
			}
		}
	}

	allResults := make([]SearchResult, mergedLen)
	for i := mergedLen - 1; i >= 0; i-- {
		item := merged[0]
		mergedLen--
		if mergedLen > 0 {
			merged[0] = merged[mergedLen]
			j := 0
			for {
				left := 2*j + 1
				if left >= mergedLen {
					break
				}
				smallest := left
				right := left + 1
				if right < mergedLen && merged[right].score < merged[left].score {
					smallest = right
				}
				if merged[j].score <= merged[smallest].score {
					break
				}
				merged[j], merged[smallest] = merged[smallest], merged[j]
				j = smallest
			}
		}
		m := &meta[item.idx]
		allResults[i] = SearchResult{
			ChunkID:    m.chunkID,
			ChunkIndex: m.chunkIndex,
			VideoID:    m.videoID,
			ChunkText:  m.chunkText,
			Score:      float64(item.score),
			StartSec:   m.startSec,
			EndSec:     m.endSec,
		}
	}

	s.searchCache.put(cacheKey, allResults)
	return allResults, nil
}

// getRelevantIndices returns the arena indices to scan. An empty videoIDs
// slice means no filter — scan every chunk. Caller must hold s.mu.
func (s *SQLiteVectorStore) getRelevantIndices(videoIDs []string) []int {
	if len(videoIDs) == 0 {
		indices := make([]int, len(s.meta))
		for i := range indices {
			indices[i] = i
		}
		return indices
	}
	var total int
	for _, id := range videoIDs {
		total += len(s.videoIndex[id])
	}
	if total == 0 {
		return nil
	}
	indices := make([]int, 0, total)
	for _, id := range videoIDs {
		indices = append(indices, s.videoIndex[id]...)
	}
	return indices
}

// GetByID looks up a single chunk's stored record by chunk id, used by the
// hybrid searcher to backfill timestamps for lexical-only hits.
func (s *SQLiteVectorStore) GetByID(chunkID string) (SearchResult, bool, error) {
	s.mu.Lock()
	if err := s.ensureCache(); err != nil {
		s.mu.Unlock()
		return SearchResult{}, false, err
	}
	idx, ok := s.chunkIndex[chunkID]
	if !ok {
		s.mu.Unlock()
		return SearchResult{}, false, nil
	}
	m := s.meta[idx]
	s.mu.Unlock()

	return SearchResult{
		ChunkID:    m.chunkID,
		ChunkIndex: m.chunkIndex,
		VideoID:    m.videoID,
		ChunkText:  m.chunkText,
		StartSec:   m.startSec,
		EndSec:     m.endSec,
	}, true, nil
}

// ChunkIDsByVideoID returns every chunk id stored for videoID, used by the
// testable cross-store consistency property.
func (s *SQLiteVectorStore) ChunkIDsByVideoID(videoID string) ([]string, error) {
	s.mu.Lock()
	if err := s.ensureCache(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	idxs := s.videoIndex[videoID]
	ids := make([]string, len(idxs))
	for i, idx := range idxs {
		ids[i] = s.meta[idx].chunkID
	}
	s.mu.Unlock()
	return ids, nil
}

// DeleteByVideoID removes all chunks for the given video from DB and cache.
func (s *SQLiteVectorStore) DeleteByVideoID(videoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM chunks WHERE video_id = ?`, videoID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks for video %s: %w", videoID, err)
	}

	if s.loaded {
		dim := s.arena.dim
		newMeta := make([]chunkMeta, 0, len(s.meta))
		newNorms := make([]float32, 0, len(s.norms))
		var newArenaData []float32
		if dim > 0 {
			newArenaData = make([]float32, 0, len(s.arena.data))
		}
		newVideoIndex := make(map[string][]int)
		newChunkIndex := make(map[string]int, len(s.chunkIndex))

		for i, m := range s.meta {
			if m.videoID != videoID {
				idx := len(newMeta)
				newMeta = append(newMeta, m)
				if i < len(s.norms) {
					newNorms = append(newNorms, s.norms[i])
				}
				if dim > 0 {
					vecStart := i * dim
					vecEnd := vecStart + dim
					if vecEnd <= len(s.arena.data) {
						newArenaData = append(newArenaData, s.arena.data[vecStart:vecEnd]...)
					}
				}
				newVideoIndex[m.videoID] = append(newVideoIndex[m.videoID], idx)
				newChunkIndex[m.chunkID] = idx
			}
		}
		s.meta = newMeta
		s.norms = newNorms
		s.arena.data = newArenaData
		s.videoIndex = newVideoIndex
		s.chunkIndex = newChunkIndex
	}

	s.searchCache.invalidate()
	return nil
}

// DeserializeVectorF32Unsafe decodes float32 format data into a newly
// allocated slice; lengths that are a multiple of 8 go through
// DeserializeVectorF32, which also recognises legacy float64 blobs.
func DeserializeVectorF32Unsafe(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	if len(data)%8 != 0 {
		n := len(data) / 4
		vec := make([]float32, n)
		for i := 0; i < n; i++ {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return vec
	}
	return DeserializeVectorF32(data)
}
