// Package search implements the hybrid dense+lexical retriever: run both
// rankers, fuse them with Reciprocal Rank Fusion, and deduplicate
// time-overlapping results within a video. Grounded on
// original_source/standalone/search.py for the exact fusion constant and
// overlap-dedup threshold, translated into Go's explicit-error style.
package search

import (
	"database/sql"
	"sort"
	"strings"

	sqlitevec "github.com/nicexipi/sqlite-vec"

	"github.com/fralid/video-search-editor/internal/catalog"
	"github.com/fralid/video-search-editor/internal/pipelineerr"
)

// rrfK is the Reciprocal Rank Fusion smoothing constant.
const rrfK = 60

// minDocChars suppresses stub dense hits shorter than this.
const minDocChars = 30

// overlapDedupFraction is the minimum fraction of a candidate's own
// duration that must overlap an already-kept interval for it to be
// dropped.
const overlapDedupFraction = 0.5

// Result is one ranked hit returned to the caller.
type Result struct {
	ChunkID  string
	VideoID  string
	StartSec float64
	EndSec   float64
	Text     string
	Score    float64
}

// Embedder produces a single query embedding.
type Embedder interface {
	Embed(text string) ([]float64, error)
}

// Searcher fuses dense and lexical retrieval over the catalog and vector
// store. DisableLexical runs the pure-dense path (steps 1 + 4 of the
// hybrid algorithm).
type Searcher struct {
	DB             *sql.DB
	VectorStore    sqlitevec.VectorStore
	Embedder       Embedder
	DisableLexical bool
}

type candidate struct {
	chunkID  string
	videoID  string
	startSec float64
	endSec   float64
	text     string
	rrf      float64
}

// Search runs the hybrid retrieval pipeline and returns at most topK
// results, deduplicated per-video by time overlap, sorted by descending
// fused score.
func (s *Searcher) Search(query string, topK int, videoIDs []string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, pipelineerr.Validationf("search query must not be empty")
	}
	if topK <= 0 {
		topK = 20
	}

	denseRanked, err := s.denseSearch(query, topK, videoIDs)
	if err != nil {
		return nil, err
	}

	var lexicalRanked []candidate
	if !s.DisableLexical {
		lexicalRanked, err = s.lexicalSearch(query, topK, videoIDs)
		if err != nil {
			return nil, err
		}
	}

	fused := fuse(denseRanked, lexicalRanked)
	deduped := dedupOverlap(fused)

	sort.SliceStable(deduped, func(i, j int) bool { return deduped[i].rrf > deduped[j].rrf })
	if len(deduped) > topK {
		deduped = deduped[:topK]
	}

	results := make([]Result, len(deduped))
	for i, c := range deduped {
		results[i] = Result{
			ChunkID: c.chunkID, VideoID: c.videoID,
			StartSec: c.startSec, EndSec: c.endSec,
			Text: c.text, Score: c.rrf,
		}
	}
	return results, nil
}

func (s *Searcher) denseSearch(query string, topK int, videoIDs []string) ([]candidate, error) {
	vec, err := s.Embedder.Embed(query)
	if err != nil {
		return nil, pipelineerr.DecodingFailuref(err, "embed search query")
	}
	hits, err := s.VectorStore.Search(vec, topK*3, 0, videoIDs)
	if err != nil {
		return nil, pipelineerr.TransientIOf(err, "dense search")
	}

	out := make([]candidate, 0, len(hits))
	for _, h := range hits {
		if len(h.ChunkText) < minDocChars {
			continue
		}
		out = append(out, candidate{
			chunkID: h.ChunkID, videoID: h.VideoID,
			startSec: h.StartSec, endSec: h.EndSec, text: h.ChunkText,
		})
	}
	return out, nil
}

func (s *Searcher) lexicalSearch(query string, topK int, videoIDs []string) ([]candidate, error) {
	k := topK * 3
	if len(videoIDs) > 0 {
		k *= 2
	}
	hits, err := catalog.SearchFTS(s.DB, query, k)
	if err != nil {
		return nil, pipelineerr.TransientIOf(err, "lexical search")
	}

	filter := make(map[string]bool, len(videoIDs))
	for _, v := range videoIDs {
		filter[v] = true
	}

	out := make([]candidate, 0, len(hits))
	for _, h := range hits {
		if len(filter) > 0 && !filter[h.VideoID] {
			continue
		}
		rec, ok, err := s.VectorStore.GetByID(h.ChunkID)
		if err != nil {
			return nil, pipelineerr.TransientIOf(err, "backfill timestamps for lexical hit %s", h.ChunkID)
		}
		if !ok {
			// spec 9(b): never synthesize a (0,0) timestamp for a missing record.
			continue
		}
		out = append(out, candidate{
			chunkID: h.ChunkID, videoID: h.VideoID,
			startSec: rec.StartSec, endSec: rec.EndSec, text: h.Text,
		})
	}
	return out, nil
}

// fuse applies Reciprocal Rank Fusion over the two already-ranked lists,
// preferring the dense-side record on overlap since it carries timestamps.
func fuse(dense, lexical []candidate) []candidate {
	byID := make(map[string]*candidate)
	order := make([]string, 0, len(dense)+len(lexical))

	for rank, c := range dense {
		score := 1.0 / float64(rrfK+rank+1)
		cc := c
		cc.rrf = score
		byID[cc.chunkID] = &cc
		order = append(order, cc.chunkID)
	}
	for rank, c := range lexical {
		score := 1.0 / float64(rrfK+rank+1)
		if existing, ok := byID[c.chunkID]; ok {
			existing.rrf += score
			continue
		}
		cc := c
		cc.rrf = score
		byID[cc.chunkID] = &cc
		order = append(order, cc.chunkID)
	}

	out := make([]candidate, 0, len(order))
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, *byID[id])
	}
	return out
}

// dedupOverlap greedily keeps candidates in descending score order within
// each video, dropping any whose interval overlaps an already-kept one by
// at least overlapDedupFraction of its own duration.
func dedupOverlap(candidates []candidate) []candidate {
	byVideo := make(map[string][]candidate)
	for _, c := range candidates {
		byVideo[c.videoID] = append(byVideo[c.videoID], c)
	}

	var kept []candidate
	for _, group := range byVideo {
		sort.SliceStable(group, func(i, j int) bool { return group[i].rrf > group[j].rrf })
		var keptIntervals []candidate
		for _, c := range group {
			if overlapsKept(c, keptIntervals) {
				continue
			}
			keptIntervals = append(keptIntervals, c)
		}
		kept = append(kept, keptIntervals...)
	}
	return kept
}

func overlapsKept(c candidate, kept []candidate) bool {
	duration := c.endSec - c.startSec
	if duration <= 0 {
		return false
	}
	for _, k := range kept {
		overlap := intervalOverlap(c.startSec, c.endSec, k.startSec, k.endSec)
		if overlap/duration >= overlapDedupFraction {
			return true
		}
	}
	return false
}

func intervalOverlap(aStart, aEnd, bStart, bEnd float64) float64 {
	start := aStart
	if bStart > start {
		start = bStart
	}
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	if end <= start {
		return 0
	}
	return end - start
}
