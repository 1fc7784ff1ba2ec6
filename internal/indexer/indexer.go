// Package indexer orchestrates the index_video pipeline stage: load a
// video's raw segments, run the semantic chunker, and upsert the resulting
// chunks into both the vector store and the lexical index. Re-indexing a
// video is destructive and idempotent — step 2 always wipes prior chunk
// rows before new ones are written, so a failed run never leaves stale
// chunks behind a retried one.
package indexer

import (
	"database/sql"
	"encoding/json"
	"fmt"

	sqlitevec "github.com/nicexipi/sqlite-vec"

	"github.com/fralid/video-search-editor/internal/catalog"
	"github.com/fralid/video-search-editor/internal/chunker"
	"github.com/fralid/video-search-editor/internal/errlog"
	"github.com/fralid/video-search-editor/internal/pipelineerr"
)

const batchSize = 64

// Indexer orchestrates index_video for one video at a time.
type Indexer struct {
	DB          *sql.DB
	VectorStore sqlitevec.VectorStore
	Embedder    chunker.Embedder // the chunk-embedding model, normalized
	Config      chunker.Config
}

type wireWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// IndexVideo runs the full orchestration for one video: load, wipe, chunk,
// embed+upsert in batches, commit, advance status.
func (ix *Indexer) IndexVideo(videoID string) error {
	segs, err := catalog.ListSegmentsByVideo(ix.DB, videoID)
	if err != nil {
		return pipelineerr.FatalInternalf(err, "load segments for %s", videoID)
	}
	if len(segs) == 0 {
		return pipelineerr.Validationf("video %s has no transcribed segments", videoID)
	}

	rawSegs := make([]chunker.RawSegment, len(segs))
	for i, s := range segs {
		rawSegs[i] = chunker.RawSegment{
			SegmentID: s.SegmentID,
			StartSec:  s.StartSec,
			EndSec:    s.EndSec,
			Text:      s.Text,
			Words:     decodeWords(s.WordsJSON),
		}
	}

	if err := ix.VectorStore.DeleteByVideoID(videoID); err != nil {
		return pipelineerr.TransientIOf(err, "wipe vector rows for %s", videoID)
	}
	tx, err := ix.DB.Begin()
	if err != nil {
		return pipelineerr.TransientIOf(err, "begin fts wipe for %s", videoID)
	}
	if err := catalog.CleanFTSByVideo(tx, videoID); err != nil {
		tx.Rollback()
		return pipelineerr.TransientIOf(err, "wipe fts rows for %s", videoID)
	}
	if err := tx.Commit(); err != nil {
		return pipelineerr.TransientIOf(err, "commit fts wipe for %s", videoID)
	}

	chunks, err := chunker.SemanticChunk(videoID, rawSegs, ix.Embedder, ix.Config)
	if err != nil {
		return pipelineerr.DecodingFailuref(err, "chunk video %s", videoID)
	}
	if len(chunks) == 0 {
		return pipelineerr.FatalInternalf(nil, "chunker produced no chunks for %s", videoID)
	}

	logSegmentationMetrics(videoID, chunks, ix.Config.MinChars)

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := ix.indexBatch(videoID, chunks[start:end]); err != nil {
			return err
		}
	}

	if err := catalog.SetVideoStatus(ix.DB, videoID, catalog.StatusIndexed); err != nil {
		return pipelineerr.FatalInternalf(err, "advance status for %s", videoID)
	}
	return nil
}

func (ix *Indexer) indexBatch(videoID string, batch []chunker.Chunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}
	vectors, err := ix.Embedder.Encode(texts)
	if err != nil {
		return pipelineerr.DecodingFailuref(err, "embed chunk batch for %s", videoID)
	}
	if len(vectors) != len(batch) {
		return pipelineerr.FatalInternalf(nil, "embedder returned %d vectors for %d chunks", len(vectors), len(batch))
	}

	vecChunks := make([]sqlitevec.VectorChunk, len(batch))
	for i, c := range batch {
		vecChunks[i] = sqlitevec.VectorChunk{
			ChunkID:    c.ChunkID,
			ChunkIndex: i,
			VideoID:    videoID,
			ChunkText:  c.Text,
			Vector:     vectors[i],
			StartSec:   c.StartSec,
			EndSec:     c.EndSec,
		}
	}
	if err := ix.VectorStore.Store(videoID, vecChunks); err != nil {
		return pipelineerr.TransientIOf(err, "upsert vector batch for %s", videoID)
	}

	tx, err := ix.DB.Begin()
	if err != nil {
		return pipelineerr.TransientIOf(err, "begin fts batch for %s", videoID)
	}
	for _, c := range batch {
		if err := catalog.UpsertFTS(tx, c.ChunkID, videoID, c.Text); err != nil {
			tx.Rollback()
			return pipelineerr.TransientIOf(err, "upsert fts row %s", c.ChunkID)
		}
	}
	if err := tx.Commit(); err != nil {
		return pipelineerr.TransientIOf(err, "commit fts batch for %s", videoID)
	}
	return nil
}

func decodeWords(wordsJSON string) []chunker.Word {
	if wordsJSON == "" {
		return nil
	}
	var wire []wireWord
	if err := json.Unmarshal([]byte(wordsJSON), &wire); err != nil {
		return nil
	}
	words := make([]chunker.Word, len(wire))
	for i, w := range wire {
		words[i] = chunker.Word{Text: w.Word, Start: w.Start, End: w.End}
	}
	return words
}

// logSegmentationMetrics reports chunk count, average length/duration, and
// the count of runt (under-minimum) chunks — informational only, doesn't
// affect indexing behavior.
func logSegmentationMetrics(videoID string, chunks []chunker.Chunk, minChars int) {
	if len(chunks) == 0 {
		return
	}
	var totalChars, runts int
	var totalDuration float64
	for _, c := range chunks {
		totalChars += len(c.Text)
		totalDuration += c.EndSec - c.StartSec
		if len(c.Text) < minChars {
			runts++
		}
	}
	errlog.Infof("index_video %s: %d chunks, avg_len=%.0f avg_dur=%.1fs runts=%d",
		videoID, len(chunks), float64(totalChars)/float64(len(chunks)), totalDuration/float64(len(chunks)), runts)
}

// DeleteVideo removes a video's rows from both the catalog and vector
// store. The catalog side already cascades segments/clips/FTS; this adds
// the vector-store side of the cascade.
func DeleteVideo(db *sql.DB, vs sqlitevec.VectorStore, videoID string) error {
	if err := vs.DeleteByVideoID(videoID); err != nil {
		return fmt.Errorf("delete vector rows for %s: %w", videoID, err)
	}
	if err := catalog.DeleteVideo(db, videoID); err != nil {
		return fmt.Errorf("delete catalog rows for %s: %w", videoID, err)
	}
	return nil
}
