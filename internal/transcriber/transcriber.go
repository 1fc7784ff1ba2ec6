// Package transcriber implements the Transcriber pipeline stage: it drives
// a video from catalog.StatusAdded to catalog.StatusTranscribed by
// extracting audio, running the ASR capability, and persisting the
// resulting raw segments in a single transaction.
package transcriber

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fralid/video-search-editor/internal/asr"
	"github.com/fralid/video-search-editor/internal/catalog"
	"github.com/fralid/video-search-editor/internal/errlog"
	"github.com/fralid/video-search-editor/internal/pipelineerr"
)

// Transcriber orchestrates one video's transcription. Release is called
// once the ASR capability is done with it, successful or not, so the next
// pipeline stage can claim the accelerator.
type Transcriber struct {
	DB      *sql.DB
	FFmpeg  asr.AudioExtractor
	ASR     asr.Capability
	Release func()
	WorkDir string // scratch directory for extracted audio; defaults to os.TempDir()
}

// Transcribe runs the full stage for videoID. It refuses to overwrite
// existing segments — callers must delete them first to retry.
func (t *Transcriber) Transcribe(videoID string) error {
	defer func() {
		if t.Release != nil {
			t.Release()
		}
	}()

	video, ok, err := catalog.GetVideo(t.DB, videoID)
	if err != nil {
		return pipelineerr.FatalInternalf(err, "load video %s", videoID)
	}
	if !ok {
		return pipelineerr.Validationf("video %s not found", videoID)
	}
	if video.LocalPath == "" {
		return pipelineerr.Validationf("video %s has no local file", videoID)
	}
	if _, err := os.Stat(video.LocalPath); err != nil {
		return pipelineerr.Validationf("video file missing: %s", video.LocalPath)
	}

	count, err := catalog.SegmentCount(t.DB, videoID)
	if err != nil {
		return pipelineerr.FatalInternalf(err, "count existing segments for %s", videoID)
	}
	if count > 0 {
		return pipelineerr.Validationf("video %s already has %d segments; delete them to retranscribe", videoID, count)
	}

	workDir := t.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	tempDir, err := os.MkdirTemp(workDir, "transcribe-*")
	if err != nil {
		return pipelineerr.TransientIOf(err, "create scratch directory")
	}
	defer os.RemoveAll(tempDir)

	audioPath := filepath.Join(tempDir, "audio.wav")
	if err := t.FFmpeg.ExtractAudio(video.LocalPath, audioPath); err != nil {
		catalog.SetVideoStatus(t.DB, videoID, catalog.StatusErrorTranscribe)
		return err
	}

	result, err := t.ASR.Transcribe(audioPath)
	if err != nil {
		catalog.SetVideoStatus(t.DB, videoID, catalog.StatusErrorTranscribe)
		return err
	}

	errlog.Infof("transcribed %s: language=%s confidence=%.2f segments=%d",
		videoID, result.Language, result.LanguageConfidence, len(result.Segments))

	segments := make([]catalog.Segment, 0, len(result.Segments))
	for i, s := range result.Segments {
		wordsJSON, err := encodeWords(s.Words)
		if err != nil {
			return pipelineerr.FatalInternalf(err, "encode words for segment %d of %s", i, videoID)
		}
		segments = append(segments, catalog.Segment{
			SegmentID: videoID + "-" + strconv.Itoa(i),
			StartSec:  s.Start,
			EndSec:    s.End,
			Text:      s.Text,
			WordsJSON: wordsJSON,
		})
	}

	if err := catalog.InsertSegments(t.DB, videoID, segments); err != nil {
		catalog.SetVideoStatus(t.DB, videoID, catalog.StatusErrorTranscribe)
		return pipelineerr.FatalInternalf(err, "persist segments for %s", videoID)
	}

	if err := catalog.SetVideoStatus(t.DB, videoID, catalog.StatusTranscribed); err != nil {
		return pipelineerr.FatalInternalf(err, "advance status for %s", videoID)
	}

	return nil
}

// encodeWords serializes a segment's word timestamps to JSON for storage,
// or returns "" when there are none (word timestamps are optional).
func encodeWords(words []asr.Word) (string, error) {
	if len(words) == 0 {
		return "", nil
	}
	type wireWord struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	}
	wire := make([]wireWord, len(words))
	for i, w := range words {
		wire[i] = wireWord{Word: w.Text, Start: w.Start, End: w.End}
	}
	b, err := json.Marshal(wire)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
