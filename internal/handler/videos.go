package handler

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/fralid/video-search-editor/internal/catalog"
	"github.com/fralid/video-search-editor/internal/errlog"
	"github.com/fralid/video-search-editor/internal/indexer"
)

type scannedVideo struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
}

// HandleVideosScan walks App.VideoDir for files with a known video
// extension, registers any not already in the catalog, and (when
// ?process=true) enqueues each newly-added video for the pipeline.
func HandleVideosScan(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		process := r.URL.Query().Get("process") == "true"

		entries, err := os.ReadDir(app.VideoDir)
		if err != nil {
			WriteJSON(w, http.StatusOK, map[string]interface{}{"added": 0, "already": 0, "total_files": 0})
			return
		}

		videos, err := catalog.ListVideos(app.DB)
		if err != nil {
			writePipelineError(w, err)
			return
		}
		knownIDs := make(map[string]bool, len(videos))
		knownPaths := make(map[string]bool, len(videos))
		for _, v := range videos {
			knownIDs[v.VideoID] = true
			if v.LocalPath != "" {
				if abs, err := filepath.Abs(v.LocalPath); err == nil {
					knownPaths[abs] = true
				}
			}
		}

		var added []scannedVideo
		var already, totalFiles int
		for _, e := range entries {
			if e.IsDir() || !isVideoFile(e.Name()) {
				continue
			}
			totalFiles++
			path := filepath.Join(app.VideoDir, e.Name())
			abs, err := filepath.Abs(path)
			if err != nil {
				abs = path
			}
			videoID := videoIDFromFilename(e.Name())
			if knownIDs[videoID] || knownPaths[abs] {
				already++
				continue
			}
			title := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
			if err := catalog.UpsertVideo(app.DB, catalog.Video{
				VideoID: videoID, Title: title, LocalPath: abs, Status: catalog.StatusAdded,
			}); err != nil {
				errlog.Errorf("scan: insert %s: %v", videoID, err)
				continue
			}
			added = append(added, scannedVideo{VideoID: videoID, Title: title})

			if app.Prober != nil && app.Thumbnail != nil {
				duration := app.Prober.ProbeDuration(abs)
				thumbPath := filepath.Join(app.ThumbnailDir, videoID+".jpg")
				if err := app.Thumbnail.Generate(abs, duration, thumbPath); err != nil {
					errlog.Errorf("scan: thumbnail for %s: %v", videoID, err)
				} else if err := catalog.SetVideoMetadata(app.DB, videoID, int64(duration), thumbPath); err != nil {
					errlog.Errorf("scan: set metadata for %s: %v", videoID, err)
				}
			}
		}

		if process {
			for _, v := range added {
				app.Scheduler.Enqueue(v.VideoID, v.Title)
			}
		}

		videosOut := added
		if len(videosOut) > 20 {
			videosOut = videosOut[:20]
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"added": len(added), "already": already, "total_files": totalFiles, "videos": videosOut,
		})
	}
}

// HandleVideosProcessPending enqueues every video with zero transcribed
// segments that isn't already queued.
func HandleVideosProcessPending(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		videos, err := catalog.ListVideos(app.DB)
		if err != nil {
			writePipelineError(w, err)
			return
		}

		var enqueued []scannedVideo
		var skipped int
		for _, v := range videos {
			count, err := catalog.SegmentCount(app.DB, v.VideoID)
			if err != nil {
				skipped++
				continue
			}
			if count > 0 {
				skipped++
				continue
			}
			if inQueue(app, v.VideoID) {
				skipped++
				continue
			}
			app.Scheduler.Enqueue(v.VideoID, v.Title)
			enqueued = append(enqueued, scannedVideo{VideoID: v.VideoID, Title: v.Title})
		}

		videosOut := enqueued
		if len(videosOut) > 20 {
			videosOut = videosOut[:20]
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"enqueued": len(enqueued), "skipped": skipped, "total": len(videos), "videos": videosOut,
		})
	}
}

func inQueue(app *App, videoID string) bool {
	for _, e := range app.Scheduler.Snapshot() {
		if e.VideoID == videoID {
			return true
		}
	}
	return false
}

type videoListItem struct {
	VideoID      string `json:"video_id"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	Duration     int64  `json:"duration,omitempty"`
	CreatedAt    string `json:"created_at"`
	ChannelName  string `json:"channel_name,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// HandleVideosList returns every catalogued video, newest first.
func HandleVideosList(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		videos, err := catalog.ListVideos(app.DB)
		if err != nil {
			writePipelineError(w, err)
			return
		}
		out := make([]videoListItem, len(videos))
		for i, v := range videos {
			out[i] = videoListItem{
				VideoID: v.VideoID, Title: v.Title, Status: v.Status, CreatedAt: v.CreatedAt,
				Duration: v.Duration.Int64, ChannelName: v.ChannelName.String, ThumbnailURL: v.ThumbnailURL.String,
			}
		}
		WriteJSON(w, http.StatusOK, out)
	}
}

// HandleVideoByID dispatches the three /videos/{id}... routes that share the
// "/videos/" prefix: reprocess, transcript, and delete.
func HandleVideoByID(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/videos/")
		switch {
		case strings.HasSuffix(rest, "/reprocess"):
			handleVideoReprocess(app, w, r, strings.TrimSuffix(rest, "/reprocess"))
		case strings.HasSuffix(rest, "/transcript"):
			handleVideoTranscript(app, w, r, strings.TrimSuffix(rest, "/transcript"))
		default:
			handleVideoDelete(app, w, r, rest)
		}
	}
}

func handleVideoReprocess(app *App, w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok, err := catalog.GetVideo(app.DB, videoID); err != nil {
		writePipelineError(w, err)
		return
	} else if !ok {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}

	tx, err := app.DB.Begin()
	if err != nil {
		writePipelineError(w, err)
		return
	}
	if _, err := tx.Exec(`DELETE FROM segments WHERE video_id=?`, videoID); err != nil {
		tx.Rollback()
		writePipelineError(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writePipelineError(w, err)
		return
	}
	if err := catalog.SetVideoStatus(app.DB, videoID, catalog.StatusAdded); err != nil {
		writePipelineError(w, err)
		return
	}

	video, _, _ := catalog.GetVideo(app.DB, videoID)
	app.Scheduler.Enqueue(videoID, video.Title)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "reprocessing_started"})
}

func handleVideoDelete(app *App, w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodDelete {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	video, ok, err := catalog.GetVideo(app.DB, videoID)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	if !ok {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}

	segments, _ := catalog.ListSegmentsByVideo(app.DB, videoID)
	clips, _ := catalog.ListClipsByVideo(app.DB, videoID)

	if err := indexer.DeleteVideo(app.DB, app.VectorStore, videoID); err != nil {
		writePipelineError(w, err)
		return
	}
	if video.LocalPath != "" {
		if err := os.Remove(video.LocalPath); err != nil && !os.IsNotExist(err) {
			errlog.Errorf("delete video %s: remove file %s: %v", videoID, video.LocalPath, err)
		}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "deleted",
		"stats":  map[string]int{"segments": len(segments), "clips": len(clips)},
	})
}

type transcriptWord struct {
	Text  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type transcriptSegment struct {
	SegmentID string           `json:"segment_id"`
	Start     float64          `json:"start"`
	End       float64          `json:"end"`
	Text      string           `json:"text"`
	Words     []transcriptWord `json:"words"`
}

func handleVideoTranscript(app *App, w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	video, ok, err := catalog.GetVideo(app.DB, videoID)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	if !ok {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}

	segs, err := catalog.ListSegmentsByVideo(app.DB, videoID)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	out := make([]transcriptSegment, len(segs))
	var duration float64
	for i, s := range segs {
		out[i] = transcriptSegment{
			SegmentID: s.SegmentID, Start: s.StartSec, End: s.EndSec, Text: s.Text,
			Words: decodeTranscriptWords(s.WordsJSON),
		}
		if s.EndSec > duration {
			duration = s.EndSec
		}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"video_id": video.VideoID, "title": video.Title, "duration": duration, "segments": out,
	})
}

func decodeTranscriptWords(wordsJSON string) []transcriptWord {
	if wordsJSON == "" {
		return nil
	}
	var words []transcriptWord
	if err := json.Unmarshal([]byte(wordsJSON), &words); err != nil {
		return nil
	}
	return words
}
