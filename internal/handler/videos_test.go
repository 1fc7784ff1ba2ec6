package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fralid/video-search-editor/internal/catalog"
)

func TestHandleVideosScan_AddsNewFilesAndSkipsKnown(t *testing.T) {
	app := newTestApp(t)
	if err := os.WriteFile(filepath.Join(app.VideoDir, "talk-one.mp4"), []byte("x"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(app.VideoDir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/videos/scan", nil)
	rec := httptest.NewRecorder()
	HandleVideosScan(app)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["added"].(float64) != 1 {
		t.Errorf("expected 1 added (the .txt file is not a video), got %+v", body)
	}
	if body["total_files"].(float64) != 1 {
		t.Errorf("expected total_files=1, got %+v", body)
	}

	// scanning again finds the same file already known.
	rec2 := httptest.NewRecorder()
	HandleVideosScan(app)(rec2, httptest.NewRequest(http.MethodPost, "/videos/scan", nil))
	var body2 map[string]interface{}
	json.Unmarshal(rec2.Body.Bytes(), &body2)
	if body2["already"].(float64) != 1 {
		t.Errorf("expected already=1 on rescan, got %+v", body2)
	}
}

func TestHandleVideosScan_ProcessEnqueues(t *testing.T) {
	app := newTestApp(t)
	os.WriteFile(filepath.Join(app.VideoDir, "a.mp4"), []byte("x"), 0644)

	req := httptest.NewRequest(http.MethodPost, "/videos/scan?process=true", nil)
	rec := httptest.NewRecorder()
	HandleVideosScan(app)(rec, req)

	snapshot := app.Scheduler.Snapshot()
	if len(snapshot) != 1 || snapshot[0].VideoID != "a" {
		t.Fatalf("expected the scanned video to be enqueued, got %+v", snapshot)
	}
}

func TestHandleVideosProcessPending_SkipsTranscribedAndQueued(t *testing.T) {
	app := newTestApp(t)
	catalog.UpsertVideo(app.DB, catalog.Video{VideoID: "pending", Title: "Pending", Status: catalog.StatusAdded})
	catalog.UpsertVideo(app.DB, catalog.Video{VideoID: "done", Title: "Done", Status: catalog.StatusIndexed})
	catalog.InsertSegments(app.DB, "done", []catalog.Segment{{SegmentID: "s1", StartSec: 0, EndSec: 1, Text: "hi"}})

	req := httptest.NewRequest(http.MethodPost, "/videos/process-pending", nil)
	rec := httptest.NewRecorder()
	HandleVideosProcessPending(app)(rec, req)

	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["enqueued"].(float64) != 1 || body["skipped"].(float64) != 1 {
		t.Errorf("expected 1 enqueued, 1 skipped, got %+v", body)
	}
}

func TestHandleVideosList_ReturnsAllVideos(t *testing.T) {
	app := newTestApp(t)
	catalog.UpsertVideo(app.DB, catalog.Video{VideoID: "v1", Title: "One", Status: catalog.StatusAdded})

	req := httptest.NewRequest(http.MethodGet, "/videos", nil)
	rec := httptest.NewRecorder()
	HandleVideosList(app)(rec, req)

	var out []videoListItem
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].VideoID != "v1" {
		t.Fatalf("expected one video, got %+v", out)
	}
}

func TestHandleVideoByID_ReprocessResetsStatusAndSegments(t *testing.T) {
	app := newTestApp(t)
	catalog.UpsertVideo(app.DB, catalog.Video{VideoID: "v1", Title: "One", Status: catalog.StatusIndexed})
	catalog.InsertSegments(app.DB, "v1", []catalog.Segment{{SegmentID: "s1", StartSec: 0, EndSec: 1, Text: "hi"}})

	req := httptest.NewRequest(http.MethodPost, "/videos/v1/reprocess", nil)
	rec := httptest.NewRecorder()
	HandleVideoByID(app)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	video, _, _ := catalog.GetVideo(app.DB, "v1")
	if video.Status != catalog.StatusAdded {
		t.Errorf("expected status reset to added, got %s", video.Status)
	}
	n, _ := catalog.SegmentCount(app.DB, "v1")
	if n != 0 {
		t.Errorf("expected segments wiped, found %d", n)
	}
	snapshot := app.Scheduler.Snapshot()
	if len(snapshot) != 1 || snapshot[0].VideoID != "v1" {
		t.Errorf("expected reprocess to re-enqueue the video, got %+v", snapshot)
	}
}

func TestHandleVideoByID_ReprocessUnknownVideoIs404(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest(http.MethodPost, "/videos/missing/reprocess", nil)
	rec := httptest.NewRecorder()
	HandleVideoByID(app)(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandleVideoByID_DeleteRemovesRowsAndFile(t *testing.T) {
	app := newTestApp(t)
	videoPath := filepath.Join(app.VideoDir, "v1.mp4")
	os.WriteFile(videoPath, []byte("x"), 0644)
	catalog.UpsertVideo(app.DB, catalog.Video{VideoID: "v1", Title: "One", LocalPath: videoPath, Status: catalog.StatusIndexed})
	catalog.InsertSegments(app.DB, "v1", []catalog.Segment{{SegmentID: "s1", StartSec: 0, EndSec: 1, Text: "hi"}})
	catalog.InsertClip(app.DB, catalog.Clip{ClipID: "c1", VideoID: "v1", StartSec: 0, EndSec: 1, Path: "/tmp/c1.mp4"})

	req := httptest.NewRequest(http.MethodDelete, "/videos/v1", nil)
	rec := httptest.NewRecorder()
	HandleVideoByID(app)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	stats := body["stats"].(map[string]interface{})
	if stats["segments"].(float64) != 1 || stats["clips"].(float64) != 1 {
		t.Errorf("expected stats to report 1 segment, 1 clip, got %+v", stats)
	}
	if _, _, err := catalog.GetVideo(app.DB, "v1"); err != nil {
		t.Fatalf("unexpected error checking deleted video: %v", err)
	}
	if _, ok, _ := catalog.GetVideo(app.DB, "v1"); ok {
		t.Error("expected video row to be gone")
	}
	if _, err := os.Stat(videoPath); !os.IsNotExist(err) {
		t.Error("expected local file to be removed")
	}
}

func TestHandleVideoByID_TranscriptReturnsSegments(t *testing.T) {
	app := newTestApp(t)
	catalog.UpsertVideo(app.DB, catalog.Video{VideoID: "v1", Title: "One", Status: catalog.StatusTranscribed})
	catalog.InsertSegments(app.DB, "v1", []catalog.Segment{
		{SegmentID: "s1", StartSec: 0, EndSec: 2, Text: "hello"},
		{SegmentID: "s2", StartSec: 2, EndSec: 5, Text: "world"},
	})

	req := httptest.NewRequest(http.MethodGet, "/videos/v1/transcript", nil)
	rec := httptest.NewRecorder()
	HandleVideoByID(app)(rec, req)

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	segs := body["segments"].([]interface{})
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %+v", segs)
	}
	if body["duration"].(float64) != 5 {
		t.Errorf("expected duration=5 (end of last segment), got %v", body["duration"])
	}
}
