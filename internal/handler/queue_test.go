package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleQueue_GetReturnsSnapshot(t *testing.T) {
	app := newTestApp(t)
	app.Scheduler.Enqueue("v1", "Video One")

	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	rec := httptest.NewRecorder()
	HandleQueue(app)(rec, req)

	var out []queueEntryOut
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].VideoID != "v1" || out[0].Status != "waiting" {
		t.Fatalf("expected one waiting entry, got %+v", out)
	}
}

func TestHandleQueue_DeleteClearsTerminalOnly(t *testing.T) {
	app := newTestApp(t)
	app.Scheduler.RegisterDownload("dl1", "Downloading")
	app.Scheduler.SetDownloadError("dl1", "boom")
	app.Scheduler.Enqueue("v1", "Video One") // stays waiting, not terminal

	req := httptest.NewRequest(http.MethodDelete, "/queue", nil)
	rec := httptest.NewRecorder()
	HandleQueue(app)(rec, req)

	var body map[string]int
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["cleared"] != 1 {
		t.Errorf("expected 1 cleared (the error entry), got %+v", body)
	}
	if len(app.Scheduler.Snapshot()) != 1 {
		t.Errorf("expected the waiting entry to survive clear")
	}
}

func TestHandleQueueByID_RemoveWaitingEntry(t *testing.T) {
	app := newTestApp(t)
	app.Scheduler.Enqueue("v1", "Video One")

	req := httptest.NewRequest(http.MethodDelete, "/queue/v1", nil)
	rec := httptest.NewRecorder()
	HandleQueueByID(app)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(app.Scheduler.Snapshot()) != 0 {
		t.Error("expected entry to be removed")
	}
}

func TestHandleQueueByID_RemoveUnknownIs404(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest(http.MethodDelete, "/queue/missing", nil)
	rec := httptest.NewRecorder()
	HandleQueueByID(app)(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
