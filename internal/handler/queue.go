package handler

import (
	"net/http"

	"github.com/fralid/video-search-editor/internal/scheduler"
)

type queueEntryOut struct {
	VideoID string `json:"video_id"`
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// HandleQueue serves GET /queue (snapshot) and DELETE /queue (bulk clear of
// terminal entries), the supplemented maintenance operation from section 12.
func HandleQueue(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			snapshot := app.Scheduler.Snapshot()
			out := make([]queueEntryOut, len(snapshot))
			for i, e := range snapshot {
				out[i] = queueEntryOut{VideoID: e.VideoID, Kind: string(e.Kind), Title: e.Title, Status: e.Status, Error: e.Error}
			}
			WriteJSON(w, http.StatusOK, out)
		case http.MethodDelete:
			cleared := app.Scheduler.ClearTerminal()
			WriteJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
		default:
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

// HandleQueueByID serves DELETE /queue/{id}, mapping the scheduler's
// three-way RemoveResult to 200/404/409 per section 6.
func HandleQueueByID(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		videoID := r.URL.Path[len("/queue/"):]
		switch app.Scheduler.Remove(videoID) {
		case scheduler.RemoveOK:
			WriteJSON(w, http.StatusOK, map[string]string{"status": "removed", "video_id": videoID})
		case scheduler.RemoveNotFound:
			WriteError(w, http.StatusNotFound, "not found in queue")
		case scheduler.RemoveProcessing:
			WriteError(w, http.StatusConflict, "cannot remove, already processing")
		}
	}
}
