package handler

import "net/http"

type searchRequest struct {
	Query    string   `json:"query"`
	TopK     int      `json:"top_k"`
	VideoIDs []string `json:"video_ids"`
}

type searchResultOut struct {
	ChunkID string  `json:"chunk_id"`
	VideoID string  `json:"video_id"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// HandleSearch runs the hybrid retriever and returns ranked chunks. Field
// naming here (chunk_id) follows section 6's own response table rather than
// original_source's segment_id, since the chunked unit this engine indexes
// and returns is a chunk, not a raw ASR segment.
func HandleSearch(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req searchRequest
		if err := ReadJSONBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}

		results, err := app.Searcher.Search(req.Query, req.TopK, req.VideoIDs)
		if err != nil {
			writePipelineError(w, err)
			return
		}

		out := make([]searchResultOut, len(results))
		for i, res := range results {
			out[i] = searchResultOut{
				ChunkID: res.ChunkID, VideoID: res.VideoID,
				Start: res.StartSec, End: res.EndSec, Text: res.Text, Score: res.Score,
			}
		}
		WriteJSON(w, http.StatusOK, out)
	}
}
