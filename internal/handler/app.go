// Package handler implements the HTTP surface described in section 6: one
// HandlerFunc factory per route, each taking the shared *App and returning a
// closure, mirroring the reference codebase's own handler package shape.
package handler

import (
	"database/sql"

	sqlitevec "github.com/nicexipi/sqlite-vec"

	"github.com/fralid/video-search-editor/internal/scheduler"
	"github.com/fralid/video-search-editor/internal/search"
)

// DurationProber reads a video file's duration without fully decoding it.
type DurationProber interface {
	ProbeDuration(videoPath string) float64
}

// ThumbnailGenerator extracts a representative frame from a video file.
type ThumbnailGenerator interface {
	Generate(videoPath string, durationSec float64, outputPath string) error
}

// App bundles every dependency the handlers need. One instance is built at
// startup in main and threaded through router.Register.
type App struct {
	DB          *sql.DB
	VectorStore sqlitevec.VectorStore
	Scheduler   *scheduler.Scheduler
	Searcher    *search.Searcher

	Prober    DurationProber
	Thumbnail ThumbnailGenerator

	VideoDir     string
	ThumbnailDir string
}
