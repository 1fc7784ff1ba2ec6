// Package thumbnail extracts a single representative frame from a video,
// used to populate the catalog's thumbnail_url column. Adapted from the
// teacher's keyframe-interval extraction: where the original walked the
// whole video at a fixed interval for a filmstrip, this keeps only the
// single-frame ffmpeg invocation needed for a thumbnail.
package thumbnail

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/fralid/video-search-editor/internal/pipelineerr"
)

// Generator extracts a thumbnail frame with ffmpeg.
type Generator struct {
	FFmpegPath string
}

func hasShellMetachar(s string) bool {
	return strings.ContainsAny(s, "|;&$`")
}

// Generate writes a JPEG frame sampled at 10% of durationSec into
// outputPath. When that offset is under 1 second (including a zero or
// negative duration) it samples at 1 second in, since many videos have a
// black or blank opening frame at 0.
func (g *Generator) Generate(videoPath string, durationSec float64, outputPath string) error {
	if g.FFmpegPath == "" {
		return pipelineerr.Validationf("ffmpeg path not configured")
	}
	for _, p := range []string{videoPath, outputPath} {
		if hasShellMetachar(p) {
			return pipelineerr.Validationf("path contains shell metacharacters: %s", p)
		}
	}

	offset := durationSec * 0.1
	if offset < 1 {
		offset = 1
	}

	cmd := exec.Command(g.FFmpegPath,
		"-ss", fmt.Sprintf("%.2f", offset),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		"-y",
		outputPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return pipelineerr.TransientIOf(err, "ffmpeg thumbnail extraction: %s", strings.TrimSpace(string(output)))
	}
	return nil
}
