// Package asr wraps the external speech-recognition and media tooling the
// Transcriber depends on: ffmpeg for audio extraction and duration probing,
// and a pluggable ASR binary for transcription. Both are external CLI
// processes invoked with exec.Command, mirroring how the reference
// codebase wraps its own media/ASR binaries.
package asr

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/fralid/video-search-editor/internal/pipelineerr"
)

// Word is a single transcribed word with its timestamp span.
type Word struct {
	Text  string
	Start float64
	End   float64
}

// Segment is one ASR-produced segment with its per-word timestamps.
type Segment struct {
	Start float64
	End   float64
	Text  string
	Words []Word
}

// Result is everything one Transcribe call yields.
type Result struct {
	Segments           []Segment
	Language           string
	LanguageConfidence float64
}

// Capability is the pluggable ASR contract: any tool that accepts a 16kHz
// mono WAV path and emits JSON segments with word timestamps on stdout.
type Capability interface {
	Transcribe(audioPath string) (Result, error)
}

// AudioExtractor pulls a 16kHz mono WAV audio track out of a video file.
// Implemented by *FFmpeg in production; tests wire in a fake.
type AudioExtractor interface {
	ExtractAudio(videoPath, outputPath string) error
}

// --- wire format for the CLI tool's JSON stdout ---

type cliWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type cliSegment struct {
	Start float64   `json:"start"`
	End   float64   `json:"end"`
	Text  string    `json:"text"`
	Words []cliWord `json:"words"`
}

type cliOutput struct {
	Language           string       `json:"language"`
	LanguageConfidence float64      `json:"language_confidence"`
	Segments           []cliSegment `json:"segments"`
}

// CLICapability shells out to an ASR binary that accepts `-m <model> -w
// <audio.wav> --json` and writes the cliOutput JSON schema to stdout.
type CLICapability struct {
	BinaryPath string
	ModelPath  string
}

func hasShellMetachar(path string) bool {
	return strings.ContainsAny(path, "|;&$`\n")
}

// CheckAvailable verifies the binary and model files exist before any run is
// attempted.
func (c *CLICapability) CheckAvailable() error {
	if c.BinaryPath == "" {
		return pipelineerr.Validationf("ASR binary path not configured")
	}
	if info, err := os.Stat(c.BinaryPath); err != nil {
		return pipelineerr.Validationf("ASR binary not found: %s", c.BinaryPath)
	} else if info.IsDir() {
		return pipelineerr.Validationf("ASR binary path is a directory: %s", c.BinaryPath)
	}
	if c.ModelPath == "" {
		return pipelineerr.Validationf("ASR model path not configured")
	}
	if info, err := os.Stat(c.ModelPath); err != nil {
		return pipelineerr.Validationf("ASR model not found: %s", c.ModelPath)
	} else if info.IsDir() {
		return pipelineerr.Validationf("ASR model path is a directory: %s", c.ModelPath)
	}
	return nil
}

// Transcribe runs the ASR binary against audioPath and parses its JSON stdout.
func (c *CLICapability) Transcribe(audioPath string) (Result, error) {
	if err := c.CheckAvailable(); err != nil {
		return Result{}, err
	}
	if hasShellMetachar(audioPath) {
		return Result{}, pipelineerr.Validationf("audio path contains illegal characters: %s", audioPath)
	}

	cmd := exec.Command(c.BinaryPath, "-m", c.ModelPath, "-w", audioPath, "--json")
	output, err := cmd.Output()
	if err != nil {
		stderr := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		return Result{}, pipelineerr.DecodingFailuref(err, "ASR transcription failed: %s", strings.TrimSpace(stderr))
	}

	var parsed cliOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return Result{}, pipelineerr.DecodingFailuref(err, "ASR output is not valid JSON")
	}

	segments := make([]Segment, 0, len(parsed.Segments))
	for _, s := range parsed.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		words := make([]Word, len(s.Words))
		for i, w := range s.Words {
			words[i] = Word{Text: strings.TrimSpace(w.Word), Start: w.Start, End: w.End}
		}
		segments = append(segments, Segment{Start: s.Start, End: s.End, Text: text, Words: words})
	}

	return Result{
		Segments:           segments,
		Language:           parsed.Language,
		LanguageConfidence: parsed.LanguageConfidence,
	}, nil
}

// FFmpeg wraps the ffmpeg binary for audio extraction and duration probing.
type FFmpeg struct {
	BinaryPath string
}

// CheckAvailable verifies the ffmpeg binary runs.
func (f *FFmpeg) CheckAvailable() error {
	if f.BinaryPath == "" {
		return pipelineerr.Validationf("ffmpeg path not configured")
	}
	cmd := exec.Command(f.BinaryPath, "-version")
	if output, err := cmd.CombinedOutput(); err != nil {
		return pipelineerr.Validationf("ffmpeg not runnable: %s", strings.TrimSpace(string(output)))
	}
	return nil
}

// ExtractAudio extracts a 16kHz mono WAV audio track from a video file.
func (f *FFmpeg) ExtractAudio(videoPath, outputPath string) error {
	if f.BinaryPath == "" {
		return pipelineerr.Validationf("ffmpeg path not configured")
	}
	for _, path := range []string{videoPath, outputPath} {
		if hasShellMetachar(path) {
			return pipelineerr.Validationf("path contains illegal characters: %s", path)
		}
	}
	cmd := exec.Command(f.BinaryPath,
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y",
		outputPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return pipelineerr.TransientIOf(err, "ffmpeg audio extraction failed: %s", strings.TrimSpace(string(output)))
	}
	return nil
}

// ProbeDuration reads the Duration: HH:MM:SS.xx banner ffmpeg writes to
// stderr. Returns 0 if ffmpeg can't determine a duration.
func (f *FFmpeg) ProbeDuration(videoPath string) float64 {
	if f.BinaryPath == "" {
		return 0
	}
	cmd := exec.Command(f.BinaryPath, "-i", videoPath, "-f", "null", "-")
	output, _ := cmd.CombinedOutput()
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		idx := strings.Index(line, "Duration:")
		if idx < 0 {
			continue
		}
		durStr := strings.TrimSpace(line[idx+len("Duration:"):])
		if commaIdx := strings.Index(durStr, ","); commaIdx > 0 {
			durStr = durStr[:commaIdx]
		}
		durStr = strings.TrimSpace(durStr)
		if durStr == "N/A" {
			return 0
		}
		parts := strings.Split(durStr, ":")
		if len(parts) == 3 {
			var h, m, s float64
			fmt.Sscanf(parts[0], "%f", &h)
			fmt.Sscanf(parts[1], "%f", &m)
			fmt.Sscanf(parts[2], "%f", &s)
			return h*3600 + m*60 + s
		}
	}
	return 0
}
