package asr

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/fralid/video-search-editor/internal/pipelineerr"
)

func writeFakeBinary(t *testing.T, dir, name, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake shell-script binaries require a POSIX shell")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write fake binary: %v", err)
	}
	return path
}

func TestCLICapability_CheckAvailable_MissingBinary(t *testing.T) {
	c := &CLICapability{BinaryPath: "", ModelPath: "/tmp/model.bin"}
	err := c.CheckAvailable()
	if err == nil {
		t.Fatal("expected error for missing binary path")
	}
	if pipelineerr.KindOf(err) != pipelineerr.Validation {
		t.Errorf("expected Validation kind, got %s", pipelineerr.KindOf(err))
	}
}

func TestCLICapability_CheckAvailable_MissingModel(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeBinary(t, dir, "asrbin", "#!/bin/sh\necho {}\n")
	c := &CLICapability{BinaryPath: bin, ModelPath: ""}
	if err := c.CheckAvailable(); err == nil {
		t.Fatal("expected error for missing model path")
	}
}

func TestCLICapability_Transcribe_ParsesJSON(t *testing.T) {
	dir := t.TempDir()
	script := `#!/bin/sh
cat <<'EOF'
{
  "language": "en",
  "language_confidence": 0.97,
  "segments": [
    {
      "start": 0.0,
      "end": 1.0,
      "text": "Hello world.",
      "words": [
        {"word": "Hello", "start": 0.0, "end": 0.5},
        {"word": "world.", "start": 0.5, "end": 1.0}
      ]
    }
  ]
}
EOF
`
	bin := writeFakeBinary(t, dir, "asrbin", script)
	modelPath := filepath.Join(dir, "model.bin")
	if err := os.WriteFile(modelPath, []byte("fake"), 0644); err != nil {
		t.Fatal(err)
	}
	audioPath := filepath.Join(dir, "audio.wav")
	os.WriteFile(audioPath, []byte("fake"), 0644)

	c := &CLICapability{BinaryPath: bin, ModelPath: modelPath}
	result, err := c.Transcribe(audioPath)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Language != "en" {
		t.Errorf("expected language en, got %s", result.Language)
	}
	if len(result.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(result.Segments))
	}
	seg := result.Segments[0]
	if seg.Text != "Hello world." {
		t.Errorf("unexpected segment text: %q", seg.Text)
	}
	if len(seg.Words) != 2 || seg.Words[0].Text != "Hello" {
		t.Errorf("unexpected words: %+v", seg.Words)
	}
}

func TestCLICapability_Transcribe_RejectsShellMetacharacters(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeBinary(t, dir, "asrbin", "#!/bin/sh\necho {}\n")
	modelPath := filepath.Join(dir, "model.bin")
	os.WriteFile(modelPath, []byte("fake"), 0644)

	c := &CLICapability{BinaryPath: bin, ModelPath: modelPath}
	_, err := c.Transcribe("/tmp/audio.wav; rm -rf /")
	if err == nil {
		t.Fatal("expected error for path with shell metacharacters")
	}
	if pipelineerr.KindOf(err) != pipelineerr.Validation {
		t.Errorf("expected Validation kind, got %s", pipelineerr.KindOf(err))
	}
}

func TestCLICapability_Transcribe_SkipsEmptySegments(t *testing.T) {
	dir := t.TempDir()
	script := `#!/bin/sh
cat <<'EOF'
{"language":"en","segments":[{"start":0,"end":1,"text":"   ","words":[]},{"start":1,"end":2,"text":"ok.","words":[]}]}
EOF
`
	bin := writeFakeBinary(t, dir, "asrbin", script)
	modelPath := filepath.Join(dir, "model.bin")
	os.WriteFile(modelPath, []byte("fake"), 0644)
	audioPath := filepath.Join(dir, "audio.wav")
	os.WriteFile(audioPath, []byte("fake"), 0644)

	c := &CLICapability{BinaryPath: bin, ModelPath: modelPath}
	result, err := c.Transcribe(audioPath)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if len(result.Segments) != 1 {
		t.Fatalf("expected blank-text segment to be skipped, got %d segments", len(result.Segments))
	}
}

func TestFFmpeg_ProbeDuration_ParsesBanner(t *testing.T) {
	dir := t.TempDir()
	script := `#!/bin/sh
echo "Duration: 00:02:03.45, start: 0.000000, bitrate: 128 kb/s" 1>&2
`
	bin := writeFakeBinary(t, dir, "ffmpeg", script)
	f := &FFmpeg{BinaryPath: bin}
	dur := f.ProbeDuration("video.mp4")
	expected := 2*60 + 3.45
	if dur < expected-0.01 || dur > expected+0.01 {
		t.Errorf("expected duration ~%f, got %f", expected, dur)
	}
}

func TestFFmpeg_ProbeDuration_NA(t *testing.T) {
	dir := t.TempDir()
	script := `#!/bin/sh
echo "Duration: N/A, bitrate: N/A" 1>&2
`
	bin := writeFakeBinary(t, dir, "ffmpeg", script)
	f := &FFmpeg{BinaryPath: bin}
	if dur := f.ProbeDuration("video.mp4"); dur != 0 {
		t.Errorf("expected 0 for N/A duration, got %f", dur)
	}
}

func TestFFmpeg_ExtractAudio_RejectsShellMetacharacters(t *testing.T) {
	f := &FFmpeg{BinaryPath: "/usr/bin/ffmpeg"}
	err := f.ExtractAudio("video.mp4; rm -rf /", "/tmp/out.wav")
	if err == nil {
		t.Fatal("expected error for path with shell metacharacters")
	}
}
