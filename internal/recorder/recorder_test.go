package recorder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// scriptStandIn writes a throwaway shell script standing in for ffmpeg in
// tests, since coreutils binaries reject unrecognized long flags and can't
// be used as "ignore all arguments" stand-ins.
func scriptStandIn(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg-standin.sh")
	content := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestSegmentFileNameFormat(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	name := segmentFileName(ts)
	want := "20260304T050607Z.ts"
	if name != want {
		t.Fatalf("segmentFileName = %q, want %q", name, want)
	}
}

func TestSidecarWriteRead(t *testing.T) {
	dir := t.TempDir()
	seg := Segment{
		Channel:     4,
		Path:        filepath.Join(dir, "20260304T050607Z.ts"),
		StartUTC:    time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		DurationS:   1800,
		SizeBytes:   12345,
		UploadState: UploadPending,
	}
	if err := WriteSidecar(seg); err != nil {
		t.Fatalf("WriteSidecar: %v", err)
	}
	got, err := ReadSidecar(seg.Path)
	if err != nil {
		t.Fatalf("ReadSidecar: %v", err)
	}
	if got.Channel != seg.Channel || got.SizeBytes != seg.SizeBytes || got.UploadState != seg.UploadState {
		t.Fatalf("ReadSidecar roundtrip mismatch: got %+v, want %+v", got, seg)
	}
	if !got.StartUTC.Equal(seg.StartUTC) {
		t.Fatalf("StartUTC mismatch: got %v, want %v", got.StartUTC, seg.StartUTC)
	}
}

func TestListSegmentsSkipsJSONAndMissingSidecar(t *testing.T) {
	dir := t.TempDir()
	seg := Segment{Channel: 1, Path: filepath.Join(dir, "a.ts"), StartUTC: time.Now().UTC()}
	if err := os.WriteFile(seg.Path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteSidecar(seg); err != nil {
		t.Fatal(err)
	}
	// a segment file with no sidecar should be skipped, not errored on.
	if err := os.WriteFile(filepath.Join(dir, "b.ts"), []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}

	segs, err := listSegments(dir)
	if err != nil {
		t.Fatalf("listSegments: %v", err)
	}
	if len(segs) != 1 || segs[0].Path != seg.Path {
		t.Fatalf("listSegments = %+v, want exactly the sidecarred segment", segs)
	}
}

func TestListSegmentsMissingDir(t *testing.T) {
	segs, err := listSegments(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("listSegments on missing dir: %v", err)
	}
	if segs != nil {
		t.Fatalf("expected nil segs, got %+v", segs)
	}
}

func TestRunOneSegmentWritesSidecarAndQueues(t *testing.T) {
	ffmpeg := scriptStandIn(t, `
for a in "$@"; do last="$a"; done
echo data > "$last"
exit 0
`)
	dir := t.TempDir()
	queue := make(chan Segment, 1)
	r := New(Config{
		Channel:        7,
		RecordDir:      dir,
		SegmentMinutes: 30,
		RTSPBaseURL:    "rtsp://127.0.0.1:8554",
		FFmpegPath:     ffmpeg,
		UploadQueue:    queue,
	})

	if err := r.runOneSegment(context.Background()); err != nil {
		t.Fatalf("runOneSegment: %v", err)
	}

	entries, err := os.ReadDir(r.channelDir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var sawSegment bool
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".ts" {
			sawSegment = true
		}
	}
	if !sawSegment {
		t.Fatal("expected a .ts segment file to be created")
	}

	select {
	case seg := <-queue:
		if seg.Channel != 7 || seg.UploadState != UploadPending {
			t.Fatalf("unexpected queued segment: %+v", seg)
		}
	default:
		t.Fatal("expected a segment on the upload queue")
	}
}

func TestEvaluateScheduleStartsAndStopsSegmenter(t *testing.T) {
	ffmpeg := scriptStandIn(t, `
trap 'exit 0' TERM INT
while true; do sleep 0.05; done
`)
	sched, err := ParseSchedule("10")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	r := New(Config{
		Channel:        2,
		RecordDir:      t.TempDir(),
		SegmentMinutes: 30,
		RTSPBaseURL:    "rtsp://127.0.0.1:8554",
		FFmpegPath:     ffmpeg,
		Schedule:       sched,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.evaluateSchedule(ctx, at(10))
	if !r.Armed() {
		t.Fatal("expected armed at hour 10")
	}
	r.mu.Lock()
	running := r.segRunning
	r.mu.Unlock()
	if !running {
		t.Fatal("expected segmenter running while armed")
	}

	r.evaluateSchedule(ctx, at(3))
	if r.Armed() {
		t.Fatal("expected disarmed at hour 3")
	}
	r.mu.Lock()
	running = r.segRunning
	r.mu.Unlock()
	if running {
		t.Fatal("expected segmenter stopped once disarmed")
	}
}

func TestPruneRetentionDeletesOldExemptsPending(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{Channel: 9, RecordDir: filepath.Dir(dir), RetentionHours: 24})
	chDir := filepath.Join(filepath.Dir(dir), "ch9")
	if err := os.MkdirAll(chDir, 0o755); err != nil {
		t.Fatal(err)
	}

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()

	oldUploaded := Segment{Channel: 9, Path: filepath.Join(chDir, "old-uploaded.ts"), StartUTC: old, UploadState: UploadUploaded}
	oldPending := Segment{Channel: 9, Path: filepath.Join(chDir, "old-pending.ts"), StartUTC: old, UploadState: UploadPending}
	newSeg := Segment{Channel: 9, Path: filepath.Join(chDir, "new.ts"), StartUTC: recent, UploadState: UploadUploaded}

	for _, seg := range []Segment{oldUploaded, oldPending, newSeg} {
		if err := os.WriteFile(seg.Path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := WriteSidecar(seg); err != nil {
			t.Fatal(err)
		}
	}

	if err := r.pruneRetention(); err != nil {
		t.Fatalf("pruneRetention: %v", err)
	}

	if _, err := os.Stat(oldUploaded.Path); !os.IsNotExist(err) {
		t.Fatal("expected old uploaded segment to be deleted")
	}
	if _, err := os.Stat(oldPending.Path); err != nil {
		t.Fatal("expected old pending segment to be exempted from deletion")
	}
	if _, err := os.Stat(newSeg.Path); err != nil {
		t.Fatal("expected recent segment to survive")
	}
}
