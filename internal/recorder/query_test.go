package recorder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSegmentsTodayCountsOnlyToday(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{Channel: 5, RecordDir: dir})
	chDir := filepath.Join(dir, "ch5")
	if err := os.MkdirAll(chDir, 0o755); err != nil {
		t.Fatal(err)
	}

	today := Segment{Channel: 5, Path: filepath.Join(chDir, "today.ts"), StartUTC: time.Now().UTC()}
	yesterday := Segment{Channel: 5, Path: filepath.Join(chDir, "yesterday.ts"), StartUTC: time.Now().UTC().Add(-48 * time.Hour)}
	for _, seg := range []Segment{today, yesterday} {
		if err := os.WriteFile(seg.Path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := WriteSidecar(seg); err != nil {
			t.Fatal(err)
		}
	}

	n, err := r.SegmentsToday()
	if err != nil {
		t.Fatalf("SegmentsToday: %v", err)
	}
	if n != 1 {
		t.Fatalf("SegmentsToday = %d, want 1", n)
	}
}

func TestDeleteSegmentRejectsPathTraversal(t *testing.T) {
	r := New(Config{Channel: 1, RecordDir: t.TempDir()})
	if err := r.DeleteSegment("../../etc/passwd"); err == nil {
		t.Fatal("expected error for path-traversal filename")
	}
}

func TestDeleteAllSegmentsRemovesEverything(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{Channel: 2, RecordDir: dir})
	chDir := filepath.Join(dir, "ch2")
	if err := os.MkdirAll(chDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.ts", "b.ts"} {
		seg := Segment{Channel: 2, Path: filepath.Join(chDir, name), StartUTC: time.Now().UTC()}
		if err := os.WriteFile(seg.Path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := WriteSidecar(seg); err != nil {
			t.Fatal(err)
		}
	}

	n, err := r.DeleteAllSegments()
	if err != nil {
		t.Fatalf("DeleteAllSegments: %v", err)
	}
	if n != 2 {
		t.Fatalf("DeleteAllSegments returned %d, want 2", n)
	}
	segs, err := r.Segments()
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(segs) != 0 {
		t.Fatalf("expected no segments left, got %+v", segs)
	}
}

func TestForceStartOverridesSchedule(t *testing.T) {
	ffmpeg := scriptStandIn(t, `
trap 'exit 0' TERM INT
while true; do sleep 0.05; done
`)
	sched, err := ParseSchedule("3")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	r := New(Config{
		Channel:     6,
		RecordDir:   t.TempDir(),
		RTSPBaseURL: "rtsp://127.0.0.1:8554",
		FFmpegPath:  ffmpeg,
		Schedule:    sched,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.evaluateSchedule(ctx, at(10))
	if r.Armed() {
		t.Fatal("expected disarmed outside schedule before override")
	}

	r.ForceStart()
	r.evaluateSchedule(ctx, at(10))
	if !r.Armed() {
		t.Fatal("expected ForceStart to override schedule")
	}

	r.ClearOverride()
	r.evaluateSchedule(ctx, at(10))
	if r.Armed() {
		t.Fatal("expected ClearOverride to revert to schedule")
	}
}
