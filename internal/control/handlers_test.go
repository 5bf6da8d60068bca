package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/citylife4/dvr/internal/config"
	"github.com/citylife4/dvr/internal/ingest"
	"github.com/citylife4/dvr/internal/journal"
	"github.com/citylife4/dvr/internal/recorder"
)

func testServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	j, err := journal.Open(filepath.Join(dir, "events.db"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	rec := recorder.New(recorder.Config{Channel: 1, RecordDir: dir, RetentionHours: 24})
	sup := ingest.New(ingest.Config{Channel: 1})

	cfg := &config.Config{CmdPort: 1, Host: "127.0.0.1"}
	s := NewServer(cfg, map[int]*recorder.Recorder{1: rec}, map[int]*ingest.Supervisor{1: sup}, j, nil)
	return s, dir
}

func TestHandleConfigTypesListsKnownCategories(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/config-types", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got []ConfigType
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected at least one config type")
	}
}

func TestHandleStatusReportsUnreachableWithoutDVR(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if reachable, _ := body["dvr_reachable"].(bool); reachable {
		t.Fatal("expected dvr_reachable=false with no real DVR present")
	}
}

func TestHandleRecordingsStartStopSetsOverride(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/recordings/start?channel=1", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("start status = %d, want 204", w.Code)
	}
	if !s.recorders[1].Armed() {
		t.Fatal("expected recorder armed after forced start")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/recordings/stop?channel=1", nil)
	w = httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("stop status = %d, want 204", w.Code)
	}
	if s.recorders[1].Armed() {
		t.Fatal("expected recorder disarmed after forced stop")
	}
}

func TestHandleRecordingsDeleteRejectsUnknownChannel(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodDelete, "/api/recordings/99/x.ts", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleRecordingsListsSegments(t *testing.T) {
	s, dir := testServer(t)
	chDir := filepath.Join(dir, "ch1")
	if err := os.MkdirAll(chDir, 0o755); err != nil {
		t.Fatal(err)
	}
	seg := recorder.Segment{Channel: 1, Path: filepath.Join(chDir, "a.ts"), StartUTC: time.Now().UTC()}
	if err := os.WriteFile(seg.Path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := recorder.WriteSidecar(seg); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/recordings", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got []recorder.Segment
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].Path != seg.Path {
		t.Fatalf("got %+v, want one segment at %s", got, seg.Path)
	}
}

func TestHandleEventsReturnsJournalRecords(t *testing.T) {
	s, _ := testServer(t)
	if err := s.journal.Record(context.Background(), 1, "TestEvent", "detail"); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var events []journal.Event
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(events) != 1 || events[0].Kind != "TestEvent" {
		t.Fatalf("events = %+v", events)
	}
}

func TestHandleHealthzOK(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHandleHookStartStopUnknownChannel(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/hooks/start/42", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/hooks/stop/42", nil)
	w = httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("stop status = %d, want 404", w.Code)
	}
}

func TestHandleHookStartStopKnownChannelIdempotent(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/hooks/start/1", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("start status = %d, want 204", w.Code)
	}
	// second start is a no-op, not an error (spec: "tolerate overlapping
	// start/stop hooks").
	w = httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("second start status = %d, want 204", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/hooks/stop/1", nil)
	w = httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("stop status = %d, want 204", w.Code)
	}
	s.ingests[1].Stop()
}
