package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// UploadState tracks a segment's off-site upload progress (spec section 3,
// 4.3.2).
type UploadState string

const (
	UploadPending    UploadState = "pending"
	UploadInProgress UploadState = "in_progress"
	UploadUploaded   UploadState = "uploaded"
	UploadFailed     UploadState = "failed"
)

// Segment describes one recorded container file (spec section 3:
// "Recording file").
type Segment struct {
	Channel     int         `json:"channel"`
	Path        string      `json:"path"`
	StartUTC    time.Time   `json:"start_utc"`
	DurationS   int         `json:"duration_s"`
	SizeBytes   int64       `json:"size_bytes"`
	UploadState UploadState `json:"upload_state"`
}

// SidecarPath returns the adjacent JSON sidecar path for a segment file
// (spec section 6: "Per-file upload state is recorded in an adjacent JSON
// sidecar").
func SidecarPath(segmentPath string) string {
	return segmentPath + ".json"
}

// WriteSidecar persists seg's metadata next to its container file.
func WriteSidecar(seg Segment) error {
	b, err := json.MarshalIndent(seg, "", "  ")
	if err != nil {
		return fmt.Errorf("recorder: marshal sidecar: %w", err)
	}
	return os.WriteFile(SidecarPath(seg.Path), b, 0o644)
}

// ReadSidecar loads a segment's sidecar metadata.
func ReadSidecar(segmentPath string) (Segment, error) {
	b, err := os.ReadFile(SidecarPath(segmentPath))
	if err != nil {
		return Segment{}, err
	}
	var seg Segment
	if err := json.Unmarshal(b, &seg); err != nil {
		return Segment{}, fmt.Errorf("recorder: unmarshal sidecar %s: %w", segmentPath, err)
	}
	return seg, nil
}

// segmentFileName builds the ISO-8601-compact file name for a new segment
// starting at t (spec section 3: "Path naming uses ISO-8601 compact form").
func segmentFileName(t time.Time) string {
	return t.UTC().Format("20060102T150405Z") + ".ts"
}

// listSegments walks dir (one channel's recording directory) and returns
// every segment with a readable sidecar, in file-name order (oldest first
// for the timestamp names segmentFileName produces).
func listSegments(dir string) ([]Segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var segs []Segment
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) == ".json" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		seg, err := ReadSidecar(path)
		if err != nil {
			continue
		}
		segs = append(segs, seg)
	}
	return segs, nil
}
