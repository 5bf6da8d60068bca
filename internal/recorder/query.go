package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Segments lists every sidecarred segment for this channel, for the
// `GET /api/recordings` endpoint (spec section 6).
func (r *Recorder) Segments() ([]Segment, error) {
	return listSegments(r.channelDir())
}

// SegmentsToday counts segments whose start falls on the current UTC
// calendar day, for `GET /api/recordings/status`.
func (r *Recorder) SegmentsToday() (int, error) {
	segs, err := r.Segments()
	if err != nil {
		return 0, err
	}
	y, m, d := time.Now().UTC().Date()
	n := 0
	for _, seg := range segs {
		sy, sm, sd := seg.StartUTC.Date()
		if sy == y && sm == m && sd == d {
			n++
		}
	}
	return n, nil
}

// FreeMB reports the free space, in megabytes, on the filesystem hosting
// this channel's recording directory.
func (r *Recorder) FreeMB() (int64, error) {
	return freeMB(r.cfg.RecordDir)
}

// DeleteSegment removes one recorded file and its sidecar by file name
// (spec section 6: `DELETE /api/recordings/{channel}/{filename}`).
func (r *Recorder) DeleteSegment(filename string) error {
	if filename == "" || filepath.Base(filename) != filename {
		return fmt.Errorf("recorder: invalid segment filename %q", filename)
	}
	path := filepath.Join(r.channelDir(), filename)
	if err := os.Remove(path); err != nil {
		return err
	}
	os.Remove(SidecarPath(path))
	return nil
}

// DeleteAllSegments removes every recorded file and sidecar for this
// channel, returning the count deleted (spec section 6:
// `POST /api/recordings/delete-all`).
func (r *Recorder) DeleteAllSegments() (int, error) {
	segs, err := r.Segments()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, seg := range segs {
		if err := os.Remove(seg.Path); err != nil && !os.IsNotExist(err) {
			continue
		}
		os.Remove(SidecarPath(seg.Path))
		n++
	}
	return n, nil
}
