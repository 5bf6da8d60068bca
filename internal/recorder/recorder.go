// Package recorder drives per-channel scheduled recording: segmenting a
// channel's RTSP relay into container files, pruning them on a retention
// window, and handing completed segments off to an upload queue.
package recorder

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/citylife4/dvr/internal/dvrerr"
)

const (
	scheduleCheckInterval  = time.Minute
	retentionCheckInterval = 5 * time.Minute
	segBackoffStart        = 3 * time.Second
	segBackoffCap          = 30 * time.Second
	segResetUptime         = 60 * time.Second
	diskRecheckInterval    = 30 * time.Second
)

// Config describes one channel's recording policy (spec section 4.3.2,
// `DVR_RECORD_*` family in section 6).
type Config struct {
	Channel        int
	RecordDir      string
	SegmentMinutes int
	RetentionHours int
	MinDiskMB      int64
	Schedule       Schedule
	RTSPBaseURL    string
	FFmpegPath     string

	// UploadQueue receives completed segments for off-site upload. Nil
	// disables the hand-off; segments are still written with sidecars.
	UploadQueue chan<- Segment
}

// Recorder supervises the recording lifecycle for a single channel,
// starting and stopping a segmenting transcoder as the schedule arms and
// disarms (spec section 4.3.2: "Transitions are evaluated every minute").
type Recorder struct {
	cfg Config

	mu        sync.Mutex
	armed     bool
	segRunning bool
	segCancel  context.CancelFunc
	segDone    chan struct{}

	// override, when non-nil, replaces the schedule's verdict: true forces
	// recording on, false forces it off. Set by the control plane's
	// POST /api/recordings/start|stop (spec section 6).
	override *bool
	recheck  chan struct{}

	lastErr atomic.Value
}

// New constructs a Recorder for cfg. Call Run to start it.
func New(cfg Config) *Recorder {
	return &Recorder{cfg: cfg, recheck: make(chan struct{}, 1)}
}

// Channel returns the channel number this Recorder manages.
func (r *Recorder) Channel() int { return r.cfg.Channel }

// ForceStart overrides the schedule and arms recording immediately,
// regardless of the current hour.
func (r *Recorder) ForceStart() { r.setOverride(true) }

// ForceStop overrides the schedule and disarms recording immediately.
func (r *Recorder) ForceStop() { r.setOverride(false) }

// ClearOverride reverts to following the configured schedule.
func (r *Recorder) ClearOverride() {
	r.mu.Lock()
	r.override = nil
	r.mu.Unlock()
	r.signalRecheck()
}

func (r *Recorder) setOverride(on bool) {
	r.mu.Lock()
	r.override = &on
	r.armed = on
	r.mu.Unlock()
	r.signalRecheck()
}

func (r *Recorder) signalRecheck() {
	select {
	case r.recheck <- struct{}{}:
	default:
	}
}

func (r *Recorder) channelDir() string {
	return filepath.Join(r.cfg.RecordDir, fmt.Sprintf("ch%d", r.cfg.Channel))
}

// Armed reports whether recording is currently armed: by the schedule, or
// by a ForceStart/ForceStop override when one is set.
func (r *Recorder) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.armed
}

// LastError returns the most recently observed recording error, or nil.
func (r *Recorder) LastError() error {
	v := r.lastErr.Load()
	if v == nil {
		return nil
	}
	return v.(error)
}

func (r *Recorder) setLastErr(err error) {
	r.lastErr.Store(err)
}

// Run blocks, evaluating the schedule every minute and pruning expired
// segments every five, until ctx is canceled.
func (r *Recorder) Run(ctx context.Context) {
	scheduleTicker := time.NewTicker(scheduleCheckInterval)
	defer scheduleTicker.Stop()
	retentionTicker := time.NewTicker(retentionCheckInterval)
	defer retentionTicker.Stop()

	r.evaluateSchedule(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			r.stopSegmenter()
			return
		case now := <-scheduleTicker.C:
			r.evaluateSchedule(ctx, now)
		case <-r.recheck:
			r.evaluateSchedule(ctx, time.Now())
		case <-retentionTicker.C:
			if err := r.pruneRetention(); err != nil {
				log.Printf("recorder: channel %d: retention prune: %v", r.cfg.Channel, err)
			}
		}
	}
}

func (r *Recorder) evaluateSchedule(ctx context.Context, now time.Time) {
	armed := r.cfg.Schedule.Armed(now)

	r.mu.Lock()
	if r.override != nil {
		armed = *r.override
	}
	r.armed = armed
	switch {
	case armed && !r.segRunning:
		segCtx, cancel := context.WithCancel(ctx)
		r.segCancel = cancel
		r.segDone = make(chan struct{})
		r.segRunning = true
		done := r.segDone
		r.mu.Unlock()
		go func() {
			defer close(done)
			r.runSegmentLoop(segCtx)
		}()
	case !armed && r.segRunning:
		cancel := r.segCancel
		done := r.segDone
		r.segRunning = false
		r.mu.Unlock()
		cancel()
		<-done
	default:
		r.mu.Unlock()
	}
}

func (r *Recorder) stopSegmenter() {
	r.mu.Lock()
	if !r.segRunning {
		r.mu.Unlock()
		return
	}
	cancel := r.segCancel
	done := r.segDone
	r.segRunning = false
	r.mu.Unlock()

	cancel()
	<-done
}

// runSegmentLoop runs segments back to back, restarting the segmenting
// process with exponential backoff on unexpected exit, the same policy
// ingest.Supervisor applies to the feeder/ffmpeg pair.
func (r *Recorder) runSegmentLoop(ctx context.Context) {
	backoff := segBackoffStart
	for {
		if ctx.Err() != nil {
			return
		}

		free, err := freeMB(r.cfg.RecordDir)
		if err != nil || free < r.cfg.MinDiskMB {
			r.setLastErr(dvrerr.New(dvrerr.KindDiskFull,
				fmt.Sprintf("channel %d: free %dMB below minimum %dMB", r.cfg.Channel, free, r.cfg.MinDiskMB)))
			select {
			case <-ctx.Done():
				return
			case <-time.After(diskRecheckInterval):
			}
			continue
		}

		start := time.Now()
		runErr := r.runOneSegment(ctx)
		if ctx.Err() != nil {
			return
		}
		if runErr != nil {
			r.setLastErr(dvrerr.Wrap(dvrerr.KindSegmenterExited,
				fmt.Sprintf("channel %d segment", r.cfg.Channel), runErr))
			log.Printf("recorder: channel %d: segment exited: %v, retrying in %s", r.cfg.Channel, runErr, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > segBackoffCap {
				backoff = segBackoffCap
			}
			continue
		}

		if time.Since(start) >= segResetUptime {
			backoff = segBackoffStart
		}
	}
}

// runOneSegment transcodes exactly one segment of the channel's RTSP relay
// to a new container file, grounded on the same exec.CommandContext/Wait
// child-process pattern used for the ffmpeg leg of the ingest pipeline.
func (r *Recorder) runOneSegment(ctx context.Context) error {
	dir := r.channelDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("recorder: mkdir %s: %w", dir, err)
	}

	start := time.Now().UTC()
	path := filepath.Join(dir, segmentFileName(start))
	durationS := r.cfg.SegmentMinutes * 60

	args := []string{
		"-y",
		"-rtsp_transport", "tcp",
		"-i", fmt.Sprintf("%s/ch%d", r.cfg.RTSPBaseURL, r.cfg.Channel),
		"-t", strconv.Itoa(durationS),
		"-c", "copy",
		path,
	}
	cmd := exec.CommandContext(ctx, r.cfg.FFmpegPath, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("recorder: start segmenter: %w", err)
	}
	waitErr := cmd.Wait()

	info, statErr := os.Stat(path)
	if statErr != nil {
		if waitErr != nil {
			return waitErr
		}
		return fmt.Errorf("recorder: segment file missing after clean exit")
	}

	seg := Segment{
		Channel:     r.cfg.Channel,
		Path:        path,
		StartUTC:    start,
		DurationS:   durationS,
		SizeBytes:   info.Size(),
		UploadState: UploadPending,
	}
	if r.cfg.UploadQueue == nil {
		seg.UploadState = ""
	}
	if err := WriteSidecar(seg); err != nil {
		log.Printf("recorder: channel %d: write sidecar for %s: %v", r.cfg.Channel, path, err)
	}
	if r.cfg.UploadQueue != nil {
		select {
		case r.cfg.UploadQueue <- seg:
		default:
			log.Printf("recorder: channel %d: upload queue full, %s stays pending", r.cfg.Channel, path)
		}
	}

	return waitErr
}

// pruneRetention deletes segments older than RetentionHours, exempting
// anything still pending or in progress for upload (spec section 4.3.2:
// "never deletes a file whose upload is pending or in progress").
func (r *Recorder) pruneRetention() error {
	segs, err := listSegments(r.channelDir())
	if err != nil {
		return err
	}
	cutoff := time.Now().UTC().Add(-time.Duration(r.cfg.RetentionHours) * time.Hour)
	for _, seg := range segs {
		if seg.StartUTC.After(cutoff) {
			continue
		}
		if seg.UploadState == UploadPending || seg.UploadState == UploadInProgress {
			continue
		}
		if err := os.Remove(seg.Path); err != nil && !os.IsNotExist(err) {
			log.Printf("recorder: channel %d: remove %s: %v", r.cfg.Channel, seg.Path, err)
			continue
		}
		os.Remove(SidecarPath(seg.Path))
	}
	return nil
}
