// Package ingest supervises one channel's on-demand pipeline: feeder (C5)
// piped into a transcoder child, publishing to the embedded RTSP server
// (spec section 4.3.1, C6). One Supervisor per channel; no shared state
// between channels (spec section 5).
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/citylife4/dvr/internal/protocol"
)

const (
	backoffStart = 3 * time.Second
	backoffCap   = 30 * time.Second
	resetUptime  = 60 * time.Second
	// consecutiveFailuresToQuarantine matches spec section 7: "if 3
	// consecutive attempts fail, channel is quarantined for 5 min".
	consecutiveFailuresToQuarantine = 3
	quarantineDuration              = 5 * time.Minute
	childShutdownGrace              = 5 * time.Second
)

// Config describes one channel's pipeline.
type Config struct {
	Channel     int
	StreamType  protocol.StreamType
	Host        string
	CmdPort     int
	MediaPort   int
	Username    string
	Password    string
	FeederPath  string
	FFmpegPath  string
	RTSPBaseURL string // e.g. "rtsp://127.0.0.1:8554"
}

// Supervisor owns the feeder+transcoder pipeline for one channel. Start and
// Stop are idempotent (spec section 4.3.1: "MUST tolerate overlapping
// start/stop hooks").
type Supervisor struct {
	cfg Config

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	consecutiveFailures int
	quarantinedUntil    time.Time

	lastErr atomic.Value // error
}

// New builds a Supervisor for cfg. It does not start anything.
func New(cfg Config) *Supervisor {
	return &Supervisor{cfg: cfg}
}

// Running reports whether the pipeline is currently active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Quarantined reports whether the channel is presently refusing starts due
// to repeated stream-create/start failures.
func (s *Supervisor) Quarantined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Before(s.quarantinedUntil)
}

// LastError returns the most recent pipeline error, or nil.
func (s *Supervisor) LastError() error {
	if v := s.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Start begins the supervised pipeline if not already running (the
// "start hook" of spec section 4.3.1). A no-op returning nil if already
// running; returns an error without starting if the channel is
// quarantined.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if time.Now().Before(s.quarantinedUntil) {
		return fmt.Errorf("ingest: channel %d quarantined until %s", s.cfg.Channel, s.quarantinedUntil.Format(time.RFC3339))
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.runLoop(ctx, s.done)
	return nil
}

// Stop tears the pipeline down (the "stop hook" of spec section 4.3.1). A
// no-op if not running.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(childShutdownGrace + 2*time.Second):
		log.Printf("ingest[ch%d]: runLoop did not exit within grace window", s.cfg.Channel)
	}
}

func (s *Supervisor) runLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	backoff := backoffStart
	for {
		start := time.Now()
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return // stop hook fired; no restart
		}

		uptime := time.Since(start)
		if uptime >= resetUptime {
			backoff = backoffStart
		}
		s.recordAttempt(err)
		s.lastErr.Store(err)
		log.Printf("ingest[ch%d]: pipeline exited (%v) after %s, retrying in %s", s.cfg.Channel, err, uptime, backoff)

		if s.Quarantined() {
			log.Printf("ingest[ch%d]: quarantined until %s", s.cfg.Channel, s.quarantinedUntil.Format(time.RFC3339))
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

// feederNetworkExit marks a feeder exit whose cause is network-class
// (cmd/feeder exit code 2: DialFailed/Timeout/MediaReadError/
// HeartbeatTimeout). Spec section 7 ties quarantine to auth/protocol-class
// failures only; network-class ones retry with backoff indefinitely.
type feederNetworkExit struct{ err error }

func (e *feederNetworkExit) Error() string { return e.err.Error() }
func (e *feederNetworkExit) Unwrap() error { return e.err }

// isFeederNetworkExit reports whether a feeder *exec.Cmd exited with code 2.
func isFeederNetworkExit(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 2
}

// recordAttempt updates the consecutive-failure counter that drives
// quarantine. A clean (nil) exit (only reachable via a race with Stop,
// since runOnce normally only returns once ctx is already done or a child
// has failed) resets it. A network-class feeder exit is excluded from the
// count entirely (spec section 7): it retries forever but never
// quarantines. Everything else (auth/protocol-class feeder exits, any
// ffmpeg exit) counts toward the 3-strike quarantine.
func (s *Supervisor) recordAttempt(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.consecutiveFailures = 0
		return
	}
	var netExit *feederNetworkExit
	if errors.As(err, &netExit) {
		return
	}
	s.consecutiveFailures++
	if s.consecutiveFailures >= consecutiveFailuresToQuarantine {
		s.quarantinedUntil = time.Now().Add(quarantineDuration)
		s.consecutiveFailures = 0
	}
}

// runOnce spawns the feeder and transcoder children and waits for either to
// exit (spec section 4.3.1: "exit of either child triggers pipeline
// teardown").
func (s *Supervisor) runOnce(ctx context.Context) error {
	feederArgs := []string{
		"--channel", strconv.Itoa(s.cfg.Channel),
		"--stream-type", strconv.Itoa(int(s.cfg.StreamType)),
		"--host", s.cfg.Host,
		"--cmd-port", strconv.Itoa(s.cfg.CmdPort),
		"--media-port", strconv.Itoa(s.cfg.MediaPort),
		"--username", s.cfg.Username,
		"--password", s.cfg.Password,
	}
	feederCmd := exec.CommandContext(ctx, s.cfg.FeederPath, feederArgs...)
	feederOut, err := feederCmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ingest[ch%d]: feeder stdout pipe: %w", s.cfg.Channel, err)
	}

	rtspURL := fmt.Sprintf("%s/ch%d", s.cfg.RTSPBaseURL, s.cfg.Channel)
	ffmpegArgs := []string{
		"-fflags", "+genpts",
		"-r", "25",
		"-f", "h264",
		"-i", "pipe:0",
		"-c", "copy",
		"-f", "rtsp", rtspURL,
	}
	ffmpegCmd := exec.CommandContext(ctx, s.cfg.FFmpegPath, ffmpegArgs...)
	ffmpegCmd.Stdin = feederOut

	if err := feederCmd.Start(); err != nil {
		return fmt.Errorf("ingest[ch%d]: start feeder: %w", s.cfg.Channel, err)
	}
	if err := ffmpegCmd.Start(); err != nil {
		_ = feederCmd.Process.Kill()
		return fmt.Errorf("ingest[ch%d]: start ffmpeg: %w", s.cfg.Channel, err)
	}
	log.Printf("ingest[ch%d]: feeder pid=%d ffmpeg pid=%d -> %s", s.cfg.Channel, feederCmd.Process.Pid, ffmpegCmd.Process.Pid, rtspURL)

	feederDone := make(chan error, 1)
	ffmpegDone := make(chan error, 1)
	go func() { feederDone <- feederCmd.Wait() }()
	go func() { ffmpegDone <- ffmpegCmd.Wait() }()

	var exitErr error
	select {
	case err := <-feederDone:
		wrapped := fmt.Errorf("feeder exited: %w", err)
		if isFeederNetworkExit(err) {
			exitErr = &feederNetworkExit{err: wrapped}
		} else {
			exitErr = wrapped
		}
		killAndWait(ffmpegCmd, ffmpegDone)
	case err := <-ffmpegDone:
		exitErr = fmt.Errorf("ffmpeg exited: %w", err)
		killAndWait(feederCmd, feederDone)
	case <-ctx.Done():
		killAndWait(feederCmd, feederDone)
		killAndWait(ffmpegCmd, ffmpegDone)
		return ctx.Err()
	}
	return exitErr
}

func killAndWait(cmd *exec.Cmd, done chan error) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(os.Interrupt)
	select {
	case <-done:
		return
	case <-time.After(childShutdownGrace):
		_ = cmd.Process.Kill()
		<-done
	}
}
