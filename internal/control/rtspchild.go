package control

import (
	"context"
	"log"
	"os/exec"
	"time"
)

const (
	rtspBackoffStart = 3 * time.Second
	rtspBackoffCap   = 30 * time.Second
	rtspResetUptime  = 60 * time.Second
)

// rtspSupervisor keeps the embedded RTSP server running for the lifetime of
// the process, restarting it on exit (spec section 4.3.3: "spawns and
// supervises the embedded RTSP server as a child, restarting on exit").
// Unlike ingest.Supervisor it has no start/stop hooks or quarantine: the
// RTSP server is always-on, since every channel's ingest and recorder
// pipelines publish to it on demand.
type rtspSupervisor struct {
	path string
	args []string
}

func newRTSPSupervisor(path string, args []string) *rtspSupervisor {
	return &rtspSupervisor{path: path, args: args}
}

func (s *rtspSupervisor) run(ctx context.Context) {
	if s.path == "" {
		return
	}
	backoff := rtspBackoffStart
	for {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		cmd := exec.CommandContext(ctx, s.path, s.args...)
		if err := cmd.Start(); err != nil {
			log.Printf("control: rtsp server: start: %v, retrying in %s", err, backoff)
		} else {
			log.Printf("control: rtsp server pid=%d started", cmd.Process.Pid)
			err = cmd.Wait()
			if ctx.Err() != nil {
				return
			}
			log.Printf("control: rtsp server exited: %v", err)
		}

		if time.Since(start) >= rtspResetUptime {
			backoff = rtspBackoffStart
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > rtspBackoffCap {
			backoff = rtspBackoffCap
		}
	}
}
