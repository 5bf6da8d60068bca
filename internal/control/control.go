// Package control implements the bridge's control plane (spec section
// 4.3.3, C8): the HTTP API, DVR session management for config fetch and
// reachability, ingest/recorder lifecycle orchestration, and DVR host
// auto-discovery on repeated failure.
package control

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/citylife4/dvr/internal/config"
	"github.com/citylife4/dvr/internal/discovery"
	"github.com/citylife4/dvr/internal/dvrsession"
	"github.com/citylife4/dvr/internal/ingest"
	"github.com/citylife4/dvr/internal/journal"
	"github.com/citylife4/dvr/internal/metrics"
	"github.com/citylife4/dvr/internal/recorder"
)

// consecutiveFailuresToRescan matches spec section 4.3.3: "unreachable at
// startup or after 3 consecutive session failures".
const consecutiveFailuresToRescan = 3

// Server wires together every per-channel pipeline plus the supporting
// packages into one HTTP API.
type Server struct {
	cfg       *config.Config
	recorders map[int]*recorder.Recorder
	ingests   map[int]*ingest.Supervisor
	journal   *journal.Journal
	metrics   *metrics.Metrics
	scanner   *discovery.Scanner
	rtsp      *rtspSupervisor

	hostMu sync.Mutex
	host   string

	sessMu   sync.Mutex
	session  *dvrsession.Session
	failures int
}

// NewServer builds a Server. recorders and ingests are keyed by channel
// number and are expected to already be constructed (but not yet running)
// by the caller, normally cmd/dvrbridge.
func NewServer(cfg *config.Config, recorders map[int]*recorder.Recorder, ingests map[int]*ingest.Supervisor, j *journal.Journal, m *metrics.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		recorders: recorders,
		ingests:   ingests,
		journal:   j,
		metrics:   m,
		scanner:   discovery.NewScanner(cfg.DiscoveryFallbackSubnets),
		rtsp:      newRTSPSupervisor(cfg.RTSPServerPath, nil),
		host:      cfg.Host,
	}
}

// currentHost returns the live DVR host, which may differ from cfg.Host
// after an auto-discovery rescan.
func (s *Server) currentHost() string {
	s.hostMu.Lock()
	defer s.hostMu.Unlock()
	return s.host
}

func (s *Server) setHost(host string) {
	s.hostMu.Lock()
	s.host = host
	s.hostMu.Unlock()
}

// ensureSession returns a logged-in session, connecting (or reconnecting)
// as needed, and triggers an auto-discovery rescan after three consecutive
// failures (spec section 4.3.3).
func (s *Server) ensureSession(ctx context.Context) (*dvrsession.Session, error) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	if s.session != nil && s.session.State() >= dvrsession.LoggedIn && s.session.State() < dvrsession.Closing {
		return s.session, nil
	}

	sess, err := dvrsession.Connect(ctx, s.currentHost(), s.cfg.CmdPort, s.cfg.Username, s.cfg.Password)
	if err != nil {
		s.failures++
		if s.failures >= consecutiveFailuresToRescan {
			s.failures = 0
			go s.rescan()
		}
		return nil, err
	}
	s.failures = 0
	s.session = sess
	return sess, nil
}

// rescan runs a LAN discovery scan and, on success, switches the live host.
// Run in its own goroutine since discovery.Scanner.Scan can take up to
// Timeout*len(hosts)/Concurrency to finish.
func (s *Server) rescan() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	host, err := s.scanner.Scan(ctx)
	if err != nil {
		log.Printf("control: discovery rescan: %v", err)
		if s.journal != nil {
			s.journal.Record(context.Background(), 0, "DiscoveryFailed", err.Error())
		}
		return
	}
	log.Printf("control: discovery found DVR host %s, switching", host)
	s.setHost(host)
	if s.journal != nil {
		s.journal.Record(context.Background(), 0, "DiscoveryRescanned", host)
	}
}

// Run starts the RTSP child supervisor and every channel's recorder loop
// (plus the channel-metrics poller when metrics are enabled), blocking
// until ctx is canceled. Ingest pipelines are not started here; they start
// and stop through the /hooks/start and /hooks/stop routes.
func (s *Server) Run(ctx context.Context) {
	go s.rtsp.run(ctx)

	var wg sync.WaitGroup
	for ch, rec := range s.recorders {
		wg.Add(1)
		go func(ch int, rec *recorder.Recorder) {
			defer wg.Done()
			rec.Run(ctx)
		}(ch, rec)
	}

	if s.metrics != nil {
		go s.pollChannelMetrics(ctx)
	}

	<-ctx.Done()
	wg.Wait()
}

func (s *Server) pollChannelMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for ch, sup := range s.ingests {
				s.metrics.SetChannelUp(ch, sup.Running())
			}
		}
	}
}
