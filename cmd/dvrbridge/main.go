// Command dvrbridge is the DVR bridge's entry point: it loads
// configuration, wires one ingest supervisor and one recorder per
// configured channel, starts the upload worker pool if enabled, and serves
// the control plane's HTTP API.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	"github.com/citylife4/dvr/internal/config"
	"github.com/citylife4/dvr/internal/control"
	"github.com/citylife4/dvr/internal/ingest"
	"github.com/citylife4/dvr/internal/journal"
	"github.com/citylife4/dvr/internal/metrics"
	"github.com/citylife4/dvr/internal/protocol"
	"github.com/citylife4/dvr/internal/recorder"
	"github.com/citylife4/dvr/internal/upload"
)

// maxConnections caps concurrent HTTP connections so a runaway dashboard
// client or scraper can't starve the control plane's own goroutines.
const maxConnections = 256

func main() {
	_ = config.LoadEnvFile(".env")
	cfg := config.Load()

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		log.Fatalf("dvrbridge: open journal: %v", err)
	}
	defer j.Close()

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	sched, err := recorder.ParseSchedule(cfg.RecordSchedule)
	if err != nil {
		log.Fatalf("dvrbridge: parse DVR_RECORD_SCHEDULE: %v", err)
	}

	var uploadQueue chan recorder.Segment
	if cfg.UploadEnabled {
		uploadQueue = make(chan recorder.Segment, 64)
	}

	recorders := make(map[int]*recorder.Recorder)
	ingests := make(map[int]*ingest.Supervisor)
	for _, ch := range cfg.RecordChannels {
		ingests[ch] = ingest.New(ingest.Config{
			Channel:     ch,
			StreamType:  protocol.StreamType(cfg.RecordStreamTypeValue()),
			Host:        cfg.Host,
			CmdPort:     cfg.CmdPort,
			MediaPort:   cfg.MediaPort,
			Username:    cfg.Username,
			Password:    cfg.Password,
			FeederPath:  cfg.FeederPath,
			FFmpegPath:  cfg.FFmpegPath,
			RTSPBaseURL: cfg.RTSPBaseURL,
		})

		if !cfg.RecordEnabled {
			continue
		}
		recCfg := recorder.Config{
			Channel:        ch,
			RecordDir:      cfg.RecordDir,
			SegmentMinutes: cfg.RecordSegmentMin,
			RetentionHours: cfg.RecordRetentionHr,
			MinDiskMB:      cfg.RecordMinDiskMB,
			Schedule:       sched,
			RTSPBaseURL:    cfg.RTSPBaseURL,
			FFmpegPath:     cfg.FFmpegPath,
		}
		if uploadQueue != nil {
			recCfg.UploadQueue = uploadQueue
		}
		recorders[ch] = recorder.New(recCfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.UploadEnabled {
		pool, err := upload.New(cfg.UploadURL, cfg.UploadWorkers, j)
		if err != nil {
			log.Fatalf("dvrbridge: upload pool: %v", err)
		}
		go pool.Run(ctx, uploadQueue)
	}

	srv := control.NewServer(cfg, recorders, ingests, j, m)
	go srv.Run(ctx)

	httpServer := &http.Server{Handler: srv.Mux()}
	addr := fmt.Sprintf(":%d", cfg.WebPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("dvrbridge: listen %s: %v", addr, err)
	}
	ln = netutil.LimitListener(ln, maxConnections)

	go func() {
		log.Printf("dvrbridge: control plane listening on %s", addr)
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Fatalf("dvrbridge: http: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("dvrbridge: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	cancel()
}
