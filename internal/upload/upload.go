// Package upload drains recorded segments off a channel and pushes each one
// to an off-site HTTP endpoint, tracking progress in the segment's sidecar
// (spec section 4.3.2: "hands completed segments off to an upload queue").
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/citylife4/dvr/internal/dvrerr"
	"github.com/citylife4/dvr/internal/httpclient"
	"github.com/citylife4/dvr/internal/journal"
	"github.com/citylife4/dvr/internal/recorder"
	"github.com/citylife4/dvr/internal/safeurl"
)

// Pool uploads segments pulled off a shared queue using a fixed number of
// concurrent workers.
type Pool struct {
	url     string
	workers int
	client  *http.Client
	journal *journal.Journal
}

// New builds a Pool posting to url with the given worker count. Returns an
// error if url isn't http(s), so a misconfigured DVR_UPLOAD_URL fails at
// startup instead of on the first upload.
func New(url string, workers int, j *journal.Journal) (*Pool, error) {
	if !safeurl.IsHTTPOrHTTPS(url) {
		return nil, fmt.Errorf("upload: %q is not an http(s) URL", url)
	}
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		url:     url,
		workers: workers,
		client:  httpclient.Default(),
		journal: j,
	}, nil
}

// Run starts the worker pool, each pulling from queue until ctx is canceled
// or queue is closed.
func (p *Pool) Run(ctx context.Context, queue <-chan recorder.Segment) {
	done := make(chan struct{}, p.workers)
	for i := 0; i < p.workers; i++ {
		go func() {
			p.worker(ctx, queue)
			done <- struct{}{}
		}()
	}
	for i := 0; i < p.workers; i++ {
		<-done
	}
}

func (p *Pool) worker(ctx context.Context, queue <-chan recorder.Segment) {
	for {
		select {
		case <-ctx.Done():
			return
		case seg, ok := <-queue:
			if !ok {
				return
			}
			p.uploadOne(ctx, seg)
		}
	}
}

func (p *Pool) uploadOne(ctx context.Context, seg recorder.Segment) {
	seg.UploadState = recorder.UploadInProgress
	if err := recorder.WriteSidecar(seg); err != nil {
		log.Printf("upload: channel %d: mark in-progress for %s: %v", seg.Channel, seg.Path, err)
	}

	if err := p.send(ctx, seg); err != nil {
		seg.UploadState = recorder.UploadFailed
		if werr := recorder.WriteSidecar(seg); werr != nil {
			log.Printf("upload: channel %d: mark failed for %s: %v", seg.Channel, seg.Path, werr)
		}
		log.Printf("upload: channel %d: upload %s: %v", seg.Channel, seg.Path, err)
		if p.journal != nil {
			detail := dvrerr.Wrap(dvrerr.KindUploadFailed, seg.Path, err).Error()
			if jerr := p.journal.Record(ctx, seg.Channel, string(dvrerr.KindUploadFailed), detail); jerr != nil {
				log.Printf("upload: channel %d: journal record: %v", seg.Channel, jerr)
			}
		}
		return
	}

	seg.UploadState = recorder.UploadUploaded
	if err := recorder.WriteSidecar(seg); err != nil {
		log.Printf("upload: channel %d: mark uploaded for %s: %v", seg.Channel, seg.Path, err)
	}
}

func (p *Pool) send(ctx context.Context, seg recorder.Segment) error {
	f, err := os.Open(seg.Path)
	if err != nil {
		return fmt.Errorf("upload: open %s: %w", seg.Path, err)
	}
	defer f.Close()

	body, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("upload: read %s: %w", seg.Path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("upload: build request: %w", err)
	}
	req.Header.Set("Content-Type", "video/mp2t")
	req.Header.Set("X-Dvr-Channel", fmt.Sprintf("%d", seg.Channel))
	req.Header.Set("X-Dvr-Segment-Start", seg.StartUTC.Format("20060102T150405Z"))

	resp, err := httpclient.DoWithRetry(ctx, p.client, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload: unexpected status %d", resp.StatusCode)
	}
	return nil
}
