// Package feeder spawns a single DVR session for one channel and writes its
// raw H.264 elementary stream to a sink (spec section 4.3, C5). It contains
// no restart policy of its own — internal/ingest owns that.
package feeder

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/citylife4/dvr/internal/dvrsession"
	"github.com/citylife4/dvr/internal/protocol"
)

// Config holds everything feeder.Run needs to open one channel's stream.
type Config struct {
	Host       string
	CmdPort    int
	MediaPort  int
	Username   string
	Password   string
	Channel    int
	StreamType protocol.StreamType
	Verbose    bool
}

// Run connects, opens the requested stream, and copies every extracted NAL
// chunk to out until ctx is cancelled or the session ends. It returns nil on
// a clean ctx-cancelled shutdown and a non-nil error otherwise, letting the
// caller (cmd/feeder) map the error to an exit code.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	sess, err := dvrsession.Connect(ctx, cfg.Host, cfg.CmdPort, cfg.Username, cfg.Password)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer sess.Close()

	if cfg.Verbose {
		log.Printf("feeder: logged in, opening channel %d type %d", cfg.Channel, cfg.StreamType)
	}
	if err := sess.OpenStream(cfg.Channel, cfg.StreamType, cfg.MediaPort); err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	frames := sess.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil
		case nal, ok := <-frames:
			if !ok {
				if sessErr := sess.LastError(); sessErr != nil {
					return sessErr
				}
				return nil
			}
			if _, err := out.Write(nal); err != nil {
				return fmt.Errorf("write stdout: %w", err)
			}
		}
	}
}
