// Command feeder opens one DVR channel and writes its raw H.264 elementary
// stream to stdout (spec section 6). Exit codes: 0 clean shutdown, 1
// auth/protocol failure, 2 network failure, 64 usage error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/citylife4/dvr/internal/dvrerr"
	"github.com/citylife4/dvr/internal/feeder"
	"github.com/citylife4/dvr/internal/protocol"
)

const usageExitCode = 64

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out *os.File) int {
	fs := flag.NewFlagSet("feeder", flag.ContinueOnError)
	channel := fs.Int("channel", -1, "channel number (0-based, required)")
	streamType := fs.Int("stream-type", 0, "0=main, 1=sub")
	host := fs.String("host", envOr("DVR_HOST", ""), "DVR host (default from DVR_HOST)")
	cmdPort := fs.Int("cmd-port", envOrInt("DVR_CMD_PORT", 5050), "command channel port")
	mediaPort := fs.Int("media-port", envOrInt("DVR_MEDIA_PORT", 6050), "media channel port")
	username := fs.String("username", envOr("DVR_USERNAME", "admin"), "login username")
	password := fs.String("password", envOr("DVR_PASSWORD", ""), "login password")
	verbose := fs.Bool("v", false, "verbose logging")
	fs.SetOutput(os.Stderr)

	if err := fs.Parse(args); err != nil {
		return usageExitCode
	}
	if *channel < 0 {
		fmt.Fprintln(os.Stderr, "feeder: --channel is required")
		return usageExitCode
	}
	if *streamType != 0 && *streamType != 1 {
		fmt.Fprintln(os.Stderr, "feeder: --stream-type must be 0 or 1")
		return usageExitCode
	}
	if *host == "" {
		fmt.Fprintln(os.Stderr, "feeder: --host or DVR_HOST is required")
		return usageExitCode
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	cfg := feeder.Config{
		Host:       *host,
		CmdPort:    *cmdPort,
		MediaPort:  *mediaPort,
		Username:   *username,
		Password:   *password,
		Channel:    *channel,
		StreamType: protocol.StreamType(*streamType),
		Verbose:    *verbose,
	}

	err := feeder.Run(ctx, cfg, out)
	if err == nil {
		return 0
	}
	var dvrErr *dvrerr.Error
	fmt.Fprintln(os.Stderr, "feeder:", err)
	if errors.As(err, &dvrErr) {
		switch dvrErr.Kind {
		case dvrerr.KindDialFailed, dvrerr.KindTimeout, dvrerr.KindMediaReadError, dvrerr.KindHeartbeatTimeout:
			return 2
		default:
			return 1
		}
	}
	return 2
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
