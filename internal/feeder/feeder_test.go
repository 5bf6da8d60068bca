package feeder

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/citylife4/dvr/internal/cipher"
	"github.com/citylife4/dvr/internal/protocol"
)

// fakeDVR runs a minimal command+media server sufficient to drive feeder.Run
// through a full happy path: login, stream create/start, one media frame.
func fakeDVR(t *testing.T) (cmdAddr, mediaAddr string) {
	t.Helper()
	cmdLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen cmd: %v", err)
	}
	mediaLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen media: %v", err)
	}

	go func() {
		conn, err := cmdLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		if _, _, err := protocol.ReadCommandMessage(conn); err != nil { // LoginGetFlag
			return
		}
		if err := protocol.WriteCommand(conn, 1, protocol.CmdLoginGetFlagReply,
			protocol.Tag("LoginGetFlagReply", map[string]string{"LoginFlag": "0"}), 0); err != nil {
			return
		}

		_, body, err := protocol.ReadCommandMessage(conn) // UserLogin
		if err != nil {
			return
		}
		cmd, err := protocol.ParseBody(body)
		if err != nil {
			return
		}
		want := cipher.Hash("0", "hunter2")
		reply := "22"
		if cmd.Attrs["LoginFlag"] == want {
			reply = "0"
		}
		if err := protocol.WriteCommand(conn, 2, protocol.CmdUserLoginReply,
			protocol.Tag("UserLoginReply", map[string]string{"CmdReply": reply}), 0); err != nil {
			return
		}

		if _, _, err := protocol.ReadCommandMessage(conn); err != nil { // RealStreamCreate
			return
		}
		if err := protocol.WriteCommand(conn, 3, protocol.CmdRealStreamCreateRpy,
			protocol.Tag("RealStreamCreateReply", map[string]string{"MediaSession": "42"}), 0); err != nil {
			return
		}

		if _, _, err := protocol.ReadCommandMessage(conn); err != nil { // RealStreamStart
			return
		}
		if err := protocol.WriteCommand(conn, 4, protocol.CmdRealStreamStartRpy,
			protocol.Tag("RealStreamStartReply", nil), 0); err != nil {
			return
		}

		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	go func() {
		conn, err := mediaLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		if _, err := protocol.ReadMediaHeader(conn); err != nil { // handshake
			return
		}
		if err := protocol.WriteMediaHandshake(conn, 42); err != nil {
			return
		}

		sub := make([]byte, protocol.MediaSubHeaderLen)
		binary.BigEndian.PutUint32(sub[4:8], protocol.H264CodecTag)
		nal := []byte{0, 0, 0, 1, 0x67, 0xAA, 0xBB}
		payload := append(sub, nal...)
		h := protocol.Header{Magic: protocol.MediaMagic, Version: protocol.Version, Field3: uint32(len(payload)), Field5: 3}
		hb := h.Marshal()
		conn.Write(hb[:])
		conn.Write(payload)

		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	return cmdLn.Addr().String(), mediaLn.Addr().String()
}

func TestFeederRunHappyPath(t *testing.T) {
	cmdAddr, mediaAddr := fakeDVR(t)
	host, cmdPortStr, err := net.SplitHostPort(cmdAddr)
	if err != nil {
		t.Fatal(err)
	}
	_, mediaPortStr, err := net.SplitHostPort(mediaAddr)
	if err != nil {
		t.Fatal(err)
	}
	cmdPort, _ := strconv.Atoi(cmdPortStr)
	mediaPort, _ := strconv.Atoi(mediaPortStr)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var out bytes.Buffer
	runCtx, runCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(runCtx, Config{
			Host: host, CmdPort: cmdPort, MediaPort: mediaPort,
			Username: "admin", Password: "hunter2",
			Channel: 0, StreamType: protocol.StreamMain,
		}, &out)
	}()

	deadline := time.After(2 * time.Second)
	for out.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a frame")
		case <-time.After(10 * time.Millisecond):
		}
	}
	runCancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte{0, 0, 0, 1, 0x67}) {
		t.Fatalf("expected NAL bytes in output, got %x", out.Bytes())
	}
}
