package dvrsession

import (
	"fmt"
	"log"
	"net"
	"time"

	"github.com/citylife4/dvr/internal/dvrerr"
	"github.com/citylife4/dvr/internal/protocol"
)

// OpenStream creates and starts a stream for (channel, streamType) on the
// media port, completing the media handshake (spec section 4.2.2, 4.2.4).
// Only one stream per (channel, streamType) is supported per session,
// matching the data-model invariant: OpenStream requires the session to be
// exactly in LoggedIn, so a second call on a session that is already
// opening or streaming returns a NotLoggedIn error.
func (s *Session) OpenStream(channel int, streamType protocol.StreamType, mediaPort int) error {
	if s.State() != LoggedIn {
		return dvrerr.New(dvrerr.KindNotLoggedIn, "OpenStream requires a logged-in session")
	}
	s.channel = channel
	s.streamType = streamType

	s.setState(WaitSession)
	createXML := protocol.Tag("RealStreamCreate", map[string]string{
		"Channel": fmt.Sprintf("%d", channel),
		"Type":    fmt.Sprintf("%d", int(streamType)),
		"Mode":    "0",
	})
	if _, err := s.sendCommand(protocol.CmdRealStreamCreate, createXML); err != nil {
		return err
	}
	createReply, err := await(s.ctx, s.mb, protocol.TagRealStreamCreateRpy, commandReplyTimeout)
	if err != nil {
		return dvrerr.Wrap(dvrerr.KindStreamCreateFailed, "RealStreamCreate", err)
	}
	var mediaSession uint32
	if _, scanErr := fmt.Sscanf(createReply.Attrs["MediaSession"], "%d", &mediaSession); scanErr != nil || mediaSession == 0 {
		return dvrerr.New(dvrerr.KindStreamCreateFailed, "missing or zero MediaSession in reply")
	}
	s.mediaSession = mediaSession
	s.setState(HaveSession)

	if err := s.connectMedia(mediaPort); err != nil {
		return dvrerr.Wrap(dvrerr.KindStreamCreateFailed, "media handshake", err)
	}

	s.setState(WaitStart)
	startXML := protocol.Tag("RealStreamStart", map[string]string{
		"Channel": fmt.Sprintf("%d", channel),
		"Type":    fmt.Sprintf("%d", int(streamType)),
	})
	if _, err := s.sendCommand(protocol.CmdRealStreamStart, startXML); err != nil {
		return dvrerr.Wrap(dvrerr.KindStreamStartFailed, "RealStreamStart", err)
	}
	if _, err := await(s.ctx, s.mb, protocol.TagRealStreamStartRpy, commandReplyTimeout); err != nil {
		return dvrerr.Wrap(dvrerr.KindStreamStartFailed, "RealStreamStart reply", err)
	}
	s.setState(Streaming)

	s.wg.Add(1)
	go s.readMediaChannel()
	return nil
}

func (s *Session) connectMedia(mediaPort int) error {
	s.setState(MediaHandshake)
	addr := fmt.Sprintf("%s:%d", s.host, mediaPort)
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(s.ctx, "tcp", addr)
	if err != nil {
		return dvrerr.Wrap(dvrerr.KindDialFailed, addr, err)
	}
	s.mediaConn = conn

	if err := protocol.WriteMediaHandshake(conn, s.mediaSession); err != nil {
		return err
	}
	_ = conn.SetReadDeadline(time.Now().Add(mediaHandshakeTime))
	if _, err := protocol.ReadMediaHeader(conn); err != nil {
		return dvrerr.Wrap(dvrerr.KindTimeout, "media handshake echo", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	s.setState(MediaReady)
	return nil
}

// Frames returns the channel of extracted H.264 byte slices. It closes when
// the session ends (spec section 4.2.4: ends on close).
func (s *Session) Frames() <-chan []byte {
	return s.frames
}

// readMediaChannel is the single reader task for the media channel: it
// feeds extractor output into the bounded frames channel, dropping the
// oldest entry on overflow with a counter bump (spec section 5).
func (s *Session) readMediaChannel() {
	defer s.wg.Done()
	defer close(s.frames)

	r := protocol.NewMediaFrameReader(s.mediaConn)
	for {
		nal, err := r.Next()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setLastErr(dvrerr.Wrap(dvrerr.KindMediaReadError, "media channel read", err))
			s.transitionToClosing()
			return
		}
		if nal == nil {
			continue
		}
		s.lastRx.Store(time.Now().UnixNano())
		s.enqueueFrame(nal)
	}
}

func (s *Session) enqueueFrame(nal []byte) {
	select {
	case s.frames <- nal:
		return
	default:
	}
	// Full: drop the oldest queued frame to make room, per spec section 5.
	select {
	case <-s.frames:
		s.droppedFrames.Add(1)
	default:
	}
	select {
	case s.frames <- nal:
	default:
		log.Printf("dvrsession: frame dropped despite eviction, queue contention")
		s.droppedFrames.Add(1)
	}
}
