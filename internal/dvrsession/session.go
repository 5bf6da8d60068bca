// Package dvrsession implements the DVR command+media state machine (spec
// section 4.2.2): login, stream creation, heartbeat, and teardown, built on
// top of internal/cipher and internal/protocol. It owns exactly the sockets
// and goroutines for one DVR connection; internal/ingest owns the restart
// policy around it.
package dvrsession

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/citylife4/dvr/internal/cipher"
	"github.com/citylife4/dvr/internal/dvrerr"
	"github.com/citylife4/dvr/internal/protocol"
)

// Timeouts from spec section 5.
const (
	commandReplyTimeout = 10 * time.Second
	loginTotalTimeout   = 15 * time.Second
	mediaHandshakeTime  = 5 * time.Second
	heartbeatGap        = 60 * time.Second
	dialTimeout         = 8 * time.Second
)

// mediaQueueDepth is the bounded single-consumer channel depth for
// extracted media frames (spec section 5): oldest is dropped on overflow.
const mediaQueueDepth = 64

// Session is one logged-in DVR command+media connection.
type Session struct {
	host     string
	username string
	password string

	cmdConn   net.Conn
	mediaConn net.Conn

	txnMu sync.Mutex
	txnID uint32

	mb *mailbox

	stateMu sync.Mutex
	state   State

	lastRx atomic.Int64 // unix nanos

	mediaSession uint32
	channel      int
	streamType   protocol.StreamType

	frames        chan []byte
	droppedFrames atomic.Uint64

	lastErr atomic.Value // error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// State returns the session's current state, safe for concurrent use by a
// status endpoint.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// LastError returns the most recent session-fatal error, or nil.
func (s *Session) LastError() error {
	if v := s.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (s *Session) setLastErr(err error) {
	if err != nil {
		s.lastErr.Store(err)
	}
}

// DroppedFrames reports how many media frames were discarded because the
// output channel was full (spec section 5: drop oldest on overflow).
func (s *Session) DroppedFrames() uint64 {
	return s.droppedFrames.Load()
}

// Connect dials the command channel, logs in, and returns a ready Session.
// It does not open the media channel; call OpenStream for that.
func Connect(ctx context.Context, host string, cmdPort int, username, password string) (*Session, error) {
	loginCtx, cancel := context.WithTimeout(ctx, loginTotalTimeout)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", host, cmdPort)
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(loginCtx, "tcp", addr)
	if err != nil {
		return nil, dvrerr.Wrap(dvrerr.KindDialFailed, addr, err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &Session{
		host:     host,
		username: username,
		password: password,
		cmdConn:  conn,
		mb:       newMailbox(),
		frames:   make(chan []byte, mediaQueueDepth),
		ctx:      sessCtx,
		cancel:   sessCancel,
	}
	s.lastRx.Store(time.Now().UnixNano())
	s.setState(CmdOpen)

	s.wg.Add(1)
	go s.readCommandChannel()

	if err := s.login(loginCtx); err != nil {
		s.setLastErr(err)
		s.teardown()
		return nil, err
	}

	s.wg.Add(1)
	go s.heartbeatWatchdog()

	return s, nil
}

func (s *Session) nextTxnID() uint32 {
	s.txnMu.Lock()
	defer s.txnMu.Unlock()
	s.txnID++
	return s.txnID
}

func (s *Session) sendCommand(cmdID int, innerXML string) (uint32, error) {
	s.txnMu.Lock()
	defer s.txnMu.Unlock()
	s.txnID++
	txn := s.txnID
	if err := protocol.WriteCommand(s.cmdConn, txn, cmdID, innerXML, 0); err != nil {
		return txn, dvrerr.Wrap(dvrerr.KindProtocolError, "write command", err)
	}
	return txn, nil
}

// sendCommandTxn writes a command using a caller-supplied txn instead of
// allocating the next monotonic one. Used for HeartBeatReply, which must
// echo the triggering HeartBeatNotice's txn (spec section 8(3)) rather than
// carry its own.
func (s *Session) sendCommandTxn(txn uint32, cmdID int, innerXML string) error {
	s.txnMu.Lock()
	defer s.txnMu.Unlock()
	if err := protocol.WriteCommand(s.cmdConn, txn, cmdID, innerXML, 0); err != nil {
		return dvrerr.Wrap(dvrerr.KindProtocolError, "write command", err)
	}
	return nil
}

func (s *Session) login(ctx context.Context) error {
	s.setState(WaitFlag)
	if _, err := s.sendCommand(protocol.CmdLoginGetFlag, protocol.Tag("LoginGetFlag", nil)); err != nil {
		return err
	}
	flagReply, err := await(ctx, s.mb, protocol.TagLoginGetFlagReply, commandReplyTimeout)
	if err != nil {
		return err
	}
	nonce := flagReply.Attrs["LoginFlag"]
	s.setState(HaveNonce)

	token := cipher.Hash(nonce, s.password)

	s.setState(WaitLogin)
	loginXML := protocol.Tag("UserLogin", map[string]string{
		"Username":  s.username,
		"LoginFlag": token,
	})
	if _, err := s.sendCommand(protocol.CmdUserLogin, loginXML); err != nil {
		return err
	}
	loginReply, err := await(ctx, s.mb, protocol.TagUserLoginReply, commandReplyTimeout)
	if err != nil {
		return err
	}
	if loginReply.Attrs["CmdReply"] != "0" {
		return dvrerr.New(dvrerr.KindAuthFailed, "CmdReply="+loginReply.Attrs["CmdReply"])
	}
	s.setState(LoggedIn)
	return nil
}

// readCommandChannel is the single reader task for the command channel: it
// dispatches heartbeats inline and files every other reply into the
// mailbox by tag (spec section 4.2.2, 5).
func (s *Session) readCommandChannel() {
	defer s.wg.Done()
	for {
		hdr, body, err := protocol.ReadCommandMessage(s.cmdConn)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setLastErr(dvrerr.Wrap(dvrerr.KindProtocolError, "read command channel", err))
			s.transitionToClosing()
			return
		}
		s.lastRx.Store(time.Now().UnixNano())

		cmd, err := protocol.ParseBody(body)
		if err != nil {
			log.Printf("dvrsession: malformed command body: %v", err)
			continue
		}

		if cmd.Tag == protocol.TagHeartBeatNotice {
			if err := s.sendCommandTxn(hdr.TxnID, protocol.CmdHeartBeatReply, protocol.Tag("HeartBeatReply", nil)); err != nil {
				log.Printf("dvrsession: heartbeat reply failed: %v", err)
			}
			continue
		}
		s.mb.deliver(cmd)
	}
}

func (s *Session) heartbeatWatchdog() {
	defer s.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, s.lastRx.Load())
			if time.Since(last) > heartbeatGap {
				s.setLastErr(dvrerr.New(dvrerr.KindHeartbeatTimeout, "no inbound bytes for > 60s"))
				s.transitionToClosing()
				return
			}
		}
	}
}

func (s *Session) transitionToClosing() {
	s.setState(Closing)
	s.cancel()
}

// teardown closes both sockets and joins background tasks; it does not send
// Logout (see Close for the graceful path).
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.cmdConn != nil {
			_ = s.cmdConn.Close()
		}
		if s.mediaConn != nil {
			_ = s.mediaConn.Close()
		}
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			log.Printf("dvrsession: background tasks did not join within 2s")
		}
		s.setState(Disconnected)
	})
}

// Close sends Logout best-effort and closes both channels (spec section
// 4.2.4: best-effort, no error kinds).
func (s *Session) Close() {
	if s.State() != Disconnected {
		s.setState(Closing)
		if s.cmdConn != nil {
			_, _ = s.sendCommand(protocol.CmdLogout, protocol.Tag("Logout", nil))
		}
	}
	s.teardown()
}

// GetConfig fetches the XML configuration payload for mainCmd (spec section
// 4.2.4).
func (s *Session) GetConfig(mainCmd int) (string, error) {
	if s.State() < LoggedIn {
		return "", dvrerr.New(dvrerr.KindNotLoggedIn, "GetConfig requires a logged-in session")
	}
	innerXML := protocol.Tag("GetCfg", map[string]string{"MainCmd": fmt.Sprintf("%d", mainCmd)})
	if _, err := s.sendCommand(protocol.CmdGetCfg, innerXML); err != nil {
		return "", err
	}
	reply, err := await(s.ctx, s.mb, protocol.TagGetCfgReply, commandReplyTimeout)
	if err != nil {
		return "", err
	}
	return reply.Attrs["Value"], nil
}
