package dvrsession

import (
	"context"
	"sync"
	"time"

	"github.com/citylife4/dvr/internal/dvrerr"
	"github.com/citylife4/dvr/internal/protocol"
)

// mailbox files command-channel replies by XML tag (spec section 4.2.2).
// The reader task is the single producer; any number of callers can await a
// tag concurrently, each getting its own subscription.
type mailbox struct {
	mu   sync.Mutex
	subs map[string][]chan *protocol.Command
}

func newMailbox() *mailbox {
	return &mailbox{subs: make(map[string][]chan *protocol.Command)}
}

// subscribe registers interest in the next reply carrying tag. The returned
// channel receives at most one value; unsubscribe removes it from the
// waiting list without closing it.
func (m *mailbox) subscribe(tag string) chan *protocol.Command {
	ch := make(chan *protocol.Command, 1)
	m.mu.Lock()
	m.subs[tag] = append(m.subs[tag], ch)
	m.mu.Unlock()
	return ch
}

func (m *mailbox) unsubscribe(tag string, ch chan *protocol.Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[tag]
	for i, c := range list {
		if c == ch {
			m.subs[tag] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// deliver files cmd to the oldest waiting subscriber for its tag, preserving
// per-tag FIFO. If nobody is waiting, the reply is dropped (the caller must
// already be subscribed before the reply can arrive, which Connect/
// OpenStream/GetConfig guarantee by subscribing before sending).
func (m *mailbox) deliver(cmd *protocol.Command) {
	m.mu.Lock()
	list := m.subs[cmd.Tag]
	var target chan *protocol.Command
	if len(list) > 0 {
		target = list[0]
		m.subs[cmd.Tag] = list[1:]
	}
	m.mu.Unlock()
	if target != nil {
		target <- cmd
	}
}

// await blocks until tag is delivered, ctx is cancelled, or d elapses,
// whichever comes first.
func await(ctx context.Context, mb *mailbox, tag string, d time.Duration) (*protocol.Command, error) {
	ch := mb.subscribe(tag)
	defer mb.unsubscribe(tag, ch)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case cmd := <-ch:
		return cmd, nil
	case <-ctx.Done():
		return nil, dvrerr.Wrap(dvrerr.KindTimeout, "await "+tag, ctx.Err())
	case <-timer.C:
		return nil, dvrerr.New(dvrerr.KindTimeout, "await "+tag+" timed out")
	}
}
