package protocol

import (
	"fmt"
	"io"
)

// ReadCommandMessage reads one framed message off the command channel:
// a 36-byte header followed by BodyLen bytes of XML body.
func ReadCommandMessage(r io.Reader) (Header, []byte, error) {
	var hbuf [HeaderLen]byte
	if _, err := io.ReadFull(r, hbuf[:]); err != nil {
		return Header{}, nil, fmt.Errorf("protocol: read header: %w", err)
	}
	h, err := UnmarshalHeader(hbuf[:])
	if err != nil {
		return Header{}, nil, err
	}
	if h.Magic != CmdMagic {
		return h, nil, fmt.Errorf("protocol: unexpected magic %#08x on command channel", h.Magic)
	}
	body := make([]byte, h.BodyLen)
	if h.BodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return h, nil, fmt.Errorf("protocol: read body (%d bytes): %w", h.BodyLen, err)
		}
	}
	return h, body, nil
}

// WriteCommandMessage writes a header + body as a single framed message.
func WriteCommandMessage(w io.Writer, h Header, body []byte) error {
	hb := h.Marshal()
	if _, err := w.Write(hb[:]); err != nil {
		return fmt.Errorf("protocol: write header: %w", err)
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return fmt.Errorf("protocol: write body: %w", err)
		}
	}
	return nil
}

// WriteCommand builds and writes a complete command in one call.
func WriteCommand(w io.Writer, txnID uint32, cmdID int, innerXML string, field8 uint32) error {
	body := BuildBody(cmdID, innerXML)
	h := NewCommandHeader(txnID, len(body), field8)
	return WriteCommandMessage(w, h, body)
}

// ReadMediaHeader reads a bare 36-byte header off the media channel
// (used for the handshake reply, which carries no payload).
func ReadMediaHeader(r io.Reader) (Header, error) {
	var hbuf [HeaderLen]byte
	if _, err := io.ReadFull(r, hbuf[:]); err != nil {
		return Header{}, fmt.Errorf("protocol: read media header: %w", err)
	}
	h, err := UnmarshalHeader(hbuf[:])
	if err != nil {
		return Header{}, err
	}
	if h.Magic != MediaMagic {
		return h, fmt.Errorf("protocol: unexpected magic %#08x on media channel", h.Magic)
	}
	return h, nil
}

// WriteMediaHandshake sends the empty-body media header that completes the
// media-channel handshake (spec section 4.2.2).
func WriteMediaHandshake(w io.Writer, mediaSession uint32) error {
	h := NewMediaHandshakeHeader(mediaSession)
	return WriteCommandMessage(w, h, nil)
}
