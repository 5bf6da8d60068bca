package protocol

import (
	"encoding/binary"
	"fmt"
)

// HeaderLen is the fixed size of the binary header on both channels.
const HeaderLen = 36

// Header is the 36-byte big-endian header shared by the command and media
// channels (spec section 4.2.1, data model section 3).
//
//	offset  field
//	0x00    Magic    (CmdMagic on the command channel, MediaMagic on media)
//	0x04    Version  (always Version)
//	0x08    TxnID    (monotonic per command-channel connection)
//	0x0C    Field3   (payload byte count on media-channel data frames; 0 elsewhere)
//	0x10    BodyLen  (command body length including trailing NUL)
//	0x14    Field5   (observed constant 3)
//	0x18    Field6
//	0x1C    Field7
//	0x20    Field8   (0 for commands; media session id on the media handshake)
type Header struct {
	Magic   uint32
	Version uint32
	TxnID   uint32
	Field3  uint32
	BodyLen uint32
	Field5  uint32
	Field6  uint32
	Field7  uint32
	Field8  uint32
}

// Marshal serializes the header to its wire form.
func (h Header) Marshal() [HeaderLen]byte {
	var buf [HeaderLen]byte
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint32(buf[4:8], h.Version)
	binary.BigEndian.PutUint32(buf[8:12], h.TxnID)
	binary.BigEndian.PutUint32(buf[12:16], h.Field3)
	binary.BigEndian.PutUint32(buf[16:20], h.BodyLen)
	binary.BigEndian.PutUint32(buf[20:24], h.Field5)
	binary.BigEndian.PutUint32(buf[24:28], h.Field6)
	binary.BigEndian.PutUint32(buf[28:32], h.Field7)
	binary.BigEndian.PutUint32(buf[32:36], h.Field8)
	return buf
}

// UnmarshalHeader parses a 36-byte buffer into a Header.
func UnmarshalHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, fmt.Errorf("protocol: header too short: need %d, got %d", HeaderLen, len(buf))
	}
	return Header{
		Magic:   binary.BigEndian.Uint32(buf[0:4]),
		Version: binary.BigEndian.Uint32(buf[4:8]),
		TxnID:   binary.BigEndian.Uint32(buf[8:12]),
		Field3:  binary.BigEndian.Uint32(buf[12:16]),
		BodyLen: binary.BigEndian.Uint32(buf[16:20]),
		Field5:  binary.BigEndian.Uint32(buf[20:24]),
		Field6:  binary.BigEndian.Uint32(buf[24:28]),
		Field7:  binary.BigEndian.Uint32(buf[28:32]),
		Field8:  binary.BigEndian.Uint32(buf[32:36]),
	}, nil
}

// NewCommandHeader builds a command-channel header for a request of the
// given body length and field8 value (every command the session sends uses
// 0). The media handshake packet is built by NewMediaHandshakeHeader.
func NewCommandHeader(txnID uint32, bodyLen int, field8 uint32) Header {
	return Header{
		Magic:   CmdMagic,
		Version: Version,
		TxnID:   txnID,
		Field3:  0,
		BodyLen: uint32(bodyLen),
		Field5:  3,
		Field8:  field8,
	}
}

// NewMediaHandshakeHeader builds the media-channel handshake header: empty
// body, field8 carries the media session id the DVR minted for this stream.
func NewMediaHandshakeHeader(mediaSession uint32) Header {
	return Header{
		Magic:   MediaMagic,
		Version: Version,
		TxnID:   0,
		Field3:  0,
		BodyLen: 0,
		Field5:  3,
		Field8:  mediaSession,
	}
}
