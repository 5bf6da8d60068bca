// Package protocol implements the DVR's wire codec (36-byte binary header +
// null-terminated XML body on the command channel, framed H.264 on the
// media channel) and the H.264 elementary-stream extractor. It is a pure
// codec package: no sockets, no state machine (see internal/dvrsession for
// that).
package protocol

// Well-known header magics. CmdMagic opens the command channel (port
// 5050); MediaMagic opens the media channel (port 6050).
const (
	CmdMagic   uint32 = 0x05011154
	MediaMagic uint32 = 0x05011150
	Version    uint32 = 0x00001001
)

// Command IDs used by the core protocol (spec section 4.2.1).
const (
	CmdLoginGetFlag        = 26
	CmdLoginGetFlagReply   = 27
	CmdUserLogin           = 24
	CmdUserLoginReply      = 25
	CmdRealStreamCreate    = 136
	CmdRealStreamCreateRpy = 137
	CmdRealStreamStart     = 138
	CmdRealStreamStartRpy  = 139
	CmdLogout              = 28
	CmdHeartBeatNotice     = 78
	CmdHeartBeatReply      = 79
	CmdGetCfg              = 30
	CmdGetCfgReply         = 31
)

// Tag names as they appear as the single child element of <Command>,
// used to file replies into the session mailbox (spec section 4.2.2).
const (
	TagLoginGetFlagReply   = "LoginGetFlagReply"
	TagUserLoginReply      = "UserLoginReply"
	TagRealStreamCreateRpy = "RealStreamCreateReply"
	TagRealStreamStartRpy  = "RealStreamStartReply"
	TagHeartBeatNotice     = "HeartBeatNotice"
	TagHeartBeatReply      = "HeartBeatReply"
	TagGetCfgReply         = "GetCfgReply"
)

// StreamType is the DVR's main/sub stream selector.
type StreamType int

const (
	StreamMain StreamType = 0
	StreamSub  StreamType = 1
)

// MediaSubHeaderLen is the size of the per-frame sub-header that precedes
// NAL payload on the media channel (spec section 4.2.3).
const MediaSubHeaderLen = 44

// H264CodecTag is the sub-header codec tag value meaning H.264.
const H264CodecTag = 3

// vendorNALByte2 values mark a vendor-prefix NAL unit (start code
// "00 00 00 01" followed by one of these) rather than a standard H.264 NAL.
const (
	vendorNALByte2a = 0xC6
	vendorNALByte2b = 0xC7
)
