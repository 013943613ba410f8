package udpctl

import "encoding/binary"

// ServiceID and ServiceName match UDPCTL_SERVICE_ID/UDPCTL_SERVICE_NAME.
const (
	ServiceID   uint16 = 4
	ServiceName        = "udpctl"
)

// Defaults match the UDPCTL_DEFAULT_* constants.
const (
	DefaultPort          = 3901
	DefaultIdleTimeout   = 60 // seconds
	DefaultRecycleTimeout = 60
	DefaultAuthTimeout   = 10
	SecretLen            = 32
)

// Flags, matching the PACKET_FLAG_* bits.
const (
	FlagRequest uint8 = 0x80
	FlagSecured uint8 = 0x40
	FlagError   uint8 = 0x20
)

// CmdCode matches udpctl_cmd_code_e.
type CmdCode uint8

const (
	CmdAuth      CmdCode = 1
	CmdTerminate CmdCode = 2
	CmdSrvMsg    CmdCode = 3
)

// headerLen is the fixed 8-byte base header: service_id, length, flags,
// code, identifier.
const headerLen = 8

// Packet is one UDPCTL datagram. Digest always carries 32 bytes; Auth
// is only meaningful (and only transmitted) on an AUTH command, per
// udpctl_packet_t / udpctl_packet_auth_t in udpctl.h.
type Packet struct {
	ServiceID  uint16
	Flags      uint8
	Code       CmdCode
	Identifier uint16
	Digest     [32]byte
	Auth       [32]byte
	Body       []byte
}

// HasAuth reports whether this packet's wire form carries the trailing
// 32-byte auth field — true only for AUTH command packets.
func (p *Packet) HasAuth() bool { return p.Code == CmdAuth }

// EncodedLen returns the wire length of p, mirroring
// udpctl_packet_t.length (which covers the whole datagram).
func (p *Packet) EncodedLen() int {
	n := headerLen + 32 + len(p.Body)
	if p.HasAuth() {
		n += 32
	}
	return n
}

// Encode writes p into a freshly allocated buffer sized by EncodedLen.
// The length field in the header is filled in from the resulting size.
func (p *Packet) Encode() []byte {
	n := p.EncodedLen()
	buf := make([]byte, n)
	binary.BigEndian.PutUint16(buf[0:2], p.ServiceID)
	binary.BigEndian.PutUint16(buf[2:4], uint16(n))
	buf[4] = p.Flags
	buf[5] = uint8(p.Code)
	binary.BigEndian.PutUint16(buf[6:8], p.Identifier)
	off := headerLen
	copy(buf[off:off+32], p.Digest[:])
	off += 32
	if p.HasAuth() {
		copy(buf[off:off+32], p.Auth[:])
		off += 32
	}
	copy(buf[off:], p.Body)
	return buf
}

// DecodePacket parses a wire datagram, rejecting anything shorter than
// the base header plus the digest field.
func DecodePacket(b []byte) (*Packet, error) {
	if len(b) < headerLen+32 {
		return nil, ErrInvalidLength
	}
	p := &Packet{
		ServiceID:  binary.BigEndian.Uint16(b[0:2]),
		Flags:      b[4],
		Code:       CmdCode(b[5]),
		Identifier: binary.BigEndian.Uint16(b[6:8]),
	}
	length := int(binary.BigEndian.Uint16(b[2:4]))
	if length != len(b) {
		return nil, ErrInvalidLength
	}
	off := headerLen
	copy(p.Digest[:], b[off:off+32])
	off += 32
	if p.HasAuth() {
		if len(b) < off+32 {
			return nil, ErrInvalidLength
		}
		copy(p.Auth[:], b[off:off+32])
		off += 32
	}
	p.Body = append([]byte(nil), b[off:]...)
	return p, nil
}
