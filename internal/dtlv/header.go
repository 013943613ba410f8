package dtlv

import "encoding/binary"

// Type is the 2-bit AVP data type tag.
type Type uint8

const (
	TypeOctets  Type = 0
	TypeObject  Type = 1
	TypeInteger Type = 2
	TypeChar    Type = 3
)

func (t Type) String() string {
	switch t {
	case TypeOctets:
		return "OCTETS"
	case TypeObject:
		return "OBJECT"
	case TypeInteger:
		return "INTEGER"
	case TypeChar:
		return "CHAR"
	default:
		return "UNKNOWN"
	}
}

// header is the 32-bit AVP header, carried as two big-endian 16-bit
// words rather than a packed C struct (per the design notes: treat the
// header as an opaque integer with shift/mask accessors, never a host
// struct layout). word0 = type:2 | is_list:1 | length:13, where length
// is the AVP's full on-wire length including its own 4-byte header
// (data_length = length - 4). word1 = namespace:6 | code:10.
type header uint32

// newHeader builds a header whose wire length field is dataLen+4, the
// full AVP length the format requires (header + payload).
func newHeader(typ Type, isList bool, dataLen int, ns uint8, code uint16) header {
	full := dataLen + 4
	var word0 uint16 = uint16(typ&0x3)<<14 | uint16(full&0x1FFF)
	if isList {
		word0 |= 1 << 13
	}
	word1 := uint16(ns&0x3F)<<10 | (code & 0x3FF)
	return header(uint32(word0)<<16 | uint32(word1))
}

func decodeHeaderBytes(b []byte) header {
	word0 := binary.BigEndian.Uint16(b[0:2])
	word1 := binary.BigEndian.Uint16(b[2:4])
	return header(uint32(word0)<<16 | uint32(word1))
}

func (h header) word0() uint16 { return uint16(h >> 16) }
func (h header) word1() uint16 { return uint16(h) }

func (h header) Type() Type   { return Type(h.word0() >> 14 & 0x3) }
func (h header) IsList() bool { return h.word0()&(1<<13) != 0 }

// wireLength is the raw 13-bit length field: the AVP's full length,
// header included.
func (h header) wireLength() int { return int(h.word0() & 0x1FFF) }

// Length is the AVP's payload length (wireLength minus its own
// 4-byte header).
func (h header) Length() int { return h.wireLength() - 4 }
func (h header) NS() uint8   { return uint8(h.word1() >> 10 & 0x3F) }
func (h header) Code() uint16 { return h.word1() & 0x3FF }

func (h header) withLength(dataLen int) header {
	return newHeader(h.Type(), h.IsList(), dataLen, h.NS(), h.Code())
}

func (h header) encode(dst []byte) {
	binary.BigEndian.PutUint16(dst[0:2], h.word0())
	binary.BigEndian.PutUint16(dst[2:4], h.word1())
}

// grouping reports whether this AVP's payload is itself a sequence of
// nested AVPs (either a repeated list or a structured object).
func (h header) grouping() bool { return h.IsList() || h.Type() == TypeObject }

// Avp is the decoded view of one header plus its identifying fields,
// exposed to callers without requiring them to know the bit layout.
type Avp struct {
	Type    Type
	IsList  bool
	Length  int
	NS      uint8
	Code    uint16
}

func (h header) Avp() Avp {
	return Avp{Type: h.Type(), IsList: h.IsList(), Length: h.Length(), NS: h.NS(), Code: h.Code()}
}

func align4(n int) int {
	if rem := n % 4; rem != 0 {
		return n + (4 - rem)
	}
	return n
}
