package dtlv

import "encoding/binary"

// pathEntry tracks one open group/list on the encode stack: where its
// header lives, where its content starts, and (for list validation)
// the (ns, code, type) triple its first child established.
type pathEntry struct {
	headerPos     int
	startPos      int
	isList        bool
	childNS       uint8
	childCode     uint16
	childType     Type
	childTypeSeen bool
}

// Ctx is an encode/decode cursor over a caller-provided buffer.
type Ctx struct {
	buf  []byte
	pos  int
	path []pathEntry
}

// NewCtx wraps buf for encoding or decoding starting at offset 0.
func NewCtx(buf []byte) *Ctx { return &Ctx{buf: buf} }

// Pos returns the current write/read cursor.
func (c *Ctx) Pos() int { return c.pos }

// Bytes returns the portion of the buffer written so far.
func (c *Ctx) Bytes() []byte { return c.buf[:c.pos] }

// Encode reserves 4+len(data) bytes (padded to a 4-byte boundary with
// 0xFF), writes the header and payload, and — if isList is true or
// typ is TypeObject — pushes the AVP onto the path stack so nested
// children can be validated and the header length fixed up later by
// EncodeGroupDone.
func (c *Ctx) Encode(ns uint8, code uint16, typ Type, data []byte, isList bool) (headerPos int, err error) {
	if len(c.path) > 0 {
		top := &c.path[len(c.path)-1]
		if top.isList {
			if top.childTypeSeen {
				if top.childNS != ns || top.childCode != code || top.childType != typ {
					return 0, ErrPathError
				}
			} else {
				top.childNS, top.childCode, top.childType, top.childTypeSeen = ns, code, typ, true
			}
		}
	}

	need := 4 + align4(len(data))
	if c.pos+need > len(c.buf) {
		return 0, ErrBufferOverflow
	}
	headerPos = c.pos
	h := newHeader(typ, isList, len(data), ns, code)
	h.encode(c.buf[c.pos : c.pos+4])
	c.pos += 4
	copy(c.buf[c.pos:], data)
	padded := align4(len(data))
	for i := len(data); i < padded; i++ {
		c.buf[c.pos+i] = 0xFF
	}
	c.pos += padded

	if isList || typ == TypeObject {
		c.path = append(c.path, pathEntry{headerPos: headerPos, startPos: c.pos, isList: isList})
	}
	return headerPos, nil
}

// EncodeGroupDone pops the path stack and fixes the popped header's
// length field to the number of bytes written since it was opened.
func (c *Ctx) EncodeGroupDone(headerPos int) error {
	if len(c.path) == 0 {
		return ErrAvpNotGrouping
	}
	top := c.path[len(c.path)-1]
	if top.headerPos != headerPos {
		return ErrAvpNotGrouping
	}
	c.path = c.path[:len(c.path)-1]

	h := decodeHeaderBytes(c.buf[headerPos : headerPos+4])
	length := c.pos - top.startPos
	h = h.withLength(length)
	h.encode(c.buf[headerPos : headerPos+4])
	return nil
}

func (c *Ctx) EncodeU8(ns uint8, code uint16, v uint8) (int, error) {
	return c.Encode(ns, code, TypeInteger, []byte{v}, false)
}

func (c *Ctx) EncodeU16(ns uint8, code uint16, v uint16) (int, error) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return c.Encode(ns, code, TypeInteger, b[:], false)
}

func (c *Ctx) EncodeU32(ns uint8, code uint16, v uint32) (int, error) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return c.Encode(ns, code, TypeInteger, b[:], false)
}

func (c *Ctx) EncodeOctets(ns uint8, code uint16, v []byte) (int, error) {
	return c.Encode(ns, code, TypeOctets, v, false)
}

// EncodeChar encodes a NUL-terminated string.
func (c *Ctx) EncodeChar(ns uint8, code uint16, s string) (int, error) {
	b := append([]byte(s), 0)
	return c.Encode(ns, code, TypeChar, b, false)
}

// EncodeNChar encodes a NUL-terminated string truncated to maxLen
// bytes of payload (not counting the terminator).
func (c *Ctx) EncodeNChar(ns uint8, code uint16, s string, maxLen int) (int, error) {
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return c.EncodeChar(ns, code, s)
}
