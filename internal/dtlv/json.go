package dtlv

import (
	"encoding/hex"
	"fmt"
)

// DecodeToJSON converts the AVP tree bounded by end into a
// map[string]any fragment: keys are "ns.code" for non-zero namespaces
// and plain "code" otherwise; INTEGER values become decimal numbers,
// CHAR values become (NUL-stripped) strings, OCTETS become lowercase
// hex strings, and OBJECT/list values become nested maps or arrays of
// them. Repeated keys (list children) are collected into a []any.
func (c *Ctx) DecodeToJSON(end int) (map[string]any, error) {
	out := map[string]any{}
	for c.pos < end {
		startPos := c.pos
		avp, data, err := c.DecodeAt(end)
		if err == ErrEndOfData {
			break
		}
		if err != nil {
			return nil, err
		}
		key := jsonKey(avp)
		var val any
		switch avp.Type {
		case TypeObject:
			sub := NewCtx(c.buf)
			sub.pos = startPos + 4
			child, err := sub.DecodeToJSON(sub.pos + avp.Length)
			if err != nil {
				return nil, err
			}
			val = child
		case TypeInteger:
			switch len(data) {
			case 1:
				val = DecodeU8(data)
			case 2:
				val = DecodeU16(data)
			default:
				val = DecodeU32(data)
			}
		case TypeChar:
			val = DecodeChar(data)
		default:
			val = hex.EncodeToString(data)
		}

		if existing, ok := out[key]; ok {
			if arr, ok := existing.([]any); ok {
				out[key] = append(arr, val)
			} else {
				out[key] = []any{existing, val}
			}
		} else if avp.IsList {
			out[key] = []any{val}
		} else {
			out[key] = val
		}
	}
	return out, nil
}

func jsonKey(avp Avp) string {
	if avp.NS == 0 {
		return fmt.Sprintf("%d", avp.Code)
	}
	return fmt.Sprintf("%d.%d", avp.NS, avp.Code)
}
