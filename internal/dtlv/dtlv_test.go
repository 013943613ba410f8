package dtlv

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	h := newHeader(TypeInteger, true, 1234, 7, 511)
	if h.Type() != TypeInteger || !h.IsList() || h.Length() != 1234 || h.NS() != 7 || h.Code() != 511 {
		t.Fatalf("round trip mismatch: %+v", h.Avp())
	}
}

func TestEncodeDecodeScalar(t *testing.T) {
	buf := make([]byte, 64)
	ctx := NewCtx(buf)
	if _, err := ctx.EncodeU32(1, 2, 0xdeadbeef); err != nil {
		t.Fatalf("EncodeU32: %v", err)
	}

	dec := NewCtx(ctx.Bytes())
	avp, data, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if avp.NS != 1 || avp.Code != 2 || avp.Type != TypeInteger {
		t.Fatalf("unexpected avp: %+v", avp)
	}
	if got := DecodeU32(data); got != 0xdeadbeef {
		t.Fatalf("want 0xdeadbeef, got %#x", got)
	}
	if _, _, err := dec.Decode(); err != ErrEndOfData {
		t.Fatalf("want ErrEndOfData, got %v", err)
	}
}

func TestEncodeCharPadding(t *testing.T) {
	buf := make([]byte, 64)
	ctx := NewCtx(buf)
	if _, err := ctx.EncodeChar(0, 9, "hi"); err != nil {
		t.Fatalf("EncodeChar: %v", err)
	}
	// "hi\0" is 3 bytes, padded to 4 with one 0xFF byte.
	if ctx.Pos() != 8 {
		t.Fatalf("want 8 bytes written (4 header + 4 padded payload), got %d", ctx.Pos())
	}
	if buf[7] != 0xFF {
		t.Fatalf("want padding byte 0xFF, got %#x", buf[7])
	}

	dec := NewCtx(ctx.Bytes())
	avp, data, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if avp.Type != TypeChar {
		t.Fatalf("want TypeChar, got %v", avp.Type)
	}
	if got := DecodeChar(data); got != "hi" {
		t.Fatalf("want %q, got %q", "hi", got)
	}
}

func TestGroupRoundTrip(t *testing.T) {
	buf := make([]byte, 128)
	ctx := NewCtx(buf)
	groupPos, err := ctx.Encode(0, 100, TypeObject, nil, false)
	if err != nil {
		t.Fatalf("Encode group: %v", err)
	}
	if _, err := ctx.EncodeU8(0, 1, 42); err != nil {
		t.Fatalf("EncodeU8 child: %v", err)
	}
	if _, err := ctx.EncodeChar(0, 2, "x"); err != nil {
		t.Fatalf("EncodeChar child: %v", err)
	}
	if err := ctx.EncodeGroupDone(groupPos); err != nil {
		t.Fatalf("EncodeGroupDone: %v", err)
	}

	dec := NewCtx(ctx.Bytes())
	avp, _, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode group: %v", err)
	}
	if avp.Type != TypeObject {
		t.Fatalf("want TypeObject, got %v", avp.Type)
	}
	if avp.Length != 16 { // one u8 avp (4 header + 4 padded) + one char avp (4 header + 4 padded)
		t.Fatalf("want group length 16, got %d", avp.Length)
	}
}

func TestListRejectsMismatchedChild(t *testing.T) {
	buf := make([]byte, 128)
	ctx := NewCtx(buf)
	listPos, err := ctx.Encode(0, 50, TypeObject, nil, true)
	if err != nil {
		t.Fatalf("Encode list: %v", err)
	}
	if _, err := ctx.EncodeU8(0, 1, 1); err != nil {
		t.Fatalf("first list child: %v", err)
	}
	if _, err := ctx.EncodeChar(0, 1, "nope"); err != ErrPathError {
		t.Fatalf("want ErrPathError for mismatched list child type, got %v", err)
	}
	if _, err := ctx.EncodeU8(0, 1, 3); err != nil {
		t.Fatalf("matching list child: %v", err)
	}
	if err := ctx.EncodeGroupDone(listPos); err != nil {
		t.Fatalf("EncodeGroupDone: %v", err)
	}
}

func TestDecodeForallPathPrefix(t *testing.T) {
	buf := make([]byte, 256)
	ctx := NewCtx(buf)
	groupPos, _ := ctx.Encode(0, 10, TypeObject, nil, false)
	ctx.EncodeU8(0, 1, 11)
	ctx.EncodeU8(0, 2, 22)
	inner, _ := ctx.Encode(0, 20, TypeObject, nil, false)
	ctx.EncodeU8(0, 3, 33)
	ctx.EncodeGroupDone(inner)
	ctx.EncodeGroupDone(groupPos)

	dec := NewCtx(ctx.Bytes())
	var codes []uint16
	err := dec.DecodeForall(len(dec.buf), []PathSegment{{NS: 0, Code: 10}, {NS: 0, Code: 3}}, nil,
		func(avp Avp, data []byte, _ any, groupExit bool) ForallDecision {
			if groupExit {
				return ForallContinue
			}
			codes = append(codes, avp.Code)
			return ForallContinue
		})
	if err != nil {
		t.Fatalf("DecodeForall: %v", err)
	}
	if len(codes) != 2 || codes[0] != 10 || codes[1] != 3 {
		t.Fatalf("want [10 3], got %v", codes)
	}
}

func TestDecodeByPath(t *testing.T) {
	buf := make([]byte, 256)
	ctx := NewCtx(buf)
	listPos, _ := ctx.Encode(0, 5, TypeObject, nil, true)
	ctx.EncodeU8(0, 1, 1)
	ctx.EncodeU8(0, 1, 2)
	ctx.EncodeU8(0, 1, 3)
	ctx.EncodeGroupDone(listPos)

	dec := NewCtx(ctx.Bytes())
	rows, err := dec.DecodeByPath(len(dec.buf), []PathSegment{{NS: 0, Code: 5}, {NS: 0, Code: 1}}, 0)
	if err != nil {
		t.Fatalf("DecodeByPath: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("want 3 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if DecodeU8(row) != uint8(i+1) {
			t.Fatalf("row %d: want %d, got %d", i, i+1, DecodeU8(row))
		}
	}
}

func TestDecodeToJSON(t *testing.T) {
	buf := make([]byte, 256)
	ctx := NewCtx(buf)
	groupPos, _ := ctx.Encode(0, 1, TypeObject, nil, false)
	ctx.EncodeU8(0, 2, 7)
	ctx.EncodeChar(0, 3, "ok")
	ctx.EncodeGroupDone(groupPos)

	dec := NewCtx(ctx.Bytes())
	m, err := dec.DecodeToJSON(len(dec.buf))
	if err != nil {
		t.Fatalf("DecodeToJSON: %v", err)
	}
	group, ok := m["1"].(map[string]any)
	if !ok {
		t.Fatalf("want nested map at key 1, got %T", m["1"])
	}
	if group["2"] != uint8(7) {
		t.Fatalf("want 7, got %v", group["2"])
	}
	if group["3"] != "ok" {
		t.Fatalf("want ok, got %v", group["3"])
	}
}
