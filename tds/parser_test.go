package tds

import (
	"math/big"
	"testing"
)

func le16(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }
func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func bVarCharBytes(s string) []byte {
	out := []byte{byte(len(s))}
	return append(out, encodeUTF16LE(s)...)
}

func buildColMetadata(cols []struct {
	typeByte byte
	extra    []byte
	name     string
}) []byte {
	out := []byte{byte(TokenColMetadata)}
	out = append(out, le16(uint16(len(cols)))...)
	for _, c := range cols {
		out = append(out, le32(0)...)  // UserType
		out = append(out, le16(1)...)  // Flags: nullable
		out = append(out, c.typeByte)
		out = append(out, c.extra...)
		out = append(out, bVarCharBytes(c.name)...)
	}
	return out
}

func TestParserColMetadataAndRowRoundTrip(t *testing.T) {
	varcharExtra := append(le16(10), make([]byte, 5)...) // maxlen 10 + 5-byte collation

	meta := buildColMetadata([]struct {
		typeByte byte
		extra    []byte
		name     string
	}{
		{byte(TypeInt), nil, "a"},
		{byte(TypeIntN), []byte{4}, "b"},
		{byte(TypeVarChar), varcharExtra, "c"},
		{byte(TypeDecimal), []byte{5, 10, 2}, "d"},
	})

	row := []byte{byte(TokenRow)}
	row = append(row, le32(42)...)                // INT
	row = append(row, 4)                          // INTN length prefix
	row = append(row, le32(7)...)                 // INTN value
	row = append(row, le16(5)...)                  // VARCHAR length
	row = append(row, []byte("hello")...)
	row = append(row, 5)                           // DECIMAL length prefix (sign+4)
	row = append(row, 1)                           // positive sign
	row = append(row, le32(12345)...)              // magnitude LE

	payload := append(append([]byte{}, meta...), row...)
	p := NewParser(payload)

	ev, ok, err := p.Next()
	if err != nil || !ok {
		t.Fatalf("colmetadata: ok=%v err=%v", ok, err)
	}
	if ev.Kind != EventColMetadata || len(ev.Columns) != 4 {
		t.Fatalf("unexpected colmetadata event: %+v", ev)
	}

	ev, ok, err = p.Next()
	if err != nil || !ok {
		t.Fatalf("row: ok=%v err=%v", ok, err)
	}
	if ev.Kind != EventRow {
		t.Fatalf("expected row event, got %v", ev.Kind)
	}
	if ev.Row[0].(int32) != 42 {
		t.Errorf("int column: got %v", ev.Row[0])
	}
	if ev.Row[1].(int32) != 7 {
		t.Errorf("intn column: got %v", ev.Row[1])
	}
	if ev.Row[2].(string) != "hello" {
		t.Errorf("varchar column: got %v", ev.Row[2])
	}
	dec := ev.Row[3].(Decimal)
	if dec.String() != "123.45" {
		t.Errorf("decimal column: got %v", dec.String())
	}
}

func TestParserNBCRowMatchesRowForEveryType(t *testing.T) {
	varcharExtra := append(le16(10), make([]byte, 5)...)

	meta := buildColMetadata([]struct {
		typeByte byte
		extra    []byte
		name     string
	}{
		{byte(TypeInt), nil, "a"},
		{byte(TypeIntN), []byte{4}, "b"},
		{byte(TypeVarChar), varcharExtra, "c"},
		{byte(TypeDecimal), []byte{5, 10, 2}, "d"},
	})

	row := []byte{byte(TokenRow)}
	row = append(row, le32(42)...)
	row = append(row, 4)
	row = append(row, le32(7)...)
	row = append(row, le16(5)...)
	row = append(row, []byte("hello")...)
	row = append(row, 5)
	row = append(row, 1)
	row = append(row, le32(12345)...)

	nbc := []byte{byte(TokenNBCRow), 0x00} // bitmap: no nulls across 4 cols (1 byte)
	nbc = append(nbc, le32(42)...)
	nbc = append(nbc, le32(7)...) // no length prefix in NBC mode
	nbc = append(nbc, le16(5)...)
	nbc = append(nbc, []byte("hello")...)
	nbc = append(nbc, 1) // sign only, no length prefix
	nbc = append(nbc, le32(12345)...)

	rowPayload := append(append([]byte{}, meta...), row...)
	nbcPayload := append(append([]byte{}, meta...), nbc...)

	pRow := NewParser(rowPayload)
	pRow.Next() // colmetadata
	rowEv, _, err := pRow.Next()
	if err != nil {
		t.Fatalf("row parse: %v", err)
	}

	pNBC := NewParser(nbcPayload)
	pNBC.Next() // colmetadata
	nbcEv, _, err := pNBC.Next()
	if err != nil {
		t.Fatalf("nbcrow parse: %v", err)
	}

	if len(rowEv.Row) != len(nbcEv.Row) {
		t.Fatalf("length mismatch: row=%d nbc=%d", len(rowEv.Row), len(nbcEv.Row))
	}
	for i := range rowEv.Row {
		a, b := rowEv.Row[i], nbcEv.Row[i]
		if dec, ok := a.(Decimal); ok {
			if dec.String() != b.(Decimal).String() {
				t.Errorf("column %d decimal mismatch: row=%v nbc=%v", i, a, b)
			}
			continue
		}
		if a != b {
			t.Errorf("column %d mismatch: row=%v nbc=%v", i, a, b)
		}
	}
}

func TestParserNBCRowWithNulls(t *testing.T) {
	meta := buildColMetadata([]struct {
		typeByte byte
		extra    []byte
		name     string
	}{
		{byte(TypeInt), nil, "a"},
		{byte(TypeIntN), []byte{4}, "b"},
	})
	// bit 1 (column b) set => null
	nbc := []byte{byte(TokenNBCRow), 0x02}
	nbc = append(nbc, le32(99)...) // column a, non-null

	payload := append(append([]byte{}, meta...), nbc...)
	p := NewParser(payload)
	p.Next()
	ev, _, err := p.Next()
	if err != nil {
		t.Fatalf("nbcrow parse: %v", err)
	}
	if ev.Row[0].(int32) != 99 {
		t.Errorf("expected non-null column a = 99, got %v", ev.Row[0])
	}
	if ev.Row[1] != nil {
		t.Errorf("expected null for bitmap-flagged column, got %v", ev.Row[1])
	}
}

func TestParserDoneStatusBits(t *testing.T) {
	payload := []byte{byte(TokenDone)}
	payload = append(payload, le16(DoneCount|DoneFinal)...)
	payload = append(payload, le16(0xC1)...)
	rowCount := make([]byte, 8)
	rowCount[0] = 5
	payload = append(payload, rowCount...)

	p := NewParser(payload)
	ev, ok, err := p.Next()
	if err != nil || !ok {
		t.Fatalf("done: ok=%v err=%v", ok, err)
	}
	if !ev.Done.HasCount || ev.Done.RowCount != 5 {
		t.Errorf("unexpected done decode: %+v", ev.Done)
	}
	if !ev.Done.IsFinal {
		t.Errorf("expected IsFinal")
	}
}

func TestParserEnvChangeRouting(t *testing.T) {
	serverName := "newhost"
	body := []byte{byte(EnvChangeRouting)}
	body = append(body, le16(0)...) // data length, unused by decoder
	body = append(body, 0)          // protocol
	body = append(body, le16(1433)...)
	body = append(body, bVarCharUS(serverName)...)

	payload := []byte{byte(TokenEnvChange)}
	payload = append(payload, le16(uint16(len(body)))...)
	payload = append(payload, body...)

	p := NewParser(payload)
	ev, ok, err := p.Next()
	if err != nil || !ok {
		t.Fatalf("envchange: ok=%v err=%v", ok, err)
	}
	if ev.EnvChange.RouteServer != serverName || ev.EnvChange.RoutePort != 1433 {
		t.Errorf("unexpected routing decode: %+v", ev.EnvChange)
	}
}

func bVarCharUS(s string) []byte {
	u := encodeUTF16LE(s)
	out := le16(uint16(len(s)))
	return append(out, u...)
}

func TestDecimalNegative(t *testing.T) {
	d := Decimal{Unscaled: big.NewInt(-12345), Scale: 2}
	if d.String() != "-123.45" {
		t.Errorf("got %s", d.String())
	}
}

func TestDecodeGUIDRoundTrip(t *testing.T) {
	raw := []byte{
		0x04, 0x03, 0x02, 0x01, // data1 LE
		0x06, 0x05, // data2 LE
		0x08, 0x07, // data3 LE
		0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10,
	}
	id, err := decodeGUID(raw)
	if err != nil {
		t.Fatalf("decodeGUID: %v", err)
	}
	back := encodeGUID(id)
	for i := range raw {
		if raw[i] != back[i] {
			t.Fatalf("round trip mismatch at byte %d: got 0x%02X want 0x%02X", i, back[i], raw[i])
		}
	}
}
