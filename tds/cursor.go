package tds

import "encoding/binary"

// cursor is a forward-only reader over an in-memory token stream payload.
// The parser operates on a fully reassembled TABULAR_RESULT payload rather
// than streaming packet-by-packet, since reassembly already buffers the
// whole message (the Reassembler).
type cursor struct {
	b   []byte
	pos int
}

func (c *cursor) remaining() int { return len(c.b) - c.pos }

func (c *cursor) need(n int) error {
	if c.remaining() < n {
		return &ProtocolError{Reason: "token stream truncated"}
	}
	return nil
}

func (c *cursor) byte() (byte, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.b[c.pos]
	c.pos++
	return v, nil
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	v := c.b[c.pos : c.pos+n]
	c.pos += n
	return v, nil
}

func (c *cursor) uint16() (uint16, error) {
	b, err := c.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *cursor) uint32() (uint32, error) {
	b, err := c.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) uint64() (uint64, error) {
	b, err := c.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *cursor) int16() (int16, error) {
	v, err := c.uint16()
	return int16(v), err
}

func (c *cursor) int32() (int32, error) {
	v, err := c.uint32()
	return int32(v), err
}

func (c *cursor) int64() (int64, error) {
	v, err := c.uint64()
	return int64(v), err
}

// bVarChar reads a single-byte-length-prefixed UTF-16LE string (B_VARCHAR).
func (c *cursor) bVarChar() (string, error) {
	n, err := c.byte()
	if err != nil {
		return "", err
	}
	b, err := c.bytes(int(n) * 2)
	if err != nil {
		return "", err
	}
	return decodeUTF16LEString(b)
}

// usVarChar reads a 2-byte-length-prefixed UTF-16LE string (US_VARCHAR).
func (c *cursor) usVarChar() (string, error) {
	n, err := c.uint16()
	if err != nil {
		return "", err
	}
	b, err := c.bytes(int(n) * 2)
	if err != nil {
		return "", err
	}
	return decodeUTF16LEString(b)
}
