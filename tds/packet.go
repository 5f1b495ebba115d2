// Package tds implements the Microsoft TDS 7.4 wire protocol: packet framing,
// the PRELOGIN/LOGIN7 handshake, and the tokenized response parser and row
// reader used to decode SQL Server result sets.
package tds

import (
	"encoding/binary"
	"fmt"
)

// PacketType identifies the TDS packet header's Type field.
type PacketType byte

// Packet types used by the core (MS-TDS 2.2.3.1.1).
const (
	PacketSQLBatch  PacketType = 0x01
	PacketRPCReq    PacketType = 0x03
	PacketTabular   PacketType = 0x04
	PacketAttention PacketType = 0x06
	PacketBulkLoad  PacketType = 0x07
	PacketFedAuth   PacketType = 0x08
	PacketTransMgr  PacketType = 0x0E
	PacketLogin7    PacketType = 0x10
	PacketSSPI      PacketType = 0x11
	PacketPrelogin  PacketType = 0x12
)

func (t PacketType) String() string {
	switch t {
	case PacketSQLBatch:
		return "SQL_BATCH"
	case PacketRPCReq:
		return "RPC_REQUEST"
	case PacketTabular:
		return "TABULAR_RESULT"
	case PacketAttention:
		return "ATTENTION"
	case PacketBulkLoad:
		return "BULK_LOAD"
	case PacketFedAuth:
		return "FEDAUTH_TOKEN"
	case PacketTransMgr:
		return "TRANSACTION_MANAGER_REQUEST"
	case PacketLogin7:
		return "LOGIN7"
	case PacketSSPI:
		return "SSPI"
	case PacketPrelogin:
		return "PRELOGIN"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", byte(t))
	}
}

// Status bits for the packet header's Status field (MS-TDS 2.2.3.1.2).
const (
	StatusNormal        byte = 0x00
	StatusEndOfMessage   byte = 0x01
	StatusIgnore         byte = 0x02
	StatusResetConn      byte = 0x08
	StatusResetConnSkip  byte = 0x10
)

// HeaderSize is the fixed 8-byte TDS packet header length.
const HeaderSize = 8

// MaxPayloadSize is the largest payload a single packet may carry so that
// header+payload stays within the 32767-byte cap the design imposes.
const MaxPayloadSize = 32767 - HeaderSize

// Header is the 8-byte TDS packet header.
type Header struct {
	Type     PacketType
	Status   byte
	Length   uint16 // big-endian, includes header
	SPID     uint16 // big-endian
	PacketID byte
	Window   byte // always 0
}

// Marshal encodes the header into an 8-byte slice.
func (h Header) Marshal() []byte {
	b := make([]byte, HeaderSize)
	b[0] = byte(h.Type)
	b[1] = h.Status
	binary.BigEndian.PutUint16(b[2:4], h.Length)
	binary.BigEndian.PutUint16(b[4:6], h.SPID)
	b[6] = h.PacketID
	b[7] = h.Window
	return b
}

// ParseHeader decodes an 8-byte header. Returns a *FramingError if b is
// shorter than HeaderSize or declares a length shorter than the header itself.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, &FramingError{Reason: "short header", Got: len(b)}
	}
	h := Header{
		Type:     PacketType(b[0]),
		Status:   b[1],
		Length:   binary.BigEndian.Uint16(b[2:4]),
		SPID:     binary.BigEndian.Uint16(b[4:6]),
		PacketID: b[6],
		Window:   b[7],
	}
	if h.Length < HeaderSize {
		return Header{}, &FramingError{Reason: "declared length shorter than header", Got: int(h.Length)}
	}
	return h, nil
}

// FramingError reports a malformed packet stream. It is fatal to the owning
// connection: the design forbids retrying framing failures on the same wire.
type FramingError struct {
	Reason string
	Got    int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("tds: protocol framing error: %s (got %d)", e.Reason, e.Got)
}

// Framer splits an outbound payload into a sequence of packets no larger than
// MaxPayloadSize+HeaderSize, assigning sequential, wrapping packet ids and
// setting END_OF_MESSAGE on the last fragment.
type Framer struct {
	nextPacketID byte
	spid         uint16
}

// NewFramer creates a Framer. spid is echoed in every packet header; it is
// zero until the server assigns one in LOGINACK.
func NewFramer(spid uint16) *Framer {
	return &Framer{spid: spid}
}

// SetSPID updates the session id used in subsequently framed packets.
func (f *Framer) SetSPID(spid uint16) { f.spid = spid }

// Frame splits payload into one or more wire-ready packets of the given type.
func (f *Framer) Frame(typ PacketType, payload []byte) [][]byte {
	if len(payload) == 0 {
		return [][]byte{f.framePiece(typ, nil, true)}
	}

	var packets [][]byte
	for offset := 0; offset < len(payload); offset += MaxPayloadSize {
		end := offset + MaxPayloadSize
		if end > len(payload) {
			end = len(payload)
		}
		last := end == len(payload)
		packets = append(packets, f.framePiece(typ, payload[offset:end], last))
	}
	return packets
}

func (f *Framer) framePiece(typ PacketType, chunk []byte, last bool) []byte {
	status := StatusNormal
	if last {
		status = StatusEndOfMessage
	}
	h := Header{
		Type:     typ,
		Status:   status,
		Length:   uint16(HeaderSize + len(chunk)),
		SPID:     f.spid,
		PacketID: f.nextPacketID,
	}
	f.nextPacketID++ // wraps at 256 back to 0, matching the spec's wrap-at-255 rule
	out := make([]byte, 0, int(h.Length))
	out = append(out, h.Marshal()...)
	out = append(out, chunk...)
	return out
}

// Reassembler buffers incoming bytes and reconstructs whole TDS messages by
// concatenating the payloads of consecutive same-type packets until one
// carries END_OF_MESSAGE.
type Reassembler struct {
	buf     []byte
	msgType PacketType
	payload []byte
	started bool

	// SPID is the session id from the most recently parsed packet header,
	// i.e. the value the server assigned once LOGINACK completes.
	SPID uint16
}

// NewReassembler creates an empty Reassembler.
func NewReassembler() *Reassembler { return &Reassembler{} }

// Feed appends newly read bytes to the internal buffer and returns a
// reassembled message (type + payload) whenever a full packet stream
// terminated by END_OF_MESSAGE has been consumed. ok is false when more bytes
// are needed.
func (r *Reassembler) Feed(data []byte) (msgType PacketType, payload []byte, ok bool, err error) {
	r.buf = append(r.buf, data...)

	for {
		if len(r.buf) < HeaderSize {
			return 0, nil, false, nil
		}
		h, err := ParseHeader(r.buf)
		if err != nil {
			return 0, nil, false, err
		}
		if len(r.buf) < int(h.Length) {
			return 0, nil, false, nil // wait for the rest of this packet
		}

		chunk := make([]byte, int(h.Length)-HeaderSize)
		copy(chunk, r.buf[HeaderSize:h.Length])
		r.buf = r.buf[h.Length:]
		r.SPID = h.SPID

		if !r.started {
			r.msgType = h.Type
			r.started = true
		} else if h.Type != r.msgType {
			r.started = false
			r.payload = nil
			return 0, nil, false, &FramingError{Reason: "packet type changed mid-message"}
		}
		r.payload = append(r.payload, chunk...)

		if h.Status&StatusEndOfMessage != 0 {
			msgType = r.msgType
			payload = r.payload
			r.started = false
			r.payload = nil
			return msgType, payload, true, nil
		}
		// keep looping: the buffer may already contain the next packet too
	}
}

// Closed reports a FramingError when the connection closes mid-payload,
// i.e. while a message has been started but not yet terminated.
func (r *Reassembler) Closed() error {
	if r.started {
		return &FramingError{Reason: "connection closed mid-message", Got: len(r.payload)}
	}
	return nil
}
