package tds

import (
	"encoding/binary"
)

// PreloginOption identifies one PRELOGIN option token (MS-TDS 2.2.6.4).
type PreloginOption byte

const (
	PreloginVersion        PreloginOption = 0x00
	PreloginEncryption     PreloginOption = 0x01
	PreloginInstOpt        PreloginOption = 0x02
	PreloginThreadID       PreloginOption = 0x03
	PreloginMARS           PreloginOption = 0x04
	PreloginTraceID        PreloginOption = 0x05
	PreloginFedAuthRequired PreloginOption = 0x06
	PreloginNonceOpt       PreloginOption = 0x07
	PreloginTerminator     PreloginOption = 0xFF
)

// Encryption dispositions exchanged in the ENCRYPTION PRELOGIN option.
const (
	EncryptOff      byte = 0x00
	EncryptOn       byte = 0x01
	EncryptNotSup   byte = 0x02
	EncryptReq      byte = 0x03
)

// PreloginRequest is the client's outgoing PRELOGIN option set.
type PreloginRequest struct {
	Version       [6]byte // 4-byte version + 2-byte subbuild, little-endian
	Encryption    byte
	InstOpt       string
	ThreadID      uint32
	MARS          bool
	TraceID       [36]byte // 16 activity id + 4 sequence + 16 connection id (Azure gateways)
	FedAuthRequired bool
}

// preloginOptionOrder is fixed so offsets in the option table are predictable
// across implementations, matching common driver behavior.
var preloginOptionOrder = []PreloginOption{
	PreloginVersion,
	PreloginEncryption,
	PreloginInstOpt,
	PreloginThreadID,
	PreloginMARS,
	PreloginTraceID,
	PreloginFedAuthRequired,
}

// EncodePrelogin builds the PRELOGIN payload: an option table (id, offset,
// length triples) followed by the concatenated option data, terminated by
// PreloginTerminator.
func EncodePrelogin(req PreloginRequest) []byte {
	type entry struct {
		opt  PreloginOption
		data []byte
	}
	var entries []entry

	for _, opt := range preloginOptionOrder {
		switch opt {
		case PreloginVersion:
			entries = append(entries, entry{opt, req.Version[:]})
		case PreloginEncryption:
			entries = append(entries, entry{opt, []byte{req.Encryption}})
		case PreloginInstOpt:
			b := append([]byte(req.InstOpt), 0x00)
			entries = append(entries, entry{opt, b})
		case PreloginThreadID:
			b := make([]byte, 4)
			binary.LittleEndian.PutUint32(b, req.ThreadID)
			entries = append(entries, entry{opt, b})
		case PreloginMARS:
			v := byte(0)
			if req.MARS {
				v = 1
			}
			entries = append(entries, entry{opt, []byte{v}})
		case PreloginTraceID:
			entries = append(entries, entry{opt, req.TraceID[:]})
		case PreloginFedAuthRequired:
			v := byte(0)
			if req.FedAuthRequired {
				v = 1
			}
			entries = append(entries, entry{opt, []byte{v}})
		}
	}

	tableSize := len(entries)*5 + 1 // 5 bytes/entry (id+offset+len) + terminator
	offset := tableSize
	table := make([]byte, 0, tableSize)
	data := make([]byte, 0, 64)

	for _, e := range entries {
		table = append(table, byte(e.opt))
		off := make([]byte, 2)
		binary.BigEndian.PutUint16(off, uint16(offset))
		table = append(table, off...)
		ln := make([]byte, 2)
		binary.BigEndian.PutUint16(ln, uint16(len(e.data)))
		table = append(table, ln...)
		data = append(data, e.data...)
		offset += len(e.data)
	}
	table = append(table, byte(PreloginTerminator))

	out := make([]byte, 0, len(table)+len(data))
	out = append(out, table...)
	out = append(out, data...)
	return out
}

// PreloginResponse is the server's decoded PRELOGIN reply.
type PreloginResponse struct {
	Encryption      byte
	FedAuthRequired bool
	HasFedAuthOpt   bool
}

// DecodePrelogin parses a PRELOGIN response payload into its option values.
func DecodePrelogin(payload []byte) (PreloginResponse, error) {
	var resp PreloginResponse
	i := 0
	type loc struct {
		offset, length uint16
	}
	locs := map[PreloginOption]loc{}

	for {
		if i >= len(payload) {
			return resp, &FramingError{Reason: "prelogin: option table ran past payload end"}
		}
		opt := PreloginOption(payload[i])
		if opt == PreloginTerminator {
			break
		}
		if i+5 > len(payload) {
			return resp, &FramingError{Reason: "prelogin: truncated option entry"}
		}
		off := binary.BigEndian.Uint16(payload[i+1 : i+3])
		ln := binary.BigEndian.Uint16(payload[i+3 : i+5])
		locs[opt] = loc{off, ln}
		i += 5
	}

	if l, ok := locs[PreloginEncryption]; ok {
		if int(l.offset)+int(l.length) > len(payload) || l.length < 1 {
			return resp, &FramingError{Reason: "prelogin: encryption option out of range"}
		}
		resp.Encryption = payload[l.offset]
	}
	if l, ok := locs[PreloginFedAuthRequired]; ok {
		resp.HasFedAuthOpt = true
		if int(l.offset)+int(l.length) > len(payload) || l.length < 1 {
			return resp, &FramingError{Reason: "prelogin: fedauth option out of range"}
		}
		resp.FedAuthRequired = payload[l.offset] != 0
	}
	return resp, nil
}

// NegotiateEncryption applies the PRELOGIN encryption rule: if the
// client requested encryption and the server refused, or the client did not
// request it and the server requires it, negotiation fails.
func NegotiateEncryption(requested bool, serverDisposition byte) (tlsRequired bool, err error) {
	switch {
	case requested && (serverDisposition == EncryptNotSup || serverDisposition == EncryptOff):
		return false, &ServerRefusedEncryptionError{Requested: requested, ServerDisposition: serverDisposition}
	case !requested && serverDisposition == EncryptReq:
		return false, &ServerRefusedEncryptionError{Requested: requested, ServerDisposition: serverDisposition}
	case serverDisposition == EncryptOff:
		return false, nil
	default:
		return true, nil
	}
}
