package tds

import (
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"
)

// login7HeaderLen is the fixed portion of LOGIN7 preceding the variable-length
// data block (MS-TDS 2.2.6.3).
const login7HeaderLen = 94

// featureExtFedAuthBytes is the exact byte sequence the design's Azure-family quirks
// note requires for ADAL-workflow federated auth:
// FeatureId=0x02, len=2 (4 bytes, little-endian), options=0x05, workflow=0x01.
// The 0xFF terminator is not part of this slice; EncodeLogin7 appends it.
var featureExtFedAuthBytes = []byte{0x02, 0x02, 0x00, 0x00, 0x00, 0x05, 0x01}

// Login7Request carries the fields needed to build a LOGIN7 packet.
type Login7Request struct {
	TDSVersion     uint32
	PacketSize     uint32
	ClientProgVer  uint32
	ClientPID      uint32
	ConnectionID   uint32
	OptionFlags1   byte
	OptionFlags2   byte
	TypeFlags      byte
	OptionFlags3   byte
	ClientTimeZone int32
	ClientLCID     uint32

	Hostname   string
	Username   string
	Password   string
	AppName    string
	ServerName string
	CltIntName string
	Language   string
	Database   string

	UseFedAuth bool
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()

func encodeUTF16LE(s string) []byte {
	b, err := utf16le.Bytes([]byte(s))
	if err != nil {
		// Every Go string is valid UTF-8; the only failure mode is a encoder
		// replacement policy rejecting a rune, which IgnoreBOM does not do.
		return nil
	}
	return b
}

// obfuscatePassword applies LOGIN7's password obfuscation: swap the nibbles
// of each byte, then XOR with 0xA5 (MS-TDS 2.2.6.3).
func obfuscatePassword(utf16Password []byte) []byte {
	out := make([]byte, len(utf16Password))
	for i, b := range utf16Password {
		swapped := (b<<4)&0xF0 | (b>>4)&0x0F
		out[i] = swapped ^ 0xA5
	}
	return out
}

// EncodeLogin7 builds the full LOGIN7 payload: fixed header, variable data
// block, and (when UseFedAuth) the FEDAUTH feature-extension block.
func EncodeLogin7(req Login7Request) []byte {
	hostname := encodeUTF16LE(req.Hostname)
	username := encodeUTF16LE(req.Username)
	password := obfuscatePassword(encodeUTF16LE(req.Password))
	appName := encodeUTF16LE(req.AppName)
	serverName := encodeUTF16LE(req.ServerName)
	cltIntName := encodeUTF16LE(req.CltIntName)
	language := encodeUTF16LE(req.Language)
	database := encodeUTF16LE(req.Database)

	var featureExt []byte
	if req.UseFedAuth {
		featureExt = append(featureExt, featureExtFedAuthBytes...)
		featureExt = append(featureExt, 0xFF) // FEATUREEXTTERMINATOR
	}

	varDataOffset := login7HeaderLen
	fields := [][]byte{hostname, username, password, appName, serverName, nil /* unused/reserved */, cltIntName, language, database}

	// offset/length pairs are written in the fixed header; build the variable
	// block first so offsets are known.
	varBlock := make([]byte, 0, 256)
	offsets := make([]int, len(fields))
	lengths := make([]int, len(fields))
	cursor := varDataOffset
	for i, f := range fields {
		offsets[i] = cursor
		lengths[i] = len(f) / 2 // offset/length pairs count UTF-16 code units
		varBlock = append(varBlock, f...)
		cursor += len(f)
	}

	fedAuthOffset := cursor
	varBlock = append(varBlock, featureExt...)
	cursor += len(featureExt)

	total := cursor
	out := make([]byte, login7HeaderLen)
	binary.LittleEndian.PutUint32(out[0:4], uint32(total))
	binary.LittleEndian.PutUint32(out[4:8], req.TDSVersion)
	binary.LittleEndian.PutUint32(out[8:12], req.PacketSize)
	binary.LittleEndian.PutUint32(out[12:16], req.ClientProgVer)
	binary.LittleEndian.PutUint32(out[16:20], req.ClientPID)
	binary.LittleEndian.PutUint32(out[20:24], req.ConnectionID)
	out[24] = req.OptionFlags1
	out[25] = req.OptionFlags2
	out[26] = req.TypeFlags
	out[27] = req.OptionFlags3
	binary.LittleEndian.PutUint32(out[28:32], uint32(req.ClientTimeZone))
	binary.LittleEndian.PutUint32(out[32:36], req.ClientLCID)

	putOffLen := func(pos int, idx int) {
		binary.LittleEndian.PutUint16(out[pos:pos+2], uint16(offsets[idx]))
		binary.LittleEndian.PutUint16(out[pos+2:pos+4], uint16(lengths[idx]))
	}
	// Field order within the fixed header (MS-TDS 2.2.6.3): hostname,
	// username, password, appname, servername, unused, library name,
	// language, database.
	putOffLen(36, 0)
	putOffLen(40, 1)
	putOffLen(44, 2)
	putOffLen(48, 3)
	putOffLen(52, 4)
	// ClientID (6 bytes MAC, zero-filled) at 56-62.
	putOffLen(62, 6)
	putOffLen(66, 7)
	putOffLen(70, 8)
	// SSPI offset/length (unused here): 74-78.
	// AttachDBFile offset/length (unused): 78-82.
	// ChangePassword offset/length (unused): 82-86.
	binary.LittleEndian.PutUint32(out[86:90], 0) // cbSSPILong

	if req.UseFedAuth {
		binary.LittleEndian.PutUint32(out[90:94], uint32(fedAuthOffset-varDataOffset))
	}

	result := make([]byte, 0, len(out)+len(varBlock))
	result = append(result, out...)
	result = append(result, varBlock...)
	return result
}
