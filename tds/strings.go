package tds

import (
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var utf16leDecoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeUTF16LE encodes s as UTF-16LE, as required for every wire string: the
// SQL_BATCH request payload, RPC parameter names, and LOGIN7 variable fields.
func EncodeUTF16LE(s string) []byte { return encodeUTF16LE(s) }

// decodeUTF16LEString decodes a complete (non-streamed) UTF-16LE byte slice,
// as used for LOGIN7 variable fields, NVARCHAR/NCHAR values, and FEDAUTHINFO
// option strings.
func decodeUTF16LEString(b []byte) (string, error) {
	out, err := utf16leDecoder.NewDecoder().Bytes(b)
	if err != nil {
		return "", &ProtocolError{Reason: "invalid utf-16le byte sequence"}
	}
	return string(out), nil
}

// streamingUTF16Decoder decodes UTF-16LE across chunk boundaries that may
// split a code unit, as happens with PLP NVARCHAR(MAX) chunks. Each call to
// Write returns the text decoded from its chunk; the bytes of a code unit
// split across two Write calls are kept in buf and prepended to the next
// chunk.
type streamingUTF16Decoder struct {
	tr  transform.Transformer
	buf []byte
}

func newStreamingUTF16Decoder() *streamingUTF16Decoder {
	return &streamingUTF16Decoder{tr: utf16leDecoder.NewDecoder()}
}

// Write feeds raw bytes through the decoder, returning the decoded text
// produced so far. atEOF should be true on the final chunk so any trailing
// partial state is flushed or reported as an error.
func (d *streamingUTF16Decoder) Write(chunk []byte, atEOF bool) (string, error) {
	if len(d.buf) > 0 {
		chunk = append(append([]byte{}, d.buf...), chunk...)
		d.buf = nil
	}
	dst := make([]byte, 0, len(chunk)*2+16)
	for {
		n := len(dst)
		if n == cap(dst) {
			dst = append(dst, 0)
			dst = dst[:n]
		}
		nDst, nSrc, err := d.tr.Transform(dst[:cap(dst)], chunk, atEOF)
		dst = dst[:nDst]
		chunk = chunk[nSrc:]
		if err == transform.ErrShortDst {
			dst = append(dst, make([]byte, len(dst))...)
			dst = dst[:nDst]
			continue
		}
		if err == transform.ErrShortSrc && !atEOF {
			d.buf = append(d.buf[:0], chunk...)
			return string(dst), nil
		}
		if err != nil {
			return string(dst), &ProtocolError{Reason: "invalid utf-16le stream: " + err.Error()}
		}
		return string(dst), nil
	}
}
