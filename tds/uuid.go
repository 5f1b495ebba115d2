package tds

import "github.com/google/uuid"

// decodeGUID converts a 16-byte UNIQUEIDENTIFIER wire value into a uuid.UUID.
// SQL Server stores the first three fields little-endian (MS-TDS 2.2.5.4.4),
// the reverse of RFC 4122's big-endian layout, so bytes must be reordered
// before handing them to uuid.FromBytes.
func decodeGUID(b []byte) (uuid.UUID, error) {
	if len(b) != 16 {
		return uuid.UUID{}, &FramingError{Reason: "uniqueidentifier: wrong byte length", Got: len(b)}
	}
	var reordered [16]byte
	reordered[0], reordered[1], reordered[2], reordered[3] = b[3], b[2], b[1], b[0]
	reordered[4], reordered[5] = b[5], b[4]
	reordered[6], reordered[7] = b[7], b[6]
	copy(reordered[8:], b[8:16])
	return uuid.FromBytes(reordered[:])
}

// encodeGUID is the inverse of decodeGUID, producing the 16-byte mixed-endian
// wire representation SQL Server expects for a UNIQUEIDENTIFIER parameter.
func encodeGUID(id uuid.UUID) []byte {
	b := id[:]
	out := make([]byte, 16)
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:], b[8:16])
	return out
}
