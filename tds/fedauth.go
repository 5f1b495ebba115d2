package tds

import "encoding/binary"

// EncodeFedAuthToken builds a FEDAUTH_TOKEN packet payload carrying an
// externally acquired access token (MS-TDS 2.2.7.12): a 4-byte total length,
// a 4-byte token length, the UTF-16LE-less raw token bytes, and, only when
// hasNonce is set, the trailing 32-byte nonce (omitted otherwise).
func EncodeFedAuthToken(token []byte, nonce [32]byte, hasNonce bool) []byte {
	tokenLen := uint32(len(token))
	totalLen := 4 + len(token)
	if hasNonce {
		totalLen += 32
	}
	out := make([]byte, 0, 4+totalLen)
	total := make([]byte, 4)
	binary.LittleEndian.PutUint32(total, uint32(totalLen))
	out = append(out, total...)
	tl := make([]byte, 4)
	binary.LittleEndian.PutUint32(tl, tokenLen)
	out = append(out, tl...)
	out = append(out, token...)
	if hasNonce {
		out = append(out, nonce[:]...)
	}
	return out
}

// DecodeFedAuthInfo parses a FEDAUTHINFO token body into its STSURL/SPN pair
// (MS-TDS 2.2.7.12). The body begins with a count and an options table of
// (FedAuthInfoID, length, offset) entries, each offset measured from the
// start of the table (just past the count).
func DecodeFedAuthInfo(body []byte) (FedAuthInfo, error) {
	var info FedAuthInfo
	if len(body) < 4 {
		return info, &ProtocolError{Reason: "fedauthinfo: body too short for option count"}
	}
	count := binary.LittleEndian.Uint32(body[0:4])
	tableStart := 4
	tableEnd := tableStart + int(count)*9
	if tableEnd > len(body) {
		return info, &ProtocolError{Reason: "fedauthinfo: option table runs past body"}
	}

	for i := 0; i < int(count); i++ {
		entry := body[tableStart+i*9 : tableStart+(i+1)*9]
		id := FedAuthInfoOpt(entry[0])
		dataLen := binary.LittleEndian.Uint32(entry[1:5])
		offset := binary.LittleEndian.Uint32(entry[5:9])
		start := tableStart + int(offset)
		end := start + int(dataLen)
		if start < 0 || end > len(body) || start > end {
			return info, &ProtocolError{Reason: "fedauthinfo: option data out of range"}
		}
		value, err := decodeUTF16LEString(body[start:end])
		if err != nil {
			return info, err
		}
		switch id {
		case FedAuthInfoSTSURL:
			info.STSURL = value
		case FedAuthInfoSPN:
			info.SPN = value
		}
	}
	return info, nil
}
