package tds

import (
	"math"
	"math/big"
	"time"
)

// sqlEpoch is the TDS calendar epoch used by DATE/DATETIME2/DATETIMEOFFSET:
// days are counted from 0001-01-01.
var sqlEpoch = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

// datetimeEpoch is the legacy DATETIME/SMALLDATETIME epoch.
var datetimeEpoch = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// decodeValue decodes one column value the type table. nbc
// indicates the value came from an NBCROW whose null bitmap already
// established non-nullness, so the single-byte nullable-length prefix that
// ROW-encoded INTN-family/DECIMAL/NUMERIC/GUID values carry is absent.
func (p *Parser) decodeValue(info TypeInfo, nbc bool) (any, error) {
	switch info.ID {
	case TypeTinyInt:
		b, err := p.c.byte()
		return b, err

	case TypeBit:
		b, err := p.c.byte()
		return b != 0, err

	case TypeSmallInt:
		v, err := p.c.int16()
		return v, err

	case TypeInt:
		v, err := p.c.int32()
		return v, err

	case TypeBigInt:
		v, err := p.c.int64()
		return v, err

	case TypeReal:
		b, err := p.c.bytes(4)
		if err != nil {
			return nil, err
		}
		return decodeFloat32(b), nil

	case TypeFloat:
		b, err := p.c.bytes(8)
		if err != nil {
			return nil, err
		}
		return decodeFloat64(b), nil

	case TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN:
		length, isNull, err := p.readNullableFixedLength(info, nbc)
		if err != nil || isNull {
			return nil, err
		}
		return p.decodeFixedByLength(info.ID, length)

	case TypeDecimal, TypeNumeric:
		length, isNull, err := p.readNullableFixedLength(info, nbc)
		if err != nil || isNull {
			return nil, err
		}
		return p.decodeDecimal(length, info.Scale)

	case TypeMoney:
		b, err := p.c.bytes(8)
		if err != nil {
			return nil, err
		}
		return decodeMoney8(b), nil

	case TypeSmallMoney:
		b, err := p.c.bytes(4)
		if err != nil {
			return nil, err
		}
		return decodeMoney4(b), nil

	case TypeVarChar, TypeNVarChar:
		if info.IsPLP {
			return p.decodePLPString(info.ID == TypeNVarChar)
		}
		n, err := p.c.uint16()
		if err != nil {
			return nil, err
		}
		if n == 0xFFFF {
			return nil, nil
		}
		b, err := p.c.bytes(int(n))
		if err != nil {
			return nil, err
		}
		if info.ID == TypeNVarChar {
			return decodeUTF16LEString(b)
		}
		return decodeANSIString(b), nil

	case TypeChar, TypeNChar:
		b, err := p.c.bytes(info.MaxLength)
		if err != nil {
			return nil, err
		}
		if info.ID == TypeNChar {
			s, err := decodeUTF16LEString(b)
			if err != nil {
				return nil, err
			}
			return trimTrailingSpaces(s), nil
		}
		return trimTrailingSpaces(decodeANSIString(b)), nil

	case TypeVarBinary:
		if info.IsPLP {
			return p.decodePLPBytes()
		}
		n, err := p.c.uint16()
		if err != nil {
			return nil, err
		}
		if n == 0xFFFF {
			return nil, nil
		}
		return p.c.bytes(int(n))
	case TypeBinary:
		b, err := p.c.bytes(info.MaxLength)
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil

	case TypeDate:
		b, err := p.c.bytes(3)
		if err != nil {
			return nil, err
		}
		return decodeDate(b), nil

	case TypeTime:
		b, err := p.c.bytes(timeByteLen(info.Scale))
		if err != nil {
			return nil, err
		}
		return decodeTime(b, info.Scale), nil

	case TypeDateTime:
		b, err := p.c.bytes(8)
		if err != nil {
			return nil, err
		}
		return decodeDateTime(b), nil

	case TypeSmallDT:
		b, err := p.c.bytes(4)
		if err != nil {
			return nil, err
		}
		return decodeSmallDateTime(b), nil

	case TypeDateTime2:
		tb, err := p.c.bytes(timeByteLen(info.Scale))
		if err != nil {
			return nil, err
		}
		db, err := p.c.bytes(3)
		if err != nil {
			return nil, err
		}
		return decodeDateTime2(tb, db, info.Scale), nil

	case TypeDateTimeO:
		tb, err := p.c.bytes(timeByteLen(info.Scale))
		if err != nil {
			return nil, err
		}
		db, err := p.c.bytes(3)
		if err != nil {
			return nil, err
		}
		offRaw, err := p.c.int16()
		if err != nil {
			return nil, err
		}
		return decodeDateTimeOffset(tb, db, info.Scale, offRaw), nil

	case TypeGUID:
		length, isNull, err := p.readNullableFixedLength(info, nbc)
		if err != nil || isNull {
			return nil, err
		}
		b, err := p.c.bytes(length)
		if err != nil {
			return nil, err
		}
		return decodeGUID(b)

	default:
		return nil, &UnsupportedTypeError{TypeID: info.ID, Column: ""}
	}
}

// readNullableFixedLength reads the single-byte length-or-zero prefix that
// ROW-encoded INTN/BITN/FLOATN/MONEYN/DATETIMEN/DECIMAL/NUMERIC/GUID values
// carry. In NBCROW mode that prefix is absent: the actual length is always
// the declared metadata length, and the value is never null.
func (p *Parser) readNullableFixedLength(info TypeInfo, nbc bool) (length int, isNull bool, err error) {
	if nbc {
		return info.MaxLength, false, nil
	}
	n, err := p.c.byte()
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, true, nil
	}
	return int(n), false, nil
}

func (p *Parser) decodeFixedByLength(id TypeID, length int) (any, error) {
	switch id {
	case TypeIntN:
		b, err := p.c.bytes(length)
		if err != nil {
			return nil, err
		}
		return decodeIntN(b)
	case TypeBitN:
		b, err := p.c.byte()
		return b != 0, err
	case TypeFloatN:
		b, err := p.c.bytes(length)
		if err != nil {
			return nil, err
		}
		if length == 4 {
			return decodeFloat32(b), nil
		}
		return decodeFloat64(b), nil
	case TypeMoneyN:
		b, err := p.c.bytes(length)
		if err != nil {
			return nil, err
		}
		if length == 4 {
			return decodeMoney4(b), nil
		}
		return decodeMoney8(b), nil
	case TypeDateTimeN:
		b, err := p.c.bytes(length)
		if err != nil {
			return nil, err
		}
		if length == 4 {
			return decodeSmallDateTime(b), nil
		}
		return decodeDateTime(b), nil
	default:
		return nil, &UnsupportedTypeError{TypeID: id}
	}
}

func decodeIntN(b []byte) (any, error) {
	switch len(b) {
	case 1:
		return b[0], nil
	case 2:
		return int16(uint16(b[0]) | uint16(b[1])<<8), nil
	case 4:
		return int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24), nil
	case 8:
		var v uint64
		for i := 7; i >= 0; i-- {
			v = v<<8 | uint64(b[i])
		}
		return int64(v), nil
	default:
		return nil, &ProtocolError{Reason: "intn: unsupported byte length"}
	}
}

func decodeFloat32(b []byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits)
}

func decodeFloat64(b []byte) float64 {
	var bits uint64
	for i := 7; i >= 0; i-- {
		bits = bits<<8 | uint64(b[i])
	}
	return math.Float64frombits(bits)
}

func (p *Parser) decodeDecimal(length int, scale byte) (Decimal, error) {
	signByte, err := p.c.byte()
	if err != nil {
		return Decimal{}, err
	}
	magLen := length - 1
	if magLen < 0 {
		return Decimal{}, &ProtocolError{Reason: "decimal: negative magnitude length"}
	}
	mag, err := p.c.bytes(magLen)
	if err != nil {
		return Decimal{}, err
	}
	be := make([]byte, magLen)
	for i, b := range mag {
		be[magLen-1-i] = b
	}
	unscaled := new(big.Int).SetBytes(be)
	if signByte == 0 {
		unscaled.Neg(unscaled)
	}
	return Decimal{Unscaled: unscaled, Scale: scale}, nil
}

func decodeMoney8(b []byte) Decimal {
	hi := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
	lo := uint32(b[4]) | uint32(b[5])<<8 | uint32(b[6])<<16 | uint32(b[7])<<24
	v := int64(hi)<<32 | int64(lo)
	return Decimal{Unscaled: big.NewInt(v), Scale: 4}
}

func decodeMoney4(b []byte) Decimal {
	v := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
	return Decimal{Unscaled: big.NewInt(int64(v)), Scale: 4}
}

func decodeANSIString(b []byte) string {
	// Without a server-negotiated code page table, bytes are treated as
	// Latin-1, matching ASCII for the 7-bit range most collations use.
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

func trimTrailingSpaces(s string) string {
	i := len(s)
	for i > 0 && s[i-1] == ' ' {
		i--
	}
	return s[:i]
}

func timeByteLen(scale byte) int {
	switch {
	case scale <= 2:
		return 3
	case scale <= 4:
		return 4
	default:
		return 5
	}
}

func readUintLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func decodeDate(b []byte) time.Time {
	days := readUintLE(b)
	return sqlEpoch.AddDate(0, 0, int(days))
}

// decodeTimeDuration converts TIME wire ticks (scale-dependent units of
// 10^-scale seconds) into a time.Duration since midnight.
func decodeTimeDuration(b []byte, scale byte) time.Duration {
	ticks := readUintLE(b)
	// ticks are in units of 10^(-scale) seconds; normalize to 100ns units.
	exp := 7 - int(scale)
	hundredNs := ticks
	for i := 0; i < exp; i++ {
		hundredNs *= 10
	}
	return time.Duration(hundredNs) * 100 * time.Nanosecond
}

func decodeTime(b []byte, scale byte) time.Time {
	d := decodeTimeDuration(b, scale)
	return time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC).Add(d)
}

func decodeDateTime(b []byte) time.Time {
	days := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
	ticks := int32(uint32(b[4]) | uint32(b[5])<<8 | uint32(b[6])<<16 | uint32(b[7])<<24)
	// ticks count 1/300th-second units since midnight.
	nanos := int64(ticks) * 10000000 / 3
	return datetimeEpoch.AddDate(0, 0, int(days)).Add(time.Duration(nanos) * time.Nanosecond)
}

func decodeSmallDateTime(b []byte) time.Time {
	days := uint16(b[0]) | uint16(b[1])<<8
	minutes := uint16(b[2]) | uint16(b[3])<<8
	return datetimeEpoch.AddDate(0, 0, int(days)).Add(time.Duration(minutes) * time.Minute)
}

func decodeDateTime2(timeBytes, dateBytes []byte, scale byte) time.Time {
	d := decodeTimeDuration(timeBytes, scale)
	days := readUintLE(dateBytes)
	return sqlEpoch.AddDate(0, 0, int(days)).Add(d)
}

func decodeDateTimeOffset(timeBytes, dateBytes []byte, scale byte, offsetMinutes int16) TimestampOffset {
	d := decodeTimeDuration(timeBytes, scale)
	days := readUintLE(dateBytes)
	utc := sqlEpoch.AddDate(0, 0, int(days)).Add(d)
	return TimestampOffset{UTC: utc, OffsetMinutes: offsetMinutes}
}

// decodePLPString streams a PLP (MAX) string value chunk-by-chunk, decoding
// UTF-16LE across chunk boundaries when unicode is true.
func (p *Parser) decodePLPString(unicode bool) (any, error) {
	total, err := p.c.uint64()
	if err != nil {
		return nil, err
	}
	if total == plpNullLen {
		return nil, nil
	}

	var sb []byte
	dec := newStreamingUTF16Decoder()
	var out string
	for {
		chunkLen, err := p.c.uint32()
		if err != nil {
			return nil, err
		}
		if chunkLen == plpChunkEndMark {
			break
		}
		chunk, err := p.c.bytes(int(chunkLen))
		if err != nil {
			return nil, err
		}
		if unicode {
			s, err := dec.Write(chunk, false)
			if err != nil {
				return nil, err
			}
			out += s
		} else {
			sb = append(sb, chunk...)
		}
	}
	if unicode {
		tail, err := dec.Write(nil, true)
		if err != nil {
			return nil, err
		}
		return out + tail, nil
	}
	return decodeANSIString(sb), nil
}

// decodePLPBytes streams a PLP (MAX) binary value chunk-by-chunk.
func (p *Parser) decodePLPBytes() (any, error) {
	total, err := p.c.uint64()
	if err != nil {
		return nil, err
	}
	if total == plpNullLen {
		return nil, nil
	}
	var out []byte
	for {
		chunkLen, err := p.c.uint32()
		if err != nil {
			return nil, err
		}
		if chunkLen == plpChunkEndMark {
			break
		}
		chunk, err := p.c.bytes(int(chunkLen))
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}
