package tds

import "fmt"

// TypeID is a single-byte TDS data type identifier (MS-TDS 2.2.5.4).
type TypeID byte

// Fixed-length and variable-length type ids handled by the core (the design
// table). Names follow the TDS specification's own vocabulary.
const (
	TypeTinyInt    TypeID = 0x30
	TypeBit        TypeID = 0x32
	TypeSmallInt   TypeID = 0x34
	TypeInt        TypeID = 0x38
	TypeBigInt     TypeID = 0x7F
	TypeIntN       TypeID = 0x26
	TypeBitN       TypeID = 0x68
	TypeReal       TypeID = 0x3B
	TypeFloat      TypeID = 0x3E
	TypeFloatN     TypeID = 0x6D
	TypeDecimal    TypeID = 0x6A
	TypeNumeric    TypeID = 0x6C
	TypeMoney      TypeID = 0x3C
	TypeSmallMoney TypeID = 0x7A
	TypeMoneyN     TypeID = 0x6E
	TypeVarChar    TypeID = 0xA7
	TypeNVarChar   TypeID = 0xE7
	TypeChar       TypeID = 0xAF
	TypeNChar      TypeID = 0xEF
	TypeVarBinary  TypeID = 0xA5
	TypeBinary     TypeID = 0xAD
	TypeBigVarChar TypeID = 0xA7 // MAX-length carries the same id, disambiguated by the length sentinel
	TypeDate       TypeID = 0x28
	TypeTime       TypeID = 0x29
	TypeDateTime   TypeID = 0x3D
	TypeSmallDT    TypeID = 0x3A
	TypeDateTime2  TypeID = 0x2A
	TypeDateTimeO  TypeID = 0x2B
	TypeDateTimeN  TypeID = 0x6F
	TypeGUID       TypeID = 0x24
)

// plpMaxLen is the wire sentinel meaning "this column is a MAX-length (PLP)
// type"; it appears in the 2-byte max-length field of VARCHAR(MAX) etc.
const plpMaxLen = 0xFFFF

// PLP null/unknown-length sentinels (MS-TDS 2.2.5.2.3).
const (
	plpNullLen      uint64 = 0xFFFFFFFFFFFFFFFF
	plpUnknownLen   uint64 = 0xFFFFFFFFFFFFFFFE
	plpChunkEndMark uint32 = 0x00000000
)

// HostKind is the mapped host-engine scalar kind a TDS type decodes into.
type HostKind int

const (
	HostUnknown HostKind = iota
	HostUint8
	HostBool
	HostInt16
	HostInt32
	HostInt64
	HostFloat32
	HostFloat64
	HostDecimal
	HostString
	HostBytes
	HostDate
	HostTime
	HostTimestamp
	HostTimestampOffset
	HostUUID
)

func (k HostKind) String() string {
	switch k {
	case HostUint8:
		return "uint8"
	case HostBool:
		return "bool"
	case HostInt16:
		return "int16"
	case HostInt32:
		return "int32"
	case HostInt64:
		return "int64"
	case HostFloat32:
		return "float32"
	case HostFloat64:
		return "float64"
	case HostDecimal:
		return "decimal"
	case HostString:
		return "string"
	case HostBytes:
		return "bytes"
	case HostDate:
		return "date"
	case HostTime:
		return "time"
	case HostTimestamp:
		return "timestamp"
	case HostTimestampOffset:
		return "timestamp_offset"
	case HostUUID:
		return "uuid"
	default:
		return "unknown"
	}
}

// TypeInfo is the per-column wire type metadata decoded from COLMETADATA,
// sufficient to decode every ROW/NBCROW value for that column.
type TypeInfo struct {
	ID         TypeID
	Kind       HostKind
	MaxLength  int  // byte length for fixed/var types; -1 for PLP (MAX) types
	Precision  byte // DECIMAL/NUMERIC
	Scale      byte // DECIMAL/NUMERIC/TIME/DATETIME2/DATETIMEOFFSET
	Collation  [5]byte
	IsPLP      bool
	IsNullable bool // carries a length prefix / null bitmap slot
}

// ColumnFlags mirrors the 2-byte COLMETADATA flags field.
type ColumnFlags uint16

const (
	ColFlagNullable ColumnFlags = 0x0001
	ColFlagIdentity ColumnFlags = 0x0010
	ColFlagComputed ColumnFlags = 0x0020
)

// Column describes one COLMETADATA entry plus the collation-derived string
// traits the design requires on the column descriptor.
type Column struct {
	Name            string
	Ordinal         int
	SQLTypeName     string
	Type            TypeInfo
	Flags           ColumnFlags
	IsNullable      bool
	IsIdentity      bool
	IsComputed      bool
	Collation       [5]byte
	IsCaseSensitive bool
	IsUnicode       bool
	IsUTF8          bool
}

// deriveCollationTraits fills in IsCaseSensitive/IsUnicode/IsUTF8 from a raw
// 5-byte collation: case sensitivity comes from the absence of
// "_CS_"/"_BIN" suppression bits (approximated here via the collation's sort-id
// and flag byte, following the SQL Server collation wire layout), and UTF-8
// from a dedicated flag bit SQL Server added for `_UTF8` collations.
func deriveCollationTraits(col *Column, isUnicodeType bool) {
	col.Collation = col.Type.Collation
	col.IsUnicode = isUnicodeType

	if col.Collation == ([5]byte{}) {
		col.IsCaseSensitive = false
		return
	}
	info := col.Collation[2]
	// Bits 20-23 of the collation info (byte index 2, low nibble here) encode
	// case/accent/kana/width sensitivity flags in SQL Server's wire format;
	// bit 0x01 is the case-sensitive flag.
	col.IsCaseSensitive = info&0x01 != 0
	// The high bit of the 5th byte (sort id byte) is repurposed by SQL Server
	// 2019+ to flag UTF-8 collations (`_UTF8` suffix) when sortID == 0.
	col.IsUTF8 = col.Collation[4]&0x80 != 0 && col.Collation[3] == 0
}

// SQLTypeName returns a human-readable type name used in error messages and
// diagnostic output; it does not attempt full fidelity with sys.types.
func (id TypeID) SQLTypeName() string {
	switch id {
	case TypeTinyInt:
		return "tinyint"
	case TypeBit, TypeBitN:
		return "bit"
	case TypeSmallInt:
		return "smallint"
	case TypeInt:
		return "int"
	case TypeBigInt:
		return "bigint"
	case TypeIntN:
		return "int"
	case TypeReal:
		return "real"
	case TypeFloat, TypeFloatN:
		return "float"
	case TypeDecimal:
		return "decimal"
	case TypeNumeric:
		return "numeric"
	case TypeMoney, TypeMoneyN:
		return "money"
	case TypeSmallMoney:
		return "smallmoney"
	case TypeVarChar:
		return "varchar"
	case TypeNVarChar:
		return "nvarchar"
	case TypeChar:
		return "char"
	case TypeNChar:
		return "nchar"
	case TypeVarBinary:
		return "varbinary"
	case TypeBinary:
		return "binary"
	case TypeDate:
		return "date"
	case TypeTime:
		return "time"
	case TypeDateTime, TypeDateTimeN:
		return "datetime"
	case TypeSmallDT:
		return "smalldatetime"
	case TypeDateTime2:
		return "datetime2"
	case TypeDateTimeO:
		return "datetimeoffset"
	case TypeGUID:
		return "uniqueidentifier"
	default:
		return fmt.Sprintf("unknown(0x%02X)", byte(id))
	}
}

// mapHostKind implements the TDS-type-id → host-type table.
// unsupported returns HostUnknown, which callers turn into UnsupportedTypeError.
func mapHostKind(id TypeID, length int) HostKind {
	switch id {
	case TypeTinyInt:
		return HostUint8
	case TypeBit, TypeBitN:
		return HostBool
	case TypeSmallInt:
		return HostInt16
	case TypeInt:
		return HostInt32
	case TypeBigInt:
		return HostInt64
	case TypeIntN:
		switch length {
		case 1:
			return HostUint8
		case 2:
			return HostInt16
		case 4:
			return HostInt32
		case 8:
			return HostInt64
		default:
			return HostUnknown
		}
	case TypeReal:
		return HostFloat32
	case TypeFloat:
		return HostFloat64
	case TypeFloatN:
		switch length {
		case 4:
			return HostFloat32
		case 8:
			return HostFloat64
		default:
			return HostUnknown
		}
	case TypeDecimal, TypeNumeric:
		return HostDecimal
	case TypeMoney, TypeSmallMoney, TypeMoneyN:
		return HostDecimal
	case TypeVarChar, TypeNVarChar, TypeChar, TypeNChar:
		return HostString
	case TypeVarBinary, TypeBinary:
		return HostBytes
	case TypeDate:
		return HostDate
	case TypeTime:
		return HostTime
	case TypeDateTime, TypeSmallDT, TypeDateTime2, TypeDateTimeN:
		return HostTimestamp
	case TypeDateTimeO:
		return HostTimestampOffset
	case TypeGUID:
		return HostUUID
	default:
		return HostUnknown
	}
}
