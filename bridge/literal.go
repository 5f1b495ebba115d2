package bridge

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hugr-lab/mssql-extension/dberr"
	"github.com/hugr-lab/mssql-extension/tds"
)

// EncodeLiteral renders a host-bound value as a T-SQL literal suitable for
// an INSERT/UPDATE VALUES list or a join predicate, following the design
// §4.7's DML literal rules. kind disambiguates the small set of Go types
// (time.Time in particular) that map to more than one TDS wire type.
func EncodeLiteral(v any, kind tds.HostKind) (string, error) {
	if v == nil {
		return "NULL", nil
	}

	switch val := v.(type) {
	case bool:
		if val {
			return "1", nil
		}
		return "0", nil

	case uint8:
		return strconv.FormatUint(uint64(val), 10), nil
	case int16:
		return strconv.FormatInt(int64(val), 10), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case int:
		return strconv.Itoa(val), nil

	case float32:
		if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
			return "", dberr.NewUnsupportedTypeError("real", "NaN/Infinity is not representable as a T-SQL literal")
		}
		return strconv.FormatFloat(float64(val), 'g', 9, 32), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return "", dberr.NewUnsupportedTypeError("float", "NaN/Infinity is not representable as a T-SQL literal")
		}
		return strconv.FormatFloat(val, 'g', 17, 64), nil

	case tds.Decimal:
		return val.String(), nil

	case string:
		return quoteStringLiteral(val), nil

	case []byte:
		return "0x" + fmt.Sprintf("%x", val), nil

	case uuid.UUID:
		return "'" + val.String() + "'", nil

	case time.Time:
		return encodeTimeLiteral(val, kind)

	case tds.TimestampOffset:
		local := val.Local()
		sign := "+"
		offset := val.OffsetMinutes
		if offset < 0 {
			sign = "-"
			offset = -offset
		}
		s := fmt.Sprintf("%s%s%02d:%02d", local.Format("2006-01-02T15:04:05.9999999"), sign, offset/60, offset%60)
		return "CAST('" + s + "' AS DATETIMEOFFSET(7))", nil

	default:
		return "", dberr.NewUnsupportedTypeError(fmt.Sprintf("%T", v), "")
	}
}

func encodeTimeLiteral(v time.Time, kind tds.HostKind) (string, error) {
	switch kind {
	case tds.HostDate:
		return "CAST('" + v.Format("2006-01-02") + "' AS DATE)", nil
	case tds.HostTime:
		return "CAST('" + v.Format("15:04:05.9999999") + "' AS TIME(7))", nil
	case tds.HostTimestamp, tds.HostUnknown:
		return "CAST('" + v.Format("2006-01-02T15:04:05.9999999") + "' AS DATETIME2(7))", nil
	default:
		return "", dberr.NewUnsupportedTypeError(kind.String(), "time.Time does not map to this column kind")
	}
}

// quoteStringLiteral doubles embedded single quotes and wraps the result in
// N'...' so the literal round-trips through NVARCHAR columns without
// codepage loss.
func quoteStringLiteral(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}
