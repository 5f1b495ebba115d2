package tds

import (
	"math/big"
	"time"
)

// Decimal is an exact fixed-point value decoded from DECIMAL/NUMERIC/MONEY/
// SMALLMONEY wire data: Unscaled * 10^-Scale.
type Decimal struct {
	Unscaled *big.Int
	Scale    byte
}

// String renders the decimal in plain (non-exponential) form.
func (d Decimal) String() string {
	if d.Unscaled == nil {
		return "0"
	}
	s := new(big.Int).Abs(d.Unscaled).String()
	neg := d.Unscaled.Sign() < 0
	scale := int(d.Scale)
	for len(s) <= scale {
		s = "0" + s
	}
	var out string
	if scale == 0 {
		out = s
	} else {
		out = s[:len(s)-scale] + "." + s[len(s)-scale:]
	}
	if neg {
		out = "-" + out
	}
	return out
}

// TimestampOffset pairs a UTC instant with the minutes-offset the server sent
// for DATETIMEOFFSET, since time.Time alone discards the original offset
// sign/magnitude the DML literal encoder must reproduce.
type TimestampOffset struct {
	UTC            time.Time
	OffsetMinutes  int16
}

// Local returns the timestamp rendered in its original offset's local time.
func (t TimestampOffset) Local() time.Time {
	return t.UTC.In(time.FixedZone("", int(t.OffsetMinutes)*60))
}
