package quant

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// PriceCents represents a price in integer cents (minor currency unit).
// E.g., $12.34 = 1234 PriceCents.
type PriceCents int64

// Qty represents an order quantity in whole shares. Always positive;
// direction is carried by the order, not the sign.
type Qty int64

// TimeStamp represents virtual simulation time in Unix Microseconds.
// It is advanced only by the kernel, never by the wall clock.
type TimeStamp int64

const (
	// CentsScale converts dollars to cents.
	CentsScale = 100

	// MarketSentinel is the extreme limit price conventionally used to
	// represent "acts like a market order". It only affects formatting;
	// an order carrying it still rests and matches as a priced limit order.
	MarketSentinel PriceCents = math.MaxInt64
)

// ToPriceCents converts a float64 dollar amount (from an external series)
// to PriceCents. Only used at the boundary; internal logic stays in int64.
func ToPriceCents(f float64) PriceCents {
	return PriceCents(math.Round(f * CentsScale))
}

// Dollarize renders a cents price as a dollar string, e.g. 1234 -> "$12.34".
func (p PriceCents) Dollarize() string {
	sign := ""
	v := int64(p)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", sign, v/CentsScale, v%CentsScale)
}

func (p PriceCents) String() string {
	if p == MarketSentinel {
		return "MKT"
	}
	return p.Dollarize()
}

func (q Qty) String() string {
	return strconv.FormatInt(int64(q), 10)
}

// Time converts the virtual timestamp to a time.Time (UTC).
func (t TimeStamp) Time() time.Time {
	return time.UnixMicro(int64(t)).UTC()
}

func (t TimeStamp) String() string {
	return t.Time().Format("2006-01-02 15:04:05.000000")
}

// FromTime converts a wall-clock time to a virtual timestamp.
func FromTime(t time.Time) TimeStamp {
	return TimeStamp(t.UnixMicro())
}

// ParseTimeStamp parses an RFC3339 time string into a TimeStamp.
func ParseTimeStamp(s string) (TimeStamp, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, err
	}
	return FromTime(t), nil
}

// ParsePriceCentsStr converts a numeric dollar string to PriceCents
// without going through float64. E.g. "12.34" -> 1234, "12.3" -> 1230.
func ParsePriceCentsStr(s string) PriceCents {
	return PriceCents(parseFixedPoint(s, 2))
}

// parseFixedPoint parses a numeric string into an int64 with the given
// number of fractional digits. Extra digits are truncated.
func parseFixedPoint(s string, precision int) int64 {
	if s == "" || s == "null" {
		return 0
	}

	intStr, fracStr := s, ""
	if dot := strings.IndexByte(s, '.'); dot != -1 {
		intStr, fracStr = s[:dot], s[dot+1:]
	}

	intPart, _ := strconv.ParseInt(intStr, 10, 64)
	for i := 0; i < precision; i++ {
		intPart *= 10
	}

	if fracStr == "" {
		return intPart
	}
	if len(fracStr) > precision {
		fracStr = fracStr[:precision]
	}
	fracPart, _ := strconv.ParseInt(fracStr, 10, 64)
	for i := len(fracStr); i < precision; i++ {
		fracPart *= 10
	}

	if strings.HasPrefix(intStr, "-") {
		return intPart - fracPart
	}
	return intPart + fracPart
}
