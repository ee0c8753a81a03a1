package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const compactDate = "20060102"

// OptionSymbol is a parsed BASE-YYYYMMDD-STRIKE-C|P contract name.
type OptionSymbol struct {
	Base   string
	Expiry time.Time
	Strike float64
	Call   bool
}

// ParseExpiry accepts "2006-01-02" and "20060102" (UTC midnight).
func ParseExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.DateOnly, compactDate} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid expiry %q", s)
}

// UnderlyingRoot returns the base asset: "BTC/USDT:USDT", "BTC/USDT" and
// "BTC-20241229-40000-C" all map to "BTC".
func UnderlyingRoot(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexAny(s, "/-:"); i >= 0 {
		return s[:i]
	}
	return s
}

// FormatOptionSymbol builds BASE-YYYYMMDD-STRIKE-C|P. The strike keeps its
// fractional part so ParseOptionSymbol gets back the exact contract.
func FormatOptionSymbol(underlying string, expiry time.Time, strike float64, call bool) string {
	kind := "P"
	if call {
		kind = "C"
	}
	return fmt.Sprintf("%s-%s-%s-%s", UnderlyingRoot(underlying), expiry.UTC().Format(compactDate),
		strconv.FormatFloat(strike, 'f', -1, 64), kind)
}

// ParseOptionSymbol is the inverse of FormatOptionSymbol.
func ParseOptionSymbol(symbol string) (OptionSymbol, error) {
	parts := strings.Split(strings.TrimSpace(symbol), "-")
	if len(parts) != 4 {
		return OptionSymbol{}, fmt.Errorf("not an option symbol: %q", symbol)
	}
	expiry, err := time.ParseInLocation(compactDate, parts[1], time.UTC)
	if err != nil {
		return OptionSymbol{}, fmt.Errorf("option %q expiry: %w", symbol, err)
	}
	strike, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || strike <= 0 {
		return OptionSymbol{}, fmt.Errorf("option %q strike: invalid", symbol)
	}
	var call bool
	switch strings.ToUpper(parts[3]) {
	case "C":
		call = true
	case "P":
	default:
		return OptionSymbol{}, fmt.Errorf("option %q type: %s", symbol, parts[3])
	}
	return OptionSymbol{Base: strings.ToUpper(parts[0]), Expiry: expiry, Strike: strike, Call: call}, nil
}

// IsOptionSymbol reports whether symbol parses as an option contract.
func IsOptionSymbol(symbol string) bool {
	_, err := ParseOptionSymbol(symbol)
	return err == nil
}
