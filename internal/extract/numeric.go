package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// tenThousandUnit is the Korean 만 marker (x10,000) used by compact counters.
const tenThousandUnit = "만"

var (
	nonDigit       = regexp.MustCompile(`[^0-9]`)
	decimalPrefix  = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?`)
	negativeNumber = regexp.MustCompile(`^\s*-\s*[0-9]`)
)

// CleanNumeric converts a scraped counter into a non-negative integer.
// Thousands separators are dropped, a 만 suffix multiplies the numeric
// prefix by 10,000 (truncating), and anything unparsable yields 0.
func CleanNumeric(raw string) int64 {
	text := strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if text == "" || negativeNumber.MatchString(text) {
		return 0
	}

	if idx := strings.Index(text, tenThousandUnit); idx >= 0 {
		prefix := decimalPrefix.FindString(text[:idx])
		if prefix == "" {
			return 0
		}
		return scaleTenThousand(prefix)
	}

	digits := nonDigit.ReplaceAllString(text, "")
	if digits == "" {
		return 0
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// scaleTenThousand multiplies a decimal string by 10,000 without going
// through float64, so "2.3" becomes 23000 rather than 22999.
func scaleTenThousand(decimal string) int64 {
	whole, frac, _ := strings.Cut(decimal, ".")
	frac = (frac + "0000")[:4]

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w > (math.MaxInt64-9999)/10000 {
		return 0
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0
	}
	return w*10000 + f
}

// ParseNumeric is CleanNumeric for strategies: it reports NotFound when the
// text carries no digit at all, so a blank label does not count as a zero.
func ParseNumeric(raw string) Result[int64] {
	if !strings.ContainsAny(raw, "0123456789") {
		return NotFound[int64]()
	}
	return Found(CleanNumeric(raw))
}
