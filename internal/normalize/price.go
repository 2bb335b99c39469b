package normalize

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/catalog-engine/internal/model"
)

// currencyCodes are recognized when spelled out next to an amount.
var currencyCodes = []string{"MXN", "USD", "EUR", "MN"}

// ParsePrice coerces a raw price string into fixed-point minor units plus a
// currency code when one is spelled out. Handles "$1,299.00", "MXN 899.5",
// "1.299,00" and bare numbers. Amounts never travel as floats: the integer
// and fraction parts are parsed separately.
func ParsePrice(raw string) (model.FixedPoint, string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, "", eris.New("normalize: empty price")
	}

	currency := ""
	// Dots removed so "m.n." (moneda nacional) on Mexican lists matches.
	upper := strings.ToUpper(strings.ReplaceAll(s, ".", ""))
	for _, code := range currencyCodes {
		if strings.Contains(upper, code) {
			currency = code
			break
		}
	}
	if currency == "MN" {
		currency = "MXN" // "m.n." (moneda nacional) on Mexican price lists
	}

	// Strip everything but digits and separators.
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	num := strings.Trim(b.String(), ".,")
	if num == "" {
		return 0, "", eris.Errorf("normalize: no amount in price %q", raw)
	}

	intPart, fracPart := splitAmount(num)
	intPart = strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, intPart)

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, "", eris.Wrapf(err, "normalize: parse price %q", raw)
	}

	cents := int64(0)
	if fracPart != "" {
		if len(fracPart) > 2 {
			fracPart = fracPart[:2]
		}
		for len(fracPart) < 2 {
			fracPart += "0"
		}
		cents, err = strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return 0, "", eris.Wrapf(err, "normalize: parse price %q", raw)
		}
	}

	return model.FixedPoint(whole*100 + cents), currency, nil
}

// splitAmount separates the integer and fractional parts of a numeric
// string, handling both "1,299.00" and "1.299,00" separator styles.
func splitAmount(num string) (string, string) {
	lastDot := strings.LastIndexByte(num, '.')
	lastComma := strings.LastIndexByte(num, ',')

	sep := lastDot
	if lastComma > lastDot {
		sep = lastComma
	}
	if sep < 0 {
		return num, ""
	}

	frac := num[sep+1:]
	// Three digits after the last separator is a thousands group, not a
	// decimal: prices carry at most two decimal places.
	if len(frac) == 3 {
		return num, ""
	}
	return num[:sep], frac
}

// ParseStock coerces a raw stock value into an integer count.
func ParseStock(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, eris.New("normalize: empty stock")
	}
	var digits strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		// Availability words count as in-stock-unknown-quantity.
		lower := strings.ToLower(s)
		for _, w := range []string{"disponible", "in stock", "available", "sí", "si", "yes"} {
			if strings.Contains(lower, w) {
				return 1, nil
			}
		}
		return 0, eris.Errorf("normalize: unparseable stock %q", raw)
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0, eris.Wrapf(err, "normalize: parse stock %q", raw)
	}
	return n, nil
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName produces the comparison form of a product name: accents
// stripped, lowercased, punctuation removed, whitespace collapsed.
func NormalizeName(name string) string {
	stripped, _, err := transform.String(stripMarks, name)
	if err != nil {
		stripped = name
	}

	var b strings.Builder
	for _, r := range strings.ToLower(stripped) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '/':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
