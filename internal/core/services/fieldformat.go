package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

// maxCouponPercent bounds plausible coupon rates.
const maxCouponPercent = 25.0

var (
	isinPattern     = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{9}[0-9]$`)
	percentPattern  = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:%|per\s?cent)`)
	bareNumber      = regexp.MustCompile(`^\d+(?:[.,]\d+)?$`)
	ordinalSuffix   = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
	yearPattern     = regexp.MustCompile(`^(19|20|21)\d{2}$`)
	tenorPattern    = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)[\s-]*(?:years?|yrs?|y)$`)
	issueSizeFormat = regexp.MustCompile(
		`(?i)^(?:([A-Z]{3}|[€$£¥])\s*)?` +
			`(\d{1,3}(?:[,\s]\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)` +
			`\s*(thousand|million|billion|bn|mn|mln|m|k)?` +
			`(?:\s+([A-Z]{3}))?$`)
	whitespace = regexp.MustCompile(`\s+`)
)

var dateLayouts = []struct {
	layout string
	canon  string
}{
	{"2006-01-02", "2006-01-02"},
	{"2 January 2006", "2006-01-02"},
	{"2 Jan 2006", "2006-01-02"},
	{"January 2, 2006", "2006-01-02"},
	{"Jan 2, 2006", "2006-01-02"},
	{"January 2 2006", "2006-01-02"},
	{"2006-01", "2006-01"},
	{"January 2006", "2006-01"},
	{"Jan 2006", "2006-01"},
}

var currencySymbols = map[string]string{
	"€":          "EUR",
	"$":          "USD",
	"£":          "GBP",
	"¥":          "JPY",
	"EURO":       "EUR",
	"EUROS":      "EUR",
	"US DOLLAR":  "USD",
	"US DOLLARS": "USD",
}

var scaleWords = map[string]string{
	"thousand": "thousand",
	"k":        "thousand",
	"million":  "million",
	"mn":       "million",
	"mln":      "million",
	"m":        "million",
	"billion":  "billion",
	"bn":       "billion",
}

// canonicalValue checks a field value's format and returns its canonical
// form. Free-text fields only need to be non-empty.
func canonicalValue(field domain.FieldName, value string) (string, error) {
	value = strings.TrimSpace(whitespace.ReplaceAllString(value, " "))
	if value == "" {
		return "", fmt.Errorf("empty value")
	}

	switch field {
	case domain.FieldISIN:
		return canonicalISIN(value)
	case domain.FieldCouponRate:
		return canonicalCoupon(value)
	case domain.FieldMaturity:
		return canonicalMaturity(value)
	case domain.FieldIssueSize:
		return canonicalIssueSize(value)
	case domain.FieldCurrency:
		return canonicalCurrency(value)
	default:
		return value, nil
	}
}

// canonicalISIN validates an ISO 6166 identifier including its check digit.
func canonicalISIN(value string) (string, error) {
	isin := strings.ToUpper(strings.ReplaceAll(value, " ", ""))
	if !isinPattern.MatchString(isin) {
		return "", fmt.Errorf("%q is not an ISIN", value)
	}
	if !isinCheckDigitValid(isin) {
		return "", fmt.Errorf("%q fails the ISIN check digit", value)
	}
	return isin, nil
}

// isinCheckDigitValid expands letters to two digits (A=10 .. Z=35) and
// runs the Luhn check over the result.
func isinCheckDigitValid(isin string) bool {
	var digits []int
	for _, r := range isin {
		switch {
		case r >= '0' && r <= '9':
			digits = append(digits, int(r-'0'))
		case r >= 'A' && r <= 'Z':
			n := int(r-'A') + 10
			digits = append(digits, n/10, n%10)
		default:
			return false
		}
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// canonicalCoupon renders a coupon as a trimmed percentage, e.g. "3.875%".
func canonicalCoupon(value string) (string, error) {
	var num string
	if m := percentPattern.FindStringSubmatch(value); m != nil {
		num = m[1]
	} else if bareNumber.MatchString(value) {
		num = value
	} else {
		return "", fmt.Errorf("%q is not a percentage", value)
	}

	rate, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", "."), 64)
	if err != nil {
		return "", fmt.Errorf("%q is not a percentage", value)
	}
	if rate < 0 || rate > maxCouponPercent {
		return "", fmt.Errorf("coupon %s%% is outside 0-%g%%", num, maxCouponPercent)
	}
	return strconv.FormatFloat(rate, 'f', -1, 64) + "%", nil
}

// canonicalMaturity accepts a date, a year or a tenor. Dates become
// YYYY-MM-DD (or YYYY-MM without a day) and tenors "N years".
func canonicalMaturity(value string) (string, error) {
	cleaned := ordinalSuffix.ReplaceAllString(value, "$1")
	for _, l := range dateLayouts {
		if t, err := time.Parse(l.layout, cleaned); err == nil {
			return t.Format(l.canon), nil
		}
	}
	if yearPattern.MatchString(cleaned) {
		return cleaned, nil
	}
	if m := tenorPattern.FindStringSubmatch(cleaned); m != nil {
		if m[1] == "1" {
			return "1 year", nil
		}
		return m[1] + " years", nil
	}
	return "", fmt.Errorf("%q is not a date, year or tenor", value)
}

// canonicalIssueSize accepts an amount with an optional currency and
// scale word, e.g. "EUR 500 million" or "$1.25bn".
func canonicalIssueSize(value string) (string, error) {
	m := issueSizeFormat.FindStringSubmatch(value)
	if m == nil {
		return "", fmt.Errorf("%q is not an amount", value)
	}

	var parts []string
	code := m[1]
	if code == "" {
		code = m[4]
	}
	if code != "" {
		c, err := canonicalCurrency(code)
		if err != nil {
			return "", err
		}
		parts = append(parts, c)
	}
	parts = append(parts, strings.ReplaceAll(m[2], " ", ","))
	if m[3] != "" {
		parts = append(parts, scaleWords[strings.ToLower(m[3])])
	}
	return strings.Join(parts, " "), nil
}

// canonicalCurrency resolves symbols and names and checks the ISO 4217 code.
func canonicalCurrency(value string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(value))
	if mapped, ok := currencySymbols[code]; ok {
		code = mapped
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%q is not an ISO 4217 currency", value)
	}
	return unit.String(), nil
}
