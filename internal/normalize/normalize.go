// Package normalize converts noisy extracted strings into canonical per-type values.
// Every function here is total: malformed input degrades to the best-effort
// original value instead of an error.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/form-filler/internal/template"
)

var (
	reNonDigit    = regexp.MustCompile(`\D`)
	reDateSep     = strings.NewReplacer(".", "-", "/", "-")
	devanagariNum = strings.NewReplacer(
		"०", "0", "१", "1", "२", "2", "३", "3", "४", "4",
		"५", "5", "६", "6", "७", "7", "८", "8", "९", "9",
	)
)

const phoneCountryCode = "977"

// Digits translates Devanagari digits to ASCII.
func Digits(s string) string {
	return devanagariNum.Replace(s)
}

// Value normalizes raw according to the field's type, falling back to the
// validation-type override. Empty or whitespace-only input yields "".
func Value(f template.Field, raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	v := Digits(raw)
	ftype := strings.ToLower(string(f.Type))
	vtype := strings.ToLower(f.Validate.Type)

	switch {
	case strings.Contains(ftype, "email") || vtype == "email":
		return Email(v)
	case strings.Contains(ftype, "phone") || vtype == "phone":
		return Phone(v)
	case ftype == string(template.TypeDate) || ftype == string(template.TypeTextDate) || vtype == "date":
		return Date(v)
	case ftype == string(template.TypeNumber) || ftype == string(template.TypeBoxGrid) || vtype == "number":
		return Number(v)
	}
	return Text(v)
}

// Date re-emits D-M-Y or Y-M-D input as YYYY-MM-DD. Anything that is not
// exactly three numeric parts comes back trimmed.
func Date(s string) string {
	clean := strings.Join(strings.Fields(reDateSep.Replace(Digits(s))), "")
	parts := strings.Split(clean, "-")
	if len(parts) != 3 {
		return strings.TrimSpace(s)
	}
	day, month, year := parts[0], parts[1], parts[2]
	if len(parts[0]) == 4 {
		year, month, day = parts[0], parts[1], parts[2]
	}
	y, okY := atoi(year)
	m, okM := atoi(month)
	d, okD := atoi(day)
	if !okY || !okM || !okD {
		return strings.TrimSpace(s)
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

func atoi(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// Phone returns a 10-digit mobile number (9 then 7 or 8), or s unchanged.
func Phone(s string) string {
	digits := reNonDigit.ReplaceAllString(Digits(s), "")
	if strings.HasPrefix(digits, phoneCountryCode) && len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	if len(digits) == 10 && digits[0] == '9' && (digits[1] == '7' || digits[1] == '8') {
		return digits
	}
	return s
}

// Email lowercases and trims a plausible address; anything else is returned unchanged.
func Email(s string) string {
	v := strings.ToLower(strings.TrimSpace(s))
	if !strings.Contains(v, "@") || !strings.Contains(v, ".") {
		return s
	}
	parts := strings.Split(v, "@")
	local, domain := parts[0], parts[1]
	if local == "" || len(domain) <= 2 || !strings.Contains(domain, ".") {
		return s
	}
	return v
}

// Number strips spaces after digit translation.
func Number(s string) string {
	return strings.ReplaceAll(Digits(s), " ", "")
}

// Text collapses whitespace runs to a single space and trims.
func Text(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
