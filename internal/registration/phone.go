package registration

import (
	"regexp"
	"strings"
)

var (
	nonPhoneChars = regexp.MustCompile(`[^\d+]`)
	nonDigits     = regexp.MustCompile(`\D`)
	phMobile      = regexp.MustCompile(`^(09\d{9}|639\d{9})$`)
)

// FormatPhone normalises typed input: only digits and '+' are kept, and a
// local 09 prefix is rewritten to +63.
func FormatPhone(input string) string {
	v := nonPhoneChars.ReplaceAllString(input, "")
	if strings.HasPrefix(v, "09") && len(v) > 2 {
		v = "+63" + v[1:]
	}
	return v
}

// ValidPhone reports whether phone is a Philippine mobile number in local
// (09XXXXXXXXX) or international (+639XXXXXXXXX, 639XXXXXXXXX) form.
func ValidPhone(phone string) bool {
	return phMobile.MatchString(nonDigits.ReplaceAllString(phone, ""))
}
