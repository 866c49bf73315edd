package validation

import (
	"html"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// IsValidEmail reports whether the string looks like an email address.
func IsValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// IsValidURL reports whether the string is an absolute http or https URL.
func IsValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

var phoneStrip = regexp.MustCompile(`[\s().\-]`)
var phoneRegex = regexp.MustCompile(`^\+?\d{10,15}$`)

// IsValidPhone reports whether the string is a plausible phone number after
// stripping common formatting characters.
func IsValidPhone(phone string) bool {
	return phoneRegex.MatchString(phoneStrip.ReplaceAllString(phone, ""))
}

var digitsOnly = regexp.MustCompile(`\D`)

func allSameDigit(digits string) bool {
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			return false
		}
	}
	return true
}

func mod11Digit(digits string, weights []int) int {
	var sum int
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}

// IsValidCPF validates a Brazilian CPF, with or without formatting. Numbers
// made of one repeated digit pass the checksum but are not real CPFs and are
// rejected.
func IsValidCPF(cpf string) bool {
	digits := digitsOnly.ReplaceAllString(cpf, "")
	if len(digits) != 11 || allSameDigit(digits) {
		return false
	}
	d1 := mod11Digit(digits, []int{10, 9, 8, 7, 6, 5, 4, 3, 2})
	d2 := mod11Digit(digits, []int{11, 10, 9, 8, 7, 6, 5, 4, 3, 2})
	return int(digits[9]-'0') == d1 && int(digits[10]-'0') == d2
}

// IsValidCNPJ validates a Brazilian CNPJ, with or without formatting.
func IsValidCNPJ(cnpj string) bool {
	digits := digitsOnly.ReplaceAllString(cnpj, "")
	if len(digits) != 14 || allSameDigit(digits) {
		return false
	}
	d1 := mod11Digit(digits, []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2})
	d2 := mod11Digit(digits, []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2})
	return int(digits[12]-'0') == d1 && int(digits[13]-'0') == d2
}

// IsValidCreditCard validates a card number with the Luhn checksum.
func IsValidCreditCard(number string) bool {
	digits := digitsOnly.ReplaceAllString(number, "")
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	var sum int
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
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

// PasswordStrength is the outcome of a password check: which of the five
// criteria were met and whether all of them were.
type PasswordStrength struct {
	Score   int      `json:"score"`
	Strong  bool     `json:"strong"`
	Missing []string `json:"missing,omitempty"`
}

// CheckPasswordStrength scores a password against length and character class
// criteria.
func CheckPasswordStrength(password string) PasswordStrength {
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}
	var res PasswordStrength
	check := func(ok bool, name string) {
		if ok {
			res.Score++
		} else {
			res.Missing = append(res.Missing, name)
		}
	}
	check(len(password) >= 8, "at least 8 characters")
	check(hasUpper, "an uppercase letter")
	check(hasLower, "a lowercase letter")
	check(hasDigit, "a digit")
	check(hasSpecial, "a special character")
	res.Strong = res.Score == 5
	return res
}

// maximum plausible age for a birth date
const maxAgeYears = 130

// IsValidBirthDate reports whether the string is a past date within a
// plausible human lifetime.
func IsValidBirthDate(value string) bool {
	ts, ok := ParseDate(value)
	if !ok {
		return false
	}
	now := time.Now()
	return ts.Before(now) && ts.After(now.AddDate(-maxAgeYears, 0, 0))
}

// IsFutureDate reports whether the string parses to a date after now.
func IsFutureDate(value string) bool {
	ts, ok := ParseDate(value)
	if !ok {
		return false
	}
	return ts.After(time.Now())
}

// SanitizeString trims surrounding whitespace and escapes HTML metacharacters
// so stored values are safe to echo into markup.
func SanitizeString(value string) string {
	return html.EscapeString(strings.TrimSpace(value))
}
