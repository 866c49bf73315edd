package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsValidEmail(t *testing.T) {
	assert.True(t, IsValidEmail("user@example.com"))
	assert.True(t, IsValidEmail("first.last+tag@sub.example.co"))
	assert.False(t, IsValidEmail("user@example"))
	assert.False(t, IsValidEmail("not an email"))
	assert.False(t, IsValidEmail(""))
}

func TestIsValidURL(t *testing.T) {
	assert.True(t, IsValidURL("https://example.com"))
	assert.True(t, IsValidURL("http://example.com/path?q=1"))
	assert.False(t, IsValidURL("ftp://example.com"))
	assert.False(t, IsValidURL("example.com"))
	assert.False(t, IsValidURL("https://"))
}

func TestIsValidPhone(t *testing.T) {
	assert.True(t, IsValidPhone("(11) 98765-4321"))
	assert.True(t, IsValidPhone("+55 11 98765-4321"))
	assert.True(t, IsValidPhone("5511987654321"))
	assert.False(t, IsValidPhone("12345"))
	assert.False(t, IsValidPhone("phone"))
}

func TestIsValidCPF(t *testing.T) {
	assert.True(t, IsValidCPF("529.982.247-25"))
	assert.True(t, IsValidCPF("52998224725"))
	assert.False(t, IsValidCPF("529.982.247-24"))
	assert.False(t, IsValidCPF("111.111.111-11"))
	assert.False(t, IsValidCPF("1234567890"))
}

func TestIsValidCNPJ(t *testing.T) {
	assert.True(t, IsValidCNPJ("11.222.333/0001-81"))
	assert.True(t, IsValidCNPJ("11222333000181"))
	assert.False(t, IsValidCNPJ("11.222.333/0001-80"))
	assert.False(t, IsValidCNPJ("11111111111111"))
	assert.False(t, IsValidCNPJ("123"))
}

func TestIsValidCreditCard(t *testing.T) {
	assert.True(t, IsValidCreditCard("4532015112830366"))
	assert.True(t, IsValidCreditCard("4111 1111 1111 1111"))
	assert.False(t, IsValidCreditCard("4532015112830367"))
	assert.False(t, IsValidCreditCard("1234"))
}

func TestCheckPasswordStrength(t *testing.T) {
	res := CheckPasswordStrength("Str0ng!pass")
	assert.True(t, res.Strong)
	assert.Equal(t, 5, res.Score)
	assert.Empty(t, res.Missing)

	res = CheckPasswordStrength("abc")
	assert.False(t, res.Strong)
	assert.Equal(t, 1, res.Score)
	assert.Len(t, res.Missing, 4)

	res = CheckPasswordStrength("longenoughpassword")
	assert.False(t, res.Strong)
	assert.Contains(t, res.Missing, "an uppercase letter")
}

func TestBirthAndFutureDates(t *testing.T) {
	assert.True(t, IsValidBirthDate("1990-05-10"))
	assert.False(t, IsValidBirthDate("1801-01-01"))
	assert.False(t, IsValidBirthDate("not-a-date"))

	future := time.Now().AddDate(1, 0, 0).Format("2006-01-02")
	past := time.Now().AddDate(-1, 0, 0).Format("2006-01-02")
	assert.False(t, IsValidBirthDate(future))
	assert.True(t, IsFutureDate(future))
	assert.False(t, IsFutureDate(past))
	assert.False(t, IsFutureDate("not-a-date"))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello  "))
	assert.Equal(t, "&lt;b&gt;bold&lt;/b&gt;", SanitizeString("<b>bold</b>"))
	assert.Equal(t, "&#39;quoted&#39;", SanitizeString("'quoted'"))
}
