package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/victorgomez09/garagedesk/internal/apierr"
)

// PasswordPolicy is configured under auth.password_policy.
type PasswordPolicy struct {
	MinLength           int  `yaml:"min_length"`
	MaxLength           int  `yaml:"max_length"`
	RequireUppercase    bool `yaml:"require_uppercase"`
	RequireLowercase    bool `yaml:"require_lowercase"`
	RequireNumbers      bool `yaml:"require_numbers"`
	RequireSpecial      bool `yaml:"require_special"`
	MaxRepeatingChars   int  `yaml:"max_repeating_chars"` // 0 disables
	PreventSequential   bool `yaml:"prevent_sequential"`
	PreventUsernamePart bool `yaml:"prevent_username_part"`
}

// DefaultPasswordPolicy matches the back office's historic rule: eight
// characters with upper case, lower case and a digit.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:           8,
		MaxLength:           128,
		RequireUppercase:    true,
		RequireLowercase:    true,
		RequireNumbers:      true,
		MaxRepeatingChars:   4,
		PreventUsernamePart: true,
	}
}

// PolicyViolation is returned when a password breaks a policy rule.
type PolicyViolation struct {
	Rule    string
	Message string
}

func (v *PolicyViolation) Error() string { return v.Message }

func (v *PolicyViolation) Is(target error) bool { return target == apierr.ErrValidation }

var commonPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"12345678":    {},
	"123456789":   {},
	"qwerty123":   {},
	"admin123":    {},
	"letmein1":    {},
	"welcome1":    {},
	"garage123":   {},
}

// ValidatePassword checks password against the policy. username may be empty.
func (p PasswordPolicy) ValidatePassword(password, username string) error {
	n := len([]rune(password))
	if n < p.MinLength {
		return &PolicyViolation{"min_length", fmt.Sprintf("password must be at least %d characters", p.MinLength)}
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return &PolicyViolation{"max_length", fmt.Sprintf("password must be at most %d characters", p.MaxLength)}
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	switch {
	case p.RequireUppercase && !upper:
		return &PolicyViolation{"uppercase", "password must contain an uppercase letter"}
	case p.RequireLowercase && !lower:
		return &PolicyViolation{"lowercase", "password must contain a lowercase letter"}
	case p.RequireNumbers && !digit:
		return &PolicyViolation{"number", "password must contain a number"}
	case p.RequireSpecial && !special:
		return &PolicyViolation{"special", "password must contain a special character"}
	}

	if p.MaxRepeatingChars > 0 && longestRun(password) > p.MaxRepeatingChars {
		return &PolicyViolation{"repeating", "password repeats the same character too many times"}
	}
	if p.PreventSequential && hasSequence(password) {
		return &PolicyViolation{"sequential", "password contains a sequence such as abc or 123"}
	}
	if p.PreventUsernamePart && len(username) >= 3 &&
		strings.Contains(strings.ToLower(password), strings.ToLower(username)) {
		return &PolicyViolation{"username", "password cannot contain the username"}
	}
	if _, ok := commonPasswords[strings.ToLower(password)]; ok {
		return &PolicyViolation{"common", "password is too common"}
	}
	return nil
}

func longestRun(s string) int {
	var longest, run int
	var last rune
	for i, r := range []rune(s) {
		if i > 0 && r == last {
			run++
		} else {
			run = 1
		}
		last = r
		if run > longest {
			longest = run
		}
	}
	return longest
}

// hasSequence finds three consecutive ascending or descending letters or digits.
func hasSequence(s string) bool {
	rs := []rune(strings.ToLower(s))
	for i := 0; i+2 < len(rs); i++ {
		a, b, c := rs[i], rs[i+1], rs[i+2]
		if !sameClass(a, b, c) {
			continue
		}
		if (b == a+1 && c == b+1) || (b == a-1 && c == b-1) {
			return true
		}
	}
	return false
}

func sameClass(rs ...rune) bool {
	letters, digits := 0, 0
	for _, r := range rs {
		switch {
		case r >= 'a' && r <= 'z':
			letters++
		case r >= '0' && r <= '9':
			digits++
		}
	}
	return letters == len(rs) || digits == len(rs)
}
