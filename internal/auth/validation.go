package auth

import (
	"net/mail"
	"strings"
	"unicode"
)

// Input limits for local registration.
const (
	MinPasswordLength = 8
	// MaxPasswordLength is in bytes; bcrypt rejects longer input.
	MaxPasswordLength = 72
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MaxEmailLength    = 254
)

// NormalizeEmail trims and lower-cases an email address for lookup and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks the shape of an already normalized address.
func ValidateEmail(email string) error {
	if email == "" {
		return NewValidationError("email", "is required")
	}
	if len(email) > MaxEmailLength {
		return NewValidationError("email", "is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return NewValidationError("email", "is not a valid address")
	}
	return nil
}

// ValidatePassword enforces length and requires at least one letter and one digit.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return NewValidationError("password", "must be at least 8 characters")
	}
	if len(password) > MaxPasswordLength {
		return NewValidationError("password", "must be at most 72 bytes")
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return NewValidationError("password", "must contain a letter and a digit")
	}
	return nil
}

// ValidateUsername allows letters, digits, underscore and hyphen.
func ValidateUsername(username string) error {
	if len(username) < MinUsernameLength || len(username) > MaxUsernameLength {
		return NewValidationError("username", "must be between 3 and 30 characters")
	}
	for _, r := range username {
		if !isUsernameRune(r) {
			return NewValidationError("username", "may only contain letters, digits, '_' and '-'")
		}
	}
	return nil
}

// SanitizeUsername derives a username candidate from free text such as a display
// name or an email local part. The result may still need a uniqueness suffix.
func SanitizeUsername(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case isUsernameRune(r) && r < unicode.MaxASCII:
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "_-")
	if len(name) > MaxUsernameLength-4 {
		name = name[:MaxUsernameLength-4]
	}
	for len(name) < MinUsernameLength {
		name += "_"
	}
	return name
}

func isUsernameRune(r rune) bool {
	return r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
