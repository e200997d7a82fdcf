package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{"ada@example.com", true},
		{"a.b+tag@sub.example.org", true},
		{"", false},
		{"plainaddress", false},
		{"ada@localhost", false},
		{"Ada <ada@example.com>", false},
		{strings.Repeat("a", 250) + "@example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, IsValidation(err), "got %v", err)
			}
		})
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		valid    bool
	}{
		{"ok", "hunter22x", true},
		{"too short", "ab1", false},
		{"no digit", "abcdefghij", false},
		{"no letter", "1234567890", false},
		{"max length", strings.Repeat("a1", 36), true},
		{"over bcrypt limit", strings.Repeat("a1", 36) + "b", false},
		{"too long", strings.Repeat("a1", 65), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateUsername(t *testing.T) {
	assert.NoError(t, ValidateUsername("ada_l-1"))
	assert.Error(t, ValidateUsername("ab"))
	assert.Error(t, ValidateUsername("has space"))
	assert.Error(t, ValidateUsername(strings.Repeat("x", 31)))
}

func TestSanitizeUsername(t *testing.T) {
	assert.Equal(t, "ada_lovelace", SanitizeUsername("Ada Lovelace"))
	assert.Equal(t, "first_last", SanitizeUsername("first.last"))
	assert.Equal(t, "jo_", SanitizeUsername("Jo"))
	assert.Equal(t, "___", SanitizeUsername("!!"))
	assert.Len(t, SanitizeUsername(strings.Repeat("long", 20)), MaxUsernameLength-4)
	assert.NoError(t, ValidateUsername(SanitizeUsername("Zoë Ça")))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "ada@example.com", NormalizeEmail("  Ada@Example.COM "))
}
