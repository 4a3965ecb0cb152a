package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateHandle(t *testing.T) {
	tests := []struct {
		name    string
		handle  string
		wantErr bool
	}{
		{"typical", "Alice", false},
		{"underscore and digits", "Bob_42", false},
		{"minimum length", "ab", false},
		{"maximum length", "abcdefgh12345678", false},
		{"empty", "", true},
		{"too short", "a", true},
		{"too long", "abcdefgh123456789", true},
		{"space", "bad name", true},
		{"punctuation", "name!", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHandle(tt.handle)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCooldownRemaining(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cd := &Cooldown{
		Handle:    "Alice",
		Command:   "heal",
		LastUsed:  base,
		ExpiresAt: base.Add(5 * time.Minute),
	}

	assert.Equal(t, 5*time.Minute, cd.Remaining(base))
	assert.Equal(t, time.Minute, cd.Remaining(base.Add(4*time.Minute)))
	assert.Equal(t, time.Duration(0), cd.Remaining(base.Add(5*time.Minute)))
	assert.Equal(t, time.Duration(0), cd.Remaining(base.Add(time.Hour)))

	var nilCd *Cooldown
	assert.Equal(t, time.Duration(0), nilCd.Remaining(base))
}
