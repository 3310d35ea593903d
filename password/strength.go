package password

import (
	"errors"
	"unicode"
)

const (
	// MinLength is the minimum accepted password length in bytes.
	MinLength = 8
	// MaxLength bounds hashing cost for hostile inputs.
	MaxLength = 128
)

var (
	ErrTooShort      = errors.New("password must be at least 8 characters")
	ErrTooLong       = errors.New("password must be at most 128 characters")
	ErrMissingLetter = errors.New("password must contain a letter")
	ErrMissingDigit  = errors.New("password must contain a digit")
)

// CheckStrength enforces the signup password policy.
func CheckStrength(password string) error {
	if len(password) < MinLength {
		return ErrTooShort
	}
	if len(password) > MaxLength {
		return ErrTooLong
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
	if !letter {
		return ErrMissingLetter
	}
	if !digit {
		return ErrMissingDigit
	}
	return nil
}
