package utils

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password accepted at registration and
// password reset.
const MinPasswordLength = 8

// HashPassword returns bcrypt hash using the given cost.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares bcrypt hash and plain password.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// CheckPasswordStrength applies the account password rules: a minimum
// length, not entirely numeric, and not equal to the username.
func CheckPasswordStrength(password, username string) error {
	if len(password) < MinPasswordLength {
		return errors.New("This password is too short. It must contain at least 8 characters.")
	}
	if strings.IndexFunc(password, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		return errors.New("This password is entirely numeric.")
	}
	if username != "" && strings.EqualFold(password, username) {
		return errors.New("The password is too similar to the username.")
	}
	return nil
}
