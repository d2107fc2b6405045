package utils

import (
	"golang.org/x/crypto/bcrypt"
)

// HashAPIKey hashes a tenant API-key secret using bcrypt.
func HashAPIKey(secret string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckAPIKey compares a plain API-key secret with its stored hash.
func CheckAPIKey(plain, hashed string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
	return err == nil
}
