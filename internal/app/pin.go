package app

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const maxPINAttempts = 20

var pinRange = big.NewInt(9000)

// GeneratePIN returns a random four-digit PIN between 1000 and 9999.
func GeneratePIN() (string, error) {
	n, err := rand.Int(rand.Reader, pinRange)
	if err != nil {
		return "", fmt.Errorf("generate pin: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()+1000), nil
}

// ValidPIN reports whether pin is exactly four ASCII digits.
func ValidPIN(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}
