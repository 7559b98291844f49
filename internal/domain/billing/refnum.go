package billing

import (
	"crypto/rand"
	"fmt"
	"time"
)

// Human-readable reference numbers: CLM-YYYYMMDD-XXXXXX for claims,
// PMT-YYYYMMDD-XXXXXX for payments. The suffix alphabet omits characters
// that are easy to misread over the phone.
const refAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// MaxRefAttempts bounds reference-number regeneration on collision before
// the operation fails with an IntegrityViolationError.
const MaxRefAttempts = 5

func refSuffix() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate reference suffix: %w", err)
	}
	for i := range b {
		b[i] = refAlphabet[int(b[i])%len(refAlphabet)]
	}
	return string(b), nil
}

// NewClaimNumber returns a fresh candidate claim number. Uniqueness is
// enforced by the store; callers regenerate on collision.
func NewClaimNumber(now time.Time) (string, error) {
	s, err := refSuffix()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CLM-%s-%s", now.Format("20060102"), s), nil
}

// NewPaymentNumber returns a fresh candidate payment number.
func NewPaymentNumber(now time.Time) (string, error) {
	s, err := refSuffix()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("PMT-%s-%s", now.Format("20060102"), s), nil
}
