package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// GenerateBookingNumber → BOOK-<unix-ms>-<0..999>
func GenerateBookingNumber(now time.Time) string {
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(1000))
	return fmt.Sprintf("BOOK-%d-%d", now.UnixMilli(), randomNum.Int64())
}

// GenerateOrderNumber → ORD-<unix-ms>-<0..999>
func GenerateOrderNumber(now time.Time) string {
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(1000))
	return fmt.Sprintf("ORD-%d-%d", now.UnixMilli(), randomNum.Int64())
}

// GenerateID returns a new random row id
func GenerateID() string {
	return uuid.NewString()
}
