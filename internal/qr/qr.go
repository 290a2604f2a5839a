package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"ms-tourbooking/internal/models"

	"github.com/skip2/go-qrcode"
)

const defaultSize = 256

var ErrInvalidPayload = errors.New("invalid qr payload")

// Payload is what a guide scans at check-in.
type Payload struct {
	BookingID      string `json:"booking_id"`
	BookingNumber  string `json:"booking_number"`
	TourName       string `json:"tour_name"`
	TourDate       string `json:"tour_date"`
	NumberOfPeople int    `json:"number_of_people"`
}

func PayloadFor(b *models.TourBooking) Payload {
	return Payload{
		BookingID:      b.ID,
		BookingNumber:  b.BookingNumber,
		TourName:       b.TourName,
		TourDate:       b.TourDate,
		NumberOfPeople: b.NumberOfPeople,
	}
}

type QRGenerator struct {
	aead cipher.AEAD
	size int
}

func NewQRGenerator(secret string, size int) (*QRGenerator, error) {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	block, err := aes.NewCipher(hashed[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = defaultSize
	}
	return &QRGenerator{aead: aead, size: size}, nil
}

// GenerateBookingQR renders a PNG whose content is the sealed booking payload.
func (q *QRGenerator) GenerateBookingQR(b *models.TourBooking) ([]byte, error) {
	sealed, err := q.Seal(PayloadFor(b))
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(sealed, qrcode.Medium, q.size)
}

// Seal encrypts the payload into a URL-safe string.
func (q *QRGenerator) Seal(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, q.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := q.aead.Seal(nonce, nonce, data, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal, rejecting anything not sealed with this secret.
func (q *QRGenerator) Open(content string) (Payload, error) {
	raw, err := base64.URLEncoding.DecodeString(content)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	n := q.aead.NonceSize()
	if len(raw) < n {
		return Payload{}, ErrInvalidPayload
	}
	data, err := q.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}
