// Package otp provides phone-number verification via one-time codes.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrCodeInvalid = errors.New("invalid code")
	ErrCodeExpired = errors.New("expired code")
)

// CodeStore is the storage backend for issued codes. One active code per
// phone number; issuing a new code replaces any previous one.
type CodeStore interface {
	SaveOTPCode(ctx context.Context, phone, codeHash string, expiresAt time.Time) error
	LookupOTPCode(ctx context.Context, phone string) (string, time.Time, error)
	DeleteOTPCodes(ctx context.Context, phone string) error
}

// Sender delivers a code to a phone number.
type Sender interface {
	IsConfigured() bool
	SendCode(ctx context.Context, phone, code string) error
}

// Service issues and verifies one-time codes. Codes are stored hashed;
// verification is single-use.
type Service struct {
	codes  CodeStore
	sender Sender
	ttl    time.Duration
}

func NewService(codes CodeStore, sender Sender, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{codes: codes, sender: sender, ttl: ttl}
}

// Issue generates a fresh 6-digit code for the phone number and attempts
// delivery. When no sender is configured the code is returned to the caller
// with delivered=false so the API layer can expose a dev bypass.
func (s *Service) Issue(ctx context.Context, phone string) (code string, delivered bool, err error) {
	code, err = generateCode()
	if err != nil {
		return "", false, fmt.Errorf("generate code: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", false, fmt.Errorf("hash code: %w", err)
	}

	if err := s.codes.SaveOTPCode(ctx, phone, string(hash), time.Now().Add(s.ttl)); err != nil {
		return "", false, fmt.Errorf("save code: %w", err)
	}

	if s.sender != nil && s.sender.IsConfigured() {
		if err := s.sender.SendCode(ctx, phone, code); err != nil {
			return "", false, fmt.Errorf("send code: %w", err)
		}
		return code, true, nil
	}
	return code, false, nil
}

// Verify checks the submitted code and consumes it on success.
func (s *Service) Verify(ctx context.Context, phone, code string) error {
	if phone == "" || code == "" {
		return ErrCodeInvalid
	}

	hash, expiresAt, err := s.codes.LookupOTPCode(ctx, phone)
	if err != nil {
		return ErrCodeInvalid
	}
	if !expiresAt.IsZero() && time.Now().After(expiresAt) {
		return ErrCodeExpired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)); err != nil {
		return ErrCodeInvalid
	}

	if err := s.codes.DeleteOTPCodes(ctx, phone); err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	return nil
}

// generateCode returns a uniformly random 6-digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
