package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// OTPDigits is the length of generated passcodes.
const OTPDigits = 6

// OTPDelivery sends a passcode to the account holder.
type OTPDelivery interface {
	Deliver(ctx context.Context, email, code string) error
}

// OTPIssuer generates passcodes and checks them against stored hashes.
type OTPIssuer struct {
	delivery OTPDelivery
	random   io.Reader
}

// NewOTPIssuer creates an issuer that sends codes through delivery.
func NewOTPIssuer(delivery OTPDelivery) *OTPIssuer {
	return &OTPIssuer{delivery: delivery, random: rand.Reader}
}

// Issue generates a code, delivers it, and returns its bcrypt hash.
func (o *OTPIssuer) Issue(ctx context.Context, email string) (string, error) {
	code, err := o.generate()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash otp code: %w", err)
	}
	if err := o.delivery.Deliver(ctx, email, code); err != nil {
		return "", fmt.Errorf("deliver otp code: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether code matches hash.
func (o *OTPIssuer) Verify(hash, code string) bool {
	if len(code) != OTPDigits {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

func (o *OTPIssuer) generate() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(o.random, limit)
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}
	return fmt.Sprintf("%0*d", OTPDigits, n.Int64()), nil
}

// LogDelivery writes passcodes to a logger. It is meant for development.
type LogDelivery struct {
	Logger *slog.Logger
}

func (d LogDelivery) Deliver(_ context.Context, email, code string) error {
	d.Logger.Info("one-time passcode issued", "email", email, "code", code)
	return nil
}

// WriterDelivery prints passcodes to a writer such as stdout.
type WriterDelivery struct {
	W io.Writer
}

func (d WriterDelivery) Deliver(_ context.Context, email, code string) error {
	_, err := fmt.Fprintf(d.W, "OTP for %s: %s\n", email, code)
	return err
}
