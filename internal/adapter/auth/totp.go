package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/port"
)

// TOTP implements port.OTPVerifier and port.OTPEnroller with RFC 6238
// codes: 30 second period, 6 digits, SHA1.
type TOTP struct {
	issuer string
	skew   uint
}

// NewTOTP creates a verifier accepting codes up to skew periods away from
// the current one.
func NewTOTP(issuer string, skew uint) *TOTP {
	return &TOTP{issuer: issuer, skew: skew}
}

func (t *TOTP) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    30,
		Skew:      t.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Validate reports whether code is valid for secret at the given instant.
func (t *TOTP) Validate(code, secret string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if code == "" || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at, t.opts())
	return err == nil && ok
}

// Code returns the code for secret at the given instant.
func (t *TOTP) Code(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, t.opts())
}

// Enroll generates a new secret for accountName.
func (t *TOTP) Enroll(accountName string) (*port.OTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: accountName,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	return &port.OTPEnrollment{Secret: key.Secret(), URL: key.URL()}, nil
}
