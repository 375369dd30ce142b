package port

import "time"

// PasswordHasher hashes and verifies operator passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)

	// Verify reports whether password matches hash. It must take roughly
	// the same time for a malformed hash as for a wrong password.
	Verify(hash, password string) bool
}

// OTPVerifier validates time-based one-time codes.
type OTPVerifier interface {
	// Validate reports whether code is valid for secret at the given instant,
	// allowing the configured clock skew.
	Validate(code, secret string, at time.Time) bool
}

// OTPEnrollment is a freshly generated one-time-code secret.
type OTPEnrollment struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauth_url"`
}

// OTPEnroller generates one-time-code secrets for new operators.
type OTPEnroller interface {
	Enroll(accountName string) (*OTPEnrollment, error)
}
