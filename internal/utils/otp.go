package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
)

// OTPLength is the number of digits in an email verification code.
const OTPLength = 6

// NewOTPCode returns a uniformly random numeric code of OTPLength digits,
// zero padded.
func NewOTPCode() (string, error) {
	buf := make([]byte, OTPLength)
	ten := big.NewInt(10)
	for i := range buf {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}

// HashOTP returns the SHA‑256 hex digest stored in place of the code.
func HashOTP(code string) string {
	return sha256Hex(code)
}

// OTPMatches compares a submitted code against a stored hash in constant time.
func OTPMatches(code, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashOTP(code)), []byte(hash)) == 1
}
