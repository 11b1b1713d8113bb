package qrtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Token format is "<studentID>.<hex signature>". Signatures are
// HMAC-SHA256 over the student ID, so the same student always gets the
// same token and a printed QR card stays valid for the life of the key.
// There is deliberately no expiry or replay tracking.

var (
	// ErrMalformedToken means the token does not have the expected shape.
	ErrMalformedToken = errors.New("qrtoken: malformed token")
	// ErrSignatureMismatch means the shape is fine but the MAC does not check out.
	ErrSignatureMismatch = errors.New("qrtoken: signature mismatch")
)

// Codec signs and verifies student identity tokens.
type Codec struct {
	key []byte
}

// New creates a codec. An empty key is a fatal configuration error.
func New(key []byte) (*Codec, error) {
	if len(key) == 0 {
		return nil, errors.New("qrtoken: signing key required")
	}
	return &Codec{key: key}, nil
}

// Generate returns the signed token for a student ID.
func (c *Codec) Generate(studentID string) (string, error) {
	if studentID == "" {
		return "", fmt.Errorf("%w: empty student id", ErrMalformedToken)
	}
	if strings.Contains(studentID, ".") {
		return "", fmt.Errorf("%w: student id contains separator", ErrMalformedToken)
	}
	return studentID + "." + c.sign(studentID), nil
}

// Verify checks a scanned token and returns the embedded student ID.
// Structural problems report ErrMalformedToken; a well-formed token whose
// signature does not match reports ErrSignatureMismatch. Splits on the
// first separator: student IDs must not contain dots.
func (c *Codec) Verify(token string) (string, error) {
	studentID, sig, found := strings.Cut(token, ".")
	if !found {
		return "", fmt.Errorf("%w: missing separator", ErrMalformedToken)
	}
	if studentID == "" {
		return "", fmt.Errorf("%w: empty student id", ErrMalformedToken)
	}
	if len(sig) != sha256.Size*2 {
		return "", fmt.Errorf("%w: bad signature length", ErrMalformedToken)
	}
	if _, err := hex.DecodeString(sig); err != nil {
		return "", fmt.Errorf("%w: signature not hex", ErrMalformedToken)
	}
	if !hmac.Equal([]byte(sig), []byte(c.sign(studentID))) {
		return "", ErrSignatureMismatch
	}
	return studentID, nil
}

func (c *Codec) sign(studentID string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(studentID))
	return hex.EncodeToString(mac.Sum(nil))
}
