// Package credentials generates temporary passwords and their bcrypt digests.
package credentials

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"

	dErrors "concierge/pkg/domain-errors"
)

// Alphabet is the printable character set temporary passwords are drawn from.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()_+~`|}{[]:;?><,./-="

const (
	// DefaultLength is the length of a generated temporary password.
	DefaultLength = 12
	// DefaultCost is the bcrypt cost used when none is configured.
	DefaultCost = 10
)

// Generator draws temporary passwords from an entropy source.
//
// Each byte selects Alphabet[b % len(Alphabet)]. Because len(Alphabet) does not
// divide 256 the first 256 % len(Alphabet) characters are slightly more likely.
// That bias is acceptable for a single-use temporary password and must not be
// relied on for key material.
type Generator struct {
	entropy io.Reader
}

// NewGenerator returns a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy returns a generator reading from r. Tests use it to
// pin the output.
func NewGeneratorWithEntropy(r io.Reader) *Generator {
	return &Generator{entropy: r}
}

// Generate returns a password of length characters.
// A zero length returns "" without reading entropy.
func (g *Generator) Generate(length int) (string, error) {
	if length < 0 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "password length cannot be negative")
	}
	if length == 0 {
		return "", nil
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(g.entropy, buf); err != nil {
		return "", fmt.Errorf("could not read entropy: %w", err)
	}

	out := make([]byte, length)
	for i, b := range buf {
		out[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(out), nil
}

// Hasher produces bcrypt digests at a fixed cost.
type Hasher struct {
	cost int
}

// NewHasher returns a hasher for cost; out-of-range values fall back to DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash returns the bcrypt digest of plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "password cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "password is too long")
		}
		return "", fmt.Errorf("could not hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify checks plaintext against a bcrypt digest.
func Verify(plaintext, digest string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeInvalidInput, "invalid password")
		}
		return fmt.Errorf("could not verify password: %w", err)
	}
	return nil
}
