package deid

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync/atomic"

	"github.com/zeebo/blake3"
)

const (
	// PseudonymPrefix marks a patient pseudonym.
	PseudonymPrefix = "pt_"
	pseudonymLength = 8
	base62Alphabet  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	// Largest multiple of 62 that fits in a byte; bytes at or above it are
	// rejected so every symbol is equally likely.
	rejectAbove = 248
)

var pseudonymPattern = regexp.MustCompile(`^pt_[0-9A-Za-z]{8}$`)

// PseudonymGenerator mints patient pseudonyms. Implementations must be safe
// for concurrent use and must not derive tokens from any identifier.
type PseudonymGenerator interface {
	Generate() (string, error)
}

// IsPseudonym reports whether s has the shape of a generated pseudonym.
func IsPseudonym(s string) bool {
	return pseudonymPattern.MatchString(s)
}

// RandomPseudonyms draws tokens straight from a cryptographic source.
type RandomPseudonyms struct {
	source io.Reader
}

// NewRandomPseudonyms returns a generator backed by crypto/rand.
func NewRandomPseudonyms() *RandomPseudonyms {
	return &RandomPseudonyms{source: rand.Reader}
}

// Generate returns a fresh pseudonym.
func (g *RandomPseudonyms) Generate() (string, error) {
	token := make([]byte, 0, pseudonymLength)
	var scratch [16]byte
	for len(token) < pseudonymLength {
		if _, err := io.ReadFull(g.source, scratch[:]); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		token = appendBase62(token, scratch[:])
	}
	return PseudonymPrefix + string(token), nil
}

// KeyedPseudonyms derives each token from a BLAKE3 keyed hash of a
// process-local sequence number and fresh randomness, under a key derived
// from the deployment salt. Tokens are unique per request; the same patient
// gets a different token every time.
type KeyedPseudonyms struct {
	key    [32]byte
	source io.Reader
	seq    atomic.Uint64
}

// NewKeyedPseudonyms derives the hashing key from salt.
func NewKeyedPseudonyms(salt string) (*KeyedPseudonyms, error) {
	if salt == "" {
		return nil, errors.New("pseudonym salt is required in keyed mode")
	}
	return &KeyedPseudonyms{
		key:    blake3.Sum256([]byte(salt)),
		source: rand.Reader,
	}, nil
}

// Generate returns a fresh pseudonym.
func (g *KeyedPseudonyms) Generate() (string, error) {
	hasher, err := blake3.NewKeyed(g.key[:])
	if err != nil {
		return "", fmt.Errorf("failed to initialize keyed hash: %w", err)
	}

	var input [24]byte
	binary.BigEndian.PutUint64(input[:8], g.seq.Add(1))

	token := make([]byte, 0, pseudonymLength)
	for len(token) < pseudonymLength {
		if _, err := io.ReadFull(g.source, input[8:]); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		hasher.Reset()
		hasher.Write(input[:])
		token = appendBase62(token, hasher.Sum(nil))
	}
	return PseudonymPrefix + string(token), nil
}

// NewPseudonymGenerator builds the generator for the configured mode.
func NewPseudonymGenerator(mode, salt string) (PseudonymGenerator, error) {
	switch mode {
	case "", "random":
		return NewRandomPseudonyms(), nil
	case "keyed":
		return NewKeyedPseudonyms(salt)
	default:
		return nil, fmt.Errorf("unknown pseudonym mode %q", mode)
	}
}

func appendBase62(token, random []byte) []byte {
	for _, b := range random {
		if len(token) == pseudonymLength {
			break
		}
		if b >= rejectAbove {
			continue
		}
		token = append(token, base62Alphabet[b%62])
	}
	return token
}
