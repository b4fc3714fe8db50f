package services

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

const handleBytes = 16

// DigitCodeGenerator produces numeric codes from a random source.
// Bytes >= 250 are discarded so each digit is uniform over 0-9.
type DigitCodeGenerator struct {
	r io.Reader
}

// NewDigitCodeGenerator returns a generator reading from r, or crypto/rand when r is nil.
func NewDigitCodeGenerator(r io.Reader) *DigitCodeGenerator {
	if r == nil {
		r = rand.Reader
	}
	return &DigitCodeGenerator{r: r}
}

func (g *DigitCodeGenerator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid code length %d", length)
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := io.ReadFull(g.r, buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= 250 {
				continue
			}
			out = append(out, '0'+b%10)
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// RandomHandleGenerator produces 128-bit hex encoded session handles.
type RandomHandleGenerator struct {
	r io.Reader
}

// NewRandomHandleGenerator returns a generator reading from r, or crypto/rand when r is nil.
func NewRandomHandleGenerator(r io.Reader) *RandomHandleGenerator {
	if r == nil {
		r = rand.Reader
	}
	return &RandomHandleGenerator{r: r}
}

func (g *RandomHandleGenerator) NewHandle() (string, error) {
	b := make([]byte, handleBytes)
	if _, err := io.ReadFull(g.r, b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
