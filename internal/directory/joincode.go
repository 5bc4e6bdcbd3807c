package directory

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// JoinCodeAlphabet omits characters that are easily confused (0/O, 1/I).
	JoinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// JoinCodeLength is the number of characters in a join code.
	JoinCodeLength = 6
	// MaxJoinCodeAttempts bounds the retries made on collision.
	MaxJoinCodeAttempts = 20
)

// ErrJoinCodeExhausted is returned when every attempt produced a code already in use.
var ErrJoinCodeExhausted = errors.New("join code generation exhausted")

// Source yields uniformly distributed integers in [0, n).
type Source interface {
	Intn(n int) int
}

type cryptoSource struct{}

// NewCryptoSource returns a Source backed by crypto/rand.
//
// Postcondition: Every value returned by Intn is in [0, n).
func NewCryptoSource() Source {
	return cryptoSource{}
}

// Intn panics if n <= 0 or crypto/rand fails.
func (cryptoSource) Intn(n int) int {
	if n <= 0 {
		panic("directory: Intn called with n <= 0")
	}
	val, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("directory: crypto/rand failure: " + err.Error())
	}
	return int(val.Int64())
}

// TakenFunc reports whether code is already assigned to a room.
type TakenFunc func(ctx context.Context, code string) (bool, error)

// JoinCodes generates unique room join codes.
type JoinCodes struct {
	src      Source
	attempts int
}

// NewJoinCodes creates a generator drawing from src.
// A nil src uses NewCryptoSource.
func NewJoinCodes(src Source) *JoinCodes {
	if src == nil {
		src = NewCryptoSource()
	}
	return &JoinCodes{src: src, attempts: MaxJoinCodeAttempts}
}

// Next draws one candidate code without checking uniqueness.
func (g *JoinCodes) Next() string {
	var b strings.Builder
	b.Grow(JoinCodeLength)
	for i := 0; i < JoinCodeLength; i++ {
		b.WriteByte(JoinCodeAlphabet[g.src.Intn(len(JoinCodeAlphabet))])
	}
	return b.String()
}

// Generate returns a code for which taken reports false.
//
// Postcondition: At most MaxJoinCodeAttempts candidates are checked; when all
// of them are taken the error wraps ErrJoinCodeExhausted.
func (g *JoinCodes) Generate(ctx context.Context, taken TakenFunc) (string, error) {
	for i := 0; i < g.attempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code := g.Next()
		used, err := taken(ctx, code)
		if err != nil {
			return "", fmt.Errorf("checking join code %s: %w", code, err)
		}
		if !used {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrJoinCodeExhausted, g.attempts)
}

func errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
