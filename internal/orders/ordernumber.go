package orders

import (
	"crypto/rand"
	"math/big"
	"time"
)

const (
	orderNumberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	orderNumberSuffix   = 6
)

// NumberGenerator produces human-readable order numbers. Uniqueness is
// enforced by the store, not by the generator.
type NumberGenerator interface {
	Next(now time.Time) (string, error)
}

type NumberGeneratorFunc func(now time.Time) (string, error)

func (f NumberGeneratorFunc) Next(now time.Time) (string, error) { return f(now) }

// RandomNumbers yields ORD-YYYYMMDD-XXXXXX with a crypto/rand suffix.
var RandomNumbers NumberGenerator = NumberGeneratorFunc(randomNumber)

func randomNumber(now time.Time) (string, error) {
	buf := make([]byte, orderNumberSuffix)
	max := big.NewInt(int64(len(orderNumberAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = orderNumberAlphabet[n.Int64()]
	}
	return "ORD-" + now.UTC().Format("20060102") + "-" + string(buf), nil
}
