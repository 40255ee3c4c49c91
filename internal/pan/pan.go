package pan

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Length of a generated PAN including the check digit.
const Length = 16

// Generator produces candidate PANs. Uniqueness is not guaranteed here;
// issuance retries on storage conflicts.
type Generator interface {
	Generate() (string, error)
}

// brand prefixes used for random fill. Real BIN tables are longer; these
// cover the test brands the service issues.
var prefixes = []string{"4", "51", "52", "53", "54", "55"}

type prefixGenerator struct{}

// NewGenerator returns the default brand-prefix generator.
func NewGenerator() Generator { return prefixGenerator{} }

func (prefixGenerator) Generate() (string, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(prefixes))))
	if err != nil {
		return "", fmt.Errorf("pick prefix: %w", err)
	}
	digits := []byte(prefixes[idx.Int64()])
	for len(digits) < Length-1 {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("fill digit: %w", err)
		}
		digits = append(digits, byte('0'+d.Int64()))
	}
	return string(append(digits, checkDigit(digits))), nil
}

// checkDigit computes the Luhn check digit for the 15 payload digits.
func checkDigit(digits []byte) byte {
	sum := 0
	double := true
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		double = !double
		sum += d
	}
	return byte('0' + (10-sum%10)%10)
}

// Valid reports whether s is a 16-digit PAN with a correct Luhn checksum.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	sum := 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		double = !double
		sum += d
	}
	return sum%10 == 0
}
