package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const defaultTokenBytes = 32

// RandomTokenGenerator mints opaque bearer tokens of Size random bytes,
// optionally tagged with Prefix so they are recognisable in logs and configs.
type RandomTokenGenerator struct {
	Size   int
	Prefix string
}

func (g RandomTokenGenerator) NewToken() (string, error) {
	n := g.Size
	if n <= 0 {
		n = defaultTokenBytes
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("security: read token entropy: %w", err)
	}
	return g.Prefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// TokenDigest is the key bearer tokens are stored and looked up under.
func TokenDigest(token string) string {
	sum := blake2b.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}
