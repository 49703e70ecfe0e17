package security

import (
	"strings"
	"testing"
)

func TestRandomTokenGenerator(t *testing.T) {
	gen := RandomTokenGenerator{Size: 16, Prefix: "rc_"}
	a, err := gen.NewToken()
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	b, _ := gen.NewToken()
	if a == b {
		t.Fatal("expected distinct tokens")
	}
	if !strings.HasPrefix(a, "rc_") || len(a) != len("rc_")+22 {
		t.Fatalf("unexpected token %q", a)
	}
}

func TestTokenDigestIgnoresSurroundingSpace(t *testing.T) {
	if TokenDigest(" tok ") != TokenDigest("tok") {
		t.Fatal("expected trimmed tokens to share a digest")
	}
	if TokenDigest("tok") == TokenDigest("tok2") || len(TokenDigest("tok")) != 64 {
		t.Fatal("unexpected digest")
	}
}
