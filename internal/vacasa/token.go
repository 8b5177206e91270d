package vacasa

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Token is a bearer token issued by the owner portal. The signature is not
// verified; the claims are only read for lifetime bookkeeping.
type Token struct {
	Raw       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ParseToken validates the three-segment structure of raw and derives its
// lifetime. expiresIn, when positive, comes from the redirect fragment and
// takes precedence over the exp claim. obtained stands in for a missing iat.
func ParseToken(raw string, expiresIn time.Duration, obtained time.Time) (Token, error) {
	raw = strings.TrimSpace(raw)
	if strings.Count(raw, ".") != 2 {
		return Token{}, &DataParseError{Op: "parse token", Detail: "token is not a three-segment JWT"}
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(raw, claims); err != nil {
		return Token{}, &DataParseError{Op: "parse token", Detail: "malformed JWT", Err: err}
	}

	tok := Token{Raw: raw, IssuedAt: obtained.UTC()}
	if claims.IssuedAt != nil {
		tok.IssuedAt = claims.IssuedAt.Time.UTC()
	}

	switch {
	case expiresIn > 0:
		tok.ExpiresAt = obtained.Add(expiresIn).UTC()
	case claims.ExpiresAt != nil:
		tok.ExpiresAt = claims.ExpiresAt.Time.UTC()
	default:
		return Token{}, &DataParseError{Op: "parse token", Detail: "token carries no expiry"}
	}

	if !tok.ExpiresAt.After(tok.IssuedAt) {
		tok.IssuedAt = obtained.UTC()
	}
	return tok, nil
}

// Lifetime is the total validity window of the token.
func (t Token) Lifetime() time.Duration {
	return t.ExpiresAt.Sub(t.IssuedAt)
}

// NeedsRefresh reports whether less than fraction of the lifetime (and at
// least minMargin) remains at now.
func (t Token) NeedsRefresh(now time.Time, fraction float64, minMargin time.Duration) bool {
	if t.Raw == "" || t.ExpiresAt.IsZero() {
		return true
	}
	threshold := time.Duration(float64(t.Lifetime()) * fraction)
	if threshold < minMargin {
		threshold = minMargin
	}
	return t.ExpiresAt.Sub(now) < threshold
}
