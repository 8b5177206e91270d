package vacasa

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseTokenRequiresThreeSegments(t *testing.T) {
	now := time.Now()
	for _, raw := range []string{"", "abc", "a.b", "a.b.c.d"} {
		if _, err := ParseToken(raw, 0, now); !IsDataParse(err) {
			t.Fatalf("%q: expected DataParseError, got %v", raw, err)
		}
	}
}

func TestParseTokenRejectsGarbageSegments(t *testing.T) {
	if _, err := ParseToken("###.$$$.sig", 0, time.Now()); !IsDataParse(err) {
		t.Fatalf("expected DataParseError, got %v", err)
	}
}

func TestParseTokenReadsExpiryClaim(t *testing.T) {
	iat := time.Date(2024, 8, 1, 10, 0, 0, 0, time.UTC)
	exp := iat.Add(15 * time.Minute)
	tok, err := ParseToken(makeJWT(t, iat, exp), 0, iat.Add(time.Second))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !tok.ExpiresAt.Equal(exp) || !tok.IssuedAt.Equal(iat) {
		t.Fatalf("got iat=%v exp=%v", tok.IssuedAt, tok.ExpiresAt)
	}
	if tok.Lifetime() != 15*time.Minute {
		t.Fatalf("lifetime = %v", tok.Lifetime())
	}
}

func TestParseTokenPrefersFragmentExpiresIn(t *testing.T) {
	iat := time.Date(2024, 8, 1, 10, 0, 0, 0, time.UTC)
	tok, err := ParseToken(makeJWT(t, iat, iat.Add(time.Hour)), 5*time.Minute, iat)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if want := iat.Add(5 * time.Minute); !tok.ExpiresAt.Equal(want) {
		t.Fatalf("expiry = %v, want %v", tok.ExpiresAt, want)
	}
}

func TestNeedsRefreshAtTwentyPercent(t *testing.T) {
	iat := time.Date(2024, 8, 1, 10, 0, 0, 0, time.UTC)
	tok := Token{Raw: "x.y.z", IssuedAt: iat, ExpiresAt: iat.Add(100 * time.Minute)}

	if tok.NeedsRefresh(iat.Add(79*time.Minute), 0.2, time.Second) {
		t.Fatalf("21%% remaining should not refresh")
	}
	if !tok.NeedsRefresh(iat.Add(81*time.Minute), 0.2, time.Second) {
		t.Fatalf("19%% remaining should refresh")
	}
	if !tok.NeedsRefresh(iat.Add(2*time.Hour), 0.2, time.Second) {
		t.Fatalf("expired token should refresh")
	}
	if !(Token{}).NeedsRefresh(iat, 0.2, time.Second) {
		t.Fatalf("empty token should refresh")
	}
}

func TestTokenCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	cache := NewFileTokenCache(path)
	exp := time.Date(2024, 8, 16, 12, 30, 0, 0, time.UTC)
	in := &CachedToken{Token: "a.b.c", Expiry: exp, OwnerID: "42", Username: testUsername}

	if err := cache.Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := NewFileTokenCache(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.Token != in.Token || !out.Expiry.Equal(exp) || out.OwnerID != "42" {
		t.Fatalf("round trip mismatch: %+v", out)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %o", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestTokenCacheMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	if ct, err := NewFileTokenCache(filepath.Join(dir, "none.json")).Load(); ct != nil || err != nil {
		t.Fatalf("missing cache: %v %v", ct, err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewFileTokenCache(bad).Load(); !IsDataParse(err) {
		t.Fatalf("expected DataParseError, got %v", err)
	}
}
