package models

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestLocationWarnsOncePerUnknownZone(t *testing.T) {
	var buf bytes.Buffer
	saved := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = saved })

	fallback := time.FixedZone("fallback", -5*3600)
	p := Property{ID: "1", Timezone: "Nowhere/Atlantis"}
	for i := 0; i < 3; i++ {
		if got := p.Location(fallback); got != fallback {
			t.Fatalf("Location() = %v, want fallback", got)
		}
	}
	if n := strings.Count(buf.String(), "unknown property timezone"); n != 1 {
		t.Fatalf("expected 1 warning, got %d: %s", n, buf.String())
	}
	if !strings.Contains(buf.String(), "Nowhere/Atlantis") {
		t.Fatalf("warning does not name the zone: %s", buf.String())
	}
}

func TestLocationLoadsKnownZone(t *testing.T) {
	p := Property{Timezone: "America/Los_Angeles"}
	if got := p.Location(time.UTC); got.String() != "America/Los_Angeles" {
		t.Fatalf("Location() = %v", got)
	}
	if got := (Property{}).Location(nil); got != time.UTC {
		t.Fatalf("empty timezone with nil fallback = %v", got)
	}
}
