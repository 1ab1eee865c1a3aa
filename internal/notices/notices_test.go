package notices

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadEmbeddedCatalog(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, key := range []string{"shutdown.notice", "match.abandonment", "match.waiting_expired", "ops.crash"} {
		found := false
		for _, k := range c.Keys() {
			if k == key {
				found = true
			}
		}
		if !found {
			t.Fatalf("catalog missing %s (have %v)", key, c.Keys())
		}
	}

	s, err := c.Render("shutdown.notice", map[string]any{"ReconnectDelaySec": 5})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(s, "5 seconds") {
		t.Fatalf("shutdown notice: %q", s)
	}
}

func TestRenderErrors(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if _, err := c.Render("no.such.key", nil); err == nil {
		t.Fatal("unknown key rendered")
	}

	// Incomplete data fails instead of emitting "<no value>".
	if _, err := c.Render("match.abandonment", map[string]any{"Winner": "alice"}); err == nil {
		t.Fatal("missing field rendered")
	}

	got := c.RenderOr("no.such.key", "fallback text", nil)
	if got != "fallback text" {
		t.Fatalf("RenderOr: %q", got)
	}

	got = c.RenderOr("match.peer_reconnected", "peer is back", map[string]any{"Name": "bob"})
	if !strings.Contains(got, "bob") {
		t.Fatalf("RenderOr with valid key: %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	override := "shutdown:\n  notice: \"maintenance window, back in {{.ReconnectDelaySec}}s\"\n"
	if err := os.WriteFile(filepath.Join(dir, "10-site.yaml"), []byte(override), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	c, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load with overrides: %v", err)
	}
	s, err := c.Render("shutdown.notice", map[string]any{"ReconnectDelaySec": 10})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if s != "maintenance window, back in 10s" {
		t.Fatalf("override not applied: %q", s)
	}

	// Keys the override did not touch keep their embedded text.
	if _, err := c.Render("match.peer_reconnected", map[string]any{"Name": "x"}); err != nil {
		t.Fatalf("embedded key lost after override: %v", err)
	}

	if _, err := LoadDir(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("nonexistent override dir accepted")
	}
}
