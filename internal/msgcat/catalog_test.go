package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedCatalogRenders(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := c.Render("match.prompt", map[string]any{
		"Seq": 1, "Total": 3, "Left": "Whiskers", "Right": "Mittens", "Prefix": "!",
	})
	if err != nil {
		t.Fatalf("Render match.prompt: %v", err)
	}
	if !strings.Contains(out, "Whiskers") || !strings.Contains(out, "1/3") {
		t.Fatalf("unexpected prompt: %q", out)
	}

	help, err := c.Render("help", map[string]any{"Prefix": "!"})
	if err != nil {
		t.Fatalf("Render help: %v", err)
	}
	if !strings.Contains(help, "!rank start") {
		t.Fatalf("help missing prefix substitution: %q", help)
	}
}

func TestRenderMissingKeyFails(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Render("run.started", map[string]any{"Title": "Cats"}); err == nil {
		t.Fatalf("expected missingkey error for incomplete data")
	}
	if _, err := c.Render("does.not.exist", nil); err == nil {
		t.Fatalf("expected error for unknown template key")
	}
}

func TestOverrideDirWins(t *testing.T) {
	dir := t.TempDir()
	body := "undo:\n  done: \"custom rollback text\"\n"
	if err := os.WriteFile(filepath.Join(dir, "override.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := c.Render("undo.done", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "custom rollback text" {
		t.Fatalf("override not applied: %q", out)
	}
}

func TestDuplicateOverrideKeysRejected(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yaml"} {
		body := "help: \"clash\"\n"
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}
