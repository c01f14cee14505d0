package namepool

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmbeddedPoolsLoad(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pools := c.List()
	if len(pools) == 0 {
		t.Fatalf("no embedded pools")
	}
	for _, p := range pools {
		if len(p.Names) < 2 {
			t.Fatalf("pool %q has %d names", p.Key, len(p.Names))
		}
	}
}

func TestFindByKeyAndTitle(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p, ok := c.Find("classic-cats")
	if !ok {
		t.Fatalf("Find by key failed")
	}
	if p.Names[0] != "Whiskers" {
		t.Fatalf("first name = %q, want Whiskers", p.Names[0])
	}

	// title lookup tolerates case and spacing
	p2, ok := c.Find("  Classic Cat Names ")
	if !ok || p2.Key != p.Key {
		t.Fatalf("Find by title = (%v, %v)", p2.Key, ok)
	}

	if _, ok := c.Find("no-such-pool"); ok {
		t.Fatalf("Find returned a pool for an unknown token")
	}
}

func TestOverrideDirReplacesAndAdds(t *testing.T) {
	dir := t.TempDir()
	override := "pools:\n  - key: classic-cats\n    title: House Cats\n    names: [Biscuit, Pepper, Mochi]\n  - key: custom\n    names: [Alpha, Beta]\n"
	if err := os.WriteFile(filepath.Join(dir, "10-site.yaml"), []byte(override), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p, ok := c.Find("classic-cats")
	if !ok || p.Title != "House Cats" || len(p.Names) != 3 {
		t.Fatalf("override not applied: %+v ok=%v", p, ok)
	}
	if _, ok := c.Find("custom"); !ok {
		t.Fatalf("added pool not found")
	}
}

func TestDuplicateKeyAcrossOverrideFiles(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"a.yaml", "b.yaml"} {
		body := "pools:\n  - key: dup\n    names: [One, Two]\n"
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write override %d: %v", i, err)
		}
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}

func TestRejectsDegeneratePools(t *testing.T) {
	dir := t.TempDir()
	body := "pools:\n  - key: tiny\n    names: [Solo, solo]\n"
	if err := os.WriteFile(filepath.Join(dir, "tiny.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected error for pool with repeated name")
	}
}
