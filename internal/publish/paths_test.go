package publish

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidTargetFilename(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"hero.webp", true},
		{"cover-1.png", true},
		{"a.jpg", true},
		{"track_01.final.jpeg", true},
		{"Hero.webp", false},
		{"hero.gif", false},
		{".hidden.webp", false},
		{"-dash.webp", false},
		{"sub/hero.webp", false},
		{"../hero.webp", false},
		{"hero", false},
		{"", false},
		{strings.Repeat("a", 65) + ".webp", false},
		{strings.Repeat("a", 64) + ".webp", true},
	}
	for _, tc := range cases {
		if got := ValidTargetFilename(tc.name); got != tc.ok {
			t.Errorf("ValidTargetFilename(%q) = %v, want %v", tc.name, got, tc.ok)
		}
	}
}

func TestValidManifestKey(t *testing.T) {
	cases := []struct {
		key string
		ok  bool
	}{
		{"hero", true},
		{"hero-1.v2", true},
		{"Hero", false},
		{"a b", false},
		{"", false},
		{".lead", false},
	}
	for _, tc := range cases {
		if got := ValidManifestKey(tc.key); got != tc.ok {
			t.Errorf("ValidManifestKey(%q) = %v, want %v", tc.key, got, tc.ok)
		}
	}
}

func TestAutoFilename(t *testing.T) {
	if got := AutoFilename("0123456789abcdef", "webp"); got != "asset_01234567.webp" {
		t.Errorf("long id: got %q", got)
	}
	if got := AutoFilename("abc", "png"); got != "asset_abc.png" {
		t.Errorf("short id: got %q", got)
	}
	if got := AutoFilename("0123456789", ".jpg"); got != "asset_01234567.jpg" {
		t.Errorf("dotted format: got %q", got)
	}
	if got := AutoFilename("0123456789", ""); got != "asset_01234567.webp" {
		t.Errorf("empty format: got %q", got)
	}
}

func TestCanonicalizeMissingLeaf(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "sub", "file.png")

	if _, err := Canonicalize(missing, true); err == nil {
		t.Fatal("expected error for missing path with mustExist=true")
	}

	got, err := Canonicalize(missing, false)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	want := filepath.Join(realDir, "sub", "file.png")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCanonicalizeFollowsSymlinks(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	if err := os.MkdirAll(real, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	file := filepath.Join(real, "a.png")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Canonicalize(filepath.Join(link, "a.png"), true)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	want, err := filepath.EvalSymlinks(file)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestIsWithin(t *testing.T) {
	parent := t.TempDir()
	inside := filepath.Join(parent, "sub", "a.png")
	if err := os.MkdirAll(filepath.Dir(inside), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(inside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if !IsWithin(inside, parent, true) {
		t.Error("file under parent should be within")
	}
	if !IsWithin(parent, parent, true) {
		t.Error("parent should be within itself")
	}

	outside := t.TempDir()
	if IsWithin(filepath.Join(outside, "a.png"), parent, false) {
		t.Error("sibling tree should not be within")
	}
}

func TestIsWithinRejectsSymlinkEscape(t *testing.T) {
	parent := t.TempDir()
	outside := t.TempDir()
	victim := filepath.Join(outside, "secret.png")
	if err := os.WriteFile(victim, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	esc := filepath.Join(parent, "esc")
	if err := os.Symlink(outside, esc); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if IsWithin(filepath.Join(esc, "secret.png"), parent, true) {
		t.Error("symlink pointing outside the root must not count as within")
	}
}

func TestDefaultPublishRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "static"), 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := DefaultPublishRoot(root)
	if err != nil {
		t.Fatalf("DefaultPublishRoot: %v", err)
	}
	if got != filepath.Join(root, "static", "gen") {
		t.Errorf("got %q, want static/gen", got)
	}
	if !dirExists(got) {
		t.Error("publish root should be created")
	}

	bare := t.TempDir()
	got, err = DefaultPublishRoot(bare)
	if err != nil {
		t.Fatalf("DefaultPublishRoot: %v", err)
	}
	if got != filepath.Join(bare, "public", "gen") {
		t.Errorf("got %q, want public/gen fallback", got)
	}
}

func TestValidateOutputRoot(t *testing.T) {
	if ValidateOutputRoot(filepath.Join(t.TempDir(), "missing")) {
		t.Error("missing dir should not validate")
	}
	if ValidateOutputRoot(t.TempDir()) {
		t.Error("empty dir should not validate")
	}

	withMarker := t.TempDir()
	if err := os.WriteFile(filepath.Join(withMarker, "ComfyUI_00001_.png"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !ValidateOutputRoot(withMarker) {
		t.Error("ComfyUI_*.png marker should validate")
	}

	withTemp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(withTemp, "temp"), 0o755); err != nil {
		t.Fatal(err)
	}
	if !ValidateOutputRoot(withTemp) {
		t.Error("temp/ subdirectory should validate")
	}

	withImages := t.TempDir()
	for _, name := range []string{"a.png", "b.jpg", "c.webp"} {
		if err := os.WriteFile(filepath.Join(withImages, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if !ValidateOutputRoot(withImages) {
		t.Error("three loose images should validate")
	}
}
