package client

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func mustOutputs(t *testing.T, raw string) NodeOutputs {
	t.Helper()
	var outputs NodeOutputs
	if err := json.Unmarshal([]byte(raw), &outputs); err != nil {
		t.Fatalf("bad test fixture: %v", err)
	}
	return outputs
}

func TestExtractFirstAsset(t *testing.T) {
	outputs := mustOutputs(t, `{
		"9": {"images": [{"filename": "first.png", "subfolder": "sub", "type": "output"}, {"filename": "second.png"}]}
	}`)
	asset, err := ExtractFirstAsset(outputs, nil)
	if err != nil {
		t.Fatalf("extraction failed: %v", err)
	}
	if asset.Filename != "first.png" || asset.Subfolder != "sub" || asset.Kind != "output" {
		t.Errorf("unexpected asset: %+v", asset)
	}
}

func TestExtractFirstAssetNodeOrderWins(t *testing.T) {
	// Engine order beats key preference across nodes: the earlier node's
	// "gifs" wins over a later node's "images".
	outputs := mustOutputs(t, `{
		"5": {"gifs": [{"filename": "anim.gif"}]},
		"9": {"images": [{"filename": "img.png"}]}
	}`)
	asset, err := ExtractFirstAsset(outputs, nil)
	if err != nil {
		t.Fatalf("extraction failed: %v", err)
	}
	if asset.Filename != "anim.gif" {
		t.Errorf("expected earlier node's asset, got %q", asset.Filename)
	}
}

func TestExtractFirstAssetKeyPreferenceWithinNode(t *testing.T) {
	outputs := mustOutputs(t, `{
		"5": {"gifs": [{"filename": "anim.gif"}], "images": [{"filename": "img.png"}]}
	}`)
	asset, err := ExtractFirstAsset(outputs, nil)
	if err != nil {
		t.Fatalf("extraction failed: %v", err)
	}
	if asset.Filename != "img.png" {
		t.Errorf("'images' should beat 'gifs' within a node, got %q", asset.Filename)
	}
}

func TestExtractFirstAssetMissingFilenameDisqualifiesKey(t *testing.T) {
	// A first element without a filename drops the whole key; the second
	// element is never considered.
	outputs := mustOutputs(t, `{
		"5": {"images": [{"subfolder": "x"}, {"filename": "never.png"}], "gifs": [{"filename": "anim.gif"}]}
	}`)
	asset, err := ExtractFirstAsset(outputs, nil)
	if err != nil {
		t.Fatalf("extraction failed: %v", err)
	}
	if asset.Filename != "anim.gif" {
		t.Errorf("expected fallback to 'gifs', got %q", asset.Filename)
	}
}

func TestExtractFirstAssetCustomKeys(t *testing.T) {
	outputs := mustOutputs(t, `{
		"2": {"audio": [{"filename": "song.flac"}], "images": [{"filename": "cover.png"}]}
	}`)
	asset, err := ExtractFirstAsset(outputs, []string{"audio", "audios"})
	if err != nil {
		t.Fatalf("extraction failed: %v", err)
	}
	if asset.Filename != "song.flac" {
		t.Errorf("expected audio asset, got %q", asset.Filename)
	}
}

func TestExtractFirstAssetNoMatch(t *testing.T) {
	outputs := mustOutputs(t, `{
		"1": {"text": ["hello"]},
		"2": {"latents": [{"filename": "x.latent"}]}
	}`)
	_, err := ExtractFirstAsset(outputs, nil)
	if err == nil {
		t.Fatal("expected NoMatchingOutputError")
	}
	var noMatch *NoMatchingOutputError
	if !errors.As(err, &noMatch) {
		t.Fatalf("expected NoMatchingOutputError, got %T", err)
	}
	msg := err.Error()
	for _, want := range []string{"node 1", "node 2", "text", "latents"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message missing %q: %s", want, msg)
		}
	}
}
