package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"
)

// makePNG renders a deterministic test image. Noisy images resist
// compression, flat ones compress to almost nothing.
func makePNG(t *testing.T, w, h int, noisy bool) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	rng := rand.New(rand.NewSource(1))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if noisy {
				img.Set(x, y, color.NRGBA{
					R: uint8(rng.Intn(256)),
					G: uint8(rng.Intn(256)),
					B: uint8(rng.Intn(256)),
					A: 255,
				})
			} else {
				img.Set(x, y, color.NRGBA{R: 40, G: 90, B: 160, A: 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestEncodePreviewWithinBudget(t *testing.T) {
	src := makePNG(t, 800, 600, true)

	preview, err := EncodePreview(src, PreviewOptions{})
	if err != nil {
		t.Fatalf("EncodePreview failed: %v", err)
	}
	if preview.PayloadChars() > 100000 {
		t.Errorf("payload %d chars exceeds default budget", preview.PayloadChars())
	}
	if preview.MimeType != "image/webp" {
		t.Errorf("expected image/webp, got %s", preview.MimeType)
	}
	if preview.Width > 512 || preview.Height > 512 {
		t.Errorf("longest edge exceeds 512: %dx%d", preview.Width, preview.Height)
	}
	if preview.Width != 512 || preview.Height != 384 {
		t.Errorf("expected 512x384 first rung for a fitting image, got %dx%d", preview.Width, preview.Height)
	}
}

func TestEncodePreviewNeverUpscales(t *testing.T) {
	src := makePNG(t, 64, 48, false)

	preview, err := EncodePreview(src, PreviewOptions{})
	if err != nil {
		t.Fatalf("EncodePreview failed: %v", err)
	}
	if preview.Width != 64 || preview.Height != 48 {
		t.Errorf("small image must keep its size, got %dx%d", preview.Width, preview.Height)
	}
}

func TestEncodePreviewDeterministic(t *testing.T) {
	src := makePNG(t, 300, 200, true)

	a, err := EncodePreview(src, PreviewOptions{})
	if err != nil {
		t.Fatalf("first encode failed: %v", err)
	}
	b, err := EncodePreview(src, PreviewOptions{})
	if err != nil {
		t.Fatalf("second encode failed: %v", err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Error("identical input produced different preview bytes")
	}
}

func TestEncodePreviewBudgetError(t *testing.T) {
	src := makePNG(t, 512, 512, true)

	_, err := EncodePreview(src, PreviewOptions{MaxB64Chars: 300})
	if err == nil {
		t.Fatal("expected BudgetError for an impossible budget")
	}
	var budgetErr *BudgetError
	if !errors.As(err, &budgetErr) {
		t.Fatalf("expected BudgetError, got %T: %v", err, err)
	}
	if budgetErr.AchievedChars <= budgetErr.BudgetChars {
		t.Errorf("achieved %d should exceed budget %d", budgetErr.AchievedChars, budgetErr.BudgetChars)
	}
}

func TestEncodePreviewTightBudgetStillFits(t *testing.T) {
	src := makePNG(t, 1024, 1024, true)

	preview, err := EncodePreview(src, PreviewOptions{MaxB64Chars: 40000})
	if err != nil {
		t.Fatalf("EncodePreview failed: %v", err)
	}
	if preview.PayloadChars() > 40000 {
		t.Errorf("payload %d chars exceeds budget 40000", preview.PayloadChars())
	}
}

func TestEncodePreviewInvalidInput(t *testing.T) {
	if _, err := EncodePreview([]byte("not an image"), PreviewOptions{}); err == nil {
		t.Fatal("expected error for undecodable input")
	}
}

func TestEncodePreviewDataURI(t *testing.T) {
	src := makePNG(t, 32, 32, false)
	preview, err := EncodePreview(src, PreviewOptions{})
	if err != nil {
		t.Fatalf("EncodePreview failed: %v", err)
	}
	uri := preview.DataURI()
	if !bytes.HasPrefix([]byte(uri), []byte(DataURIPrefix)) {
		t.Errorf("data URI missing prefix: %s", uri[:40])
	}
	if len(uri) != preview.PayloadChars() {
		t.Errorf("PayloadChars %d does not match actual URI length %d", preview.PayloadChars(), len(uri))
	}
}
