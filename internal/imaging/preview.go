package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"

	"github.com/chai2010/webp"
	_ "golang.org/x/image/webp"
)

// DataURIPrefix is what view responses prepend to the base64 payload. The
// budget check counts it because the client serializes the full data URI.
const DataURIPrefix = "data:image/webp;base64,"

// EncodedPreview is a budget-compliant WebP rendition of a source image.
type EncodedPreview struct {
	Data     []byte
	B64      string
	MimeType string
	Width    int
	Height   int
	ByteLen  int
	B64Chars int
	Quality  int
}

// DataURI returns the complete inline payload.
func (p *EncodedPreview) DataURI() string {
	return DataURIPrefix + p.B64
}

// PayloadChars is the serialized character count the budget is measured
// against.
func (p *EncodedPreview) PayloadChars() int {
	return p.B64Chars + len(DataURIPrefix)
}

// PreviewOptions control the encode ladder. Zero values take the defaults.
type PreviewOptions struct {
	MaxDim      int // longest edge of the first rung (default 512)
	MaxB64Chars int // character budget incl. data URI prefix (default 100000)
	Quality     int // starting WebP quality (default 70)
}

func (o PreviewOptions) withDefaults() PreviewOptions {
	if o.MaxDim <= 0 {
		o.MaxDim = 512
	}
	if o.MaxB64Chars <= 0 {
		o.MaxB64Chars = 100000
	}
	if o.Quality <= 0 {
		o.Quality = 70
	}
	return o
}

// BudgetError means even the smallest rung of the ladder overflowed the
// character budget.
type BudgetError struct {
	AchievedChars int
	BudgetChars   int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("could not encode preview within budget: %d chars (budget %d)", e.AchievedChars, e.BudgetChars)
}

// EncodePreview re-encodes an image as WebP guaranteed to fit the character
// budget. The ladder tries [maxDim, 384, 256] on the longest edge, never
// upscaling, and [quality, 55, 40] at each size; a 256px/q35 rung is the
// last resort. Identical inputs always produce identical output.
func EncodePreview(src []byte, opts PreviewOptions) (*EncodedPreview, error) {
	opts = opts.withDefaults()

	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	img = applyOrientation(img, readOrientation(src))

	origSize := img.Bounds().Size()
	sizes := make([]image.Point, 0, 3)
	for _, dim := range []int{opts.MaxDim, 384, 256} {
		sizes = append(sizes, fitWithin(origSize, dim))
	}
	qualities := []int{opts.Quality, 55, 40}

	fits := func(data []byte) bool {
		return base64.StdEncoding.EncodedLen(len(data))+len(DataURIPrefix) <= opts.MaxB64Chars
	}

	if res, ok := runLadder(img, sizes, qualities, encodeWebP, fits); ok {
		return newPreview(res), nil
	}

	// Last resort: smallest size, lowest quality.
	target := fitWithin(origSize, 256)
	final := img
	if target != origSize {
		final = scaleTo(img, target)
	}
	data, err := encodeWebP(final, 35)
	if err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	achieved := base64.StdEncoding.EncodedLen(len(data)) + len(DataURIPrefix)
	if achieved > opts.MaxB64Chars {
		log.Printf("[Imaging] Preview over budget even at floor: %d chars (budget %d)", achieved, opts.MaxB64Chars)
		return nil, &BudgetError{AchievedChars: achieved, BudgetChars: opts.MaxB64Chars}
	}
	s := final.Bounds().Size()
	return newPreview(&ladderResult{data: data, quality: 35, width: s.X, height: s.Y, downscaled: target != origSize}), nil
}

func newPreview(res *ladderResult) *EncodedPreview {
	b64 := base64.StdEncoding.EncodeToString(res.data)
	return &EncodedPreview{
		Data:     res.data,
		B64:      b64,
		MimeType: "image/webp",
		Width:    res.width,
		Height:   res.height,
		ByteLen:  len(res.data),
		B64Chars: len(b64),
		Quality:  res.quality,
	}
}

// encodeWebP writes lossy WebP at the given quality. Alpha survives; WebP
// re-encoding also sheds any source metadata, which is what previews want.
func encodeWebP(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
