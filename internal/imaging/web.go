package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"log"
	"strings"
)

// CompressionInfo describes what the publish ladder had to do to meet the
// byte budget.
type CompressionInfo struct {
	OriginalBytes int     `json:"original_bytes"`
	FinalBytes    int     `json:"final_bytes"`
	Quality       int     `json:"quality,omitempty"`
	ScaleFactor   float64 `json:"scale_factor"`
	Downscaled    bool    `json:"downscaled"`
	Format        string  `json:"format"`
	Skipped       bool    `json:"skipped,omitempty"`
}

var (
	webQualities    = []int{85, 75, 65, 55, 45, 35}
	webScaleFactors = []float64{1.0, 0.9, 0.75, 0.6, 0.5}
)

// CompressForWeb re-encodes an asset to fit a raw byte budget for
// publishing. Sources already within budget and already in the target
// format pass through untouched. The ladder walks scale factors outer and
// quality levels inner; if nothing fits, the smallest rendition is returned
// alongside an error so the caller can decide whether to publish anyway.
func CompressForWeb(src []byte, targetFormat string, maxBytes int64) ([]byte, *CompressionInfo, error) {
	format := strings.ToLower(targetFormat)
	if format == "jpg" {
		format = "jpeg"
	}

	img, srcFormat, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode source image: %w", err)
	}

	if int64(len(src)) <= maxBytes && srcFormat == format {
		return src, &CompressionInfo{
			OriginalBytes: len(src),
			FinalBytes:    len(src),
			ScaleFactor:   1.0,
			Format:        format,
			Skipped:       true,
		}, nil
	}

	img = applyOrientation(img, readOrientation(src))
	if format == "jpeg" {
		// JPEG has no alpha channel; composite onto white.
		img = flattenOnWhite(img)
	}

	encode := encoderFor(format)
	if encode == nil {
		return nil, nil, fmt.Errorf("unsupported publish format: %s", targetFormat)
	}

	origSize := img.Bounds().Size()
	sizes := make([]image.Point, 0, len(webScaleFactors))
	for _, f := range webScaleFactors {
		sizes = append(sizes, scaleBy(origSize, f))
	}

	fits := func(data []byte) bool { return int64(len(data)) <= maxBytes }

	if res, ok := runLadder(img, sizes, webQualities, encode, fits); ok {
		log.Printf("[Imaging] Compressed %d -> %d bytes (quality=%d, downscaled=%v)", len(src), len(res.data), res.quality, res.downscaled)
		return res.data, &CompressionInfo{
			OriginalBytes: len(src),
			FinalBytes:    len(res.data),
			Quality:       res.quality,
			ScaleFactor:   float64(res.width) / float64(origSize.X),
			Downscaled:    res.downscaled,
			Format:        format,
		}, nil
	}

	// Nothing fit: return the floor rendition with an explicit error.
	smallest := scaleTo(img, sizes[len(sizes)-1])
	data, err := encode(smallest, webQualities[len(webQualities)-1])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode at compression floor: %w", err)
	}
	info := &CompressionInfo{
		OriginalBytes: len(src),
		FinalBytes:    len(data),
		Quality:       webQualities[len(webQualities)-1],
		ScaleFactor:   webScaleFactors[len(webScaleFactors)-1],
		Downscaled:    true,
		Format:        format,
	}
	return data, info, fmt.Errorf("could not compress below %d bytes (achieved %d)", maxBytes, len(data))
}

func encoderFor(format string) encodeFunc {
	switch format {
	case "webp":
		return encodeWebP
	case "jpeg":
		return func(img image.Image, quality int) ([]byte, error) {
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		}
	case "png":
		// PNG is lossless; the quality rung is a no-op and only the scale
		// factors change the output size.
		return func(img image.Image, _ int) ([]byte, error) {
			var buf bytes.Buffer
			enc := png.Encoder{CompressionLevel: png.BestCompression}
			if err := enc.Encode(&buf, img); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		}
	default:
		return nil
	}
}

func flattenOnWhite(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}
