package postprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
)

// Metadata is embedded into lossy artifacts as a JPEG comment segment.
type Metadata struct {
	SourceName string
	Kind       string
	Prompt     string
}

// CropToContent trims uniform borders around the visible content. It is
// best-effort: on any decode or analysis problem the input comes back
// unchanged.
func CropToContent(data []byte) []byte {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}
	rect := contentBounds(img)
	if rect.Empty() || rect == img.Bounds() {
		return data
	}
	cropped := imaging.Crop(img, rect)
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, cropped, imaging.PNG); err != nil {
		return data
	}
	return buf.Bytes()
}

// contentBounds finds the smallest rectangle whose outside is a uniform
// border color (sampled at the top-left corner).
func contentBounds(img image.Image) image.Rectangle {
	b := img.Bounds()
	border := img.At(b.Min.X, b.Min.Y)
	br, bg, bb, ba := border.RGBA()

	same := func(x, y int) bool {
		r, g, bl, a := img.At(x, y).RGBA()
		return near(r, br) && near(g, bg) && near(bl, bb) && near(a, ba)
	}

	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X, b.Min.Y
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if !same(x, y) {
				if x < minX {
					minX = x
				}
				if y < minY {
					minY = y
				}
				if x+1 > maxX {
					maxX = x + 1
				}
				if y+1 > maxY {
					maxY = y + 1
				}
			}
		}
	}
	if minX >= maxX || minY >= maxY {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX, maxY)
}

func near(a, b uint32) bool {
	const tolerance = 0x0800
	if a > b {
		return a-b <= tolerance
	}
	return b-a <= tolerance
}

// ConvertToJPEG re-encodes the artifact as JPEG and embeds the metadata as
// a comment segment. It returns an error on any failure so the caller can
// fall back to the untouched lossless artifact.
func ConvertToJPEG(data []byte, meta Metadata) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	out, err := insertComment(buf.Bytes(), commentFor(meta))
	if err != nil {
		return nil, fmt.Errorf("embed metadata: %w", err)
	}
	return out, nil
}

func commentFor(meta Metadata) string {
	return fmt.Sprintf("source=%s kind=%s prompt=%s", meta.SourceName, meta.Kind, meta.Prompt)
}

// insertComment places a COM segment right after the SOI marker.
func insertComment(jpg []byte, comment string) ([]byte, error) {
	if len(jpg) < 2 || jpg[0] != 0xFF || jpg[1] != 0xD8 {
		return nil, errors.New("not a jpeg stream")
	}
	payload := []byte(comment)
	if len(payload) > 0xFFFF-2 {
		payload = payload[:0xFFFF-2]
	}
	segLen := len(payload) + 2
	out := make([]byte, 0, len(jpg)+segLen+2)
	out = append(out, jpg[:2]...)
	out = append(out, 0xFF, 0xFE, byte(segLen>>8), byte(segLen&0xFF))
	out = append(out, payload...)
	out = append(out, jpg[2:]...)
	return out, nil
}
