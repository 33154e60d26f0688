package postprocess

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestCropToContentTrimsUniformBorder(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	// White canvas with a red block in the middle.
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	for y := 5; y < 15; y++ {
		for x := 5; x < 15; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}

	out := CropToContent(encodePNG(t, img))
	decoded, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode cropped: %v", err)
	}
	if decoded.Bounds().Dx() != 10 || decoded.Bounds().Dy() != 10 {
		t.Fatalf("expected 10x10 crop, got %v", decoded.Bounds())
	}
}

func TestCropToContentPassesThroughGarbage(t *testing.T) {
	in := []byte("definitely not an image")
	out := CropToContent(in)
	if !bytes.Equal(in, out) {
		t.Fatalf("undecodable input must come back unchanged")
	}
}

func TestCropToContentFullFramePassthrough(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), A: 255})
		}
	}
	in := encodePNG(t, img)
	out := CropToContent(in)
	decoded, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Bounds().Dx() != 8 || decoded.Bounds().Dy() != 8 {
		t.Fatalf("content-filled frame must keep its size, got %v", decoded.Bounds())
	}
}

func TestConvertToJPEGEmbedsMetadata(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 6, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			img.Set(x, y, color.RGBA{B: 200, A: 255})
		}
	}

	out, err := ConvertToJPEG(encodePNG(t, img), Metadata{
		SourceName: "Beach Day",
		Kind:       "portrait",
		Prompt:     "a studio portrait",
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if out[0] != 0xFF || out[1] != 0xD8 {
		t.Fatalf("output is not a jpeg stream")
	}
	if !bytes.Contains(out, []byte("source=Beach Day kind=portrait")) {
		t.Fatalf("metadata comment missing from jpeg")
	}
	if _, _, err := image.Decode(bytes.NewReader(out)); err != nil {
		t.Fatalf("jpeg with comment must stay decodable: %v", err)
	}
}

func TestConvertToJPEGRejectsGarbage(t *testing.T) {
	if _, err := ConvertToJPEG([]byte("nope"), Metadata{}); err == nil {
		t.Fatalf("expected error for undecodable input")
	}
}
