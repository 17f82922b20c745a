package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"strings"
	"testing"
)

func TestDecodeBase64_RoundTrip(t *testing.T) {
	// Sizes straddle the decode chunk bound to exercise multi-chunk reads.
	sizes := []int{0, 1, 3, decodeChunkSize - 1, decodeChunkSize, decodeChunkSize + 1, 4 * decodeChunkSize}

	for _, size := range sizes {
		original := make([]byte, size)
		for i := range original {
			original[i] = byte(i % 251)
		}
		encoded := base64.StdEncoding.EncodeToString(original)

		decoded, err := DecodeBase64(encoded)
		if err != nil {
			t.Fatalf("DecodeBase64 error for size %d: %v", size, err)
		}
		if !bytes.Equal(decoded, original) {
			t.Fatalf("round trip mismatch for size %d: got %d bytes", size, len(decoded))
		}
	}
}

func TestDecodeBase64_UnpaddedInput(t *testing.T) {
	original := []byte("unpadded payload")
	encoded := base64.RawStdEncoding.EncodeToString(original)

	decoded, err := DecodeBase64(encoded)
	if err != nil {
		t.Fatalf("DecodeBase64 error: %v", err)
	}
	if !bytes.Equal(decoded, original) {
		t.Fatalf("expected %q, got %q", original, decoded)
	}
}

func TestDecodeBase64_MalformedInput(t *testing.T) {
	if _, err := DecodeBase64("not!!valid@@base64::data"); err == nil {
		t.Fatalf("expected error for malformed base64, got nil")
	}
}

func TestFileExtension(t *testing.T) {
	cases := []struct {
		mimeType string
		expected string
	}{
		{"image/png", "png"},
		{"image/jpeg", "jpg"},
		{"image/jpg", "jpg"},
		{"image/webp", "webp"},
		{"image/gif", "gif"},
		{"image/svg+xml", "svg"},
		{"application/octet-stream", "octet-stream"},
		{"IMAGE/PNG", "png"},
		{"image/png; charset=binary", "png"},
		{"", "png"},
		{"garbage", "png"},
		{"image/", "png"},
		{"/png", "png"},
	}

	for _, tc := range cases {
		if got := FileExtension(tc.mimeType); got != tc.expected {
			t.Errorf("FileExtension(%q) = %q, expected %q", tc.mimeType, got, tc.expected)
		}
	}
}

func TestDetectMIME_PNG(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("png.Encode error: %v", err)
	}

	if got := DetectMIME(buf.Bytes()); got != "image/png" {
		t.Fatalf("expected image/png, got %q", got)
	}
}

func TestDetectMIME_UnknownBytesDefaultToPNG(t *testing.T) {
	if got := DetectMIME([]byte("definitely not an image")); got != DefaultMIMEType {
		t.Fatalf("expected %q, got %q", DefaultMIMEType, got)
	}
}

func TestDataURL(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("pixels"))

	url := DataURL("image/png", payload)
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Fatalf("unexpected data URL prefix: %q", url)
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/png;base64,"))
	if err != nil {
		t.Fatalf("data URL payload is not valid base64: %v", err)
	}
	if string(decoded) != "pixels" {
		t.Fatalf("expected payload %q, got %q", "pixels", decoded)
	}

	if got := DataURL("", payload); !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Fatalf("expected default MIME type in data URL, got %q", got)
	}
}
