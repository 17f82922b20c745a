// Package imaging converts inline image payloads between their wire
// representations and infers file extensions and MIME types.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// decodeChunkSize bounds the copy buffer used while decoding base64 payloads,
// so large images never force a single oversized intermediate allocation.
const decodeChunkSize = 512

// DefaultMIMEType is assumed whenever a payload carries no usable type.
const DefaultMIMEType = "image/png"

// DecodeBase64 decodes a standard base64 payload into raw bytes. The input is
// streamed through a fixed-size buffer rather than decoded in one pass.
func DecodeBase64(data string) ([]byte, error) {
	encoding := base64.StdEncoding
	if len(data)%4 != 0 {
		// Some providers omit padding on inline payloads.
		encoding = base64.RawStdEncoding
	}

	decoder := base64.NewDecoder(encoding, strings.NewReader(data))
	var buf bytes.Buffer
	buf.Grow(encoding.DecodedLen(len(data)))
	if _, err := io.CopyBuffer(&buf, decoder, make([]byte, decodeChunkSize)); err != nil {
		return nil, fmt.Errorf("failed to decode base64 image data: %w", err)
	}
	return buf.Bytes(), nil
}

// wellKnownExtensions maps common image MIME types to their canonical
// extensions where the subtype alone would be wrong or unusual.
var wellKnownExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// FileExtension derives a file extension from a MIME type. Unrecognized but
// well-formed types fall back to their subtype with any "+suffix" stripped
// (image/svg+xml -> svg). Absent or unparsable types default to png.
// Never fails.
func FileExtension(mimeType string) string {
	normalized := strings.ToLower(strings.TrimSpace(mimeType))
	if normalized == "" {
		return "png"
	}
	// Drop any media type parameters ("image/png; charset=binary").
	if idx := strings.IndexByte(normalized, ';'); idx >= 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}

	if ext, ok := wellKnownExtensions[normalized]; ok {
		return ext
	}

	parts := strings.Split(normalized, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "png"
	}
	subtype := parts[1]
	if idx := strings.IndexByte(subtype, '+'); idx >= 0 {
		subtype = subtype[:idx]
	}
	if subtype == "" {
		return "png"
	}
	return subtype
}

// DetectMIME sniffs the MIME type of raw image bytes using the registered
// image decoders, falling back to content sniffing. Returns DefaultMIMEType
// when the bytes cannot be identified as an image.
func DetectMIME(data []byte) string {
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil && format != "" {
		return "image/" + format
	}
	if detected := http.DetectContentType(data); strings.HasPrefix(detected, "image/") {
		return detected
	}
	return DefaultMIMEType
}

// DataURL builds a base64 data URL for inline display of an image payload.
func DataURL(mimeType, dataBase64 string) string {
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}
	return "data:" + mimeType + ";base64," + dataBase64
}
