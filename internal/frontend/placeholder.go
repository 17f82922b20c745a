package frontend

import (
	"bytes"
	"embed"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

//go:embed assets/placeholder.svg
var assetsFS embed.FS

const placeholderSize = 256

var (
	placeholderOnce sync.Once
	placeholderData []byte
	placeholderErr  error
)

// placeholderPNG rasterizes the embedded placeholder SVG once and caches the
// encoded PNG for all subsequent requests.
func placeholderPNG() ([]byte, error) {
	placeholderOnce.Do(func() {
		svgData, err := assetsFS.ReadFile("assets/placeholder.svg")
		if err != nil {
			placeholderErr = fmt.Errorf("failed to read placeholder asset: %w", err)
			return
		}
		placeholderData, placeholderErr = renderSVGToPNG(svgData, placeholderSize, placeholderSize)
	})
	return placeholderData, placeholderErr
}

// renderSVGToPNG renders an SVG byte slice into a PNG with the given target dimensions.
func renderSVGToPNG(svgData []byte, targetW, targetH int) ([]byte, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SVG: %w", err)
	}

	icon.SetTarget(0, 0, float64(targetW), float64(targetH))

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.RGBA{255, 255, 255, 255}}, image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(targetW, targetH, dst, dst.Bounds())
	dasher := rasterx.NewDasher(targetW, targetH, scanner)
	icon.Draw(dasher, 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode rendered SVG as PNG: %w", err)
	}
	return buf.Bytes(), nil
}
