package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
)

// PreviewStyle controls how keypoints are drawn on the reference frame.
type PreviewStyle struct {
	// AllColor is the hex colour ("#RRGGBB") of every detected keypoint.
	AllColor string

	// MatchedColor is the hex colour of keypoints that survived matching.
	MatchedColor string

	// MarkerRadius is the half-size of markers in pixels.
	MarkerRadius int

	// ShowLegend draws a "K/M" count label in the top-left corner.
	ShowLegend bool
}

// DefaultPreviewStyle returns red crosses for detections and green rings for
// matched tracks.
func DefaultPreviewStyle() PreviewStyle {
	return PreviewStyle{
		AllColor:     "#FF0000",
		MatchedColor: "#00FF00",
		MarkerRadius: 3,
		ShowLegend:   true,
	}
}

// PreviewResult contains a rendered preview encoded as base64 PNG.
type PreviewResult struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Detected    int    `json:"detected"`
	Matched     int    `json:"matched"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// RenderPreview draws the detected keypoints and the matched subset on a copy
// of the reference frame.
//
// Detected keypoints are drawn as crosses in style.AllColor; matched points as
// rings in style.MatchedColor on top of them, so a keypoint that survived
// shows both markers. The reference frame itself is not modified.
//
// # Errors
//
//   - Returns error if either colour is not a valid hex string
func RenderPreview(ref Frame, all, matched []tracks.Point, style PreviewStyle) (*image.NRGBA, error) {
	allColor, err := parseHexColor(style.AllColor)
	if err != nil {
		return nil, fmt.Errorf("invalid detected marker colour: %w", err)
	}
	matchedColor, err := parseHexColor(style.MatchedColor)
	if err != nil {
		return nil, fmt.Errorf("invalid matched marker colour: %w", err)
	}
	radius := style.MarkerRadius
	if radius <= 0 {
		radius = 3
	}

	result := imaging.Clone(ref.Image)

	for _, p := range all {
		drawCross(result, p, radius, allColor)
	}
	for _, p := range matched {
		drawRing(result, p, radius+1, matchedColor)
	}

	if style.ShowLegend {
		label := fmt.Sprintf("%d/%d", len(all), len(matched))
		drawLabel(result, 2, 2, label, color.NRGBA{255, 255, 255, 255}, color.NRGBA{0, 0, 0, 180})
	}

	return result, nil
}

// SavePreview writes a rendered preview; the format follows the extension.
func SavePreview(img image.Image, path string) error {
	if err := imaging.Save(img, path); err != nil {
		return &tracks.IOError{Op: "write preview", Path: path, Err: err}
	}
	return nil
}

// EncodePreview encodes a rendered preview as base64 PNG.
func EncodePreview(img image.Image, detected, matched int) (*PreviewResult, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}

	b := img.Bounds()
	return &PreviewResult{
		Width:       b.Dx(),
		Height:      b.Dy(),
		Detected:    detected,
		Matched:     matched,
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}

// parseHexColor parses a hex color string like "#FF0000".
func parseHexColor(hex string) (color.NRGBA, error) {
	if hex == "" {
		return color.NRGBA{}, fmt.Errorf("empty color string")
	}
	if hex[0] != '#' {
		hex = "#" + hex
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.NRGBA{}, err
	}
	r, g, b := c.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

func drawCross(img *image.NRGBA, p tracks.Point, radius int, c color.NRGBA) {
	cx := int(math.Round(p.X))
	cy := int(math.Round(p.Y))
	for d := -radius; d <= radius; d++ {
		setClipped(img, cx+d, cy, c)
		setClipped(img, cx, cy+d, c)
	}
}

func drawRing(img *image.NRGBA, p tracks.Point, radius int, c color.NRGBA) {
	steps := 8 * radius
	for s := 0; s < steps; s++ {
		a := 2 * math.Pi * float64(s) / float64(steps)
		x := int(math.Round(p.X + float64(radius)*math.Cos(a)))
		y := int(math.Round(p.Y + float64(radius)*math.Sin(a)))
		setClipped(img, x, y, c)
	}
}

func setClipped(img *image.NRGBA, x, y int, c color.NRGBA) {
	if (image.Point{X: x, Y: y}).In(img.Bounds()) {
		img.SetNRGBA(x, y, c)
	}
}

// drawLabel draws a simple text label at the given position using a 3x5 pixel
// font for digits and '/'.
func drawLabel(img *image.NRGBA, x, y int, text string, fg, bg color.NRGBA) {
	glyphs := map[rune][]string{
		'0': {"111", "101", "101", "101", "111"},
		'1': {"010", "110", "010", "010", "111"},
		'2': {"111", "001", "111", "100", "111"},
		'3': {"111", "001", "111", "001", "111"},
		'4': {"101", "101", "111", "001", "001"},
		'5': {"111", "100", "111", "001", "111"},
		'6': {"111", "100", "111", "101", "111"},
		'7': {"111", "001", "001", "001", "001"},
		'8': {"111", "101", "111", "101", "111"},
		'9': {"111", "101", "111", "001", "111"},
		'/': {"001", "001", "010", "100", "100"},
	}

	charWidth := 4
	labelWidth := len(text) * charWidth
	labelHeight := 7

	for dy := -1; dy < labelHeight; dy++ {
		for dx := -1; dx < labelWidth; dx++ {
			setClipped(img, x+dx, y+dy, bg)
		}
	}

	cx := x
	for _, ch := range text {
		glyph, ok := glyphs[ch]
		if !ok {
			cx += charWidth
			continue
		}
		for row, line := range glyph {
			for col, pixel := range line {
				if pixel == '1' {
					setClipped(img, cx+col, y+row, fg)
				}
			}
		}
		cx += charWidth
	}
}
