package ui

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
)

const halfBlock = "▀"

// renderThumbnail decodes a preview image and downsamples it to width x height
// terminal cells. Each cell shows two vertical pixels using the upper half
// block with foreground (top) and background (bottom) colours as tview tags.
func renderThumbnail(data []byte, width, height int) (string, error) {
	if width <= 0 || height <= 0 {
		return "", fmt.Errorf("thumbnail: invalid size %dx%d", width, height)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("thumbnail: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return "", fmt.Errorf("thumbnail: empty image")
	}
	rows := height * 2
	var sb strings.Builder
	for y := 0; y < height; y++ {
		if y > 0 {
			sb.WriteByte('\n')
		}
		for x := 0; x < width; x++ {
			top := sample(img, b, x, 2*y, width, rows)
			bottom := sample(img, b, x, 2*y+1, width, rows)
			fmt.Fprintf(&sb, "[%s:%s]%s", top, bottom, halfBlock)
		}
		sb.WriteString("[-:-]")
	}
	return sb.String(), nil
}

func sample(img image.Image, b image.Rectangle, cx, cy, cols, rows int) string {
	px := b.Min.X + (2*cx+1)*b.Dx()/(2*cols)
	py := b.Min.Y + (2*cy+1)*b.Dy()/(2*rows)
	r, g, bl, _ := img.At(px, py).RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, bl>>8)
}
