// Package annotate draws detection results onto frames.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/nee-hit476/Jenji/detect"
)

const labelPadding = 3

// Annotator draws bounding boxes and labels. It holds only styling; Draw
// is a pure function of its inputs.
type Annotator struct {
	BoxColor  color.RGBA
	TextColor color.RGBA
	Thickness int
}

// New creates an Annotator from an RGB triple and a line thickness.
func New(rgb []int, thickness int) *Annotator {
	c := color.RGBA{0, 255, 0, 255}
	if len(rgb) == 3 {
		c = color.RGBA{uint8(rgb[0]), uint8(rgb[1]), uint8(rgb[2]), 255}
	}
	if thickness < 1 {
		thickness = 1
	}
	return &Annotator{
		BoxColor:  c,
		TextColor: color.RGBA{0, 0, 0, 255},
		Thickness: thickness,
	}
}

// Draw returns a copy of src with every valid detection outlined and
// labelled. The input image is never mutated. Detections with a
// malformed bbox, or one that is degenerate after clamping to the image
// bounds, are skipped individually; one bad box never fails the frame.
func (a *Annotator) Draw(src image.Image, detections []detect.Detection) image.Image {
	b := src.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, src, b.Min, draw.Src)

	for _, det := range detections {
		if len(det.BBox) != 4 {
			continue
		}
		x1 := clamp(int(det.BBox[0]), 0, b.Dx())
		y1 := clamp(int(det.BBox[1]), 0, b.Dy())
		x2 := clamp(int(det.BBox[2]), 0, b.Dx())
		y2 := clamp(int(det.BBox[3]), 0, b.Dy())
		if x2 <= x1 || y2 <= y1 {
			continue
		}

		rect := image.Rect(x1, y1, x2, y2).Add(b.Min)
		drawRectangle(out, rect, a.BoxColor, a.Thickness)
		a.drawLabel(out, labelFor(det), rect)
	}

	return out
}

func labelFor(det detect.Detection) string {
	if det.ClassName != "" {
		return fmt.Sprintf("%s (%.2f)", det.ClassName, det.Confidence)
	}
	return fmt.Sprintf("ID:%d (%.2f)", det.ClassID, det.Confidence)
}

// drawLabel paints a filled background strip above the box (inside it
// when the box touches the top edge) and renders the label text.
func (a *Annotator) drawLabel(img *image.RGBA, label string, box image.Rectangle) {
	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, label).Ceil()
	textHeight := face.Metrics().Height.Ceil()

	bgHeight := textHeight + 2*labelPadding
	bg := image.Rect(box.Min.X, box.Min.Y-bgHeight, box.Min.X+textWidth+2*labelPadding, box.Min.Y)
	if bg.Min.Y < img.Bounds().Min.Y {
		bg = bg.Add(image.Pt(0, bgHeight))
	}
	bg = bg.Intersect(img.Bounds())
	draw.Draw(img, bg, image.NewUniform(a.BoxColor), image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(a.TextColor),
		Face: face,
		Dot: fixed.P(
			bg.Min.X+labelPadding,
			bg.Max.Y-labelPadding-face.Metrics().Descent.Ceil(),
		),
	}
	drawer.DrawString(label)
}

func drawRectangle(img *image.RGBA, rect image.Rectangle, col color.Color, thickness int) {
	for i := 0; i < thickness; i++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.Set(x, rect.Min.Y+i, col)   // Top border
			img.Set(x, rect.Max.Y-i-1, col) // Bottom border
		}
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			img.Set(rect.Min.X+i, y, col)   // Left border
			img.Set(rect.Max.X-i-1, y, col) // Right border
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
