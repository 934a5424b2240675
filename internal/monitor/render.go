package monitor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	colorBackground = color.RGBA{R: 24, G: 24, B: 28, A: 255}
	colorBox        = color.RGBA{R: 40, G: 220, B: 90, A: 255}
	colorCrash      = color.RGBA{R: 235, G: 50, B: 50, A: 255}
	colorText       = color.RGBA{R: 240, G: 240, B: 240, A: 255}
	colorLabelBg    = color.RGBA{R: 0, G: 0, B: 0, A: 200}
)

const lineHeight = 13 // basicfont.Face7x13

// renderFrame draws a schematic view of one frame: every box outlined,
// crash participants in red, a status line on top.
func renderFrame(ev *FrameEvent, width, height int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(colorBackground), image.Point{}, draw.Src)

	for _, d := range ev.Detections {
		c := colorBox
		if d.Crash {
			c = colorCrash
		}
		r := image.Rect(int(d.BBox.X1), int(d.BBox.Y1), int(d.BBox.X2), int(d.BBox.Y2))
		strokeRect(img, r, c, 2)

		label := fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
		labelY := r.Min.Y - 4
		if labelY < 2*lineHeight+4 {
			labelY = r.Max.Y + lineHeight
		}
		drawLabel(img, r.Min.X, labelY, label, c)
	}

	ts := time.Unix(0, int64(ev.Timestamp*1e9)).Format("2006/01/02 15:04:05.000")
	status := fmt.Sprintf("Frame: %d  Objects: %d  Conf: %.3f  %s", ev.FrameNumber, ev.ObjectsDetected, ev.ConfidenceAvg, ts)
	drawLabel(img, 8, lineHeight+4, status, colorText)
	if ev.PotentialCrash {
		drawLabel(img, 8, 2*lineHeight+8, fmt.Sprintf("POTENTIAL CRASH (%d)", len(ev.CrashEvents)), colorCrash)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func strokeRect(img *image.RGBA, r image.Rectangle, c color.Color, thickness int) {
	r = r.Canon().Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

// drawLabel writes text with its baseline at y on a dark background.
func drawLabel(img *image.RGBA, x, y int, text string, c color.Color) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	width := d.MeasureString(text).Ceil()
	bg := image.Rect(x-2, y-face.Ascent-2, x+width+2, y+face.Descent+2)
	draw.Draw(img, bg, image.NewUniform(colorLabelBg), image.Point{}, draw.Over)
	d.DrawString(text)
}

// testPattern is served before the first frame is published.
func testPattern(width, height int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
	colors := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 0, B: 0, A: 255},
	}
	barWidth := max(width/len(colors), 1)
	for i, c := range colors {
		bar := image.Rect(i*barWidth, 0, (i+1)*barWidth, height)
		if i == len(colors)-1 {
			bar.Max.X = width
		}
		draw.Draw(img, bar, image.NewUniform(c), image.Point{}, draw.Src)
	}
	drawLabel(img, 8, height-8, "Waiting for detector...", colorText)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
