// Package palette превращает карту высот в цветное превью.
// Высоты сжимаются логистической кривой в (0, 1) и раскрашиваются по полосам.
package palette

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/annel0/terrain/internal/heightmap"
)

// Band определяет тип поверхности по сжатой высоте
type Band int

const (
	BandWater Band = iota
	BandLowland
	BandRock
	BandSnow
)

// Пороги полос по сжатой высоте
const (
	WaterMax   = 0.20 // Ниже - вода
	LowlandMax = 0.65 // Ниже - равнины
	RockMax    = 0.90 // Ниже - скалы, выше - снег
)

// String возвращает название полосы
func (b Band) String() string {
	switch b {
	case BandWater:
		return "water"
	case BandLowland:
		return "lowland"
	case BandRock:
		return "rock"
	case BandSnow:
		return "snow"
	default:
		return "unknown"
	}
}

// Squash отображает произвольную высоту в (0, 1) логистической функцией.
func Squash(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

// Classify возвращает полосу для сжатой высоты f.
func Classify(f float64) Band {
	switch {
	case f < WaterMax:
		return BandWater
	case f < LowlandMax:
		return BandLowland
	case f < RockMax:
		return BandRock
	default:
		return BandSnow
	}
}

// Color возвращает цвет пикселя для высоты v.
func Color(v float64) color.RGBA {
	f := Squash(v)
	value := uint8(f * 0xFF)

	switch Classify(f) {
	case BandWater:
		return color.RGBA{B: value, A: 0xFF}
	case BandLowland:
		return color.RGBA{G: value, A: 0xFF}
	case BandRock:
		half := value / 2
		return color.RGBA{R: half, G: half, B: half, A: 0xFF}
	default:
		return color.RGBA{R: value, G: value, B: value, A: 0xFF}
	}
}

// Image раскрашивает сетку. Пиксель (x, y) соответствует ячейке (x, y).
func Image(g *heightmap.Grid) *image.RGBA {
	w, h := g.Dimensions()
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	values := g.Values()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, Color(values[y*w+x]))
		}
	}
	return img
}

// Histogram считает количество ячеек в каждой полосе.
func Histogram(g *heightmap.Grid) map[Band]int {
	out := make(map[Band]int, 4)
	for _, v := range g.Values() {
		out[Classify(Squash(v))]++
	}
	return out
}

// WritePNG кодирует превью сетки в PNG.
func WritePNG(w io.Writer, g *heightmap.Grid) error {
	if err := png.Encode(w, Image(g)); err != nil {
		return fmt.Errorf("palette: png encode: %w", err)
	}
	return nil
}
