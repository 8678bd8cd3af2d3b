package heightmap

import (
	"math"

	"github.com/annel0/terrain/internal/vec"
)

// Grid представляет квадратную карту высот размера N x N, где N = 2^k+1.
// Значения хранятся в одном row-major буфере, соседи вычисляются
// арифметикой индексов. Сетка не нормализует и не ограничивает значения.
type Grid struct {
	size  int
	cells []float64
}

// NewGrid создаёт сетку size x size, заполненную нулями.
func NewGrid(size int) (*Grid, error) {
	if !ValidSize(size) {
		return nil, &InvalidSizeError{Size: size}
	}

	return &Grid{
		size:  size,
		cells: make([]float64, size*size),
	}, nil
}

// NewGridFromValues восстанавливает сетку из row-major среза значений.
// Срез копируется.
func NewGridFromValues(size int, values []float64) (*Grid, error) {
	g, err := NewGrid(size)
	if err != nil {
		return nil, err
	}
	if len(values) != size*size {
		return nil, &InvalidSizeError{Size: size}
	}
	copy(g.cells, values)
	return g, nil
}

// Size возвращает длину стороны сетки.
func (g *Grid) Size() int {
	return g.size
}

// Dimensions возвращает ширину и высоту сетки.
func (g *Grid) Dimensions() (width, height int) {
	return g.size, g.size
}

// Get возвращает высоту в точке (x, y).
func (g *Grid) Get(x, y int) (float64, error) {
	if !g.inBounds(x, y) {
		return 0, &OutOfBoundsError{X: x, Y: y, Size: g.size}
	}
	return g.cells[y*g.size+x], nil
}

// Set записывает высоту в точку (x, y).
func (g *Grid) Set(x, y int, value float64) error {
	if !g.inBounds(x, y) {
		return &OutOfBoundsError{X: x, Y: y, Size: g.size}
	}
	g.cells[y*g.size+x] = value
	return nil
}

// At возвращает высоту в точке без проверки границ.
// Вызывающий отвечает за корректность координат.
func (g *Grid) At(p vec.Vec2) float64 {
	return g.cells[p.Index(g.size)]
}

// put записывает высоту без проверки границ.
func (g *Grid) put(x, y int, value float64) {
	g.cells[y*g.size+x] = value
}

// Corners возвращает координаты четырёх углов в порядке
// (0,0), (0,N-1), (N-1,0), (N-1,N-1).
func (g *Grid) Corners() [4]vec.Vec2 {
	last := g.size - 1
	return [4]vec.Vec2{
		{X: 0, Y: 0},
		{X: 0, Y: last},
		{X: last, Y: 0},
		{X: last, Y: last},
	}
}

// Values возвращает копию всех значений в row-major порядке.
func (g *Grid) Values() []float64 {
	out := make([]float64, len(g.cells))
	copy(out, g.cells)
	return out
}

// Rows возвращает копию значений построчно: Rows()[y][x].
func (g *Grid) Rows() [][]float64 {
	rows := make([][]float64, g.size)
	for y := range rows {
		row := make([]float64, g.size)
		copy(row, g.cells[y*g.size:(y+1)*g.size])
		rows[y] = row
	}
	return rows
}

// MinMax возвращает минимальную и максимальную высоту.
func (g *Grid) MinMax() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range g.cells {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Clone возвращает независимую копию сетки.
func (g *Grid) Clone() *Grid {
	return &Grid{size: g.size, cells: g.Values()}
}

// Equal сравнивает сетки побитово.
func (g *Grid) Equal(other *Grid) bool {
	if other == nil || g.size != other.size {
		return false
	}
	for i, v := range g.cells {
		if math.Float64bits(v) != math.Float64bits(other.cells[i]) {
			return false
		}
	}
	return true
}

func (g *Grid) inBounds(x, y int) bool {
	return vec.Vec2{X: x, Y: y}.InSquare(g.size)
}
