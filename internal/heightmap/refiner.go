package heightmap

import (
	"math"

	"github.com/annel0/terrain/internal/vec"
)

// Значения по умолчанию для генерации тайла
const (
	DefaultSize      = 1<<9 + 1 // 513
	DefaultRoughness = 2.0
	DefaultH         = 1.0 // амплитуда уменьшается вдвое за проход
)

// Params описывает один запуск генерации.
type Params struct {
	Size             int     // Длина стороны, 2^k+1
	Seed             int64   // Сид источника случайных смещений
	InitialRoughness float64 // Амплитуда первого прохода a0
	H                float64 // Показатель затухания: a(p+1) = a(p) * 2^-H

	// Corners задаёт угловые значения в порядке Grid.Corners.
	// Если nil, углы берутся из Tile или из источника с амплитудой a0.
	Corners *[4]float64

	// Tile включает режим тайлов: углы вычисляются TileCorners(Seed, x, y).
	Tile *vec.Vec2

	// Observer вызывается после каждого прохода.
	Observer func(PassStats)
}

// PassStats содержит сводку одного прохода square+diamond.
type PassStats struct {
	Pass            int     // Номер прохода, с нуля
	Step            int     // Размер шага на этом проходе
	Amplitude       float64 // Граница смещения на этом проходе
	Cells           int     // Сколько ячеек записано
	MaxPerturbation float64 // Максимальное |смещение| среди записанных ячеек
}

// Validate проверяет параметры до начала генерации.
func (p Params) Validate() error {
	if !ValidSize(p.Size) {
		return &InvalidSizeError{Size: p.Size}
	}
	if math.IsNaN(p.InitialRoughness) || math.IsInf(p.InitialRoughness, 0) || p.InitialRoughness < 0 {
		return &InvalidParameterError{Name: "roughness", Value: p.InitialRoughness, Reason: "must be finite and non-negative"}
	}
	if math.IsNaN(p.H) || math.IsInf(p.H, 0) || p.H <= 0 {
		return &InvalidParameterError{Name: "H", Value: p.H, Reason: "must be finite and positive"}
	}
	if p.Corners != nil {
		for _, c := range p.Corners {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return &InvalidParameterError{Name: "corner", Value: c, Reason: "must be finite"}
			}
		}
	}
	if bound := p.heightBound(); !(bound <= maxHeightBound) {
		return &InvalidParameterError{Name: "roughness", Value: p.InitialRoughness, Reason: "heights would overflow float64"}
	}
	return nil
}

// maxHeightBound ограничивает |высоту|: сумма четырёх соседей до деления
// на их число должна оставаться конечной.
const maxHeightBound = math.MaxFloat64 / 4

// heightBound оценивает сверху |высоту| любой ячейки: среднее не выходит
// за максимум модулей соседей, а каждый проход добавляет не больше a(p).
func (p Params) heightBound() float64 {
	var bound float64
	switch {
	case p.Corners != nil:
		for _, c := range p.Corners {
			bound = math.Max(bound, math.Abs(c))
		}
	case p.Tile != nil:
		bound = 1 // TileCorners лежат в [0, 1)
	default:
		bound = p.InitialRoughness
	}

	var decay float64
	for pass := 0; pass < Levels(p.Size); pass++ {
		decay += math.Pow(2, -float64(pass)*p.H)
	}
	return bound + p.InitialRoughness*decay
}

// Refiner заполняет сетку алгоритмом Diamond-Square.
// Refiner владеет сеткой до окончания Run и не синхронизирован.
type Refiner struct {
	params Params
	source AmplitudeSource
	grid   *Grid
	done   bool
}

// NewRefiner проверяет параметры и выделяет сетку. Источник используется
// как есть, без пересева; nil заменяется на RandSource с params.Seed.
func NewRefiner(params Params, source AmplitudeSource) (*Refiner, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	grid, err := NewGrid(params.Size)
	if err != nil {
		return nil, err
	}

	if source == nil {
		source = NewRandSource(params.Seed)
	}

	return &Refiner{
		params: params,
		source: source,
		grid:   grid,
	}, nil
}

// Generate создаёт карту высот с источником RandSource, засеянным params.Seed.
func Generate(params Params) (*Grid, error) {
	r, err := NewRefiner(params, NewRandSource(params.Seed))
	if err != nil {
		return nil, err
	}
	return r.Run(), nil
}

// Run выполняет засев углов и все проходы. Повторный вызов возвращает
// ту же сетку без повторной генерации.
func (r *Refiner) Run() *Grid {
	if r.done {
		return r.grid
	}

	r.seedCorners()

	size := r.grid.size
	for pass, step := 0, size-1; step > 1; pass, step = pass+1, step/2 {
		stats := PassStats{
			Pass:      pass,
			Step:      step,
			Amplitude: r.amplitude(pass),
		}

		r.squareStep(step, &stats)
		r.diamondStep(step, &stats)

		if r.params.Observer != nil {
			r.params.Observer(stats)
		}
	}

	r.done = true
	return r.grid
}

// amplitude возвращает a0 * 2^(-pass*H).
func (r *Refiner) amplitude(pass int) float64 {
	return r.params.InitialRoughness * math.Pow(2, -float64(pass)*r.params.H)
}

// seedCorners записывает четыре угла. Далее углы не перезаписываются.
func (r *Refiner) seedCorners() {
	var values [4]float64
	switch {
	case r.params.Corners != nil:
		values = *r.params.Corners
	case r.params.Tile != nil:
		values = TileCorners(r.params.Seed, r.params.Tile.X, r.params.Tile.Y)
	default:
		for i := range values {
			values[i] = r.source.Next(r.params.InitialRoughness)
		}
	}

	for i, c := range r.grid.Corners() {
		r.grid.put(c.X, c.Y, values[i])
	}
}

// squareStep вычисляет центры всех квадратов step x step.
// Обход построчный: y снаружи, x внутри.
func (r *Refiner) squareStep(step int, stats *PassStats) {
	g := r.grid
	half := step / 2
	last := g.size - 1

	for y := 0; y < last; y += step {
		for x := 0; x < last; x += step {
			sum := g.cells[y*g.size+x] +
				g.cells[y*g.size+x+step] +
				g.cells[(y+step)*g.size+x] +
				g.cells[(y+step)*g.size+x+step]
			r.perturb(x+half, y+half, sum/4, stats)
		}
	}
}

// diamondStep вычисляет середины рёбер. На строках, кратных step, середины
// лежат в x = half, half+step, ...; на промежуточных строках в x = 0, step, ...
// Граничные точки усредняются только по существующим соседям.
func (r *Refiner) diamondStep(step int, stats *PassStats) {
	g := r.grid
	half := step / 2

	for y := 0; y < g.size; y += half {
		start := half
		if (y/half)%2 == 1 {
			start = 0
		}

		for x := start; x < g.size; x += step {
			p := vec.Vec2{X: x, Y: y}
			var sum float64
			n := 0

			// Порядок суммирования: слева, справа, сверху, снизу.
			for _, nb := range [4]vec.Vec2{p.Offset(-half, 0), p.Offset(half, 0), p.Offset(0, -half), p.Offset(0, half)} {
				if nb.InSquare(g.size) {
					sum += g.cells[nb.Index(g.size)]
					n++
				}
			}

			r.perturb(x, y, sum/float64(n), stats)
		}
	}
}

// perturb записывает среднее плюс одно случайное смещение.
func (r *Refiner) perturb(x, y int, mean float64, stats *PassStats) {
	d := r.source.Next(stats.Amplitude)
	r.grid.put(x, y, mean+d)

	stats.Cells++
	if ad := math.Abs(d); ad > stats.MaxPerturbation {
		stats.MaxPerturbation = ad
	}
}
