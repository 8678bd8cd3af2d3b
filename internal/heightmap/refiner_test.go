package heightmap

import (
	"math"
	"testing"

	"github.com/annel0/terrain/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cornersOf(values ...float64) *[4]float64 {
	var c [4]float64
	copy(c[:], values)
	return &c
}

func gridValue(t *testing.T, g *Grid, x, y int) float64 {
	t.Helper()
	v, err := g.Get(x, y)
	require.NoError(t, err)
	return v
}

func TestRefiner_FixedSequence(t *testing.T) {
	src := &sequenceSource{values: []float64{0.5, -0.25, 1.0, -1.0, 0.75, 0.0}}
	r, err := NewRefiner(Params{
		Size:             5,
		InitialRoughness: 4,
		H:                1,
		Corners:          cornersOf(1, 2, 3, 4),
	}, src)
	require.NoError(t, err)

	g := r.Run()

	// expected[y][x]
	expected := [5][5]float64{
		{1.0, 0.09722222222222232, 1.8333333333333335, 4.208333333333334, 3.0},
		{3.652777777777778, 3.4583333333333335, 4.270833333333334, 3.291666666666667, 1.5416666666666665},
		{6.5, 6.708333333333334, 4.5, 1.333333333333334, -0.16666666666666652},
		{5.791666666666667, 4.375, 5.270833333333334, 5.708333333333334, 4.180555555555555},
		{2.0, 3.791666666666667, 6.5, 7.402777777777779, 4.0},
	}
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			assert.InDelta(t, expected[y][x], gridValue(t, g, x, y), 1e-12, "ячейка (%d,%d)", x, y)
		}
	}

	// 25 ячеек минус 4 угла, каждая ровно одно смещение
	require.Len(t, src.calls, 21)
	for i, amp := range src.calls {
		if i < 5 {
			assert.Equal(t, 4.0, amp, "проход 0: 1 square + 4 diamond")
		} else {
			assert.Equal(t, 2.0, amp, "проход 1: 4 square + 12 diamond")
		}
	}
}

func TestRefiner_BoundaryAveragesAvailableNeighbours(t *testing.T) {
	src := &sequenceSource{values: []float64{0, 0.5}}
	r, err := NewRefiner(Params{
		Size:             3,
		InitialRoughness: 1,
		H:                1,
		Corners:          cornersOf(1, 2, 3, 4),
	}, src)
	require.NoError(t, err)
	g := r.Run()

	// Углы: (0,0)=1, (0,2)=2, (2,0)=3, (2,2)=4
	center := gridValue(t, g, 1, 1)
	assert.Equal(t, 2.5, center)

	// (1,0): соседи (0,0), (2,0), (1,1): трое, без неявного нуля
	top := gridValue(t, g, 1, 0)
	assert.InDelta(t, (1.0+3.0+2.5)/3+0.5, top, 1e-12)
	assert.NotEqual(t, (1.0+3.0+2.5)/4+0.5, top)

	assert.InDelta(t, (2.5+1.0+2.0)/3, gridValue(t, g, 0, 1), 1e-12)
	assert.InDelta(t, (2.5+3.0+4.0)/3+0.5, gridValue(t, g, 2, 1), 1e-12)
	assert.InDelta(t, (2.0+4.0+2.5)/3, gridValue(t, g, 1, 2), 1e-12)
}

func TestGenerate_Determinism(t *testing.T) {
	params := Params{Size: 65, Seed: 1234, InitialRoughness: 3, H: 0.8, Corners: cornersOf(0, 1, 2, 3)}

	a, err := Generate(params)
	require.NoError(t, err)
	b, err := Generate(params)
	require.NoError(t, err)
	assert.True(t, a.Equal(b), "одинаковые параметры должны давать побитово одинаковые сетки")

	params.Seed++
	c, err := Generate(params)
	require.NoError(t, err)
	assert.False(t, a.Equal(c), "другой сид должен давать другую сетку")
}

func TestGenerate_CornerPreservationAndCoverage(t *testing.T) {
	cases := []Params{
		{Size: 3, Seed: 1, InitialRoughness: 1, H: 1, Corners: cornersOf(0, 0, 0, 0)},
		{Size: 5, Seed: 2, InitialRoughness: 10, H: 0.5, Corners: cornersOf(-1.5, 2.25, 1e6, -3)},
		{Size: 33, Seed: 3, InitialRoughness: 100, H: 0.1, Corners: cornersOf(1, 2, 3, 4)},
		{Size: 257, Seed: 4, InitialRoughness: 2, H: 2, Corners: cornersOf(0.1, 0.2, 0.3, 0.4)},
	}

	for _, params := range cases {
		g, err := Generate(params)
		require.NoError(t, err)

		for i, c := range g.Corners() {
			assert.Equal(t, params.Corners[i], g.At(c), "угол %v должен совпадать с заданным (size=%d)", c, params.Size)
		}

		for _, v := range g.Values() {
			require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "все значения должны быть конечными")
		}
	}
}

func TestGenerate_EveryCellWrittenOnce(t *testing.T) {
	const size = 17
	src := &sequenceSource{values: []float64{1}}

	var cells int
	r, err := NewRefiner(Params{
		Size:             size,
		InitialRoughness: 1,
		H:                1,
		Corners:          cornersOf(0, 0, 0, 0),
		Observer:         func(s PassStats) { cells += s.Cells },
	}, src)
	require.NoError(t, err)
	r.Run()

	assert.Equal(t, size*size-4, cells)
	assert.Len(t, src.calls, size*size-4)
}

func TestGenerate_SizeValidation(t *testing.T) {
	_, err := Generate(Params{Size: 4, Seed: 1, InitialRoughness: 1, H: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSize)

	var sizeErr *InvalidSizeError
	assert.ErrorAs(t, err, &sizeErr)

	g, err := Generate(Params{Size: 5, Seed: 1, InitialRoughness: 1, H: 1})
	require.NoError(t, err)
	w, h := g.Dimensions()
	assert.Equal(t, 5, w)
	assert.Equal(t, 5, h)
}

func TestGenerate_InvalidParameters(t *testing.T) {
	cases := []Params{
		{Size: 5, InitialRoughness: 1, H: 0},
		{Size: 5, InitialRoughness: 1, H: -1},
		{Size: 5, InitialRoughness: 1, H: math.NaN()},
		{Size: 5, InitialRoughness: -1, H: 1},
		{Size: 5, InitialRoughness: math.Inf(1), H: 1},
		{Size: 5, InitialRoughness: 1, H: 1, Corners: cornersOf(0, math.NaN(), 0, 0)},
		{Size: 9, Seed: 1, InitialRoughness: 1e308, H: 0.01, Corners: cornersOf(0, 0, 0, 0)},
		{Size: 9, Seed: 1, InitialRoughness: 1, H: 1, Corners: cornersOf(1e308, 1e308, 1e308, 1e308)},
		{Size: 9, Seed: 1, InitialRoughness: math.MaxFloat64, H: 1},
	}
	for _, params := range cases {
		_, err := Generate(params)
		assert.ErrorIs(t, err, ErrInvalidParameter, "параметры %+v", params)
	}
}

func TestGenerate_LargeFiniteInputsStayFinite(t *testing.T) {
	cases := []Params{
		{Size: 9, Seed: 1, InitialRoughness: math.MaxFloat64 / 16, H: 1, Corners: cornersOf(0, 0, 0, 0)},
		{Size: 9, Seed: 2, InitialRoughness: 1e300, H: 0.01, Corners: cornersOf(1e300, -1e300, 0, 0)},
		{Size: 33, Seed: 3, InitialRoughness: 1e305, H: 0.5},
	}
	for _, params := range cases {
		g, err := Generate(params)
		require.NoError(t, err, "параметры %+v", params)

		for _, v := range g.Values() {
			require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "значение %v при %+v", v, params)
		}
		lo, hi := g.MinMax()
		assert.False(t, math.IsInf(lo, 0) || math.IsInf(hi, 0))
	}
}

func TestGenerate_AmplitudeDecay(t *testing.T) {
	// Источник всегда отдаёт верхнюю границу, так что максимум смещения
	// на проходе равен амплитуде этого прохода.
	src := &sequenceSource{values: []float64{1}}

	var passes []PassStats
	r, err := NewRefiner(Params{
		Size:             129,
		InitialRoughness: 8,
		H:                0.7,
		Corners:          cornersOf(0, 0, 0, 0),
		Observer:         func(s PassStats) { passes = append(passes, s) },
	}, src)
	require.NoError(t, err)
	r.Run()

	require.Len(t, passes, 7)
	for i, p := range passes {
		assert.Equal(t, i, p.Pass)
		assert.Equal(t, 128>>i, p.Step)
		assert.InDelta(t, 8*math.Pow(2, -0.7*float64(i)), p.Amplitude, 1e-12)
		assert.Equal(t, p.Amplitude, p.MaxPerturbation)

		if i > 0 {
			assert.Less(t, p.MaxPerturbation, passes[i-1].MaxPerturbation, "амплитуда должна строго убывать")
		}
	}
}

func TestGenerate_ObservedPerturbationWithinAmplitude(t *testing.T) {
	var passes []PassStats
	_, err := Generate(Params{
		Size:             65,
		Seed:             9,
		InitialRoughness: 5,
		H:                1,
		Observer:         func(s PassStats) { passes = append(passes, s) },
	})
	require.NoError(t, err)

	require.Len(t, passes, 6)
	for _, p := range passes {
		assert.LessOrEqual(t, p.MaxPerturbation, p.Amplitude)
	}
}

func TestRefiner_RandomCornersDrawnFirst(t *testing.T) {
	src := &sequenceSource{values: []float64{0.25, -0.5, 0.75, -1}}
	r, err := NewRefiner(Params{Size: 3, InitialRoughness: 2, H: 1}, src)
	require.NoError(t, err)
	g := r.Run()

	assert.Equal(t, 0.5, g.At(vec.Vec2{X: 0, Y: 0}))
	assert.Equal(t, -1.0, g.At(vec.Vec2{X: 0, Y: 2}))
	assert.Equal(t, 1.5, g.At(vec.Vec2{X: 2, Y: 0}))
	assert.Equal(t, -2.0, g.At(vec.Vec2{X: 2, Y: 2}))
	assert.Len(t, src.calls, 9)
}

func TestRefiner_TileCorners(t *testing.T) {
	tile := vec.Vec2{X: 3, Y: -2}
	g, err := Generate(Params{Size: 9, Seed: 77, InitialRoughness: 1, H: 1, Tile: &tile})
	require.NoError(t, err)

	want := TileCorners(77, 3, -2)
	for i, c := range g.Corners() {
		assert.Equal(t, want[i], g.At(c))
	}
}

func TestRefiner_RunIsIdempotent(t *testing.T) {
	r, err := NewRefiner(Params{Size: 9, Seed: 5, InitialRoughness: 1, H: 1}, nil)
	require.NoError(t, err)

	first := r.Run()
	snapshot := first.Clone()
	second := r.Run()

	assert.Same(t, first, second)
	assert.True(t, snapshot.Equal(second), "повторный Run не должен менять сетку")
}

// TestGenerate_Golden фиксирует выход для size=5, seed=42, углы 0, a0=10, H=1.
func TestGenerate_Golden(t *testing.T) {
	g, err := Generate(Params{
		Size:             5,
		Seed:             42,
		InitialRoughness: 10,
		H:                1,
		Corners:          cornersOf(0, 0, 0, 0),
	})
	require.NoError(t, err)

	// expected[y][x]
	expected := [5][5]float64{
		{0, -3.0036231297571754, -9.52646765715209, -1.3376059233578048, 0},
		{-3.700681858291443, -3.8756922502934046, -5.757377967521125, -1.555229632793389, -6.52939676331723},
		{1.2353994381503917, -0.6483411562183403, -2.5394327790673477, -4.520271436300679, -6.670103531929267},
		{1.2107661778666725, -3.974076941043364, -3.4529598936170838, -5.964464652510731, 0.20518941737645235},
		{0, 0.05974439901372719, -9.970108421034963, -9.118206390211235, 0},
	}
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			assert.Equal(t, expected[y][x], gridValue(t, g, x, y), "выход генератора изменился в (%d,%d)", x, y)
		}
	}
}
