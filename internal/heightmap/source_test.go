package heightmap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequenceSource возвращает amplitude * values[i] по кругу.
type sequenceSource struct {
	values []float64
	calls  []float64 // запрошенные амплитуды
	next   int
}

func (s *sequenceSource) Seed(int64) { s.next = 0 }

func (s *sequenceSource) Next(amplitude float64) float64 {
	s.calls = append(s.calls, amplitude)
	if !(amplitude > 0) {
		return 0
	}
	v := s.values[s.next%len(s.values)]
	s.next++
	return amplitude * v
}

func TestRandSource_Deterministic(t *testing.T) {
	a := NewRandSource(42)
	b := NewRandSource(42)
	c := NewRandSource(43)

	var differs bool
	for i := 0; i < 1000; i++ {
		va, vb, vc := a.Next(3), b.Next(3), c.Next(3)
		require.Equal(t, math.Float64bits(va), math.Float64bits(vb), "одинаковый сид даёт одинаковую последовательность")
		if va != vc {
			differs = true
		}
	}
	assert.True(t, differs, "разные сиды должны давать разные последовательности")
}

func TestRandSource_Reseed(t *testing.T) {
	s := NewRandSource(7)
	first := []float64{s.Next(1), s.Next(1), s.Next(1)}

	s.Seed(7)
	second := []float64{s.Next(1), s.Next(1), s.Next(1)}
	assert.Equal(t, first, second)
}

func TestRandSource_Range(t *testing.T) {
	s := NewRandSource(1)
	for _, amp := range []float64{1e-9, 0.5, 1, 10, 1e6} {
		for i := 0; i < 2000; i++ {
			v := s.Next(amp)
			require.LessOrEqual(t, math.Abs(v), amp)
		}
	}
}

func TestRandSource_ZeroAndInvalidAmplitude(t *testing.T) {
	s := NewRandSource(5)
	ref := NewRandSource(5)

	assert.Equal(t, 0.0, s.Next(0))
	assert.Equal(t, 0.0, s.Next(-1))
	assert.Equal(t, 0.0, s.Next(math.NaN()))
	assert.Equal(t, 0.0, s.Next(math.Inf(1)))

	// Нулевая амплитуда не сдвигает состояние
	assert.Equal(t, ref.Next(2), s.Next(2))
}

func TestSeedFromString(t *testing.T) {
	assert.Equal(t, SeedFromString("mountains"), SeedFromString("mountains"))
	assert.NotEqual(t, SeedFromString("mountains"), SeedFromString("valleys"))
}

func TestTileCorners_SharedEdges(t *testing.T) {
	const seed = 99

	base := TileCorners(seed, 0, 0)
	right := TileCorners(seed, 1, 0)
	below := TileCorners(seed, 0, 1)

	// Углы в порядке (tx,ty), (tx,ty+1), (tx+1,ty), (tx+1,ty+1)
	assert.Equal(t, base[2], right[0], "общий угол (1,0)")
	assert.Equal(t, base[3], right[1], "общий угол (1,1)")
	assert.Equal(t, base[1], below[0], "общий угол (0,1)")
	assert.Equal(t, base[3], below[2], "общий угол (1,1)")

	for _, v := range base {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}

	assert.NotEqual(t, base, TileCorners(seed+1, 0, 0))
	assert.Equal(t, base, TileCorners(seed, 0, 0))
}
