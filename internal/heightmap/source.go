package heightmap

import (
	"encoding/binary"
	"math"
	"math/rand"

	"github.com/cespare/xxhash/v2"
)

// AmplitudeSource выдаёт случайные смещения в симметричном диапазоне.
// Генератор последовательный и хранит состояние, поэтому порядок вызовов
// Next определяет результат генерации.
type AmplitudeSource interface {
	// Seed детерминированно переинициализирует генератор.
	Seed(seed int64)

	// Next возвращает значение из [-amplitude, +amplitude].
	// Для amplitude <= 0 возвращает 0, отрицательная амплитуда не
	// отражается в симметричный диапазон.
	Next(amplitude float64) float64
}

// RandSource реализует AmplitudeSource поверх math/rand.
type RandSource struct {
	rng *rand.Rand
}

// NewRandSource создаёт источник, инициализированный сидом.
func NewRandSource(seed int64) *RandSource {
	s := &RandSource{}
	s.Seed(seed)
	return s
}

// Seed сбрасывает состояние генератора.
func (s *RandSource) Seed(seed int64) {
	s.rng = rand.New(rand.NewSource(seed))
}

// Next возвращает равномерное значение из [-amplitude, +amplitude].
// Нулевая, отрицательная или нечисловая амплитуда даёт 0 и не сдвигает
// состояние генератора.
func (s *RandSource) Next(amplitude float64) float64 {
	if !(amplitude > 0) || math.IsInf(amplitude, 0) {
		return 0
	}
	return (s.rng.Float64()*2 - 1) * amplitude
}

// SeedFromString превращает текстовый сид в int64 через xxhash.
func SeedFromString(seed string) int64 {
	return int64(xxhash.Sum64String(seed))
}

// TileCorners вычисляет угловые высоты тайла (tx, ty) как хеш узлов решётки
// тайлов. Соседние тайлы получают одинаковые значения на общих углах.
// Порядок совпадает с Grid.Corners: (tx,ty), (tx,ty+1), (tx+1,ty), (tx+1,ty+1).
func TileCorners(seed int64, tx, ty int) [4]float64 {
	return [4]float64{
		latticeHash(seed, tx, ty),
		latticeHash(seed, tx, ty+1),
		latticeHash(seed, tx+1, ty),
		latticeHash(seed, tx+1, ty+1),
	}
}

// latticeHash возвращает значение в [0, 1), зависящее только от сида и узла.
func latticeHash(seed int64, x, y int) float64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(seed))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(int32(x)))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(int32(y)))

	h := xxhash.Sum64(buf[:])
	return float64(h>>11) / (1 << 53)
}
