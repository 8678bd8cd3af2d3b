package terrain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/annel0/terrain/internal/config"
	"github.com/annel0/terrain/internal/heightmap"
	"github.com/annel0/terrain/internal/vec"
	"github.com/cespare/xxhash/v2"
)

// ErrSizeLimit возвращается, если размер допустим для алгоритма,
// но выходит за пределы, разрешённые конфигурацией сервиса.
var ErrSizeLimit = errors.New("terrain: size outside configured limits")

// Request описывает запрос на генерацию. Незаданные поля берутся из
// конфигурации генератора; без Seed и SeedText сид выбирается случайно.
type Request struct {
	Size      int         `json:"size,omitempty"`
	Seed      *int64      `json:"seed,omitempty"`
	SeedText  string      `json:"seed_text,omitempty"`
	Roughness *float64    `json:"roughness,omitempty"`
	H         *float64    `json:"h,omitempty"`
	Corners   *[4]float64 `json:"corners,omitempty"`
	Tile      *vec.Vec2   `json:"tile,omitempty"`
}

// Resolve подставляет значения по умолчанию и проверяет ограничения.
func (r Request) Resolve(limits config.GeneratorConfig) (heightmap.Params, error) {
	p := heightmap.Params{
		Size:             r.Size,
		InitialRoughness: limits.DefaultRoughness,
		H:                limits.DefaultH,
		Corners:          r.Corners,
		Tile:             r.Tile,
	}
	if p.Size == 0 {
		p.Size = limits.DefaultSize
	}
	if r.Roughness != nil {
		p.InitialRoughness = *r.Roughness
	}
	if r.H != nil {
		p.H = *r.H
	}

	switch {
	case r.SeedText != "":
		p.Seed = heightmap.SeedFromString(r.SeedText)
	case r.Seed != nil:
		p.Seed = *r.Seed
	default:
		p.Seed = time.Now().UnixNano()
	}

	if err := p.Validate(); err != nil {
		return heightmap.Params{}, err
	}
	if p.Size < limits.MinSize || p.Size > limits.MaxSize {
		return heightmap.Params{}, fmt.Errorf("%w: %d not in [%d, %d]", ErrSizeLimit, p.Size, limits.MinSize, limits.MaxSize)
	}
	return p, nil
}

// KeyFor возвращает детерминированный идентификатор карты: xxhash64
// канонического представления параметров в виде 16 hex-символов.
// Одинаковые параметры всегда дают одинаковую карту и одинаковый id.
func KeyFor(p heightmap.Params) string {
	buf := make([]byte, 0, 96)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.Size))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Seed))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.InitialRoughness))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.H))

	switch {
	case p.Corners != nil:
		buf = append(buf, 'c')
		for _, c := range p.Corners {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(c))
		}
	case p.Tile != nil:
		buf = append(buf, 't')
		buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(p.Tile.X)))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(p.Tile.Y)))
	default:
		buf = append(buf, 'r')
	}

	return fmt.Sprintf("%016x", xxhash.Sum64(buf))
}

// ValidID проверяет формат идентификатора, выданного KeyFor.
func ValidID(id string) bool {
	if len(id) != 16 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
