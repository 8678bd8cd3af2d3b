// Package codec сериализует сгенерированные карты высот для хранилища и кеша.
//
// Формат записи:
//
//	"DSQH" | version(1 байт) | zstd( headerLen(uint32) | header(JSON) | size(uint32) | size*size float64 LE )
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/annel0/terrain/internal/heightmap"
	"github.com/annel0/terrain/internal/vec"
	"github.com/klauspost/compress/zstd"
)

const (
	magic   = "DSQH"
	Version = 1

	// maxGridSize ограничивает размер при декодировании повреждённых данных
	maxGridSize = 1<<14 + 1
)

// ErrCorrupt возвращается для данных, которые не являются записью карты высот.
var ErrCorrupt = errors.New("codec: corrupt heightmap record")

// Meta описывает параметры, с которыми была получена карта высот.
type Meta struct {
	ID        string        `json:"id"`
	Size      int           `json:"size"`
	Seed      int64         `json:"seed"`
	SeedText  string        `json:"seed_text,omitempty"`
	Roughness float64       `json:"roughness"`
	H         float64       `json:"h"`
	Corners   *[4]float64   `json:"corners,omitempty"`
	Tile      *vec.Vec2     `json:"tile,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	Duration  time.Duration `json:"duration_ns"`
	Min       float64       `json:"min"`
	Max       float64       `json:"max"`
}

// Record объединяет метаданные и саму сетку.
type Record struct {
	Meta Meta
	Grid *heightmap.Grid
}

// Codec сжимает записи zstd. EncodeAll/DecodeAll безопасны для
// конкурентного использования, поэтому один Codec разделяется между горутинами.
type Codec struct {
	compressor   *zstd.Encoder
	decompressor *zstd.Decoder
}

// New создаёт кодек с заданным уровнем сжатия.
func New(level zstd.EncoderLevel) (*Codec, error) {
	compressor, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("codec: create compressor: %w", err)
	}

	decompressor, err := zstd.NewReader(nil)
	if err != nil {
		compressor.Close()
		return nil, fmt.Errorf("codec: create decompressor: %w", err)
	}

	return &Codec{compressor: compressor, decompressor: decompressor}, nil
}

// Default возвращает кодек со скоростью сжатия по умолчанию.
func Default() *Codec {
	c, err := New(zstd.SpeedDefault)
	if err != nil {
		panic(err)
	}
	return c
}

// Close освобождает ресурсы zstd.
func (c *Codec) Close() error {
	c.decompressor.Close()
	return c.compressor.Close()
}

// Encode сериализует запись.
func (c *Codec) Encode(rec *Record) ([]byte, error) {
	if rec == nil || rec.Grid == nil {
		return nil, fmt.Errorf("codec: nil record")
	}

	header, err := json.Marshal(rec.Meta)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal header: %w", err)
	}

	size := rec.Grid.Size()
	raw := make([]byte, 0, 8+len(header)+size*size*8)
	raw = binary.LittleEndian.AppendUint32(raw, uint32(len(header)))
	raw = append(raw, header...)
	raw = binary.LittleEndian.AppendUint32(raw, uint32(size))
	for _, v := range rec.Grid.Values() {
		raw = binary.LittleEndian.AppendUint64(raw, math.Float64bits(v))
	}

	out := make([]byte, 0, len(magic)+1+len(raw)/2)
	out = append(out, magic...)
	out = append(out, Version)
	return c.compressor.EncodeAll(raw, out), nil
}

// Decode восстанавливает запись.
func (c *Codec) Decode(data []byte) (*Record, error) {
	if len(data) < len(magic)+1 || !bytes.Equal(data[:len(magic)], []byte(magic)) {
		return nil, ErrCorrupt
	}
	if v := data[len(magic)]; v != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}

	raw, err := c.decompressor.DecodeAll(data[len(magic)+1:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if len(raw) < 4 {
		return nil, ErrCorrupt
	}
	headerLen := int(binary.LittleEndian.Uint32(raw))
	raw = raw[4:]
	if headerLen > len(raw) {
		return nil, ErrCorrupt
	}

	var rec Record
	if err := json.Unmarshal(raw[:headerLen], &rec.Meta); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	raw = raw[headerLen:]

	if len(raw) < 4 {
		return nil, ErrCorrupt
	}
	size := int(binary.LittleEndian.Uint32(raw))
	raw = raw[4:]
	if size > maxGridSize || len(raw) != size*size*8 {
		return nil, ErrCorrupt
	}

	values := make([]float64, size*size)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}

	rec.Grid, err = heightmap.NewGridFromValues(size, values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &rec, nil
}
