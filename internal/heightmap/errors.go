package heightmap

import (
	"errors"
	"fmt"
)

// Ошибки генератора карты высот. Конкретные типы ошибок сопоставляются с
// ними через errors.Is.
var (
	ErrInvalidSize      = errors.New("heightmap: invalid grid size")
	ErrOutOfBounds      = errors.New("heightmap: coordinate out of bounds")
	ErrInvalidParameter = errors.New("heightmap: invalid parameter")
)

// InvalidSizeError сообщает, что размер сетки не имеет вид 2^k+1 (k >= 1).
type InvalidSizeError struct {
	Size int
}

func (e *InvalidSizeError) Error() string {
	return fmt.Sprintf("heightmap: invalid grid size %d: must be 2^k+1 with k >= 1", e.Size)
}

// Is позволяет сравнивать ошибку с ErrInvalidSize.
func (e *InvalidSizeError) Is(target error) bool {
	return target == ErrInvalidSize
}

// OutOfBoundsError сообщает об обращении к координатам вне [0, size).
type OutOfBoundsError struct {
	X, Y int
	Size int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("heightmap: coordinate (%d,%d) out of bounds for grid size %d", e.X, e.Y, e.Size)
}

// Is позволяет сравнивать ошибку с ErrOutOfBounds.
func (e *OutOfBoundsError) Is(target error) bool {
	return target == ErrOutOfBounds
}

// InvalidParameterError сообщает о недопустимом параметре генерации
// (шероховатость, показатель H, угловые значения).
type InvalidParameterError struct {
	Name   string
	Value  float64
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("heightmap: invalid %s %v: %s", e.Name, e.Value, e.Reason)
}

// Is позволяет сравнивать ошибку с ErrInvalidParameter.
func (e *InvalidParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}

// ValidSize проверяет, что size = 2^k+1 и size >= 3.
func ValidSize(size int) bool {
	n := size - 1
	return size >= 3 && n&(n-1) == 0
}

// Levels возвращает количество проходов k для размера 2^k+1.
// Для недопустимого размера возвращает 0.
func Levels(size int) int {
	if !ValidSize(size) {
		return 0
	}
	k := 0
	for n := size - 1; n > 1; n >>= 1 {
		k++
	}
	return k
}
