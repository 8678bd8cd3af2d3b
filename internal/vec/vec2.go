package vec

// Vec2 представляет 2D координаты узла сетки
type Vec2 struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Offset сдвигает точку на dx, dy
func (v Vec2) Offset(dx, dy int) Vec2 {
	return Vec2{X: v.X + dx, Y: v.Y + dy}
}

// InSquare проверяет, что точка лежит в квадрате [0, size) x [0, size)
func (v Vec2) InSquare(size int) bool {
	return v.X >= 0 && v.Y >= 0 && v.X < size && v.Y < size
}

// Index возвращает индекс точки в row-major буфере шириной width
func (v Vec2) Index(width int) int {
	return v.Y*width + v.X
}
