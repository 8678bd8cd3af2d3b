package eventbus

import "time"

// Типы событий сервиса рельефа.
const (
	HeightmapGenerated = "HeightmapGenerated"
	HeightmapDeleted   = "HeightmapDeleted"
)

// GeneratedPayload публикуется после сохранения новой карты высот.
type GeneratedPayload struct {
	ID        string        `json:"id"`
	Size      int           `json:"size"`
	Seed      int64         `json:"seed"`
	Roughness float64       `json:"roughness"`
	H         float64       `json:"h"`
	Duration  time.Duration `json:"duration_ns"`
	Min       float64       `json:"min"`
	Max       float64       `json:"max"`
}

// DeletedPayload публикуется после удаления карты высот.
type DeletedPayload struct {
	ID string `json:"id"`
}
