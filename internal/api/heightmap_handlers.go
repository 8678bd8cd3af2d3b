package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/annel0/terrain/internal/codec"
	"github.com/annel0/terrain/internal/heightmap"
	"github.com/annel0/terrain/internal/palette"
	"github.com/annel0/terrain/internal/terrain"
	"github.com/gin-gonic/gin"
)

// HeightmapResponse описывает карту в ответах API
type HeightmapResponse struct {
	Meta  codec.Meta     `json:"meta"`
	Bands map[string]int `json:"bands,omitempty"`
	Rows  [][]float64    `json:"rows,omitempty"`
}

// CellResponse описывает одну ячейку карты
type CellResponse struct {
	ID     string  `json:"id"`
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Height float64 `json:"height"`
	Band   string  `json:"band"`
}

// statusFor сопоставляет ошибку сервиса HTTP-статусу
func statusFor(err error) int {
	switch {
	case errors.Is(err, terrain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, heightmap.ErrInvalidSize),
		errors.Is(err, heightmap.ErrInvalidParameter),
		errors.Is(err, heightmap.ErrOutOfBounds),
		errors.Is(err, terrain.ErrSizeLimit):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (rs *RestServer) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, GenericResponse{
		Success: false,
		Message: err.Error(),
	})
}

func bandCounts(g *heightmap.Grid) map[string]int {
	hist := palette.Histogram(g)
	out := make(map[string]int, len(hist))
	for band, n := range hist {
		out[band.String()] = n
	}
	return out
}

// handleGenerate создаёт карту высот (201) или возвращает существующую (200)
func (rs *RestServer) handleGenerate(c *gin.Context) {
	var req terrain.Request
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный JSON: " + err.Error(),
		})
		return
	}

	res, err := rs.service.Generate(c.Request.Context(), req)
	if err != nil {
		rs.fail(c, err)
		return
	}

	status, message := http.StatusCreated, "Карта высот создана"
	if res.Cached {
		status, message = http.StatusOK, "Карта высот уже существует"
	}

	c.Header("Location", "/api/heightmaps/"+res.Meta.ID)
	c.JSON(status, GenericResponse{
		Success: true,
		Message: message,
		Data: HeightmapResponse{
			Meta:  res.Meta,
			Bands: bandCounts(res.Grid),
		},
	})
}

// handleList возвращает метаданные всех карт
func (rs *RestServer) handleList(c *gin.Context) {
	metas, err := rs.service.List(c.Request.Context())
	if err != nil {
		rs.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список карт высот",
		Data: gin.H{
			"heightmaps": metas,
			"total":      len(metas),
		},
	})
}

// handleGet возвращает метаданные и значения карты.
// ?values=false отключает выдачу значений.
func (rs *RestServer) handleGet(c *gin.Context) {
	res, err := rs.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		rs.fail(c, err)
		return
	}

	resp := HeightmapResponse{
		Meta:  res.Meta,
		Bands: bandCounts(res.Grid),
	}
	if c.DefaultQuery("values", "true") != "false" {
		resp.Rows = res.Grid.Rows()
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Карта высот",
		Data:    resp,
	})
}

// handleCell возвращает высоту в точке ?x=&y=
func (rs *RestServer) handleCell(c *gin.Context) {
	x, errX := strconv.Atoi(c.Query("x"))
	y, errY := strconv.Atoi(c.Query("y"))
	if errX != nil || errY != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Параметры x и y должны быть целыми числами",
		})
		return
	}

	id := c.Param("id")
	v, err := rs.service.Cell(c.Request.Context(), id, x, y)
	if err != nil {
		rs.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Высота",
		Data: CellResponse{
			ID:     id,
			X:      x,
			Y:      y,
			Height: v,
			Band:   palette.Classify(palette.Squash(v)).String(),
		},
	})
}

// handlePNG отдаёт цветное превью карты
func (rs *RestServer) handlePNG(c *gin.Context) {
	var buf bytes.Buffer
	if err := rs.service.RenderPNG(c.Request.Context(), c.Param("id"), &buf); err != nil {
		rs.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// handleDelete удаляет карту
func (rs *RestServer) handleDelete(c *gin.Context) {
	id := c.Param("id")
	if err := rs.service.Delete(c.Request.Context(), id); err != nil {
		rs.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Карта высот удалена",
		Data:    gin.H{"id": id},
	})
}
