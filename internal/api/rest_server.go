package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/annel0/terrain/internal/auth"
	"github.com/annel0/terrain/internal/logging"
	"github.com/annel0/terrain/internal/middleware"
	"github.com/annel0/terrain/internal/terrain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Version версия REST API, отдаваемая в /api/server
const Version = "v1.0.0"

// RestServer представляет REST API сервер
type RestServer struct {
	router  *gin.Engine
	server  *http.Server
	service *terrain.Service
	issuer  *auth.Issuer
	port    string
	stats   *statsCollector
	logger  *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port       string           // порт для запуска сервера
	Service    *terrain.Service // сервис генерации карт
	Issuer     *auth.Issuer     // nil: DELETE доступен без токена
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Logger     *logging.Logger
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8088"
	}
	if config.Logger == nil {
		config.Logger = logging.GetAPILogger()
	}

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware("terrain_api"))

	loggerMw := middleware.NewRequestLogger(config.Logger)
	router.Use(loggerMw.Handler())

	promMw := middleware.NewPrometheusMiddleware("terrain_api", config.Registerer, config.Gatherer)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	rs := &RestServer{
		router:  router,
		service: config.Service,
		issuer:  config.Issuer,
		port:    config.Port,
		stats:   newStatsCollector(),
		logger:  config.Logger,
	}

	// Настраиваем маршруты
	rs.setupRoutes()

	return rs
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.Use(corsMiddleware())

	// Группа API
	api := rs.router.Group("/api")

	maps := api.Group("/heightmaps")
	{
		maps.POST("", rs.handleGenerate)
		maps.GET("", rs.handleList)
		maps.GET("/:id", rs.handleGet)
		maps.GET("/:id/cell", rs.handleCell)
		maps.GET("/:id/png", rs.handlePNG)

		// Удаление требует прав администратора, если настроен JWT
		if rs.issuer != nil {
			maps.DELETE("/:id", rs.jwtMiddleware(), rs.adminMiddleware(), rs.handleDelete)
		} else {
			maps.DELETE("/:id", rs.handleDelete)
		}
	}

	api.GET("/server", rs.handleServerInfo)

	// Health check
	rs.router.GET("/health", rs.handleHealth)
}

// Handler возвращает http.Handler сервера (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// handleServerInfo возвращает информацию о сервере
func (rs *RestServer) handleServerInfo(c *gin.Context) {
	stats, err := rs.stats.Collect(c.Request.Context(), rs.service)
	if err != nil {
		rs.fail(c, err)
		return
	}

	limits := rs.service.Limits()
	info := map[string]interface{}{
		"version":      Version,
		"name":         "Terrain Heightmap Server",
		"status":       "running",
		"default_size": limits.DefaultSize,
		"min_size":     limits.MinSize,
		"max_size":     limits.MaxSize,
		"auth_enabled": rs.issuer != nil,
		"stats":        stats,
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Информация о сервере",
		Data:    info,
	})
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// Start запускает REST сервер и блокируется до Stop
func (rs *RestServer) Start() error {
	rs.server = &http.Server{
		Addr:              rs.port,
		Handler:           rs.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	rs.logger.Info("🌐 REST API слушает %s", rs.port)
	if err := rs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop выполняет graceful shutdown
func (rs *RestServer) Stop(ctx context.Context) error {
	if rs.server == nil {
		return nil
	}
	return rs.server.Shutdown(ctx)
}
