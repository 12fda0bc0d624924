// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/logdict/backend/internal/dictstore"
	"github.com/logdict/backend/internal/parser"
	"github.com/logdict/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store         storage.Store
	Builds        BuildManager
	Dictionaries  *dictstore.PersistentStore // nil when persistence is disabled
	Registry      *parser.Registry
	DefaultFormat string
	Version       string
	Logger        *slog.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health       HealthHandler
	Files        FileHandler
	Formats      FormatHandler
	Builds       BuildHandler
	Dictionaries DictionaryHandler
	WebSocket    *WebSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	registry := deps.Registry
	if registry == nil {
		registry = parser.GetGlobalRegistry()
	}
	return &Handlers{
		Health:       NewHealthHandler(deps.Version, deps.Builds),
		Files:        NewFileHandler(deps.Store),
		Formats:      NewFormatHandler(registry, deps.DefaultFormat),
		Builds:       NewBuildHandler(deps.Store, deps.Builds),
		Dictionaries: NewDictionaryHandler(deps.Dictionaries),
		WebSocket:    NewWebSocketHandler(deps.Builds, deps.Logger),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Log files
	fileGroup := apiGroup.Group("/files")
	fileGroup.POST("/upload", handlers.Files.HandleUploadFile)
	fileGroup.GET("/recent", handlers.Files.HandleGetRecentFiles)
	fileGroup.GET("/:id", handlers.Files.HandleGetFile)
	fileGroup.DELETE("/:id", handlers.Files.HandleDeleteFile)

	apiGroup.GET("/formats", handlers.Formats.HandleListFormats)

	// Build sessions
	buildGroup := apiGroup.Group("/builds")
	buildGroup.POST("", handlers.Builds.HandleStartBuild)
	buildGroup.GET("", handlers.Builds.HandleListBuilds)
	buildGroup.GET("/:buildId/status", handlers.Builds.HandleBuildStatus)
	buildGroup.POST("/:buildId/keepalive", handlers.Builds.HandleBuildKeepAlive)
	buildGroup.GET("/:buildId/progress", handlers.Builds.HandleBuildProgressStream)
	buildGroup.GET("/:buildId/ws", handlers.WebSocket.HandleBuildWebSocket)
	buildGroup.GET("/:buildId/pairs", handlers.Builds.HandleGetPairs)
	buildGroup.GET("/:buildId/triples", handlers.Builds.HandleGetTriples)
	buildGroup.GET("/:buildId/vocabulary", handlers.Builds.HandleGetVocabulary)
	buildGroup.GET("/:buildId/export/msgpack", handlers.Builds.HandleExportMsgpack)

	// Persisted dictionaries
	dictGroup := apiGroup.Group("/dictionaries")
	dictGroup.GET("", handlers.Dictionaries.HandleListDictionaries)
	dictGroup.GET("/:buildId/top", handlers.Dictionaries.HandleTopEntries)
	dictGroup.DELETE("/:buildId", handlers.Dictionaries.HandleDeleteDictionary)
}

// RegisterMetrics exposes the Prometheus registry at /metrics
func RegisterMetrics(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// MiddlewareConfig selects the common middleware
type MiddlewareConfig struct {
	EnableCORS     bool
	AllowOrigins   []string
	RequestLogging bool
	BodyLimit      string
	Logger         *slog.Logger
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig) {
	e.HTTPErrorHandler = ErrorHandler

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	if cfg.RequestLogging {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return strings.HasSuffix(path, "/status") ||
					strings.HasSuffix(path, "/progress") ||
					path == "/api/health" ||
					path == "/metrics"
			},
			LogMethod:  true,
			LogURI:     true,
			LogStatus:  true,
			LogLatency: true,
			LogError:   true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
				if v.Error != nil {
					log.Warn("request", append(attrs, "error", v.Error)...)
					return nil
				}
				log.Info("request", attrs...)
				return nil
			},
		}))
	}

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	if cfg.EnableCORS {
		origins := cfg.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}
}

// SplitOrigins parses a comma-separated origin list from configuration
func SplitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
