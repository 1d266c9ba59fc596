package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/auth"
	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/metrics"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer builds the HTTP server with the signaling routes. m may be nil.
func NewServer(registry *core.Registry, m *metrics.Metrics, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	var rec core.Recorder
	if m != nil {
		rec = m
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	var jwtCfg *auth.JWTConfig
	if cfg.JWTRequired {
		jwtCfg = &auth.JWTConfig{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		}
	}

	api := router.Group("/api")
	if jwtCfg != nil {
		api.Use(AuthMiddleware(jwtCfg, logger))
	}
	rooms := NewRoomHandlers(registry, logger)
	api.GET("/rooms", rooms.ListRooms)
	api.GET("/rooms/:room", rooms.GetRoom)

	// WebSocket routes stay off gin: Accept must hijack the raw ResponseWriter.
	var ws stdhttp.Handler = NewWSHandler(registry, rec, cfg, logger)
	if jwtCfg != nil {
		ws = RequireToken(jwtCfg, logger, ws)
	}

	mux := stdhttp.NewServeMux()
	mux.Handle("GET /ws/signaling/{room}/{$}", ws)
	mux.Handle("GET /ws/signaling/{room}", ws)
	mux.Handle("GET /ws/{room}", ws)
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           corsHandler(cfg.AllowedOrigins).Handler(mux),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func corsHandler(origins []string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{stdhttp.MethodGet, stdhttp.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: !allowsAnyOrigin(origins),
	})
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
