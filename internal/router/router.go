package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/edusphere/notify-api/internal/middleware"
)

// Handler registers its routes on a group.
type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Config struct {
	RateLimit  rate.Limit
	RateBurst  int
	CORSConfig middleware.CORSConfig
}

func DefaultConfig() Config {
	return Config{
		RateLimit:  100,
		RateBurst:  50,
		CORSConfig: middleware.DefaultCORSConfig(),
	}
}

// New assembles the gin engine: middleware chain, health and metrics
// endpoints, then every versioned API handler.
func New(log zerolog.Logger, config Config, healthH Handler, apiHandlers ...Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger(log))
	engine.Use(middleware.Recovery())
	engine.Use(middleware.CORS(config.CORSConfig))
	engine.Use(middleware.ErrorHandler())

	if config.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		engine.Use(limiter.RateLimit())
	}

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	root := engine.Group("")
	healthH.RegisterRoutes(root)

	v1 := engine.Group("/api/v1")
	for _, h := range apiHandlers {
		h.RegisterRoutes(v1)
	}

	return engine
}
