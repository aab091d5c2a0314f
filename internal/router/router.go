package router

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/orderlab/orderflow/internal/middleware"
	"github.com/orderlab/orderflow/pkg/logger"
)

// Handler registers a group of routes on the engine.
type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Config struct {
	RateLimitRPS   rate.Limit
	RateLimitBurst int
}

type Router struct {
	engine *gin.Engine
}

// New builds the gin engine with the shared middleware stack, mounts
// /metrics for the process registry, and registers the given handlers.
func New(cfg Config, log *logger.Logger, registry *prometheus.Registry, handlers ...Handler) *Router {
	gin.SetMode(gin.ReleaseMode)

	registerValidators()

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.Recovery(log),
		middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	root := engine.Group("")
	for _, h := range handlers {
		h.RegisterRoutes(root)
	}

	return &Router{engine: engine}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func registerValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	// "required" alone accepts strings of only whitespace.
	v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}
