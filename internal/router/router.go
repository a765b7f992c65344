package router

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/queue-api/internal/handler"
	"github.com/jwalitptl/queue-api/internal/middleware"
	"github.com/jwalitptl/queue-api/internal/model"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine        *gin.Engine
	auth          *middleware.AuthMiddleware
	registrationH Handler
	displayH      Handler
	queueH        Handler
	cabinH        Handler
	healthH       *handler.HealthHandler
	metrics       *routerMetrics

	displayCacheSeconds int
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	errorTotal      *prometheus.CounterVec
}

type Config struct {
	RateLimit           rate.Limit
	RateBurst           int
	CORSConfig          middleware.CORSConfig
	MetricsPrefix       string
	RequestTimeout      time.Duration
	DisplayCacheSeconds int
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	registrationH Handler,
	displayH Handler,
	queueH Handler,
	cabinH Handler,
	healthH *handler.HealthHandler,
	config Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	if config.RequestTimeout == 0 {
		config.RequestTimeout = 30 * time.Second
	}

	r := &Router{
		engine:              engine,
		auth:                auth,
		registrationH:       registrationH,
		displayH:            displayH,
		queueH:              queueH,
		cabinH:              cabinH,
		healthH:             healthH,
		metrics:             initRouterMetrics(config.MetricsPrefix),
		displayCacheSeconds: config.DisplayCacheSeconds,
	}

	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		r.metricsMiddleware(),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
	)

	engine.Use(middleware.CORS(config.CORSConfig))

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  config.RateLimit,
		Burst: config.RateBurst,
	})
	engine.Use(rateLimiter.RateLimit())

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	r.setupHealthCheck(api)
	r.setupPublicRoutes(api)

	protected := api.Group("")
	protected.Use(
		r.auth.Authenticate(),
		r.auth.RequireActorType(model.ActorAssistant, model.ActorDoctor),
	)
	r.setupProtectedRoutes(protected)
}

func (r *Router) setupHealthCheck(rg *gin.RouterGroup) {
	health := rg.Group("/health")
	{
		health.GET("/live", r.healthH.LivenessCheck)
		health.GET("/ready", r.healthH.ReadinessCheck)
	}
	r.engine.GET("/metrics", r.healthH.MetricsHandler)
}

func (r *Router) setupPublicRoutes(rg *gin.RouterGroup) {
	r.registrationH.RegisterRoutes(rg)

	// Screens poll on a short interval; a brief shared cache absorbs
	// the fan-out.
	screens := rg.Group("")
	screens.Use(middleware.DisplayCache(r.displayCacheSeconds))
	r.displayH.RegisterRoutes(screens)
}

func (r *Router) setupProtectedRoutes(rg *gin.RouterGroup) {
	r.queueH.RegisterRoutes(rg)
	r.cabinH.RegisterRoutes(rg)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func initRouterMetrics(prefix string) *routerMetrics {
	return &routerMetrics{
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: prefix + "_request_duration_seconds",
				Help: "Duration of HTTP requests in seconds",
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		errorTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_errors_total",
				Help: "Total number of HTTP errors",
			},
			[]string{"method", "path", "type"},
		),
	}
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := fmt.Sprintf("%d", c.Writer.Status())
		duration := time.Since(start).Seconds()

		r.metrics.requestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		r.metrics.requestTotal.WithLabelValues(c.Request.Method, path, status).Inc()

		if c.Writer.Status() >= 400 {
			r.metrics.errorTotal.WithLabelValues(c.Request.Method, path, "http").Inc()
		}
	}
}
