// Package router builds the worker's ops HTTP server.
package router

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/dicom-ingest/internal/handler/health"
	"github.com/jwalitptl/dicom-ingest/internal/handler/prometheus"
	"github.com/jwalitptl/dicom-ingest/internal/middleware"
	"github.com/jwalitptl/dicom-ingest/pkg/logger"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine  *gin.Engine
	health  Handler
	metrics *prometheus.Handler
}

func NewRouter(health *health.Handler, metrics *prometheus.Handler, log *logger.Logger) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(
		middleware.Recovery(log),
		middleware.Logger(log),
		metrics.Middleware(),
	)

	return &Router{
		engine:  engine,
		health:  health,
		metrics: metrics,
	}
}

func (r *Router) Setup() {
	root := r.engine.Group("")
	r.health.RegisterRoutes(root)
	root.GET("/metrics", r.metrics.Handler())
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
