package router

import (
	"github.com/gin-gonic/gin"
)

// apiPrefix is the versioned prefix all gateway routes live under.
const apiPrefix = "/api/v1"

// Registrar attaches a set of routes to the versioned API group.
// Each handler implements it for its own resource.
type Registrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router collects registrars and mounts them on the engine in one pass.
type Router struct {
	engine     *gin.Engine
	registrars []Registrar
}

// NewRouter wraps an engine for route registration.
func NewRouter(engine *gin.Engine) *Router {
	return &Router{engine: engine}
}

// Register queues a registrar. Returns the router for chaining.
func (r *Router) Register(registrar Registrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup mounts every registered handler under the API prefix.
func (r *Router) Setup() {
	api := r.engine.Group(apiPrefix)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}
