package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIVersion is the path segment every operator route is mounted under
const APIVersion = "v1"

// Group collects the routes of one resource before they are mounted
type Group struct {
	prefix     string
	middleware []gin.HandlerFunc
	routes     []route
}

type route struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewGroup starts a group under prefix; middleware applies to every route in it
func NewGroup(prefix string, middleware ...gin.HandlerFunc) *Group {
	return &Group{prefix: prefix, middleware: middleware}
}

// GET adds a read route
func (g *Group) GET(path string, handlers ...gin.HandlerFunc) *Group {
	return g.handle(http.MethodGet, path, handlers)
}

// POST adds a mutating route. Route-level handlers run after the group's.
func (g *Group) POST(path string, handlers ...gin.HandlerFunc) *Group {
	return g.handle(http.MethodPost, path, handlers)
}

func (g *Group) handle(method, path string, handlers []gin.HandlerFunc) *Group {
	g.routes = append(g.routes, route{method: method, path: path, handlers: handlers})
	return g
}

// Mount registers groups under /api/<version>
func Mount(engine *gin.Engine, version string, groups ...*Group) {
	api := engine.Group("/api/" + version)
	for _, g := range groups {
		rg := api.Group(g.prefix, g.middleware...)
		for _, r := range g.routes {
			rg.Handle(r.method, r.path, r.handlers...)
		}
	}
}
