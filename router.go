package mocaca

import (
	"path"
	"sort"
	"strings"

	"github.com/mocaca/mocaca/internal/radix"
)

// Router is an HTTP request router. Routes live in one radix tree whose
// nodes hold a handler chain per method, which lets a miss on the method
// be told apart from a miss on the path.
type Router struct {
	tree            *radix.Tree
	middlewareFuncs []Middleware
	NotFound        Handler
}

// NewRouter creates a new Router.
func NewRouter() *Router {
	return &Router{
		tree: radix.NewTree(),
		NotFound: func(c *Ctx) {
			c.Error(NewHttpError(StatusNotFound, "not found"))
		},
	}
}

// Use adds middleware that runs for every request, matched or not.
func (r *Router) Use(middleware ...Middleware) *Router {
	r.middlewareFuncs = append(r.middlewareFuncs, middleware...)
	return r
}

// Handle registers handlers for method and pattern. Segments starting with
// ':' capture one path segment; a final '*' or '*name' segment captures the
// rest of the path.
func (r *Router) Handle(pattern, method string, handlers ...Handler) *Router {
	if len(handlers) == 0 {
		panic("mocaca: route " + method + " " + pattern + " has no handler")
	}
	chain := make([]Handler, len(handlers))
	copy(chain, handlers)
	r.tree.Insert(cleanPattern(pattern), method, chain)
	return r
}

// GET registers a new route with the GET method.
func (r *Router) GET(pattern string, handlers ...Handler) *Router {
	return r.Handle(pattern, MethodGet, handlers...)
}

// HEAD registers a new route with the HEAD method.
func (r *Router) HEAD(pattern string, handlers ...Handler) *Router {
	return r.Handle(pattern, MethodHead, handlers...)
}

// POST registers a new route with the POST method.
func (r *Router) POST(pattern string, handlers ...Handler) *Router {
	return r.Handle(pattern, MethodPost, handlers...)
}

// PUT registers a new route with the PUT method.
func (r *Router) PUT(pattern string, handlers ...Handler) *Router {
	return r.Handle(pattern, MethodPut, handlers...)
}

// PATCH registers a new route with the PATCH method.
func (r *Router) PATCH(pattern string, handlers ...Handler) *Router {
	return r.Handle(pattern, MethodPatch, handlers...)
}

// DELETE registers a new route with the DELETE method.
func (r *Router) DELETE(pattern string, handlers ...Handler) *Router {
	return r.Handle(pattern, MethodDelete, handlers...)
}

// OPTIONS registers a new route with the OPTIONS method.
func (r *Router) OPTIONS(pattern string, handlers ...Handler) *Router {
	return r.Handle(pattern, MethodOptions, handlers...)
}

// dispatch resolves the route for c and runs the global middleware
// followed by the route's chain.
func (r *Router) dispatch(c *Ctx) {
	c.handlers = append(c.handlers, r.middlewareFuncs...)
	c.handlers = append(c.handlers, r.lookup(c)...)
	c.Next()
}

func (r *Router) lookup(c *Ctx) []Handler {
	methods, ok := r.tree.Find(c.Path(), c.params)
	if !ok {
		return []Handler{r.NotFound}
	}

	method := c.Method()
	if h, found := methods[method]; found {
		return h.([]Handler)
	}
	if method == MethodHead {
		if h, found := methods[MethodGet]; found {
			return h.([]Handler)
		}
	}

	allow := allowedMethods(methods)
	return []Handler{func(c *Ctx) {
		c.Set(HeaderAllow, allow)
		c.Error(NewHttpError(StatusMethodNotAllowed, "method not allowed"))
	}}
}

func allowedMethods(methods map[string]interface{}) string {
	allowed := make([]string, 0, len(methods)+1)
	for m := range methods {
		allowed = append(allowed, m)
	}
	if _, ok := methods[MethodGet]; ok {
		if _, ok := methods[MethodHead]; !ok {
			allowed = append(allowed, MethodHead)
		}
	}
	sort.Strings(allowed)
	return strings.Join(allowed, ", ")
}

// cleanPattern normalizes a route pattern to a rooted path without a
// trailing slash.
func cleanPattern(pattern string) string {
	if pattern == "" {
		return "/"
	}
	if pattern[0] != '/' {
		pattern = "/" + pattern
	}
	return path.Clean(pattern)
}
