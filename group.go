package mocaca

// Group represents a group of routes with a common prefix and middleware.
type Group struct {
	prefix          string
	router          *Router
	middlewareFuncs []Middleware
}

// Group creates a new route group with the given prefix.
func (r *Router) Group(prefix string) *Group {
	return &Group{
		prefix: prefix,
		router: r,
	}
}

// Use adds middleware to the group. It only applies to routes registered
// on the group afterwards.
func (g *Group) Use(middleware ...Middleware) *Group {
	g.middlewareFuncs = append(g.middlewareFuncs, middleware...)
	return g
}

// Group creates a nested group that inherits the prefix and middleware.
func (g *Group) Group(prefix string) *Group {
	mw := make([]Middleware, len(g.middlewareFuncs))
	copy(mw, g.middlewareFuncs)
	return &Group{
		prefix:          g.prefix + prefix,
		router:          g.router,
		middlewareFuncs: mw,
	}
}

// Handle registers a route on the group.
func (g *Group) Handle(pattern, method string, handlers ...Handler) *Group {
	chain := make([]Handler, 0, len(g.middlewareFuncs)+len(handlers))
	chain = append(chain, g.middlewareFuncs...)
	chain = append(chain, handlers...)
	g.router.Handle(g.prefix+pattern, method, chain...)
	return g
}

// GET registers a new route with the GET method.
func (g *Group) GET(pattern string, handlers ...Handler) *Group {
	return g.Handle(pattern, MethodGet, handlers...)
}

// HEAD registers a new route with the HEAD method.
func (g *Group) HEAD(pattern string, handlers ...Handler) *Group {
	return g.Handle(pattern, MethodHead, handlers...)
}

// POST registers a new route with the POST method.
func (g *Group) POST(pattern string, handlers ...Handler) *Group {
	return g.Handle(pattern, MethodPost, handlers...)
}

// PUT registers a new route with the PUT method.
func (g *Group) PUT(pattern string, handlers ...Handler) *Group {
	return g.Handle(pattern, MethodPut, handlers...)
}

// PATCH registers a new route with the PATCH method.
func (g *Group) PATCH(pattern string, handlers ...Handler) *Group {
	return g.Handle(pattern, MethodPatch, handlers...)
}

// DELETE registers a new route with the DELETE method.
func (g *Group) DELETE(pattern string, handlers ...Handler) *Group {
	return g.Handle(pattern, MethodDelete, handlers...)
}

// OPTIONS registers a new route with the OPTIONS method.
func (g *Group) OPTIONS(pattern string, handlers ...Handler) *Group {
	return g.Handle(pattern, MethodOptions, handlers...)
}
