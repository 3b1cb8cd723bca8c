package mocaca

// Handler is a function that handles an HTTP request with a Ctx.
type Handler func(c *Ctx)

// Middleware has the same signature as Handler. It should call c.Next() to
// continue to the next middleware or handler; returning without calling it
// ends the chain.
type Middleware = Handler
