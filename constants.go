package mocaca

// HTTP methods
const (
	MethodGet     = "GET"
	MethodHead    = "HEAD"
	MethodPost    = "POST"
	MethodPut     = "PUT"
	MethodPatch   = "PATCH"
	MethodDelete  = "DELETE"
	MethodOptions = "OPTIONS"
)

// Header names used by the framework and its middleware.
const (
	HeaderAccept                        = "Accept"
	HeaderAcceptRanges                  = "Accept-Ranges"
	HeaderAccessControlAllowCredentials = "Access-Control-Allow-Credentials"
	HeaderAccessControlAllowHeaders     = "Access-Control-Allow-Headers"
	HeaderAccessControlAllowMethods     = "Access-Control-Allow-Methods"
	HeaderAccessControlAllowOrigin      = "Access-Control-Allow-Origin"
	HeaderAccessControlExposeHeaders    = "Access-Control-Expose-Headers"
	HeaderAccessControlMaxAge           = "Access-Control-Max-Age"
	HeaderAccessControlRequestHeaders   = "Access-Control-Request-Headers"
	HeaderAccessControlRequestMethod    = "Access-Control-Request-Method"
	HeaderAllow                         = "Allow"
	HeaderAuthorization                 = "Authorization"
	HeaderCacheControl                  = "Cache-Control"
	HeaderConnection                    = "Connection"
	HeaderContentLength                 = "Content-Length"
	HeaderContentRange                  = "Content-Range"
	HeaderContentType                   = "Content-Type"
	HeaderETag                          = "ETag"
	HeaderIfNoneMatch                   = "If-None-Match"
	HeaderLastModified                  = "Last-Modified"
	HeaderOrigin                        = "Origin"
	HeaderRange                         = "Range"
	HeaderRetryAfter                    = "Retry-After"
	HeaderVary                          = "Vary"
	HeaderXForwardedFor                 = "X-Forwarded-For"
	HeaderXRealIP                       = "X-Real-Ip"
	HeaderXRequestID                    = "X-Request-Id"
)

// MIME types
const (
	MIMETextPlain              = "text/plain; charset=utf-8"
	MIMEApplicationJSON        = "application/json; charset=utf-8"
	MIMEApplicationOctetStream = "application/octet-stream"
	MIMEImageJPEG              = "image/jpeg"
)
