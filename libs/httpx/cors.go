package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy defines the CORS headers to emit for matching origins.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

type corsResponder struct {
	origins     []string
	wildcard    bool
	methods     string
	headers     string
	maxAge      string
	credentials bool
}

// WithCORS adds CORS handling. If AllowedOrigins is empty, it is a no-op.
func WithCORS(cfg CORSPolicy) Middleware {
	if len(cfg.AllowedOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	c := corsResponder{
		methods:     strings.Join(compactList(cfg.AllowedMethods), ", "),
		headers:     strings.Join(compactList(cfg.AllowedHeaders), ", "),
		credentials: cfg.AllowCredentials,
	}
	for _, origin := range compactList(cfg.AllowedOrigins) {
		if origin == "*" {
			c.wildcard = true
			continue
		}
		c.origins = append(c.origins, origin)
	}
	if secs := int(cfg.MaxAge.Seconds()); secs > 0 {
		c.maxAge = strconv.Itoa(secs)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allow := c.allowValue(origin)
			if allow == "" {
				next.ServeHTTP(w, r)
				return
			}
			c.writeHeaders(w.Header(), allow)
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allowValue returns the Access-Control-Allow-Origin value for the request
// origin, or "" when the origin is not allowed. A wildcard policy paired
// with credentials must echo the concrete origin back.
func (c corsResponder) allowValue(origin string) string {
	if origin == "" {
		return ""
	}
	if c.wildcard {
		if c.credentials {
			return origin
		}
		return "*"
	}
	for _, candidate := range c.origins {
		if strings.EqualFold(candidate, origin) {
			return origin
		}
	}
	return ""
}

func (c corsResponder) writeHeaders(h http.Header, allowOrigin string) {
	h.Set("Access-Control-Allow-Origin", allowOrigin)
	if c.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if c.methods != "" {
		h.Set("Access-Control-Allow-Methods", c.methods)
	}
	if c.headers != "" {
		h.Set("Access-Control-Allow-Headers", c.headers)
	}
	if c.maxAge != "" {
		h.Set("Access-Control-Max-Age", c.maxAge)
	}
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")
}

func compactList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
