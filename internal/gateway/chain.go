package gateway

import "net/http"

type Middleware func(http.Handler) http.Handler

// Chain wraps h so the first middleware listed is the outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func BodyLimit(maxBytes int) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))
			}
			next.ServeHTTP(w, r)
		})
	}
}
