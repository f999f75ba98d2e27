package middleware

import (
	"net/http"

	hr "github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
)

type Middleware func(hr.Handle) hr.Handle

// Chain composites given handler and middlewares
func Chain(h hr.Handle, ms ...Middleware) hr.Handle {
	for _, m := range ms {
		h = m(h)
	}
	return h
}

// PanicRecoverer recovers from panic of underlying handlers
func PanicRecoverer() Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			defer func() {
				if reason := recover(); reason != nil {
					log.WithField("panicReason", reason).Error("got panic from underlying handler")
					w.WriteHeader(http.StatusInternalServerError)
				}
			}()
			h(w, r, p)
		}
	}
}

// CORS marks responses as accessible from any origin. The public endpoints are
// called from browsers on the fan site's domain as well as from local previews,
// so the policy is intentionally wide open.
func CORS() Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			SetCORSHeaders(w)
			h(w, r, p)
		}
	}
}

// SetCORSHeaders applies the cross-origin headers expected on every response,
// including ones produced outside the middleware chain (405s, preflights).
func SetCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}
