package gateway

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/xiaoji/internal/config"
	"github.com/soyeahso/xiaoji/internal/logging"
	"github.com/soyeahso/xiaoji/internal/metrics"
)

const headerRequestID = "X-Request-ID"

type middleware func(http.Handler) http.Handler

// chain applies mws so that the first one is outermost.
func chain(h http.Handler, mws ...middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func withMiddleware(handler http.Handler, log *logging.Logger, cfg config.Config) http.Handler {
	return chain(handler,
		accessLog(log),
		cors(cfg.Gateway.AllowedOrigins),
		requestID,
		recoverPanics(log, cfg.Development()),
	)
}

// accessLog records one metric sample and one debug line per request.
func accessLog(log *logging.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			took := time.Since(start)

			route := r.Pattern
			if route == "" || route == "/" {
				route = "unmatched"
			}
			metrics.RecordRequest(r.Method, route, strconv.Itoa(sw.status), took.Seconds())

			log.Debug().
				Str("method", r.Method).
				Str("route", route).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Dur("took", took).
				Str("requestId", w.Header().Get(headerRequestID)).
				Msg("http request")
		})
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

// recoverPanics answers a handler panic with the 500 envelope. The panic
// value goes into "error" only in development.
func recoverPanics(log *logging.Logger, development bool) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("handler panic")

				var detail any
				if development {
					detail = fmt.Sprint(rec)
				}
				writeFailure(w, http.StatusInternalServerError, MsgInternalError, detail)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// cors reflects allowed origins and short-circuits preflight requests.
func cors(allowed []string) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && isOriginAllowed(origin, allowed) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, "+headerRequestID)
				h.Set("Access-Control-Max-Age", "86400")
				h.Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isOriginAllowed is false for every origin when allowed is empty.
func isOriginAllowed(origin string, allowed []string) bool {
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets /api/ws upgrade through the chain.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
