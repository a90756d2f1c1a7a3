package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pario-ai/kotoba/pkg/analyzer"
	"github.com/pario-ai/kotoba/pkg/apierror"
)

const headerRequestID = "X-Request-ID"

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(analyzer.WithRequestID(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += n
	return n, err
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", analyzer.RequestID(r.Context())),
		)
	})
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("handler panicked",
					zap.Any("panic", p),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				)
				s.writeAPIError(w, apierror.New(apierror.UnknownServerError, operationFor(r), nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// auth requires one of the configured client keys. With no keys
// configured every request is allowed.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.cfg.Server.APIKeys) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		key := extractAPIKey(r)
		for _, allowed := range s.cfg.Server.APIKeys {
			if key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(allowed)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		s.writeError(w, http.StatusUnauthorized, codeUnauthorized, "A valid API key is required.", "")
	})
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}
