package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

type ctxKey int

const requestIDKey ctxKey = iota

// Routes wires the handler into a mux, with request ids and permissive CORS.
func Routes(h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /logo", h.Logo)
	mux.HandleFunc("GET /detect", h.DetectForm)
	mux.HandleFunc("POST /detect", h.Detect)
	mux.HandleFunc("POST /predict/image", h.PredictFromImage)
	mux.HandleFunc("GET /", h.Home)

	return cors.AllowAll().Handler(withRequestID(mux, h.logger))
}

func withRequestID(next http.Handler, logger logrus.FieldLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, id))

		start := time.Now()
		next.ServeHTTP(w, r)
		logger.WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
			"elapsed":    time.Since(start).Round(time.Microsecond),
		}).Debug("Handled request")
	})
}

func requestLogger(r *http.Request, logger logrus.FieldLogger) logrus.FieldLogger {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return logger.WithField("request_id", id)
	}
	return logger
}

func formatPercentage(p float32) string {
	return strconv.FormatFloat(float64(p), 'f', 2, 32)
}
