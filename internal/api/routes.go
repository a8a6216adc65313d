package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sshikora/crypto-analytics/internal/metrics"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)

	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Analytics
	api.HandleFunc("/volatility", handler.FitVolatility).Methods("POST")
	api.HandleFunc("/assets/{assetId}/volatility", handler.GetAssetVolatility).Methods("GET")
	api.HandleFunc("/assets/{assetId}/moving-averages", handler.GetMovingAverages).Methods("GET")

	// Crossover rules
	api.HandleFunc("/crossovers/check", handler.TriggerCrossoverCheck).Methods("POST")
	api.HandleFunc("/users/{userId}/rules", handler.GetUserRules).Methods("GET")
	api.HandleFunc("/users/{userId}/rules", handler.CreateRule).Methods("POST")
	api.HandleFunc("/rules/{ruleId}", handler.UpdateRule).Methods("PATCH")
	api.HandleFunc("/rules/{ruleId}", handler.DeleteRule).Methods("DELETE")

	// Notifications
	api.HandleFunc("/users/{userId}/notifications", handler.GetUserNotifications).Methods("GET")
	api.HandleFunc("/users/{userId}/notifications/{notificationId}/read", handler.MarkNotificationRead).Methods("POST")

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request metrics labelled by route template
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
