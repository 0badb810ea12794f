package relay

import "net/http"

// ReadinessChecker reports whether the relay should receive traffic.
type ReadinessChecker interface {
	IsReady() bool
}

var healthBody = map[string]string{"status": "ok"}

// healthHandler answers GET /api/health. It is static and shares no state with
// other requests.
func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		writeJSON(r.Context(), w, healthBody, http.StatusOK)
	}
}

// readinessHandler handles readiness probe requests.
// Returns 200 OK if the application is ready to serve traffic, 503 otherwise.
func readinessHandler(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		if checker != nil && checker.IsReady() {
			writeJSON(r.Context(), w, map[string]string{"status": "ready"}, http.StatusOK)
			return
		}
		writeJSON(r.Context(), w, map[string]string{"status": "starting"}, http.StatusServiceUnavailable)
	}
}
