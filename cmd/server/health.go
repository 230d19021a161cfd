package main

import (
	"context"
	"net/http"
	"time"

	"beacon/pkg/platform/httputil"
)

const healthCheckTimeout = 2 * time.Second

type healthCheck struct {
	name  string
	check func(context.Context) error
}

// healthHandler reports ok, or 503 when a backend check fails.
func healthHandler(checks []healthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for _, c := range checks {
			if err := c.check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[c.name] = err.Error()
				continue
			}
			results[c.name] = "ok"
		}

		body := map[string]any{"status": "ok", "checks": results}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		httputil.WriteJSON(w, status, body)
	}
}
