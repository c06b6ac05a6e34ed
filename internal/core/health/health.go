// Package health serves liveness and readiness probes.
package health

import (
	"net/http"

	json "github.com/goccy/go-json"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// ReadinessReporter reports whether upstream dependencies were reachable at last check
type ReadinessReporter interface {
	Ready() (ok bool, detail map[string]string)
}

func Readiness(rr ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks,omitempty"`
		}
		ok, detail := rr.Ready()
		out := resp{Status: "not_ready", Checks: detail}
		if ok {
			out.Status = "ready"
		}
		b, _ := json.Marshal(out)
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write(b)
	}
}
